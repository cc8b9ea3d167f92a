package usecase

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"qshop_backend/internal/domain"
	"qshop_backend/internal/events"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200

	journalTimeout = 5 * time.Second
)

type Gateway interface {
	Push(ctx context.Context, req domain.PaymentRequest) (*domain.InitiationResult, error)
}

type PaymentStore interface {
	InsertPayment(ctx context.Context, p *domain.Payment) error
	GetByCheckoutRequestID(ctx context.Context, id string) (*domain.Payment, error)
	ApplyOutcome(ctx context.Context, o domain.PaymentOutcome, at time.Time) error
	ListPayments(ctx context.Context, f domain.PaymentFilter, limit, offset int) ([]domain.Payment, error)
}

type PaymentUsecase struct {
	gw     Gateway
	store  PaymentStore
	events events.Publisher
	now    func() time.Time
}

func NewPaymentUsecase(gw Gateway, store PaymentStore, pub events.Publisher) *PaymentUsecase {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &PaymentUsecase{gw: gw, store: store, events: pub, now: time.Now}
}

// InitiatePayment validates req and relays it to the gateway. A request with
// a missing field never reaches the gateway. Journal and event failures are
// logged and do not affect the result.
func (u *PaymentUsecase) InitiatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.InitiationResult, error) {
	if req.Missing() {
		return nil, domain.ErrMissingFields
	}

	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	res, err := u.gw.Push(ctx, req)
	if err != nil {
		log.Printf("stk push failed: phone=%s amount=%d ref=%s err=%v", req.PhoneNumber, req.Amount, req.AccountReference, err)
		return nil, err
	}

	u.journal(ctx, req, res)
	return res, nil
}

func (u *PaymentUsecase) journal(ctx context.Context, req domain.PaymentRequest, res *domain.InitiationResult) {
	if res.CheckoutRequestID == "" {
		log.Printf("stk push accepted without CheckoutRequestID, not journaled")
		return
	}

	// the push already happened, so the write outlives a cancelled request
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	now := u.now()
	p := &domain.Payment{
		ID:                uuid.New().String(),
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		PhoneNumber:       string(req.PhoneNumber),
		Amount:            req.Amount,
		AccountReference:  req.AccountReference,
		Status:            domain.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := u.store.InsertPayment(ctx, p); err != nil {
		log.Printf("journal insert %s: %v", p.CheckoutRequestID, err)
	}

	ev := events.PaymentEvent{
		Type:              events.EventPaymentInitiated,
		CheckoutRequestID: p.CheckoutRequestID,
		MerchantRequestID: p.MerchantRequestID,
		PhoneNumber:       p.PhoneNumber,
		Amount:            p.Amount,
		AccountReference:  p.AccountReference,
		Status:            p.Status,
		OccurredAt:        now,
	}
	if err := u.events.Publish(ctx, ev.CheckoutRequestID, ev); err != nil {
		log.Printf("publish %s %s: %v", ev.Type, ev.CheckoutRequestID, err)
	}
}

// HandleCallback records the final outcome of a push. A redelivered callback
// for a settled payment is acknowledged without touching the journal or
// publishing another event.
func (u *PaymentUsecase) HandleCallback(ctx context.Context, o domain.PaymentOutcome) error {
	now := u.now()
	if err := u.store.ApplyOutcome(ctx, o, now); err != nil {
		switch {
		case errors.Is(err, domain.ErrPaymentSettled):
			log.Printf("duplicate callback for settled payment %s (result %d), ignored", o.CheckoutRequestID, o.ResultCode)
			return nil
		case errors.Is(err, domain.ErrPaymentNotFound):
			log.Printf("callback for unknown payment %s (result %d)", o.CheckoutRequestID, o.ResultCode)
		}
		return err
	}

	log.Printf("payment %s settled: status=%s result=%d receipt=%s", o.CheckoutRequestID, o.Status(), o.ResultCode, o.ReceiptNumber)

	code := o.ResultCode
	ev := events.PaymentEvent{
		Type:              events.EventPaymentCompleted,
		CheckoutRequestID: o.CheckoutRequestID,
		MerchantRequestID: o.MerchantRequestID,
		PhoneNumber:       o.PhoneNumber,
		Amount:            o.Amount,
		Status:            o.Status(),
		ResultCode:        &code,
		ResultDesc:        o.ResultDesc,
		ReceiptNumber:     o.ReceiptNumber,
		OccurredAt:        now,
	}
	if err := u.events.Publish(ctx, ev.CheckoutRequestID, ev); err != nil {
		log.Printf("publish %s %s: %v", ev.Type, ev.CheckoutRequestID, err)
	}
	return nil
}

func (u *PaymentUsecase) GetPayment(ctx context.Context, checkoutRequestID string) (*domain.Payment, error) {
	return u.store.GetByCheckoutRequestID(ctx, checkoutRequestID)
}

// ListPayments clamps limit to (0, MaxListLimit] and offset to >= 0.
func (u *PaymentUsecase) ListPayments(ctx context.Context, f domain.PaymentFilter, limit, offset int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return u.store.ListPayments(ctx, f, limit, offset)
}
