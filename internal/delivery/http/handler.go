package httpd

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"qshop_backend/internal/domain"
	"qshop_backend/internal/mpesa"
	"qshop_backend/internal/usecase"
)

const serviceName = "qshop-mpesa-bridge"

type RouterConfig struct {
	AllowedOrigins []string
	CallbackToken  string
	// Location is the merchant timezone used to read callback transaction dates.
	Location *time.Location
}

type Handler struct {
	uc       *usecase.PaymentUsecase
	cfg      RouterConfig
	validate *validator.Validate
}

func NewHandler(uc *usecase.PaymentUsecase, cfg RouterConfig) *Handler {
	return &Handler{
		uc:       uc,
		cfg:      cfg,
		validate: validator.New(),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.Index)
	r.Get("/api/health", h.Health)

	r.Route("/api/mpesa", func(r chi.Router) {
		r.Post("/stkpush", h.StkPush)
		r.With(CallbackTokenMiddleware(h.cfg.CallbackToken)).Post("/callback", h.Callback)
		r.Get("/payments", h.ListPayments)
		r.Get("/payments/{checkoutRequestID}", h.GetPayment)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type apiErr struct {
	Status int
	Msg    string
}

func (e *apiErr) Error() string { return e.Msg }

var (
	errMissingFields = &apiErr{Status: http.StatusBadRequest, Msg: domain.MsgMissingFields}
	errBadAmount     = &apiErr{Status: http.StatusBadRequest, Msg: domain.MsgInvalidAmount}
	errBadPhone      = &apiErr{Status: http.StatusBadRequest, Msg: domain.MsgInvalidPhone}
	errBadReference  = &apiErr{Status: http.StatusBadRequest, Msg: domain.MsgInvalidReference}
	errInitiate      = &apiErr{Status: http.StatusInternalServerError, Msg: domain.MsgInitiateFailed}
)

// toAPIErr maps an initiation error onto the status and message the client sees.
// Token failures and transport errors get the generic message.
func toAPIErr(err error) *apiErr {
	var ae *apiErr
	if errors.As(err, &ae) {
		return ae
	}

	switch {
	case errors.Is(err, domain.ErrMissingFields):
		return errMissingFields
	case errors.Is(err, domain.ErrInvalidPhone):
		return errBadPhone
	case errors.Is(err, domain.ErrInvalidAmount):
		return errBadAmount
	case errors.Is(err, domain.ErrInvalidReference):
		return errBadReference
	}

	var ge *mpesa.GatewayError
	if errors.As(err, &ge) && ge.Message != "" {
		return &apiErr{Status: http.StatusInternalServerError, Msg: ge.Message}
	}
	return errInitiate
}

func writeError(w http.ResponseWriter, err error) {
	ae := toAPIErr(err)
	writeJSON(w, ae.Status, ErrorResp{Error: ae.Msg})
}

// parseAmount reads a whole, positive amount. An empty value is reported as 0
// so the caller can treat it as missing.
func parseAmount(n json.Number) (int64, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errBadAmount
	}
	if d.IsZero() {
		return 0, nil
	}
	if !d.IsInteger() || !d.IsPositive() || !d.BigInt().IsInt64() {
		return 0, errBadAmount
	}
	return d.IntPart(), nil
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, IndexResp{
		Service:        serviceName,
		Status:         "running",
		AllowedOrigins: h.cfg.AllowedOrigins,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResp{Status: "ok", Message: "Server is running"})
}

// POST /api/mpesa/stkpush
func (h *Handler) StkPush(w http.ResponseWriter, r *http.Request) {
	var body StkPushReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Error: "invalid json"})
		return
	}

	amount, err := parseAmount(body.Amount)
	if err != nil {
		if body.PhoneNumber.IsZero() {
			err = errMissingFields
		}
		writeError(w, err)
		return
	}

	res, err := h.uc.InitiatePayment(r.Context(), domain.PaymentRequest{
		PhoneNumber:      body.PhoneNumber,
		Amount:           amount,
		AccountReference: strings.TrimSpace(body.AccountReference),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(res.Raw)
}

// POST /api/mpesa/callback
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, CallbackAck{ResultCode: 1, ResultDesc: "Unreadable body"})
		return
	}

	outcome, err := mpesa.ParseCallback(body, h.cfg.Location)
	if err != nil {
		log.Printf("callback rejected: %v", err)
		writeJSON(w, http.StatusBadRequest, CallbackAck{ResultCode: 1, ResultDesc: "Invalid callback payload"})
		return
	}

	if err := h.uc.HandleCallback(r.Context(), outcome); err != nil {
		log.Printf("callback %s not applied: %v", outcome.CheckoutRequestID, err)
	}
	writeJSON(w, http.StatusOK, CallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

// GET /api/mpesa/payments?phone=&status=&accountReference=&limit=&offset=
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := PaymentListQuery{
		Phone:            q.Get("phone"),
		Status:           strings.ToUpper(q.Get("status")),
		AccountReference: q.Get("accountReference"),
	}

	for name, dst := range map[string]*int{"limit": &query.Limit, "offset": &query.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Error: "invalid " + name})
			return
		}
		*dst = n
	}

	if err := h.validate.Struct(query); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Error: err.Error()})
		return
	}

	filter := domain.PaymentFilter{
		PhoneNumber:      query.Phone,
		AccountReference: query.AccountReference,
		Status:           domain.PaymentStatus(query.Status),
	}
	items, err := h.uc.ListPayments(r.Context(), filter, query.Limit, query.Offset)
	if err != nil {
		log.Printf("list payments: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Error: "failed to list payments"})
		return
	}

	out := make([]PaymentItem, 0, len(items))
	for _, p := range items {
		out = append(out, toPaymentItem(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/mpesa/payments/{checkoutRequestID}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "checkoutRequestID")
	p, err := h.uc.GetPayment(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Error: "payment not found"})
			return
		}
		log.Printf("get payment %s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Error: "failed to load payment"})
		return
	}

	writeJSON(w, http.StatusOK, toPaymentItem(*p))
}
