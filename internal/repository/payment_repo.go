package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"qshop_backend/internal/domain"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"

	// fixed width so that stored timestamps sort as text
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// PaymentRepo journals STK pushes and their outcomes. It runs on SQLite by
// default and on Postgres when given a postgres:// DSN.
type PaymentRepo struct {
	db     *sql.DB
	driver string
}

func NewPaymentRepo(dsn string) (*PaymentRepo, error) {
	driver := driverSQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = driverPostgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == driverSQLite {
		db.Exec("PRAGMA journal_mode = WAL;")
		db.Exec("PRAGMA busy_timeout = 5000;")
	}

	r := &PaymentRepo{db: db, driver: driver}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return r, nil
}

func (r *PaymentRepo) Close() error {
	return r.db.Close()
}

func (r *PaymentRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PaymentRepo) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS payments(
			id TEXT PRIMARY KEY,
			checkout_request_id TEXT NOT NULL UNIQUE,
			merchant_request_id TEXT NOT NULL,
			phone_number TEXT NOT NULL,
			amount BIGINT NOT NULL,
			account_reference TEXT NOT NULL,
			status TEXT NOT NULL,
			result_code INTEGER,
			result_desc TEXT NOT NULL DEFAULT '',
			receipt_number TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			completed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_payments_phone ON payments(phone_number);
		CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status);
		CREATE INDEX IF NOT EXISTS idx_payments_account_reference ON payments(account_reference);
	`
	_, err := r.db.Exec(schema)
	return err
}

// rebind rewrites ? placeholders into $n for Postgres.
func (r *PaymentRepo) rebind(q string) string {
	if r.driver != driverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, ch := range q {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *PaymentRepo) InsertPayment(ctx context.Context, p *domain.Payment) error {
	q := `
		INSERT INTO payments(
			id,
			checkout_request_id,
			merchant_request_id,
			phone_number,
			amount,
			account_reference,
			status,
			created_at,
			updated_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
	`

	_, err := r.db.ExecContext(
		ctx, r.rebind(q),
		p.ID,
		p.CheckoutRequestID,
		p.MerchantRequestID,
		p.PhoneNumber,
		p.Amount,
		p.AccountReference,
		string(p.Status),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)

	return err
}

const selectPayment = `
	SELECT
		id,
		checkout_request_id,
		merchant_request_id,
		phone_number,
		amount,
		account_reference,
		status,
		result_code,
		result_desc,
		receipt_number,
		created_at,
		updated_at,
		completed_at
	FROM payments`

func (r *PaymentRepo) GetByCheckoutRequestID(ctx context.Context, id string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(selectPayment+" WHERE checkout_request_id = ?"), id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	return p, err
}

// ApplyOutcome settles a pending payment. A payment that is already settled
// is left unchanged and domain.ErrPaymentSettled is returned.
func (r *PaymentRepo) ApplyOutcome(ctx context.Context, o domain.PaymentOutcome, at time.Time) error {
	q := `
		UPDATE payments
		SET status = ?, result_code = ?, result_desc = ?, receipt_number = ?, updated_at = ?, completed_at = ?
		WHERE checkout_request_id = ? AND status = ?
	`
	ts := formatTime(at)
	res, err := r.db.ExecContext(ctx, r.rebind(q),
		string(o.Status()), o.ResultCode, o.ResultDesc, o.ReceiptNumber, ts, ts,
		o.CheckoutRequestID, string(domain.StatusPending),
	)
	if err != nil {
		return err
	}

	aff, _ := res.RowsAffected()
	if aff > 0 {
		return nil
	}

	if _, err := r.GetByCheckoutRequestID(ctx, o.CheckoutRequestID); err != nil {
		return err
	}
	return domain.ErrPaymentSettled
}

func (r *PaymentRepo) ListPayments(ctx context.Context, f domain.PaymentFilter, limit, offset int) ([]domain.Payment, error) {
	q := selectPayment + " WHERE 1 = 1"
	args := []any{}

	if f.PhoneNumber != "" {
		q += " AND phone_number = ?"
		args = append(args, f.PhoneNumber)
	}

	if f.AccountReference != "" {
		q += " AND account_reference = ?"
		args = append(args, f.AccountReference)
	}

	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}

	q += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}

		res = append(res, *p)
	}

	return res, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func scanPayment(scanner interface {
	Scan(dest ...any) error
}) (*domain.Payment, error) {
	var p domain.Payment
	var status string
	var resultCode sql.NullInt64
	var createdStr, updatedStr string
	var completedStr *string

	if err := scanner.Scan(
		&p.ID,
		&p.CheckoutRequestID,
		&p.MerchantRequestID,
		&p.PhoneNumber,
		&p.Amount,
		&p.AccountReference,
		&status,
		&resultCode,
		&p.ResultDesc,
		&p.ReceiptNumber,
		&createdStr,
		&updatedStr,
		&completedStr,
	); err != nil {
		return nil, err
	}

	p.Status = domain.PaymentStatus(status)
	if resultCode.Valid {
		code := int(resultCode.Int64)
		p.ResultCode = &code
	}

	var err error
	if p.CreatedAt, err = time.Parse(timeLayout, createdStr); err != nil {
		return nil, fmt.Errorf("parse created time: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(timeLayout, updatedStr); err != nil {
		return nil, fmt.Errorf("parse updated time: %w", err)
	}
	if completedStr != nil {
		ct, err := time.Parse(timeLayout, *completedStr)
		if err != nil {
			return nil, fmt.Errorf("parse completed time: %w", err)
		}
		p.CompletedAt = &ct
	}

	return &p, nil
}
