package httpd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qshop_backend/internal/config"
	"qshop_backend/internal/domain"
	"qshop_backend/internal/mpesa"
	"qshop_backend/internal/mpesa/mpesatest"
	"qshop_backend/internal/repository"
	"qshop_backend/internal/usecase"
)

const (
	frontendOrigin = "http://localhost:5173"
	callbackSecret = "s3cret"
)

type testBridge struct {
	gw     *mpesatest.Gateway
	repo   *repository.PaymentRepo
	router http.Handler
}

func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	gw := mpesatest.NewGateway(t)
	cfg := &config.MpesaConfig{
		BaseURL:         gw.URL(),
		ConsumerKey:     "consumer-key",
		ConsumerSecret:  "consumer-secret",
		Passkey:         "passkey",
		ShortCode:       "174379",
		CallbackURL:     "https://shop.example.com/api/mpesa/callback?token=" + callbackSecret,
		TransactionDesc: "Payment for order",
		Location:        time.UTC,
		HTTPTimeout:     5 * time.Second,
	}
	tokens := mpesa.NewTokenProvider(cfg, mpesa.NewTransport("token", cfg, nil))
	client := mpesa.NewClient(cfg, tokens, mpesa.NewTransport("stkpush", cfg, nil))

	repo, err := repository.NewPaymentRepo(filepath.Join(t.TempDir(), "payments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	h := NewHandler(usecase.NewPaymentUsecase(client, repo, nil), RouterConfig{
		AllowedOrigins: []string{frontendOrigin},
		CallbackToken:  callbackSecret,
		Location:       time.UTC,
	})
	return &testBridge{gw: gw, repo: repo, router: h.Routes()}
}

func (b *testBridge) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestStkPushRelaysGatewayBody(t *testing.T) {
	for name, body := range map[string]string{
		"numeric phone": `{"phoneNumber":254712345678,"amount":500}`,
		"string phone":  `{"phoneNumber":"254712345678","amount":"500","accountReference":"ORDER-7"}`,
	} {
		t.Run(name, func(t *testing.T) {
			b := newTestBridge(t)

			rec := b.do(http.MethodPost, "/api/mpesa/stkpush", body)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, mpesatest.DefaultPushBody, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, 1, b.gw.TokenCalls())
			assert.Equal(t, 1, b.gw.PushCalls())

			p, err := b.repo.GetByCheckoutRequestID(context.Background(), "ws_CO_191220191020363925")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusPending, p.Status)
			assert.Equal(t, "254712345678", p.PhoneNumber)
			assert.Equal(t, int64(500), p.Amount)
		})
	}
}

func TestStkPushRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing amount", `{"phoneNumber":254712345678}`, domain.MsgMissingFields},
		{"missing phone", `{"amount":500}`, domain.MsgMissingFields},
		{"zero amount", `{"phoneNumber":254712345678,"amount":0}`, domain.MsgMissingFields},
		{"empty body", `{}`, domain.MsgMissingFields},
		{"missing phone bad amount", `{"amount":-1}`, domain.MsgMissingFields},
		{"fractional amount", `{"phoneNumber":254712345678,"amount":10.5}`, domain.MsgInvalidAmount},
		{"negative amount", `{"phoneNumber":254712345678,"amount":-5}`, domain.MsgInvalidAmount},
		{"short phone", `{"phoneNumber":"12345","amount":500}`, domain.MsgInvalidPhone},
		{"foreign phone", `{"phoneNumber":"447912345678","amount":500}`, domain.MsgInvalidPhone},
		{"long reference", `{"phoneNumber":254712345678,"amount":500,"accountReference":"` + strings.Repeat("A", 65) + `"}`, domain.MsgInvalidReference},
		{"not json", `{"phoneNumber":`, "invalid json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBridge(t)

			rec := b.do(http.MethodPost, "/api/mpesa/stkpush", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeError(t, rec))
			assert.Equal(t, 0, b.gw.TokenCalls())
			assert.Equal(t, 0, b.gw.PushCalls())
		})
	}
}

func TestStkPushGatewayFailures(t *testing.T) {
	tests := []struct {
		name       string
		tokenCode  int
		tokenBody  string
		pushCode   int
		pushBody   string
		want       string
		wantPushes int
	}{
		{
			name:       "gateway message relayed",
			tokenCode:  http.StatusOK,
			tokenBody:  mpesatest.DefaultTokenBody,
			pushCode:   http.StatusBadRequest,
			pushBody:   `{"requestId":"1","errorCode":"400.002.02","errorMessage":"Invalid PartyA"}`,
			want:       "Invalid PartyA",
			wantPushes: 1,
		},
		{
			name:       "gateway error without message",
			tokenCode:  http.StatusOK,
			tokenBody:  mpesatest.DefaultTokenBody,
			pushCode:   http.StatusInternalServerError,
			pushBody:   `oops`,
			want:       domain.MsgInitiateFailed,
			wantPushes: 1,
		},
		{
			name:       "token failure",
			tokenCode:  http.StatusUnauthorized,
			tokenBody:  `{"errorMessage":"Invalid credentials"}`,
			pushCode:   http.StatusOK,
			pushBody:   mpesatest.DefaultPushBody,
			want:       domain.MsgInitiateFailed,
			wantPushes: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBridge(t)
			b.gw.SetToken(tt.tokenCode, tt.tokenBody)
			b.gw.SetPush(tt.pushCode, tt.pushBody)

			rec := b.do(http.MethodPost, "/api/mpesa/stkpush", `{"phoneNumber":254712345678,"amount":500}`)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, tt.want, decodeError(t, rec))
			assert.Equal(t, tt.wantPushes, b.gw.PushCalls())
		})
	}
}

func TestHealthAndIndex(t *testing.T) {
	b := newTestBridge(t)

	rec := b.do(http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","message":"Server is running"}`, rec.Body.String())

	rec = b.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var idx IndexResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &idx))
	assert.Equal(t, serviceName, idx.Service)
	assert.Equal(t, []string{frontendOrigin}, idx.AllowedOrigins)
}

func TestCORSPreflight(t *testing.T) {
	b := newTestBridge(t)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/mpesa/stkpush", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rec := httptest.NewRecorder()
		b.router.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight(frontendOrigin)
	assert.Equal(t, frontendOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight("https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

const callbackBody = `{"Body":{"stkCallback":{
	"MerchantRequestID":"29115-34620561-1",
	"CheckoutRequestID":"ws_CO_191220191020363925",
	"ResultCode":0,
	"ResultDesc":"The service request is processed successfully.",
	"CallbackMetadata":{"Item":[
		{"Name":"Amount","Value":500},
		{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
		{"Name":"TransactionDate","Value":20191219102115},
		{"Name":"PhoneNumber","Value":254712345678}
	]}}}}`

func TestCallbackSettlesPayment(t *testing.T) {
	b := newTestBridge(t)
	require.Equal(t, http.StatusOK, b.do(http.MethodPost, "/api/mpesa/stkpush", `{"phoneNumber":254712345678,"amount":500}`).Code)

	rec := b.do(http.MethodPost, "/api/mpesa/callback?token="+callbackSecret, callbackBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())

	rec = b.do(http.MethodGet, "/api/mpesa/payments/ws_CO_191220191020363925", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var item PaymentItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "SUCCESS", item.Status)
	assert.Equal(t, "NLJ7RT61SV", item.ReceiptNumber)
	require.NotNil(t, item.ResultCode)
	assert.Equal(t, 0, *item.ResultCode)
	assert.NotNil(t, item.CompletedAt)

	// a repeated delivery is acknowledged and changes nothing
	rec = b.do(http.MethodPost, "/api/mpesa/callback?token="+callbackSecret, callbackBody)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallbackRejections(t *testing.T) {
	b := newTestBridge(t)

	rec := b.do(http.MethodPost, "/api/mpesa/callback?token=wrong", callbackBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = b.do(http.MethodPost, "/api/mpesa/callback", callbackBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = b.do(http.MethodPost, "/api/mpesa/callback?token="+callbackSecret, `{"Body":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown payments are still acknowledged so the gateway stops retrying
	rec = b.do(http.MethodPost, "/api/mpesa/callback?token="+callbackSecret, callbackBody)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPaymentLookup(t *testing.T) {
	b := newTestBridge(t)
	require.Equal(t, http.StatusOK, b.do(http.MethodPost, "/api/mpesa/stkpush", `{"phoneNumber":254712345678,"amount":500}`).Code)

	rec := b.do(http.MethodGet, "/api/mpesa/payments?status=pending&phone=254712345678", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []PaymentItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, domain.DefaultAccountReference, items[0].AccountReference)

	rec = b.do(http.MethodGet, "/api/mpesa/payments?status=SUCCESS", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = b.do(http.MethodGet, "/api/mpesa/payments?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = b.do(http.MethodGet, "/api/mpesa/payments?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = b.do(http.MethodGet, "/api/mpesa/payments/ws_CO_unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecovererReturnsJSON(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Something went wrong!"}`, rec.Body.String())
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"500", 500, false},
		{"500.00", 500, false},
		{"10.5", 0, true},
		{"-5", 0, true},
		{"1e3", 1000, false},
	}
	for _, tt := range tests {
		got, err := parseAmount(json.Number(tt.in))
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
