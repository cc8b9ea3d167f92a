// Package mpesatest provides an in-process stand-in for the payment gateway.
package mpesatest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const (
	TokenPath = "/oauth/v1/generate"
	PushPath  = "/mpesa/stkpush/v1/processrequest"

	DefaultToken     = "test-token"
	DefaultTokenBody = `{"access_token":"test-token","expires_in":"3599"}`
	DefaultPushBody  = `{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`
)

// Gateway records what it receives and answers with the configured replies.
type Gateway struct {
	Server *httptest.Server

	mu          sync.Mutex
	tokenStatus int
	tokenBody   string
	pushStatus  int
	pushBody    string

	tokenCalls int
	pushCalls  int
	basicUser  string
	basicPass  string
	grantType  string
	bearer     string
	lastPush   map[string]interface{}
}

func NewGateway(t *testing.T) *Gateway {
	t.Helper()
	g := &Gateway{
		tokenStatus: http.StatusOK,
		tokenBody:   DefaultTokenBody,
		pushStatus:  http.StatusOK,
		pushBody:    DefaultPushBody,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, g.handleToken)
	mux.HandleFunc(PushPath, g.handlePush)
	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Server.Close)
	return g
}

func (g *Gateway) URL() string { return g.Server.URL }

func (g *Gateway) SetToken(status int, body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokenStatus, g.tokenBody = status, body
}

func (g *Gateway) SetPush(status int, body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushStatus, g.pushBody = status, body
}

func (g *Gateway) TokenCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokenCalls
}

func (g *Gateway) PushCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pushCalls
}

func (g *Gateway) BasicAuth() (user, pass string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.basicUser, g.basicPass
}

func (g *Gateway) GrantType() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.grantType
}

func (g *Gateway) Bearer() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bearer
}

// LastPush is the most recent push body, decoded with json.Number for numbers.
func (g *Gateway) LastPush() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPush
}

func (g *Gateway) handleToken(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.tokenCalls++
	g.basicUser, g.basicPass, _ = r.BasicAuth()
	g.grantType = r.URL.Query().Get("grant_type")
	status, body := g.tokenStatus, g.tokenBody
	g.mu.Unlock()

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (g *Gateway) handlePush(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var decoded map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	_ = dec.Decode(&decoded)

	g.mu.Lock()
	g.pushCalls++
	g.bearer = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	g.lastPush = decoded
	status, body := g.pushStatus, g.pushBody
	g.mu.Unlock()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}
