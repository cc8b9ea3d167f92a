package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"qshop_backend/internal/config"
	"qshop_backend/internal/domain"
)

const tokenPath = "/oauth/v1/generate?grant_type=client_credentials"

// TokenSource hands out a bearer token for the next gateway call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// AccessToken is a bearer credential and the lifetime the gateway declared for it.
// ExpiresIn is zero when the gateway did not say.
type AccessToken struct {
	Value     string
	ExpiresIn time.Duration
}

// TokenProvider exchanges the consumer key and secret for a token on every call.
type TokenProvider struct {
	cfg *config.MpesaConfig
	tr  *Transport
}

func NewTokenProvider(cfg *config.MpesaConfig, tr *Transport) *TokenProvider {
	return &TokenProvider{cfg: cfg, tr: tr}
}

func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	tok, err := p.Fetch(ctx)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// Fetch performs one client-credentials exchange. Every failure wraps
// domain.ErrGatewayAuth; nothing is retried.
func (p *TokenProvider) Fetch(ctx context.Context) (*AccessToken, error) {
	req, err := http.NewRequest(http.MethodGet, p.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrGatewayAuth, err)
	}
	req.SetBasicAuth(p.cfg.ConsumerKey, p.cfg.ConsumerSecret)
	req.Header.Set("Accept", "application/json")

	rep, err := p.tr.roundTrip(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayAuth, err)
	}
	if !rep.ok() {
		return nil, fmt.Errorf("%w: token endpoint returned %d", domain.ErrGatewayAuth, rep.status)
	}

	var body struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if err := json.Unmarshal(rep.body, &body); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %v", domain.ErrGatewayAuth, err)
	}
	if strings.TrimSpace(body.AccessToken) == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", domain.ErrGatewayAuth)
	}

	tok := &AccessToken{Value: body.AccessToken}
	if secs, err := body.ExpiresIn.Int64(); err == nil && secs > 0 {
		tok.ExpiresIn = time.Duration(secs) * time.Second
	}
	return tok, nil
}
