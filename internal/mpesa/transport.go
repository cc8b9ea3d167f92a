package mpesa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"qshop_backend/internal/config"
	"qshop_backend/internal/domain"
)

const maxReplyBytes = 1 << 20

// reply is a fully read gateway response.
type reply struct {
	status int
	body   []byte
}

func (r *reply) ok() bool { return r.status >= 200 && r.status < 300 }

var errServerStatus = errors.New("gateway server error")

// Transport sends requests to one gateway endpoint with a per-call timeout.
// When a breaker is configured, transport errors and 5xx replies count as
// failures and an open breaker short-circuits further calls.
type Transport struct {
	hc      *http.Client
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewTransport(name string, cfg *config.MpesaConfig, hc *http.Client) *Transport {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	t := &Transport{hc: hc, timeout: cfg.HTTPTimeout}

	if cfg.BreakerFailures > 0 {
		threshold := cfg.BreakerFailures
		t.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("circuit breaker %s: %s -> %s", name, from, to)
			},
		})
	}
	return t
}

// roundTrip returns the gateway's reply for any status code. The error is
// non-nil only when no reply was obtained and always wraps ErrGatewayUnavailable.
func (t *Transport) roundTrip(ctx context.Context, req *http.Request) (*reply, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	req = req.WithContext(ctx)

	var rep *reply
	call := func() (interface{}, error) {
		resp, err := t.hc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
		if err != nil {
			return nil, fmt.Errorf("read reply: %w", err)
		}
		rep = &reply{status: resp.StatusCode, body: body}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, errServerStatus
		}
		return nil, nil
	}

	var err error
	if t.cb != nil {
		_, err = t.cb.Execute(call)
	} else {
		_, err = call()
	}

	if rep != nil {
		return rep, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrGatewayUnavailable, req.Method, req.URL.Path, err)
}
