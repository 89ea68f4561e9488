package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/vcard-pay/vcard_pay/internal/apperr"
)

const (
	apiKeyHeader    = "X-Api-Key"
	requestIDHeader = "X-Request-ID"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// HTTPClient talks to the card issuer over JSON/HTTP using Fiber's client.
type HTTPClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

// NewHTTPClient builds an issuer client. timeout bounds every call.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, timeout: timeout}
}

// ApplyCard provisions a card.
func (c *HTTPClient) ApplyCard(ctx context.Context, req ApplyCardRequest) (ApplyCardResponse, error) {
	var out ApplyCardResponse
	err := c.do(ctx, fiber.MethodPost, "/cards", req.RequestID, req, &out)
	return out, err
}

// RechargeCard loads funds onto a card.
func (c *HTTPClient) RechargeCard(ctx context.Context, req BalanceRequest) (Ack, error) {
	var out Ack
	err := c.do(ctx, fiber.MethodPost, "/cards/"+req.CardID+"/recharge", req.RequestID, req, &out)
	return out, err
}

// WithdrawFromCard unloads funds from a card.
func (c *HTTPClient) WithdrawFromCard(ctx context.Context, req BalanceRequest) (Ack, error) {
	var out Ack
	err := c.do(ctx, fiber.MethodPost, "/cards/"+req.CardID+"/withdraw", req.RequestID, req, &out)
	return out, err
}

// GetCardDetail fetches the issuer's current view of a card.
func (c *HTTPClient) GetCardDetail(ctx context.Context, cardID string) (CardDetail, error) {
	var out CardDetail
	err := c.do(ctx, fiber.MethodGet, "/cards/"+cardID, "", nil, &out)
	return out, err
}

func (c *HTTPClient) do(ctx context.Context, method, path, requestID string, body, out any) error {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("%s %s: deadline exceeded before send: %w", method, path, apperr.ErrExternalService)
	}

	var agent *fiber.Agent
	if method == fiber.MethodGet {
		agent = fiber.Get(c.baseURL + path)
	} else {
		agent = fiber.Post(c.baseURL + path)
	}
	agent.Set(apiKeyHeader, c.apiKey).Timeout(timeout)
	if requestID != "" {
		agent.Set(requestIDHeader, requestID)
	}
	if body != nil {
		agent.JSON(body)
	}

	write := method != fiber.MethodGet
	code, raw, errs := agent.Bytes()
	if len(errs) > 0 {
		err := errors.Join(errs...)
		// Once a write has left, it may have been applied upstream.
		if write && !notSent(err) {
			return fmt.Errorf("%s %s: %v: %w", method, path, err, apperr.ErrIndeterminate)
		}
		return fmt.Errorf("%s %s: %v: %w", method, path, err, apperr.ErrExternalService)
	}
	accepted := code < fiber.StatusBadRequest

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if write && accepted {
			return fmt.Errorf("%s %s: status %d, undecodable body: %w", method, path, code, apperr.ErrIndeterminate)
		}
		return fmt.Errorf("%s %s: status %d, undecodable body: %w", method, path, code, apperr.ErrExternalService)
	}
	if !accepted || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", code)
		}
		return fmt.Errorf("%s %s: %s: %w", method, path, msg, apperr.ErrExternalService)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			if write {
				return fmt.Errorf("%s %s: decode data: %v: %w", method, path, err, apperr.ErrIndeterminate)
			}
			return fmt.Errorf("%s %s: decode data: %v: %w", method, path, err, apperr.ErrExternalService)
		}
	}
	return nil
}

// notSent reports whether a transport error happened before the request
// reached the issuer.
func notSent(err error) bool {
	if errors.Is(err, fasthttp.ErrDialTimeout) || errors.Is(err, fasthttp.ErrNoFreeConns) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
