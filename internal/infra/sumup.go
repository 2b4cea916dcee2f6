package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
)

// SumUpClient talks to the SumUp checkout API. Credentials come from the
// event row, so one client serves every event of the process.
type SumUpClient struct {
	baseURL    string
	httpClient *http.Client
	cb         *CircuitBreaker
}

func NewSumUpClient(baseURL string, timeout time.Duration, cb *CircuitBreaker) *SumUpClient {
	return &SumUpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cb:         cb,
	}
}

// GetCheckout returns the checkout whose reference is orderUUID, or nil if
// SumUp does not know it (yet).
func (c *SumUpClient) GetCheckout(ctx context.Context, event *model.Event, orderUUID string) (*dto.Checkout, error) {
	q := url.Values{"checkout_reference": {orderUUID}}
	var checkouts []dto.Checkout
	err := c.do(ctx, event, http.MethodGet, "/v0.1/checkouts?"+q.Encode(), nil, &checkouts)
	if err != nil {
		return nil, err
	}
	for i := range checkouts {
		if checkouts[i].CheckoutReference == orderUUID {
			return &checkouts[i], nil
		}
	}
	return nil, nil
}

// CreateCheckout registers an online checkout the customer pays in the portal.
func (c *SumUpClient) CreateCheckout(ctx context.Context, event *model.Event, req dto.CreateCheckout) (*dto.Checkout, error) {
	var out dto.Checkout
	if err := c.do(ctx, event, http.MethodPost, "/v0.1/checkouts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SumUpClient) do(ctx context.Context, event *model.Event, method, path string, payload, out any) error {
	if event.SumupAPIKey == "" {
		return fmt.Errorf("sumup: no api key configured for event %d", event.ID)
	}
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("sumup: marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	return c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("sumup: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+event.SumupAPIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("%w: sumup returned %d", ErrProviderUnavailable, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("sumup: decode response: %w", err)
		}
		return nil
	})
}
