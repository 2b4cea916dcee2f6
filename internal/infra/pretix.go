package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/dto"
	"github.com/stustapay/stustapay-sub000/internal/model"
)

// PretixClient fetches paid presale orders of an event.
type PretixClient struct {
	httpClient *http.Client
	cb         *CircuitBreaker
}

func NewPretixClient(timeout time.Duration, cb *CircuitBreaker) *PretixClient {
	return &PretixClient{httpClient: &http.Client{Timeout: timeout}, cb: cb}
}

// ListOrders returns one page (1-based) of paid orders.
func (c *PretixClient) ListOrders(ctx context.Context, event *model.Event, page int) (*dto.PresalePage, error) {
	if event.PretixShopURL == "" || event.PretixAPIKey == "" {
		return nil, fmt.Errorf("pretix: event %d is not configured", event.ID)
	}
	endpoint := fmt.Sprintf("%s/api/v1/organizers/%s/events/%s/orders/?status=p&page=%d",
		strings.TrimRight(event.PretixShopURL, "/"), event.PretixOrganizer, event.PretixEvent, page)

	var out dto.PresalePage
	err := c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("pretix: create request: %w", err)
		}
		req.Header.Set("Authorization", "Token "+event.PretixAPIKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: pretix returned %d", ErrProviderUnavailable, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// OrderLink is the customer facing link of a presale order.
func (c *PretixClient) OrderLink(event *model.Event, order dto.PresaleOrder) string {
	return fmt.Sprintf("%s/%s/%s/order/%s/%s/",
		strings.TrimRight(event.PretixShopURL, "/"), event.PretixOrganizer, event.PretixEvent, order.Code, order.Secret)
}
