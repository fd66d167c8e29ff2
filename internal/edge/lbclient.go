package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/canopyrun/canopy/internal/balancer"
)

// RouteClient calls the load balancer's route API and maps wire errors back
// onto the routing error taxonomy.
type RouteClient struct {
	base   string
	client *http.Client
}

// NewRouteClient creates a client against the balancer base URL. The timeout
// bounds the whole lookup; a slow balancer surfaces as ErrTimeout.
func NewRouteClient(baseURL string, timeout time.Duration) *RouteClient {
	return &RouteClient{
		base:   baseURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Route resolves an app hostname to a backend instance.
func (c *RouteClient) Route(ctx context.Context, appHostname string) (balancer.RoutingInfo, error) {
	u := c.base + "/v1/route/" + url.PathEscape(appHostname)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return balancer.RoutingInfo{}, fmt.Errorf("build route request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return balancer.RoutingInfo{}, fmt.Errorf("route %s: %w", appHostname, balancer.ErrTimeout)
		}
		return balancer.RoutingInfo{}, fmt.Errorf("route %s: %w", appHostname, balancer.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var we struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&we); err == nil {
			if kindErr := balancer.FromKind(we.Error); kindErr != nil {
				return balancer.RoutingInfo{}, fmt.Errorf("route %s: %w", appHostname, kindErr)
			}
		}
		return balancer.RoutingInfo{}, fmt.Errorf("route %s: status %d: %w", appHostname, resp.StatusCode, balancer.ErrUnavailable)
	}

	var info balancer.RoutingInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return balancer.RoutingInfo{}, fmt.Errorf("decode routing info: %w", err)
	}
	return info, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
