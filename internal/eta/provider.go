package eta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sony/gobreaker"

	"ridetrack/internal/domain"
)

// ErrProviderStatus is returned for non-success provider responses.
var ErrProviderStatus = errors.New("routing provider returned non-success status")

// HTTPProviderConfig configures HTTPRoutingProvider.
type HTTPProviderConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// HTTPRoutingProvider calls a Directions-style JSON API.
// Calls go through a circuit breaker so a failing provider is skipped
// until the cooldown elapses.
type HTTPRoutingProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPRoutingProvider creates a provider. The HTTP transport is wrapped
// with New Relic external segments.
func NewHTTPRoutingProvider(cfg HTTPProviderConfig) *HTTPRoutingProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProviderTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "routing-provider",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})

	return &HTTPRoutingProvider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newrelic.NewRoundTripper(http.DefaultTransport),
		},
		breaker: breaker,
	}
}

type directionsResponse struct {
	Status string `json:"status"`
	Routes []struct {
		Legs []struct {
			Distance          valueField  `json:"distance"`
			Duration          valueField  `json:"duration"`
			DurationInTraffic *valueField `json:"duration_in_traffic,omitempty"`
		} `json:"legs"`
	} `json:"routes"`
}

type valueField struct {
	Value float64 `json:"value"`
}

// GetRoute returns the duration and distance of the provider's best route.
func (p *HTTPRoutingProvider) GetRoute(ctx context.Context, origin, destination domain.Point, trafficAware bool) (Route, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.fetch(ctx, origin, destination, trafficAware)
	})
	if err != nil {
		return Route{}, err
	}
	return result.(Route), nil
}

func (p *HTTPRoutingProvider) fetch(ctx context.Context, origin, destination domain.Point, trafficAware bool) (Route, error) {
	q := url.Values{}
	q.Set("origin", formatPoint(origin))
	q.Set("destination", formatPoint(destination))
	q.Set("mode", "driving")
	if p.apiKey != "" {
		q.Set("key", p.apiKey)
	}
	if trafficAware {
		q.Set("departure_time", "now")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/maps/api/directions/json?"+q.Encode(), nil)
	if err != nil {
		return Route{}, fmt.Errorf("build routing request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("routing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Route{}, fmt.Errorf("%w: http %d", ErrProviderStatus, resp.StatusCode)
	}

	var body directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Route{}, fmt.Errorf("decode routing response: %w", err)
	}
	if body.Status != "OK" {
		return Route{}, fmt.Errorf("%w: %s", ErrProviderStatus, body.Status)
	}
	if len(body.Routes) == 0 || len(body.Routes[0].Legs) == 0 {
		return Route{}, ErrNoRoute
	}

	var route Route
	for _, leg := range body.Routes[0].Legs {
		route.DistanceMeters += leg.Distance.Value
		if trafficAware && leg.DurationInTraffic != nil {
			route.DurationSeconds += leg.DurationInTraffic.Value
		} else {
			route.DurationSeconds += leg.Duration.Value
		}
	}
	return route, nil
}

func formatPoint(p domain.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
