package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/domain/geo"
	"github.com/danghamo/convoy/internal/domain/shared"
	"github.com/danghamo/convoy/pkg/logger"
)

const domain = "routing"

// Config holds routing provider settings
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Route is the first route the provider suggests
type Route struct {
	LengthMeters int              `json:"length_meters"`
	TravelTime   time.Duration    `json:"travel_time"`
	TrafficDelay time.Duration    `json:"traffic_delay"`
	Points       []geo.Coordinate `json:"points,omitempty"`
}

// Client fetches routes and traffic-aware travel times
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a routing client
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, shared.WrapError(err, shared.KindInvalidInput, domain, "invalid routing base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.WithComponent("routing-client"),
	}, nil
}

type calculateRouteResponse struct {
	Routes []struct {
		Summary struct {
			LengthInMeters        int `json:"lengthInMeters"`
			TravelTimeInSeconds   int `json:"travelTimeInSeconds"`
			TrafficDelayInSeconds int `json:"trafficDelayInSeconds"`
		} `json:"summary"`
		Legs []struct {
			Points []struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"points"`
		} `json:"legs"`
	} `json:"routes"`
}

// Route asks the provider for a driving route with live traffic
func (c *Client) Route(ctx context.Context, from, to geo.Coordinate) (Route, error) {
	if err := from.Validate(); err != nil {
		return Route{}, err
	}
	if err := to.Validate(); err != nil {
		return Route{}, err
	}

	endpoint := fmt.Sprintf("%s/routing/1/calculateRoute/%s:%s/json?%s",
		c.baseURL, pair(from), pair(to),
		url.Values{"key": {c.apiKey}, "traffic": {"true"}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Route{}, shared.WrapError(err, shared.KindInvalidInput, domain, "build route request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Route{}, shared.WrapError(stripURL(err), shared.KindNetworkFailure, domain, "route %s -> %s", from, to)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		kind := shared.KindRejected
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			kind = shared.KindNetworkFailure
		}
		return Route{}, shared.NewError(kind, domain, "routing provider returned status %d", resp.StatusCode)
	}

	var payload calculateRouteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Route{}, shared.WrapError(err, shared.KindMalformedResponse, domain, "decode route")
	}
	if len(payload.Routes) == 0 {
		return Route{}, shared.NewError(shared.KindMalformedResponse, domain, "no route between %s and %s", from, to)
	}

	first := payload.Routes[0]
	route := Route{
		LengthMeters: first.Summary.LengthInMeters,
		TravelTime:   time.Duration(first.Summary.TravelTimeInSeconds) * time.Second,
		TrafficDelay: time.Duration(first.Summary.TrafficDelayInSeconds) * time.Second,
	}
	for _, leg := range first.Legs {
		for _, p := range leg.Points {
			route.Points = append(route.Points, geo.Coordinate{Latitude: p.Latitude, Longitude: p.Longitude})
		}
	}

	c.logger.Debug("Route calculated",
		zap.Int("length_meters", route.LengthMeters),
		zap.Duration("travel_time", route.TravelTime),
		zap.Int("points", len(route.Points)))

	return route, nil
}

// stripURL drops the request URL, which carries the api key, from
// transport errors
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}

// ETA returns the expected arrival time when leaving at now
func (c *Client) ETA(ctx context.Context, from, to geo.Coordinate, now time.Time) (time.Time, Route, error) {
	route, err := c.Route(ctx, from, to)
	if err != nil {
		return time.Time{}, Route{}, err
	}
	return now.Add(route.TravelTime), route, nil
}

func pair(c geo.Coordinate) string {
	return geo.FormatDegrees(c.Latitude) + "," + geo.FormatDegrees(c.Longitude)
}
