package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/user/sunbot/pkg/logger"
)

var (
	// ErrLocationNotFound is returned when the API does not know the location.
	ErrLocationNotFound = errors.New("location not found")
	// ErrNoData is returned when the API answered without forecast data.
	ErrNoData = errors.New("no weather data")

	errRateLimited  = errors.New("rate limited")
	errUnauthorized = errors.New("api key rejected")
	errServerError  = errors.New("server error")
	errUnexpected   = errors.New("unexpected status code")
)

const timelinePath = "/VisualCrossingWebServices/rest/services/timeline/"

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Lang       string
	Timeout    time.Duration
	MaxRetries uint
	RetryDelay time.Duration
}

// Client wraps the Visual Crossing timeline API.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	lang       string
	attempts   uint
	retryDelay time.Duration
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a new Visual Crossing API client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	lang := opts.Lang
	if lang == "" {
		lang = "fr"
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "visualcrossing",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})

	return &Client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		lang:       lang,
		attempts:   opts.MaxRetries + 1,
		retryDelay: delay,
		breaker:    cb,
	}
}

// DailyWeather returns today's forecast for location.
func (c *Client) DailyWeather(ctx context.Context, location string) (*DailyForecast, error) {
	var resp timelineResponse
	if err := c.timeline(ctx, location, "days,hours", &resp); err != nil {
		return nil, err
	}
	if len(resp.Days) == 0 {
		return nil, fmt.Errorf("%s: %w", location, ErrNoData)
	}

	return &DailyForecast{
		Address:         resp.Address,
		ResolvedAddress: resp.ResolvedAddress,
		Timezone:        resp.Timezone,
		Day:             resp.Days[0],
	}, nil
}

// CurrentWeather returns the current conditions for location.
func (c *Client) CurrentWeather(ctx context.Context, location string) (*CurrentWeather, error) {
	var resp timelineResponse
	if err := c.timeline(ctx, location, "current", &resp); err != nil {
		return nil, err
	}
	if resp.CurrentConditions == nil {
		return nil, fmt.Errorf("%s: %w", location, ErrNoData)
	}

	return &CurrentWeather{
		Address:         resp.Address,
		ResolvedAddress: resp.ResolvedAddress,
		Timezone:        resp.Timezone,
		Conditions:      *resp.CurrentConditions,
	}, nil
}

// Timezone returns the IANA timezone of location, validating at the same
// time that the API knows it.
func (c *Client) Timezone(ctx context.Context, location string) (string, error) {
	f, err := c.DailyWeather(ctx, location)
	if err != nil {
		return "", err
	}
	return f.Timezone, nil
}

func (c *Client) timelineURL(location, include string) string {
	values := url.Values{}
	values.Set("unitGroup", "metric")
	values.Set("include", include)
	values.Set("key", c.apiKey)
	values.Set("contentType", "json")
	values.Set("lang", c.lang)

	return c.baseURL + timelinePath + url.PathEscape(location) + "/today?" + values.Encode()
}

// timeline fetches one timeline document with retries behind the circuit breaker.
func (c *Client) timeline(ctx context.Context, location, include string, out interface{}) error {
	reqURL := c.timelineURL(location, include)
	notFound := false

	err := retry.Do(
		func() error {
			result, err := c.breaker.Execute(func() (interface{}, error) {
				return c.fetch(ctx, reqURL)
			})
			if err != nil {
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					return retry.Unrecoverable(err)
				}
				return err
			}

			body := result.([]byte)
			if body == nil {
				notFound = true
				return retry.Unrecoverable(ErrLocationNotFound)
			}
			if err := json.Unmarshal(body, out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode timeline: %w", err))
			}
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(c.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug().Err(err).Uint("attempt", n).Str("location", location).Msg("Retrying weather request")
		}),
	)

	if notFound {
		return fmt.Errorf("%s: %w", location, ErrLocationNotFound)
	}
	if err != nil {
		return fmt.Errorf("weather request for %s: %w", location, err)
	}
	return nil
}

// fetch performs one HTTP call. A nil body with nil error means the API
// rejected the location; that answer must not trip the breaker.
func (c *Client) fetch(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, retry.Unrecoverable(fmt.Errorf("%w: %d", errUnauthorized, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
