package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/air-weather-aggregation/internal/metrics"
)

// DefaultTimeout bounds every upstream call.
const DefaultTimeout = 10 * time.Second

const maxBodyBytes = 10 << 20

// HTTPClientConfig bundles the HTTP client and the fixed per-call timeout.
type HTTPClientConfig struct {
	Client  *http.Client
	Timeout time.Duration
}

// Coordinates is a WGS84 point in degrees.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// UpstreamError is returned for any failed upstream call. Transient errors (network,
// timeout, 5xx, open circuit) may succeed if retried; the others will not.
type UpstreamError struct {
	Source    string
	Endpoint  string
	Status    int // zero when no response was received
	Transient bool
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Source, e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Endpoint, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ConfigError is returned at construction time when a required credential is missing.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("required configuration %s is not set", e.Key)
}

var (
	errServerError   = errors.New("server error")
	errClientError   = errors.New("client error")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errMalformedBody = errors.New("response body is not valid JSON")
)

// NewHTTPClient returns a client with a pooled transport suitable for sharing between providers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// upstream issues single-attempt GET requests against one base URL.
// Credentials are injected either as a query parameter or as a header.
type upstream struct {
	name      string
	baseURL   string
	apiKey    string
	keyParam  string
	keyHeader string
	httpCfg   HTTPClientConfig
	circuit   *gobreaker.CircuitBreaker
}

// fetch performs GET {baseURL}/{endpoint}?{params} and returns the raw JSON body.
// No retry is attempted; the caller owns any retry policy.
func (u *upstream) fetch(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	log := zerolog.Ctx(ctx)

	fail := func(status int, transient bool, outcome string, err error) error {
		metrics.UpstreamRequests.WithLabelValues(u.name, endpoint, outcome).Inc()
		log.Error().Err(err).Str("source", u.name).Str("endpoint", endpoint).Int("status", status).
			Bool("transient", transient).Msg("upstream request failed")
		return &UpstreamError{Source: u.name, Endpoint: endpoint, Status: status, Transient: transient, Err: err}
	}

	if u.httpCfg.Client == nil {
		return nil, fail(0, false, "config_error", errNoHTTPClient)
	}

	timeout := u.httpCfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	query := url.Values{}
	for k, vs := range params {
		query[k] = vs
	}
	if u.keyParam != "" {
		query.Set(u.keyParam, u.apiKey)
	}

	target := fmt.Sprintf("%s/%s?%s", strings.TrimRight(u.baseURL, "/"), endpoint, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fail(0, false, "config_error", err)
	}
	req.Header.Set("Accept", "application/json")
	if u.keyHeader != "" && u.apiKey != "" {
		req.Header.Set(u.keyHeader, u.apiKey)
	}

	start := time.Now()
	result, err := u.circuit.Execute(func() (interface{}, error) {
		resp, doErr := u.httpCfg.Client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// Only server-side failures count against the breaker.
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, &UpstreamError{Source: u.name, Endpoint: endpoint, Status: resp.StatusCode, Transient: true, Err: errServerError}
		}
		return resp, nil
	})
	metrics.UpstreamDuration.WithLabelValues(u.name, endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		var uerr *UpstreamError
		switch {
		case errors.As(err, &uerr):
			return nil, fail(uerr.Status, true, "server_error", uerr.Err)
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, fail(0, true, "circuit_open", fmt.Errorf("%w: %v", errCircuitOpen, err))
		default:
			return nil, fail(0, true, "network_error", err)
		}
	}

	resp, ok := result.(*http.Response)
	if !ok {
		return nil, fail(0, false, "unexpected", fmt.Errorf("unexpected result type from circuit breaker"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fail(resp.StatusCode, true, "network_error", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fail(resp.StatusCode, false, "client_error", fmt.Errorf("%w: %s", errClientError, snippet(body)))
	}

	if !json.Valid(body) {
		return nil, fail(resp.StatusCode, false, "malformed", errMalformedBody)
	}

	metrics.UpstreamRequests.WithLabelValues(u.name, endpoint, "ok").Inc()
	log.Debug().Str("source", u.name).Str("endpoint", endpoint).Dur("elapsed", time.Since(start)).Msg("upstream request completed")

	return body, nil
}

func snippet(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
