package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nohelyvillegas/micro-cursos/internal/domain/shared"
	"github.com/nohelyvillegas/micro-cursos/internal/domain/user"
	"github.com/nohelyvillegas/micro-cursos/pkg/circuitbreaker"
	"github.com/nohelyvillegas/micro-cursos/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the users service client.
type ClientConfig struct {
	// BaseURL of the users service, e.g. "http://usuarios:8001"
	BaseURL string

	// Timeout is the per-attempt HTTP timeout
	Timeout time.Duration

	// MaxAttempts for idempotent reads, including the first
	MaxAttempts int

	// InitialBackoff before the first retry
	InitialBackoff time.Duration

	// BreakerFailureThreshold consecutive failures open the circuit
	BreakerFailureThreshold int

	// BreakerTimeout is how long the circuit stays open
	BreakerTimeout time.Duration

	// RateLimit caps requests per second to the users service; 0 disables it.
	// Listing a course issues one request per member.
	RateLimit float64

	// RateBurst is the token bucket size. Default: 10
	RateBurst int

	// HealthPath is requested by Ping
	HealthPath string

	// Logger for structured logging
	Logger *slog.Logger

	// HTTPClient overrides the default client (tests)
	HTTPClient *http.Client
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:                 baseURL,
		Timeout:                 5 * time.Second,
		MaxAttempts:             3,
		InitialBackoff:          100 * time.Millisecond,
		BreakerFailureThreshold: 5,
		BreakerTimeout:          30 * time.Second,
		RateBurst:               10,
		HealthPath:              "/api/usuarios",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

const usersPath = "/api/usuarios"

// Client talks to the users service. It implements user.Lookup.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	limiter    *rate.Limiter
}

// ErrRateLimited is returned when waiting for the local rate limiter would
// outlive the request context.
var ErrRateLimited = errors.New("users client: rate limit wait exceeded")

var _ user.Lookup = (*Client)(nil)

// NewClient creates a new users service client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	logger := config.Logger.With("component", "users_client")

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), max(config.RateBurst, 1))
	}

	return &Client{
		limiter:    limiter,
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		breaker: circuitbreaker.New("users-service",
			circuitbreaker.WithFailureThreshold(config.BreakerFailureThreshold),
			circuitbreaker.WithTimeout(config.BreakerTimeout),
			circuitbreaker.WithIsFailure(countsAgainstService),
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
			}),
		),
		retrier: retry.New(
			retry.WithMaxAttempts(config.MaxAttempts),
			retry.WithInitialDelay(config.InitialBackoff),
			retry.WithMaxDelay(2*time.Second),
			retry.WithJitter(0.2),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				logger.Debug("retrying users service call", "attempt", attempt, "delay", delay, "error", err)
			}),
		),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// USER OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Resolve fetches one user. A 404 yields user.ErrUserNotFound; transport
// failures, 5xx responses and an open circuit yield user.ErrServiceUnavailable.
func (c *Client) Resolve(ctx context.Context, id user.ID) (*user.User, error) {
	path := usersPath + "/" + strconv.FormatInt(int64(id), 10)

	var dto UserDTO
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.doSingleRequest(ctx, http.MethodGet, path, nil, &dto)
		})
	})
	if err != nil {
		return nil, c.mapError("Resolve", err)
	}

	u, err := UserFromDTO(&dto)
	if err != nil {
		return nil, user.ErrServiceUnavailable.Wrap(err)
	}
	if u.ID == 0 {
		u.ID = id
	}
	return u, nil
}

// Create registers a new user in the users service. It is not retried.
func (c *Client) Create(ctx context.Context, nu user.NewUser) (*user.User, error) {
	var dto UserDTO
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.doSingleRequest(ctx, http.MethodPost, usersPath, DTOFromNewUser(nu), &dto)
	})
	if err != nil {
		return nil, c.mapError("Create", err)
	}

	c.logger.Info("user created in users service", "user_id", dto.ID)
	return UserFromDTO(&dto)
}

// Ping reports whether the users service answers at all. Any response below
// 500 counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	err := c.doSingleRequest(ctx, http.MethodGet, c.config.HealthPath, nil, nil)
	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) && !apiErr.IsServerError() {
		return nil
	}
	return err
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doSingleRequest performs one HTTP exchange. Transient failures come back
// wrapped with retry.Retryable.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshal body: %w", err))
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrRateLimited, err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rid := shared.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug("users service request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= 400 {
		apiErr := &APIErrorDTO{}
		_ = json.Unmarshal(respBody, apiErr)
		apiErr.Status = resp.StatusCode
		if apiErr.IsServerError() {
			return retry.Retryable(apiErr)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// mapError translates transport outcomes into domain errors.
func (c *Client) mapError(op string, err error) error {
	var apiErr *APIErrorDTO
	switch {
	case circuitbreaker.IsRejection(err):
		return user.ErrServiceUnavailable.Wrap(err)
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return user.ErrUserNotFound.Wrap(apiErr)
	case errors.As(err, &apiErr) && !apiErr.IsServerError():
		return shared.WrapError("user", op, shared.ErrInvalidInput, "users service rejected the request", apiErr)
	default:
		return user.ErrServiceUnavailable.Wrap(err)
	}
}

// countsAgainstService keeps client-side 4xx answers from opening the circuit.
func countsAgainstService(err error) bool {
	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		return apiErr.IsServerError()
	}
	if errors.Is(err, ErrRateLimited) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return !errors.Is(err, context.Canceled)
}
