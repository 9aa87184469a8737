// Package advisor reports readings to the backend and returns its irrigation verdict.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/config"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_agent/internal/model/messages"
)

const (
	DefaultPath    = "/api/readings/"
	tokenIssuer    = "irrigation-agent"
	tokenTTL       = 5 * time.Minute
	maxReplyBytes  = 64 << 10
	defaultTimeout = 10 * time.Second

	// once per cycle at the default cadence, less often in a tight loop
	offlineWarnEvery = time.Minute
)

// StatusError is a non-2xx reply.
type StatusError struct{ Code int }

func (e *StatusError) Error() string { return fmt.Sprintf("backend status %d", e.Code) }

type Config struct {
	BaseURL string // empty disables the client
	Path    string
	Timeout time.Duration
	Zone    entities.Zone

	TokenSecret string // HS256 bearer token when set

	BreakerFailures int
	BreakerOpenFor  time.Duration

	Logger *zap.Logger
	Now    func() time.Time
}

// ConfigFrom maps the agent configuration onto the client.
func ConfigFrom(cfg *config.Config, logger *zap.Logger) Config {
	return Config{
		BaseURL:         cfg.BackendBaseURL,
		Timeout:         cfg.RemoteTimeout(),
		Zone:            cfg.Zone(),
		TokenSecret:     cfg.Remote.TokenSecret,
		BreakerFailures: cfg.Remote.BreakerFailures,
		BreakerOpenFor:  cfg.BreakerOpenFor(),
		Logger:          logger,
	}
}

// Client makes one bounded request per Advise call. Failures never reach the
// caller as errors: the backend being unreachable is routine.
type Client struct {
	url     string
	zone    entities.Zone
	timeout time.Duration
	secret  []byte
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	now     func() time.Time
	offline rate.Sometimes

	lastContact atomic.Int64 // unix nanos, 0 = never
}

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BreakerFailures < 1 {
		cfg.BreakerFailures = 1
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 10 * time.Second
	}
	path := cfg.Path
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	c := &Client{
		zone:    cfg.Zone,
		timeout: cfg.Timeout,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger.Named("advisor"),
		now:     cfg.Now,
		offline: rate.Sometimes{First: 1, Interval: offlineWarnEvery},
	}
	if base != "" {
		c.url = base + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	}
	if cfg.TokenSecret != "" {
		c.secret = []byte(cfg.TokenSecret)
	}
	failures := uint32(cfg.BreakerFailures)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("breaker state change", zap.String("breaker", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return c
}

// Enabled reports whether a backend is configured.
func (c *Client) Enabled() bool { return c != nil && c.url != "" }

// LastContact is the time of the last reply carrying a verdict.
func (c *Client) LastContact() time.Time {
	if c == nil {
		return time.Time{}
	}
	n := c.lastContact.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// BreakerState exposes the circuit state for status reporting.
func (c *Client) BreakerState() string {
	if !c.Enabled() {
		return "disabled"
	}
	return c.breaker.State().String()
}

// Advise posts r and returns the backend verdict, or false when there is none.
func (c *Client) Advise(ctx context.Context, r entities.Reading) (entities.Verdict, bool) {
	if c == nil {
		return entities.VerdictUnknown, false
	}
	if c.url == "" {
		c.offline.Do(func() { c.logger.Warn("no backend configured, using local policy") })
		return entities.VerdictUnknown, false
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, r)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.offline.Do(func() {
				c.logger.Warn("backend skipped, breaker open, using local policy",
					zap.String("breaker", c.breaker.State().String()))
			})
		} else {
			c.logger.Warn("backend unavailable, using local policy", zap.Error(err))
		}
		return entities.VerdictUnknown, false
	}

	reply := out.(messages.AdviceResponse)
	if reply.Action == nil {
		c.logger.Warn("backend reply without action")
		return entities.VerdictUnknown, false
	}
	v, ok := entities.ParseVerdict(*reply.Action)
	if !ok {
		c.logger.Warn("backend reply with unknown action", zap.String("action", *reply.Action))
		return entities.VerdictUnknown, false
	}
	c.lastContact.Store(c.now().UnixNano())
	return v, true
}

func (c *Client) post(ctx context.Context, r entities.Reading) (messages.AdviceResponse, error) {
	var reply messages.AdviceResponse

	body, err := json.Marshal(messages.NewReadingReport(c.zone, r))
	if err != nil {
		return reply, fmt.Errorf("encode report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return reply, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.secret != nil {
		tok, err := c.token()
		if err != nil {
			return reply, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return reply, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes))
		return reply, &StatusError{Code: resp.StatusCode}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReplyBytes)).Decode(&reply); err != nil && !errors.Is(err, io.EOF) {
		return reply, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

func (c *Client) token() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   c.zone.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
