// Package delivery posts payloads to the automation webhook with a bounded
// fixed-delay retry loop.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/ratelimit"
	"github.com/xraph/flowbridge/signature"
)

const (
	maxResponseBody = 64 << 10

	// DefaultTimeout is the per-attempt request timeout.
	DefaultTimeout = 30 * time.Second

	userAgent = "Flowbridge/1.0"
)

// Request describes one delivery: a payload, a destination and the retry
// budget. Attempts below 1 are treated as 1.
type Request struct {
	URL       string
	Payload   any
	Attempts  int
	Delay     time.Duration
	Timeout   time.Duration
	Secret    string
	RateLimit int
}

// Response is the decoded reply of the successful attempt.
type Response struct {
	AttemptID  id.ID `json:"attempt_id"`
	StatusCode int   `json:"status_code"`
	// Body is the JSON-decoded reply, or the raw text when it is not JSON.
	Body      any    `json:"body"`
	Raw       string `json:"raw"`
	Attempts  int    `json:"attempts"`
	LatencyMs int    `json:"latency_ms"`
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) { s.client = c }
}

// WithLimiter sets the limiter consulted when a request has a rate limit.
func WithLimiter(l *ratelimit.Limiter) SenderOption {
	return func(s *Sender) { s.limiter = l }
}

// WithPause replaces the function used to wait between attempts.
func WithPause(fn func(ctx context.Context, d time.Duration) error) SenderOption {
	return func(s *Sender) { s.pause = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SenderOption {
	return func(s *Sender) { s.logger = l }
}

// Sender performs HTTP webhook delivery. Send blocks for the whole retry
// loop, pauses included.
type Sender struct {
	client  *http.Client
	limiter *ratelimit.Limiter
	pause   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// NewSender returns a Sender.
func NewSender(opts ...SenderOption) *Sender {
	s := &Sender{
		client:  &http.Client{},
		limiter: ratelimit.New(),
		pause:   sleep,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts req.Payload up to req.Attempts times and returns the first 2xx
// reply. After the last failure it returns a *FailedError.
func (s *Sender) Send(ctx context.Context, req Request) (*Response, error) {
	if req.URL == "" {
		return nil, ErrMissingURL
	}

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("delivery: marshal payload: %w", err)
	}

	attempts := max(req.Attempts, 1)
	attemptID := id.NewAttemptID()

	var last *AttemptError
	for n := 1; n <= attempts; n++ {
		res := s.Attempt(ctx, req, body, attemptID, n)

		switch Decide(res, n, attempts) {
		case Delivered:
			s.logger.DebugContext(ctx, "webhook delivered",
				"attempt_id", attemptID, "attempt", n, "status", res.StatusCode, "latency_ms", res.LatencyMs)
			return &Response{
				AttemptID:  attemptID,
				StatusCode: res.StatusCode,
				Body:       decodeBody(res.Response),
				Raw:        res.Response,
				Attempts:   n,
				LatencyMs:  res.LatencyMs,
			}, nil

		case Retry:
			last = attemptError(res)
			s.logger.WarnContext(ctx, "webhook attempt failed, retrying",
				"attempt_id", attemptID, "attempt", n, "of", attempts, "error", last, "delay", req.Delay)
			if err := s.pause(ctx, req.Delay); err != nil {
				return nil, &FailedError{Attempts: n, Last: last}
			}

		case Failed:
			last = attemptError(res)
		}
	}

	return nil, &FailedError{Attempts: attempts, Last: last}
}

// Attempt performs a single POST. It never returns an error; failures are
// reported in Result.
func (s *Sender) Attempt(ctx context.Context, req Request, body []byte, attemptID id.ID, n int) Result {
	res := Result{Attempt: n}

	if req.RateLimit > 0 {
		if err := s.limiter.Wait(ctx, limitKey(req.URL), req.RateLimit); err != nil {
			res.Error = fmt.Sprintf("rate limit wait: %v", err)
			return res
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		res.Error = fmt.Sprintf("create request: %v", err)
		return res
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-Flowbridge-Attempt-ID", attemptID.String())
	httpReq.Header.Set("X-Flowbridge-Attempt", strconv.Itoa(n))

	if req.Secret != "" {
		ts := time.Now().Unix()
		httpReq.Header.Set(signature.HeaderSignature, signature.Sign(body, req.Secret, ts))
		httpReq.Header.Set(signature.HeaderTimestamp, strconv.FormatInt(ts, 10))
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq) //nolint:gosec // G704: the webhook URL is operator configured.
	res.LatencyMs = int(time.Since(start).Milliseconds())
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		res.Error = fmt.Sprintf("read response: %v", err)
		return res
	}
	res.Response = string(raw)
	return res
}

func attemptError(res Result) *AttemptError {
	if res.Error != "" {
		return &AttemptError{Attempt: res.Attempt, StatusCode: res.StatusCode, Kind: ErrTransport, Message: res.Error}
	}
	msg := http.StatusText(res.StatusCode)
	if res.Response != "" {
		msg = res.Response
	}
	return &AttemptError{Attempt: res.Attempt, StatusCode: res.StatusCode, Kind: ErrUpstream, Message: msg}
}

func decodeBody(raw string) any {
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func limitKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTransport reports whether err stems from a network failure or timeout.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsUpstream reports whether err stems from a non-2xx response.
func IsUpstream(err error) bool { return errors.Is(err, ErrUpstream) }
