package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/chess-autopilot/internal/board"
)

const (
	DefaultURL        = "http://127.0.0.1:5179/fen"
	DefaultTimeout    = 7 * time.Second
	defaultRetryDelay = 300 * time.Millisecond
)

// ErrNoPosition means the service answered but reported no board position.
var ErrNoPosition = errors.New("no position recognized")

// Request is the body posted to the recognition service.
type Request struct {
	ImageBase64 string      `json:"imageBase64"`
	BoardArea   *board.Rect `json:"boardArea,omitempty"`
}

// Response is the normalized service answer.
type Response struct {
	FEN              string
	BoardArea        *board.Rect
	DebugImageBase64 string
	DebugImagePath   string
	DebugInfo        json.RawMessage
}

// Client posts screenshots to the recognition service.
type Client struct {
	url    string
	http   *fasthttp.Client
	logger *zap.Logger

	timeout    time.Duration
	retryMax   int
	retryDelay time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets how many extra attempts follow a transport failure.
func WithRetry(max int, delay time.Duration) Option {
	return func(c *Client) {
		c.retryMax = max
		c.retryDelay = delay
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(rawURL string, opts ...Option) *Client {
	c := &Client{
		url:        SanitizeURL(rawURL),
		http:       &fasthttp.Client{ReadTimeout: DefaultTimeout, WriteTimeout: DefaultTimeout, MaxConnsPerHost: 4, MaxResponseBodySize: 32 << 20},
		logger:     zap.NewNop(),
		timeout:    DefaultTimeout,
		retryMax:   1,
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.ReadTimeout = c.timeout
	c.http.WriteTimeout = c.timeout
	return c
}

func (c *Client) URL() string { return c.url }

// Detect sends one image and returns the normalized response.
func (c *Client) Detect(ctx context.Context, in Request) (Response, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.url)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	attempts := c.retryMax + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				break
			}
			c.logger.Warn("recognizer_retry", zap.Int("attempt", attempt), zap.Error(err))
			if sleepErr := sleepWithContext(ctx, c.retryDelay); sleepErr != nil {
				return Response{}, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			return Response{}, fmt.Errorf("recognizer error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
		}
		return Normalize(resp.Body())
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return Response{}, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SanitizeURL strips stray quotes and pins localhost to the IPv4 loopback.
func SanitizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultURL
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return strings.Replace(s, "localhost", "127.0.0.1", 1)
	}
	if strings.EqualFold(u.Hostname(), "localhost") {
		if port := u.Port(); port != "" {
			u.Host = "127.0.0.1:" + port
		} else {
			u.Host = "127.0.0.1"
		}
	}
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
