package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPollInterval is the pause between two get_updates calls.
const DefaultPollInterval = time.Second

// maxPollBody bounds a single get_updates response.
const maxPollBody = 32 << 20

// PollOptions configure a polling source.
type PollOptions struct {
	Client   *http.Client
	Headers  map[string]string
	Interval time.Duration
}

// Poll asks a station for updates with a form-encoded POST carrying the
// from_timestamp cursor. Every response is one message; its "timestamp"
// field becomes the cursor of the next request. The first request carries
// no cursor and so returns everything since the experiment started.
// Any failed request closes the source.
type Poll struct {
	url     string
	opts    PollOptions
	limiter *rate.Limiter

	mu     sync.Mutex
	cursor string
	closed bool
}

// NewPoll creates a polling source for url.
func NewPoll(url string, opts PollOptions) *Poll {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	return &Poll{
		url:     url,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.Interval), 1),
	}
}

// Cursor returns the timestamp sent with the next request.
func (p *Poll) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Next performs one get_updates call.
func (p *Poll) Next(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if err := p.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	body, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.closed = true
		return nil, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if cursor, ok := pollCursor(body); ok {
		p.cursor = cursor
	}
	return body, nil
}

func (p *Poll) fetch(ctx context.Context) ([]byte, error) {
	form := url.Values{}
	if p.cursor != "" {
		form.Set("from_timestamp", p.cursor)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	for k, v := range p.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", p.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll %s: unexpected status %s", p.url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPollBody))
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", p.url, err)
	}
	return bytes.TrimSpace(body), nil
}

// pollCursor extracts the timestamp field as the text sent back in the form.
func pollCursor(body []byte) (string, bool) {
	var envelope struct {
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Timestamp) == 0 {
		return "", false
	}
	raw := bytes.TrimSpace(envelope.Timestamp)
	if bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	return string(raw), true
}

// Close stops further polling.
func (p *Poll) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
