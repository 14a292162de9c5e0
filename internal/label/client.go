// Package label fetches the descriptive parameter label shown next to each
// observable. Fetches are fire-and-forget and never touch numeric data.
package label

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"labstream/internal/logger"
)

// maxResponse bounds the label response body.
const maxResponse = 1 << 20

// Options configure a Client.
type Options struct {
	URL     string
	QPS     float64
	Burst   int
	Timeout time.Duration
	Client  *http.Client
}

// Client posts {"parameter_name": <observable>} to the experiment URL.
type Client struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a label client. QPS <= 0 disables throttling.
func New(opts Options) *Client {
	limit := rate.Inf
	if opts.QPS > 0 {
		limit = rate.Limit(opts.QPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	httpClient := opts.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:     opts.URL,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Request fetches the label for observable in the background and passes it
// to set on success. Failures are logged and leave the label untouched.
func (c *Client) Request(observable string, set func(label string)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.limiter.Wait(c.ctx); err != nil {
			return
		}
		label, err := c.Fetch(c.ctx, observable)
		if err != nil {
			logger.Warn("[label] fetch for %q failed: %v", observable, err)
			return
		}
		logger.Debug("[label] %q -> %s", observable, label)
		set(label)
	}()
}

// Fetch performs one label request synchronously.
func (c *Client) Fetch(ctx context.Context, observable string) (string, error) {
	body, err := json.Marshal(map[string]string{"parameter_name": observable})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	return Format(data)
}

// Format renders an opaque JSON response for display: strings are
// unquoted, anything else is compacted.
func Format(data []byte) (string, error) {
	if !json.Valid(data) {
		return "", fmt.Errorf("response is not JSON")
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// Close cancels pending requests and waits for them to finish.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
}
