package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// SSEOptions configure an SSE source.
type SSEOptions struct {
	Client  *http.Client
	Headers map[string]string
}

// SSE reads messages from a server-sent events endpoint. Each event's data
// lines, joined by newlines, form one message. The connection is opened by
// the first Next call and bound to that call's context. It is not
// re-established: once the server ends the response the source is closed.
type SSE struct {
	url  string
	opts SSEOptions

	mu     sync.Mutex
	body   io.ReadCloser
	reader *bufio.Reader
	closed bool
}

// NewSSE creates an SSE source for url.
func NewSSE(url string, opts SSEOptions) *SSE {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &SSE{url: url, opts: opts}
}

func (s *SSE) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept-Encoding", "gzip, zstd")
	for k, v := range s.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("connect %s: %w", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("connect %s: unexpected status %s", s.url, resp.Status)
	}

	codec := CodecNone
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip":
		codec = CodecGzip
	case "zstd":
		codec = CodecZstd
	default:
		resp.Body.Close()
		return fmt.Errorf("connect %s: unsupported content encoding %q", s.url, resp.Header.Get("Content-Encoding"))
	}
	body, err := codec.NewReader(resp.Body)
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("connect %s: %w", s.url, err)
	}
	s.body = &stackedCloser{ReadCloser: body, under: resp.Body}
	s.reader = bufio.NewReader(s.body)
	return nil
}

// Next returns the data of the next event.
func (s *SSE) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.reader == nil {
		if err := s.connect(ctx); err != nil {
			s.closed = true
			return nil, fmt.Errorf("%w: %w", ErrClosed, err)
		}
	}

	var data bytes.Buffer
	hasData := false
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.closeLocked()
			if errors.Is(err, io.EOF) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("%w: %w", ErrClosed, err)
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				return data.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			// event, id and retry carry nothing the controller uses.
			continue
		}
		value = strings.TrimPrefix(value, " ")
		if hasData {
			data.WriteByte('\n')
		}
		data.WriteString(value)
		hasData = true
	}
}

// Close releases the connection.
func (s *SSE) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *SSE) closeLocked() error {
	s.closed = true
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

type stackedCloser struct {
	io.ReadCloser
	under io.Closer
}

func (c *stackedCloser) Close() error {
	err := c.ReadCloser.Close()
	if uerr := c.under.Close(); err == nil {
		err = uerr
	}
	return err
}
