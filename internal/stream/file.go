package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// maxLine bounds a single recorded message.
const maxLine = 16 << 20

// File replays a recording of one JSON message per line. Blank lines are
// skipped. Files ending in .gz, .zst or .lz4 are decompressed on the fly.
type File struct {
	path     string
	file     *os.File
	body     io.ReadCloser
	scanner  *bufio.Scanner
	interval time.Duration
	sent     int
}

// OpenFile opens a recording. A positive interval paces replay between
// messages.
func OpenFile(path string, interval time.Duration) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	body, err := CodecForPath(path).NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &File{path: path, file: f, body: body, scanner: scanner, interval: interval}, nil
}

// Next returns the next non-blank line.
func (f *File) Next(ctx context.Context) ([]byte, error) {
	if f.interval > 0 && f.sent > 0 {
		timer := time.NewTimer(f.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	for f.scanner.Scan() {
		line := bytes.TrimSpace(f.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		f.sent++
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := f.scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read %s: %w", ErrClosed, f.path, err)
	}
	return nil, ErrClosed
}

// Close closes the underlying file.
func (f *File) Close() error {
	f.body.Close()
	return f.file.Close()
}
