package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMessage = `{"current_experiment":"A","updates":{"dev1":{"temp":[[100,1.5]]}}}`

func TestCodecsDecodeWhatTheyEncode(t *testing.T) {
	payload := []byte(strings.Repeat(sampleMessage, 20))
	for _, codec := range []Codec{CodecNone, CodecGzip, CodecZstd, CodecLZ4, CodecLZF} {
		t.Run(string(codec), func(t *testing.T) {
			encoded, err := codec.Encode(payload)
			require.NoError(t, err)
			decoded, err := codec.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestLZFRejectsShortFrame(t *testing.T) {
	_, err := CodecLZF.Decode([]byte{0, 1})
	assert.Error(t, err)
}

func TestCodecForPath(t *testing.T) {
	assert.Equal(t, CodecGzip, CodecForPath("run.jsonl.gz"))
	assert.Equal(t, CodecZstd, CodecForPath("run.jsonl.ZST"))
	assert.Equal(t, CodecLZ4, CodecForPath("run.lz4"))
	assert.Equal(t, CodecNone, CodecForPath("run.jsonl"))
	assert.Equal(t, CodecNone, CodecForPath("run.lzf"), "lzf frames are per message, not a file stream")
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecNone, c)

	c, err = ParseCodec("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CodecZstd, c)

	_, err = ParseCodec("brotli")
	assert.Error(t, err)
}

func sseHandler(gzipped bool, events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		write := func(s string) { fmt.Fprint(w, s) }
		if gzipped {
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			defer gz.Close()
			write = func(s string) { fmt.Fprint(gz, s) }
		}
		write(": keep-alive\n\n")
		for _, ev := range events {
			write(ev)
		}
	}
}

func drain(t *testing.T, src Source) []string {
	t.Helper()
	var got []string
	for {
		msg, err := src.Next(context.Background())
		if err != nil {
			require.ErrorIs(t, err, ErrClosed)
			return got
		}
		got = append(got, string(msg))
	}
}

func TestSSEDeliversEventData(t *testing.T) {
	for _, gzipped := range []bool{false, true} {
		t.Run(fmt.Sprintf("gzip=%v", gzipped), func(t *testing.T) {
			srv := httptest.NewServer(sseHandler(gzipped,
				"event: update\nid: 1\ndata: "+sampleMessage+"\n\n",
				"data: {\"a\":\r\ndata: 1}\r\n\r\n",
				"retry: 10\n\n",
				"data: trailing-without-terminator\n",
			))
			defer srv.Close()

			src := NewSSE(srv.URL, SSEOptions{})
			defer src.Close()

			got := drain(t, src)
			assert.Equal(t, []string{sampleMessage, "{\"a\":\n1}"}, got)

			_, err := src.Next(context.Background())
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestSSEBadStatusClosesSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSSE(srv.URL, SSEOptions{}).Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	assert.Contains(t, err.Error(), "503")
}

func TestSSESendsHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		sseHandler(false, "data: x\n\n")(w, r)
	}))
	defer srv.Close()

	src := NewSSE(srv.URL, SSEOptions{Headers: map[string]string{"Authorization": "Bearer t"}})
	assert.Equal(t, []string{"x"}, drain(t, src))
	assert.Equal(t, "Bearer t", gotAuth)
}

func TestFileReplaysCompressedRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl.gz")
	encoded, err := CodecGzip.Encode([]byte(sampleMessage + "\n\n" + sampleMessage + "\n"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, encoded, 0o644))

	src, err := OpenFile(path, 0)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, []string{sampleMessage, sampleMessage}, drain(t, src))
}

func TestFileHonoursContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0o644))
	src, err := OpenFile(path, time.Hour)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPollAdvancesCursor(t *testing.T) {
	var (
		mu      sync.Mutex
		cursors []string
	)
	replies := []string{
		`{"timestamp": 1700000001.5, "current_experiment":"A","updates":{}}`,
		`{"timestamp": "1700000002", "current_experiment":"A","updates":{}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, http.MethodPost, r.Method)
		cursors = append(cursors, r.PostForm.Get("from_timestamp"))
		if len(cursors) > len(replies) {
			http.Error(w, "station gone", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, replies[len(cursors)-1])
	}))
	defer srv.Close()

	src := NewPoll(srv.URL, PollOptions{Interval: 5 * time.Millisecond})
	defer src.Close()

	got := drain(t, src)
	assert.Equal(t, replies, got)
	assert.Equal(t, []string{"", "1700000001.5", "1700000002"}, cursors)
	assert.Equal(t, "1700000002", src.Cursor())

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPollHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"timestamp":1,"current_experiment":"A","updates":{}}`)
	}))
	defer srv.Close()

	src := NewPoll(srv.URL, PollOptions{Interval: time.Hour})
	_, err := src.Next(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = src.Next(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrClosed)
}
