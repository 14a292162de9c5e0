package label

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestPostsParameterNameAndSetsLabel(t *testing.T) {
	var (
		mu      sync.Mutex
		gotBody map[string]string
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, http.MethodPost, r.Method)
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`"42.0 mA"`))
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL, Timeout: time.Second})
	done := make(chan string, 1)
	c.Request("current", func(label string) { done <- label })

	select {
	case label := <-done:
		assert.Equal(t, "42.0 mA", label)
	case <-time.After(5 * time.Second):
		t.Fatal("label never arrived")
	}
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]string{"parameter_name": "current"}, gotBody)
	assert.Contains(t, gotType, "application/json")
}

func TestRequestFailureLeavesLabelAlone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL})
	called := false
	c.Request("current", func(string) { called = true })
	c.Close()

	assert.False(t, called)
}

func TestFormat(t *testing.T) {
	s, err := Format([]byte(`"plain"`))
	require.NoError(t, err)
	assert.Equal(t, "plain", s)

	s, err = Format([]byte("{ \"value\": 3,\n \"unit\": \"V\" }"))
	require.NoError(t, err)
	assert.Equal(t, `{"value":3,"unit":"V"}`, s)

	_, err = Format([]byte("<html>"))
	assert.Error(t, err)
}
