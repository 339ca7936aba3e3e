package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
)

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// streamLines writes each line as one NDJSON record and flushes it.
func streamLines(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func collect(t *testing.T, ch <-chan Fragment) (string, []Fragment) {
	t.Helper()
	var text string
	var frags []Fragment
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return text, frags
			}
			text += f.Text
			frags = append(frags, f)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestClient_Chat(t *testing.T) {
	// Given: a chat endpoint that echoes the last message
	var got chatRequest
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chatResponse{
			Message: Message{Role: RoleAssistant, Content: "echo: " + got.Messages[len(got.Messages)-1].Content},
			Done:    true,
		})
	})
	c := NewClient(Config{Host: srv.URL, Model: "mistral"})

	// When: chatting
	reply, err := c.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hello"},
	})

	// Then: the reply is returned and streaming was off
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply)
	assert.False(t, got.Stream)
	assert.Equal(t, "mistral", got.Model)
	assert.Len(t, got.Messages, 2)
}

func TestClient_Generate(t *testing.T) {
	var got generateRequest
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "42", Done: true})
	})
	c := NewClient(Config{Host: srv.URL})

	reply, err := c.Generate(context.Background(), "system prompt", "what is the answer?")

	require.NoError(t, err)
	assert.Equal(t, "42", reply)
	assert.False(t, got.Stream)
	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, "system prompt", got.System)
}

func TestClient_ChatStream(t *testing.T) {
	// Given: a streamed reply in three pieces
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)
		streamLines(w,
			`{"message":{"role":"assistant","content":"The "},"done":false}`,
			`{"message":{"role":"assistant","content":"answer "},"done":false}`,
			``,
			`{"message":{"role":"assistant","content":"is 42."},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true}`,
		)
	})
	c := NewClient(Config{Host: srv.URL})

	// When: streaming
	ch, err := c.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "q"}})
	require.NoError(t, err)
	text, frags := collect(t, ch)

	// Then: fragments arrive in order and the last one is Done
	assert.Equal(t, "The answer is 42.", text)
	require.NotEmpty(t, frags)
	assert.True(t, frags[len(frags)-1].Done)
	for _, f := range frags {
		assert.NoError(t, f.Err)
	}
}

func TestClient_ChatStream_ErrorLine(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		streamLines(w,
			`{"message":{"role":"assistant","content":"partial"},"done":false}`,
			`{"error":"model crashed"}`,
		)
	})
	c := NewClient(Config{Host: srv.URL})

	ch, err := c.ChatStream(context.Background(), nil)
	require.NoError(t, err)
	_, frags := collect(t, ch)

	require.Len(t, frags, 2)
	last := frags[1]
	require.Error(t, last.Err)
	assert.Equal(t, serrors.ErrCodeLLMUnavailable, serrors.GetCode(last.Err))
}

func TestClient_ChatStream_Truncated(t *testing.T) {
	// Given: a stream that ends without a done record
	srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		streamLines(w, `{"message":{"role":"assistant","content":"cut"},"done":false}`)
	})
	c := NewClient(Config{Host: srv.URL})

	ch, err := c.ChatStream(context.Background(), nil)
	require.NoError(t, err)
	text, frags := collect(t, ch)

	// Then: the text so far is delivered followed by an error fragment
	assert.Equal(t, "cut", text)
	require.Len(t, frags, 2)
	assert.Error(t, frags[1].Err)
}

func TestClient_ChatStream_Cancel(t *testing.T) {
	// Given: a stream that keeps going
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		for i := 0; ; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			streamLines(w, fmt.Sprintf(`{"message":{"role":"assistant","content":"%d "},"done":false}`, i))
		}
	})
	c := NewClient(Config{Host: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// When: cancelling after the first fragment
	ch, err := c.ChatStream(ctx, nil)
	require.NoError(t, err)
	first := <-ch
	assert.Equal(t, "0 ", first.Text)
	cancel()

	// Then: the channel closes without an error fragment
	_, frags := collect(t, ch)
	for _, f := range frags {
		assert.NoError(t, f.Err)
	}
}

func TestClient_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model not found", http.StatusNotFound)
			},
		},
		{
			name: "slow backend",
			handler: func(_ http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
		},
		{
			name: "error body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"error":"out of memory"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.handler)
			c := NewClient(Config{Host: srv.URL, Timeout: 50 * time.Millisecond})

			_, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})

			require.Error(t, err)
			assert.Equal(t, serrors.ErrCodeLLMUnavailable, serrors.GetCode(err))
			assert.True(t, serrors.IsRetryable(err))
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := srv.URL
	srv.Close()
	c := NewClient(Config{Host: host})

	_, err := c.ChatStream(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeLLMUnavailable, serrors.GetCode(err))

	_, err = c.Generate(context.Background(), "", "hi")
	assert.Equal(t, serrors.ErrCodeLLMUnavailable, serrors.GetCode(err))

	assert.False(t, c.Available(context.Background()))
}

func TestClient_CallerCancelled(t *testing.T) {
	// The handler never reads the body, so it cannot see the client leave.
	release := make(chan struct{})
	srv := newServer(t, func(http.ResponseWriter, *http.Request) {
		<-release
	})
	t.Cleanup(func() { close(release) })
	c := NewClient(Config{Host: srv.URL, Timeout: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Chat(ctx, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Available(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[]}`))
	})

	c := NewClient(Config{Host: srv.URL + "/"})

	assert.True(t, c.Available(context.Background()))
	assert.Equal(t, srv.URL, c.Host())
	assert.Equal(t, DefaultModel, c.ModelName())
}
