package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *bus.EventBus) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	b := bus.NewEventBus()
	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.APIKey = "test-key"
	cfg.SystemPrompt = "sys"
	return NewClient(cfg, b, zerolog.Nop()), b
}

func TestClient_Send(t *testing.T) {
	var got completionRequest
	c, b := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model":"llama-3.3-70b-versatile","choices":[{"message":{"role":"assistant","content":"Hello **there**"}}],"usage":{"total_tokens":12}}`)
	})

	replies := make(chan bus.Event, 1)
	b.Subscribe(bus.EventTypeReply, func(e bus.Event) { replies <- e })

	reply, err := c.Send(context.Background(), "  hi  ")
	require.NoError(t, err)
	assert.Equal(t, "Hello **there**", reply.Text)
	assert.Equal(t, 12, reply.Usage.TotalTokens)
	assert.NotEmpty(t, reply.ID)

	assert.Equal(t, DefaultModel, got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	assert.Equal(t, 1024, got.MaxTokens)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, Message{Role: RoleUser, Content: "hi"}, got.Messages[1])

	select {
	case e := <-replies:
		assert.Equal(t, reply.ID, e.Data["id"])
	case <-time.After(time.Second):
		t.Fatal("reply event not published")
	}

	// History is replayed on the next request.
	_, err = c.Send(context.Background(), "again")
	require.NoError(t, err)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "Hello **there**", got.Messages[2].Content)
}

func TestClient_EmptyReply(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})
	reply, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, NoReply, reply.Text)
}

func TestClient_Stream(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"lo"}}],"x_groq":{"usage":{"total_tokens":5}}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var deltas []string
	reply, err := c.Stream(context.Background(), "hi", func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", reply.Text)
	assert.Equal(t, 5, reply.Usage.TotalTokens)
	assert.Equal(t, 1, c.Conversation().ExchangeCount())
}

func TestClient_Errors(t *testing.T) {
	t.Run("rate limit header", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "12")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"Rate limit reached for model"}}`)
		})
		_, err := c.Send(context.Background(), "hi")
		var rl *RateLimitError
		require.ErrorAs(t, err, &rl)
		assert.Equal(t, 12*time.Second, rl.RetryAfter)
		assert.Equal(t, "Rate limit reached. Please wait 12 seconds.", DisplayError(err))
		assert.Equal(t, 0, c.Conversation().ExchangeCount())
	})

	t.Run("rate limit message", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"quota exceeded. Please try again in 7.66s."}}`)
		})
		_, err := c.Send(context.Background(), "hi")
		assert.Equal(t, "Rate limit reached. Please wait 8 seconds.", DisplayError(err))
	})

	t.Run("api error", func(t *testing.T) {
		c, b := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"Invalid API Key"}}`)
		})
		errs := make(chan bus.Event, 1)
		b.Subscribe(bus.EventTypeChatError, func(e bus.Event) { errs <- e })

		_, err := c.Send(context.Background(), "hi")
		var api *APIError
		require.ErrorAs(t, err, &api)
		assert.Equal(t, http.StatusUnauthorized, api.StatusCode)
		assert.Equal(t, "Error: Invalid API Key", DisplayError(err))

		select {
		case e := <-errs:
			assert.Equal(t, "Error: Invalid API Key", e.Data["error"])
		case <-time.After(time.Second):
			t.Fatal("error event not published")
		}
	})

	t.Run("missing key", func(t *testing.T) {
		t.Setenv("GROQ_API_KEY", "")
		c := NewClient(DefaultConfig(), nil, zerolog.Nop())
		assert.False(t, c.IsAvailable())
		_, err := c.Send(context.Background(), "hi")
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	})

	t.Run("empty message", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := c.Send(context.Background(), "   ")
		assert.True(t, errors.Is(err, ErrEmptyMessage))
	})
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter("3", ""))
	assert.Equal(t, 90*time.Second, retryAfter("", "Please try again in 1m30s"))
	assert.Equal(t, 500*time.Millisecond, retryAfter("", "try again in 500ms"))
	assert.Zero(t, retryAfter("soon", "nothing useful"))
}

func TestClient_Clear(t *testing.T) {
	c, b := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	})
	resets := make(chan struct{}, 1)
	b.Subscribe(bus.EventTypeHistoryReset, func(bus.Event) { resets <- struct{}{} })

	_, err := c.Send(context.Background(), "hi")
	require.NoError(t, err)
	c.Clear()
	assert.Equal(t, 0, c.Conversation().ExchangeCount())
	select {
	case <-resets:
	case <-time.After(time.Second):
		t.Fatal("reset event not published")
	}
}
