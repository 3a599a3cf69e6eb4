package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/rs/zerolog"
)

// Groq defaults
const (
	DefaultURL   = "https://api.groq.com/openai/v1/chat/completions"
	DefaultModel = "llama-3.3-70b-versatile"
)

// Config holds chat-completion configuration
type Config struct {
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	URL               string        `mapstructure:"url" yaml:"url"`
	Model             string        `mapstructure:"model" yaml:"model"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	SystemPrompt      string        `mapstructure:"system_prompt" yaml:"system_prompt"`
	MaxExchanges      int           `mapstructure:"max_exchanges" yaml:"max_exchanges"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout" yaml:"inactivity_timeout"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:          DefaultURL,
		Model:        DefaultModel,
		Temperature:  0.7,
		MaxTokens:    1024,
		SystemPrompt: "You are a friendly assistant shown as a talking 3D avatar. Keep answers short and conversational.",
		MaxExchanges: 20,
		Timeout:      60 * time.Second,
	}
}

// Client sends user messages and records the exchanges.
type Client struct {
	cfg    Config
	apiKey string
	http   *http.Client
	conv   *Conversation
	bus    *bus.EventBus
	log    zerolog.Logger

	// sendMu keeps exchanges in request order.
	sendMu sync.Mutex
}

// NewClient creates a client. The API key falls back to GROQ_API_KEY.
func NewClient(cfg Config, eventBus *bus.EventBus, log zerolog.Logger) *Client {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_API_KEY")
	}

	return &Client{
		cfg:    cfg,
		apiKey: apiKey,
		http:   &http.Client{Timeout: cfg.Timeout},
		conv: NewConversation(ConversationConfig{
			MaxExchanges:      cfg.MaxExchanges,
			InactivityTimeout: cfg.InactivityTimeout,
		}),
		bus: eventBus,
		log: log.With().Str("component", "chat").Logger(),
	}
}

// Name returns the provider identifier
func (c *Client) Name() string { return "groq" }

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// IsAvailable reports whether an API key is configured.
func (c *Client) IsAvailable() bool { return c.apiKey != "" }

// Conversation exposes the stored history.
func (c *Client) Conversation() *Conversation { return c.conv }

// Clear drops the conversation history.
func (c *Client) Clear() {
	c.conv.Clear()
	c.bus.Publish(bus.Event{Type: bus.EventTypeHistoryReset})
	c.log.Info().Msg("Conversation cleared")
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	XGroq *struct {
		Usage Usage `json:"usage"`
	} `json:"x_groq,omitempty"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Send posts the message with the full history and returns the reply.
func (c *Client) Send(ctx context.Context, text string) (Reply, error) {
	return c.complete(ctx, text, nil)
}

// Stream is like Send but calls onDelta with each content fragment as it
// arrives. The returned Reply carries the concatenated text.
func (c *Client) Stream(ctx context.Context, text string, onDelta func(string)) (Reply, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	return c.complete(ctx, text, onDelta)
}

func (c *Client) complete(ctx context.Context, text string, onDelta func(string)) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	if c.apiKey == "" {
		c.fail("", ErrMissingAPIKey)
		return Reply{}, ErrMissingAPIKey
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	id := uuid.NewString()
	start := time.Now()
	c.bus.Publish(bus.Event{
		Type: bus.EventTypeMessageSent,
		Data: map[string]any{"id": id, "text": text},
	})

	body, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    c.conv.Messages(c.cfg.SystemPrompt, text),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      onDelta != nil,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if onDelta != nil {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("request failed: %w", err)
		c.fail(id, err)
		return Reply{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := decodeError(resp)
		c.fail(id, err)
		return Reply{}, err
	}

	reply := Reply{ID: id, Model: c.cfg.Model}
	if onDelta != nil {
		err = c.readStream(resp.Body, &reply, onDelta)
	} else {
		err = c.readCompletion(resp.Body, &reply)
	}
	if err != nil {
		c.fail(id, err)
		return Reply{}, err
	}
	if strings.TrimSpace(reply.Text) == "" {
		reply.Text = NoReply
	}
	reply.Duration = time.Since(start)

	c.conv.AddExchange(id, text, reply.Text)
	c.bus.Publish(bus.Event{
		Type: bus.EventTypeReply,
		Data: map[string]any{"id": id, "text": reply.Text, "model": reply.Model},
	})
	c.log.Info().
		Str("id", id).
		Int("tokens", reply.Usage.TotalTokens).
		Dur("duration", reply.Duration).
		Msg("Reply received")
	return reply, nil
}

func (c *Client) readCompletion(r io.Reader, reply *Reply) error {
	var out completionResponse
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) > 0 {
		reply.Text = out.Choices[0].Message.Content
	}
	if out.Model != "" {
		reply.Model = out.Model
	}
	reply.Usage = out.Usage
	return nil
}

func (c *Client) readStream(r io.Reader, reply *Reply, onDelta func(string)) error {
	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.log.Debug().Err(err).Msg("Skipping malformed stream chunk")
			continue
		}
		if chunk.XGroq != nil {
			reply.Usage = chunk.XGroq.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			sb.WriteString(delta)
			onDelta(delta)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read error: %w", err)
	}
	reply.Text = sb.String()
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body errorBody
	msg := ""
	if json.Unmarshal(raw, &body) == nil {
		msg = body.Error.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = "Request failed"
	}

	if isRateLimit(resp.StatusCode, msg) {
		return &RateLimitError{
			RetryAfter: retryAfter(resp.Header.Get("Retry-After"), msg),
			Message:    msg,
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

func (c *Client) fail(id string, err error) {
	c.log.Warn().Err(err).Str("id", id).Msg("Chat request failed")
	c.bus.Publish(bus.Event{
		Type: bus.EventTypeChatError,
		Data: map[string]any{"id": id, "error": DisplayError(err)},
	})
}
