// Package chat talks to an OpenAI-compatible chat-completion API (Groq by
// default) and keeps the conversation replayed on every request.
package chat

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat-completion message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is the assistant's answer to one user message.
type Reply struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Model    string        `json:"model"`
	Usage    Usage         `json:"usage"`
	Duration time.Duration `json:"duration"`
}

// NoReply is used when the API answers without any content.
const NoReply = "(no reply)"

var (
	ErrMissingAPIKey = errors.New("missing GROQ_API_KEY")
	ErrEmptyMessage  = errors.New("message is empty")
)

// APIError is a non-2xx response that is not a rate limit.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api %d: %s", e.StatusCode, e.Message)
}

// RateLimitError is returned when the provider throttles or the quota is spent.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		secs := int(math.Ceil(e.RetryAfter.Seconds()))
		return fmt.Sprintf("Rate limit reached. Please wait %d seconds.", secs)
	}
	return "Rate limit reached. Wait a moment and try again."
}

// DisplayError renders an error the way the chat UI shows it.
func DisplayError(err error) string {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Error()
	}
	var api *APIError
	if errors.As(err, &api) {
		return "Error: " + api.Message
	}
	return "Error: " + err.Error()
}

func isRateLimit(status int, msg string) bool {
	if status == 429 {
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "429")
}

var tryAgainRe = regexp.MustCompile(`(?i)try again in ((?:\d+(?:\.\d+)?(?:ms|h|m|s))+)`)

// retryAfter reads the wait from the retry-after header (seconds) or from a
// provider message such as "Please try again in 7.66s".
func retryAfter(header, msg string) time.Duration {
	if header != "" {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(header), 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	if m := tryAgainRe.FindStringSubmatch(msg); m != nil {
		if d, err := time.ParseDuration(m[1]); err == nil && d > 0 {
			return d
		}
	}
	return 0
}
