package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/normanking/talkingavatar/internal/chat"
	"github.com/normanking/talkingavatar/internal/markdown"
	"github.com/normanking/talkingavatar/internal/tts"
	"github.com/rs/zerolog"
)

// ErrUnknownMessage is returned when a message ID is not in the transcript.
var ErrUnknownMessage = errors.New("unknown message")

// Chatter is the chat client as the bridge uses it.
type Chatter interface {
	Send(ctx context.Context, text string) (chat.Reply, error)
	Stream(ctx context.Context, text string, onDelta func(string)) (chat.Reply, error)
	Conversation() *chat.Conversation
	Clear()
}

// Speaker is the speech pipeline as the bridges use it.
type Speaker interface {
	Speak(ctx context.Context, messageID, text string) error
	Stop()
	Snapshot() tts.State
	Voice() string
	SetVoice(id string)
	Voices(ctx context.Context) []tts.Voice
}

// ChatMessage is one transcript entry, rendered for the browser.
type ChatMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
	HTML    string `json:"html"`
}

// ChatBridge sends user messages and speaks replies according to the
// current mode.
type ChatBridge struct {
	chat     Chatter
	speech   Speaker
	settings *SettingsBridge
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChatBridge creates the chat bridge. speech may be nil for a silent UI.
func NewChatBridge(c Chatter, speech Speaker, settings *SettingsBridge, log zerolog.Logger) *ChatBridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &ChatBridge{
		chat:     c,
		speech:   speech,
		settings: settings,
		log:      log.With().Str("component", "chat-bridge").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Send stops any speech, asks the model and, in voice mode with auto-play
// on, starts speaking the reply in the background.
func (b *ChatBridge) Send(ctx context.Context, text string) (*ChatMessage, error) {
	return b.send(ctx, text, nil)
}

// Stream is Send with incremental reply text delivered to onDelta.
func (b *ChatBridge) Stream(ctx context.Context, text string, onDelta func(string)) (*ChatMessage, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	return b.send(ctx, text, onDelta)
}

func (b *ChatBridge) send(ctx context.Context, text string, onDelta func(string)) (*ChatMessage, error) {
	b.stopSpeech()

	var (
		reply chat.Reply
		err   error
	)
	if onDelta != nil {
		reply, err = b.chat.Stream(ctx, text, onDelta)
	} else {
		reply, err = b.chat.Send(ctx, text)
	}
	if err != nil {
		return nil, err
	}

	msg := assistantMessage(reply.ID, reply.Text)
	if b.settings.ShouldAutoPlay() {
		b.speakAsync(reply.ID, reply.Text)
	}
	return &msg, nil
}

// ToggleSpeak stops the message if it is the one being spoken, otherwise
// starts speaking it. It reports whether the message is now speaking.
func (b *ChatBridge) ToggleSpeak(id string) (bool, error) {
	if b.speech == nil {
		return false, tts.ErrProviderUnavailable
	}
	if s := b.speech.Snapshot(); s.IsSpeaking && s.MessageID == id {
		b.speech.Stop()
		return false, nil
	}
	text, ok := b.lookup(id)
	if !ok {
		return false, ErrUnknownMessage
	}
	b.speakAsync(id, text)
	return true, nil
}

// Stop interrupts speech.
func (b *ChatBridge) Stop() {
	b.stopSpeech()
}

func (b *ChatBridge) stopSpeech() {
	if b.speech != nil {
		b.speech.Stop()
	}
}

func (b *ChatBridge) speakAsync(id, text string) {
	if b.speech == nil {
		return
	}
	// Stop synchronously so a toggle that follows sees the new message.
	b.speech.Stop()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.speech.Speak(b.ctx, id, text); err != nil {
			b.log.Warn().Err(err).Str("id", id).Msg("Speech failed")
		}
	}()
}

func (b *ChatBridge) lookup(id string) (string, bool) {
	for _, ex := range b.chat.Conversation().Exchanges() {
		if ex.ID == id {
			return ex.AssistantText, true
		}
	}
	return "", false
}

// History returns the transcript, oldest first.
func (b *ChatBridge) History() []ChatMessage {
	exchanges := b.chat.Conversation().Exchanges()
	out := make([]ChatMessage, 0, len(exchanges)*2)
	for _, ex := range exchanges {
		out = append(out, userMessage(ex.ID+"-user", ex.UserText))
		out = append(out, assistantMessage(ex.ID, ex.AssistantText))
	}
	return out
}

// Clear stops speech and forgets the conversation.
func (b *ChatBridge) Clear() {
	b.stopSpeech()
	b.chat.Clear()
}

// Close stops speech and waits for background speech goroutines.
func (b *ChatBridge) Close() {
	b.cancel()
	b.stopSpeech()
	b.wg.Wait()
}

func userMessage(id, text string) ChatMessage {
	return ChatMessage{ID: id, Role: string(chat.RoleUser), Content: text, HTML: renderHTML(text)}
}

func assistantMessage(id, text string) ChatMessage {
	return ChatMessage{ID: id, Role: string(chat.RoleAssistant), Content: text, HTML: renderHTML(text)}
}

func renderHTML(text string) string {
	html, err := markdown.ToHTML(text)
	if err != nil {
		return ""
	}
	return html
}
