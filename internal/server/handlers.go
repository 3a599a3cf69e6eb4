package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/normanking/talkingavatar/internal/bridge"
	"github.com/normanking/talkingavatar/internal/chat"
	"github.com/normanking/talkingavatar/internal/library"
	"github.com/normanking/talkingavatar/internal/tts"
)

const maxBody = 1 << 20

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	Message string `json:"message"`
	// Stream answers with server-sent events instead of one JSON object.
	Stream bool `json:"stream"`
}

// ChatResponse is the reply to a non-streamed chat request
type ChatResponse struct {
	Message  *bridge.ChatMessage `json:"message"`
	Speaking bool                `json:"speaking"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps package errors to HTTP status codes.
func statusFor(err error) int {
	var rl *chat.RateLimitError
	var api *chat.APIError
	switch {
	case errors.As(err, &rl):
		return http.StatusTooManyRequests
	case errors.As(err, &api):
		return http.StatusBadGateway
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, library.ErrInvalidName),
		errors.Is(err, library.ErrInvalidURL),
		errors.Is(err, tts.ErrVoiceNotFound),
		errors.Is(err, bridge.ErrInvalidSetting):
		return http.StatusBadRequest
	case errors.Is(err, library.ErrNotFound),
		errors.Is(err, bridge.ErrUnknownMessage):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrLibraryDisabled):
		return http.StatusConflict
	case errors.Is(err, chat.ErrMissingAPIKey),
		errors.Is(err, tts.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var rl *chat.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
	}
	if status >= http.StatusInternalServerError {
		s.log.Warn().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, errorBody{Error: chat.DisplayError(err)})
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Avatar.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"loadState": st.LoadState,
		"mode":      s.deps.Settings.Mode(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := readJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.Stream {
		s.streamChat(w, r, req.Message)
		return
	}

	msg, err := s.deps.Chat.Send(r.Context(), req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Message: msg, Speaking: s.deps.Settings.ShouldAutoPlay()})
}

// streamChat answers with server-sent events: delta events carry reply
// text as it arrives, then one done or error event.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, text string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}
	if strings.TrimSpace(text) == "" {
		s.writeError(w, chat.ErrEmptyMessage)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event string, v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	msg, err := s.deps.Chat.Stream(r.Context(), text, func(delta string) {
		send("delta", map[string]string{"text": delta})
	})
	if err != nil {
		send("error", errorBody{Error: chat.DisplayError(err)})
		return
	}
	send("done", ChatResponse{Message: msg, Speaking: s.deps.Settings.ShouldAutoPlay()})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.deps.Chat.History()})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	s.deps.Chat.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := readJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	speaking, err := s.deps.Chat.ToggleSpeak(req.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "speaking": speaking})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Chat.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices := tts.DefaultVoices
	current := ""
	if s.deps.Speech != nil {
		voices = s.deps.Speech.Voices(r.Context())
		current = s.deps.Speech.Voice()
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices, "current": current})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.GetSettings())
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req bridge.SettingsData
	if err := readJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.deps.Settings.SaveSettings(req); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Settings.GetSettings())
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := readJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.deps.Settings.SetMode(req.Mode); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Settings.GetSettings())
}

func (s *Server) handleAutoPlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := readJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	s.deps.Settings.SetAutoPlay(req.Enabled)
	writeJSON(w, http.StatusOK, s.deps.Settings.GetSettings())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Avatar.State())
}

func (s *Server) handleListAvatars(w http.ResponseWriter, r *http.Request) {
	avatars, err := s.deps.Avatar.Avatars(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"avatars": avatars})
}

func (s *Server) handleCreateAvatar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := readJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	a, err := s.deps.Avatar.CreateAvatar(r.Context(), req.Name, req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleRenameAvatar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	a, err := s.deps.Avatar.RenameAvatar(r.Context(), mux.Vars(r)["id"], req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAvatar(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Avatar.DeleteAvatar(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectAvatar(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Avatar.SelectAvatar(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []any{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": s.deps.Logs.History(limit),
		"path":    s.deps.Logs.Path(),
		"system":  s.deps.Logs.SystemInfo(),
	})
}

func (s *Server) handleClientLog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level     string         `json:"level"`
		Component string         `json:"component"`
		Message   string         `json:"message"`
		Data      map[string]any `json:"data"`
	}
	if err := readJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if s.deps.Logs != nil {
		s.deps.Logs.Log(req.Level, req.Component, req.Message, req.Data)
	}
	w.WriteHeader(http.StatusNoContent)
}
