package tts

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWAVRate = 24000

// statusError is a non-200 reply from a speech endpoint.
type statusError struct {
	Code int
	Msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Msg)
}

// fetchWAV performs req and returns the audio body. Transport failures wrap
// ErrProviderUnavailable so the pipeline can fall back.
func fetchWAV(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &statusError{Code: resp.StatusCode, Msg: errorMessage(body)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	return data, nil
}

// errorMessage pulls the message out of {"error": "..."} or
// {"error": {"message": "..."}} bodies, else returns the trimmed text.
func errorMessage(body []byte) string {
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &flat) == nil && flat.Error != "" {
		return flat.Error
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// wavRate reads the sample rate from a RIFF header.
func wavRate(data []byte) int {
	if len(data) < 28 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return defaultWAVRate
	}
	return int(binary.LittleEndian.Uint32(data[24:28]))
}

func wavResponse(data []byte, voice, provider string, started time.Time) *SynthesizeResponse {
	return &SynthesizeResponse{
		Audio:          data,
		Format:         "wav",
		SampleRate:     wavRate(data),
		ProcessingTime: time.Since(started),
		VoiceID:        voice,
		Provider:       provider,
	}
}
