package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gopxl/beep/v2/wav"
)

// DecodeWAV decodes an in-memory WAV file.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 44 {
		return Clip{}, fmt.Errorf("%w: %d bytes", ErrInvalidFormat, len(data))
	}
	s, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	return Clip{Streamer: s, Format: format}, nil
}

// EncodeWAV wraps interleaved 16-bit PCM in a RIFF header.
func EncodeWAV(pcm []int16, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	dataLen := len(pcm) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	le := binary.LittleEndian
	buf.WriteString("RIFF")
	_ = binary.Write(buf, le, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(buf, le, uint32(16))
	_ = binary.Write(buf, le, uint16(1)) // PCM
	_ = binary.Write(buf, le, uint16(channels))
	_ = binary.Write(buf, le, uint32(sampleRate))
	_ = binary.Write(buf, le, uint32(sampleRate*channels*2))
	_ = binary.Write(buf, le, uint16(channels*2))
	_ = binary.Write(buf, le, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(buf, le, uint32(dataLen))
	_ = binary.Write(buf, le, pcm)
	return buf.Bytes()
}

// DecodePCM16 decodes raw little-endian mono 16-bit samples.
func DecodePCM16(data []byte, sampleRate int) (Clip, error) {
	if len(data) < 2 || sampleRate <= 0 {
		return Clip{}, ErrInvalidFormat
	}
	pcm := make([]int16, len(data)/2)
	if err := binary.Read(bytes.NewReader(data[:len(pcm)*2]), binary.LittleEndian, pcm); err != nil {
		return Clip{}, fmt.Errorf("read pcm: %w", err)
	}
	return DecodeWAV(EncodeWAV(pcm, sampleRate, 1))
}
