// Package transcription converts recorded consultation audio into text.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// MaxAudioBytes caps the decoded payload.
	MaxAudioBytes = 50 << 20
	// MaxDuration caps a single recording.
	MaxDuration = 4 * time.Minute
)

var (
	ErrAudioEmpty        = errors.New("transcription: audio is empty")
	ErrAudioTooLarge     = errors.New("transcription: audio exceeds 50MB")
	ErrAudioTooLong      = errors.New("transcription: recording exceeds 4 minutes")
	ErrUnsupportedFormat = errors.New("transcription: unsupported audio format")
)

// Format is the container reported by the recorder.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP4  Format = "mp4"
	FormatMPEG Format = "mpeg"
	FormatWebM Format = "webm"
)

// ParseFormat accepts the format names the recorder emits.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatWAV, FormatMP4, FormatMPEG, FormatWebM:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
}

type Kind string

const (
	KindTranscribed Kind = "transcribed"
	KindFailed      Kind = "failed"
)

type Request struct {
	Audio    []byte
	UserID   string
	Format   Format
	Duration time.Duration
}

// Validate enforces the recording limits before any network call.
func (r Request) Validate() error {
	if len(r.Audio) == 0 {
		return ErrAudioEmpty
	}
	if len(r.Audio) > MaxAudioBytes {
		return ErrAudioTooLarge
	}
	if r.Duration > MaxDuration {
		return ErrAudioTooLong
	}
	if _, err := ParseFormat(string(r.Format)); err != nil {
		return err
	}
	return nil
}

// Result is KindTranscribed with a transcript, or KindFailed with a message.
// Warning marks a low-confidence transcript the practitioner should review.
type Result struct {
	Kind       Kind
	Transcript string
	Warning    bool
	Message    string
}

func Transcribed(transcript string, warning bool) Result {
	return Result{Kind: KindTranscribed, Transcript: transcript, Warning: warning}
}

func Failed(message string) Result {
	return Result{Kind: KindFailed, Message: message}
}

// Transcriber is implemented by every speech backend. Remote failures are
// KindFailed results; the error return is for invalid requests.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}

const (
	msgFailed = "Échec de la transcription"
	msgEmpty  = "Aucun texte n'a été reconnu dans l'enregistrement."
)
