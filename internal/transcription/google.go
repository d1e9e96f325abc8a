package transcription

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

// MaxInlineSpeechBytes is the largest payload Cloud Speech accepts inline.
// Larger recordings are staged in a bucket and passed by URI.
const MaxInlineSpeechBytes = 10 << 20

var (
	errInlineTooLarge = fmt.Errorf("%w: recordings over 10MB need SPEECH_STAGING_BUCKET", ErrAudioTooLarge)
	errNoSpeechCodec  = fmt.Errorf("%w: Cloud Speech cannot decode mp4 audio", ErrUnsupportedFormat)
)

// AudioStager stores a recording where Cloud Speech can read it and returns
// its gs:// URI. cleanup removes the staged object.
type AudioStager interface {
	Stage(ctx context.Context, audio []byte, format Format) (uri string, cleanup func(), err error)
}

// GCSStager stages recordings in a Cloud Storage bucket.
type GCSStager struct {
	client *storage.Client
	bucket string
	logger *logging.Logger
}

func NewGCSStager(client *storage.Client, bucket string, logger *logging.Logger) *GCSStager {
	if logger == nil {
		logger = logging.Default()
	}
	return &GCSStager{client: client, bucket: bucket, logger: logger}
}

func (s *GCSStager) Stage(ctx context.Context, audio []byte, format Format) (string, func(), error) {
	key := "transcriptions/" + uuid.NewString() + "." + string(format)
	obj := s.client.Bucket(s.bucket).Object(key)

	uploadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := obj.NewWriter(uploadCtx)
	w.ContentType = "audio/" + string(format)
	if _, err := w.Write(audio); err != nil {
		_ = w.Close()
		return "", nil, fmt.Errorf("transcription: stage audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", nil, fmt.Errorf("transcription: stage audio: %w", err)
	}

	cleanup := func() {
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := obj.Delete(delCtx); err != nil {
			s.logger.Warn("failed to delete staged audio", "error", err, "bucket", s.bucket, "key", key)
		}
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), cleanup, nil
}

// Recognizer runs a long-running recognition to completion.
type Recognizer interface {
	Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)
}

type speechRecognizer struct {
	client *speech.Client
}

// NewSpeechRecognizer wraps a Cloud Speech client.
func NewSpeechRecognizer(client *speech.Client) Recognizer {
	return &speechRecognizer{client: client}
}

func (r *speechRecognizer) Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	op, err := r.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

// GoogleSpeechTranscriber transcribes with Cloud Speech-to-Text. Without a
// stager only recordings up to MaxInlineSpeechBytes are accepted.
type GoogleSpeechTranscriber struct {
	recognizer    Recognizer
	stager        AudioStager
	languageCode  string
	minConfidence float32
	logger        *logging.Logger
}

func NewGoogleSpeechTranscriber(recognizer Recognizer, stager AudioStager, languageCode string, minConfidence float64, logger *logging.Logger) *GoogleSpeechTranscriber {
	if languageCode == "" {
		languageCode = "fr-FR"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GoogleSpeechTranscriber{
		recognizer:    recognizer,
		stager:        stager,
		languageCode:  languageCode,
		minConfidence: float32(minConfidence),
		logger:        logger,
	}
}

func (g *GoogleSpeechTranscriber) Transcribe(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	encoding, ok := encodingFor(req.Format)
	if !ok {
		return Result{}, errNoSpeechCodec
	}

	audio := &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio}}
	if len(req.Audio) > MaxInlineSpeechBytes {
		if g.stager == nil {
			return Result{}, errInlineTooLarge
		}
		uri, cleanup, err := g.stager.Stage(ctx, req.Audio, req.Format)
		if err != nil {
			g.logger.Warn("audio staging failed", "error", err, "user_id", req.UserID, "bytes", len(req.Audio))
			return Failed(msgFailed), nil
		}
		defer cleanup()
		audio = &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: uri}}
	}

	resp, err := g.recognizer.Recognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: recognitionConfig(req.Format, encoding, g.languageCode),
		Audio:  audio,
	})
	if err != nil {
		g.logger.Warn("speech recognition failed", "error", err, "user_id", req.UserID, "format", string(req.Format))
		return Failed(msgFailed), nil
	}

	transcript, confidence := joinAlternatives(resp)
	if transcript == "" {
		return Failed(msgEmpty), nil
	}
	return Transcribed(transcript, confidence < g.minConfidence), nil
}

func recognitionConfig(format Format, encoding speechpb.RecognitionConfig_AudioEncoding, languageCode string) *speechpb.RecognitionConfig {
	cfg := &speechpb.RecognitionConfig{
		LanguageCode:               languageCode,
		EnableAutomaticPunctuation: true,
		Encoding:                   encoding,
	}
	if format == FormatWebM {
		cfg.SampleRateHertz = 48000
	}
	return cfg
}

// encodingFor reports false for containers Cloud Speech has no decoder for.
func encodingFor(format Format) (speechpb.RecognitionConfig_AudioEncoding, bool) {
	switch format {
	case FormatWAV:
		return speechpb.RecognitionConfig_LINEAR16, true
	case FormatWebM:
		return speechpb.RecognitionConfig_WEBM_OPUS, true
	case FormatMPEG:
		return speechpb.RecognitionConfig_MP3, true
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, false
	}
}

// joinAlternatives concatenates the best alternative of every result and
// returns their mean confidence.
func joinAlternatives(resp *speechpb.LongRunningRecognizeResponse) (string, float32) {
	if resp == nil {
		return "", 0
	}
	var (
		parts []string
		sum   float32
	)
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		parts = append(parts, text)
		sum += alts[0].GetConfidence()
	}
	if len(parts) == 0 {
		return "", 0
	}
	return strings.Join(parts, " "), sum / float32(len(parts))
}
