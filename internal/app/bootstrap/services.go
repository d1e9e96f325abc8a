package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/kine-assistant/internal/archive"
	appconfig "github.com/wolfman30/kine-assistant/internal/config"
	"github.com/wolfman30/kine-assistant/internal/exercises"
	"github.com/wolfman30/kine-assistant/internal/gateway"
	"github.com/wolfman30/kine-assistant/internal/llm"
	"github.com/wolfman30/kine-assistant/internal/notify"
	"github.com/wolfman30/kine-assistant/internal/render"
	"github.com/wolfman30/kine-assistant/internal/structuring"
	"github.com/wolfman30/kine-assistant/internal/transcription"
	"github.com/wolfman30/kine-assistant/internal/usage"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

const (
	ProviderHTTP     = "http"
	ProviderLLM      = "llm"
	ProviderGoogle   = "google"
	ProviderBedrock  = "bedrock"
	ProviderGemini   = "gemini"
	ProviderSES      = "ses"
	ProviderSendGrid = "sendgrid"
	ProviderStub     = "stub"
)

// Closer releases a client built here. Builders return a no-op when nothing
// needs closing.
type Closer func() error

func noopCloser() error { return nil }

// BuildLLMClient returns the configured model provider. When both Bedrock and
// Gemini are configured the one named by LLM_PROVIDER is primary and the other
// is the fallback. A nil client means no provider is configured.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (llm.Client, Closer, error) {
	if logger == nil {
		logger = logging.Default()
	}

	var bedrock, gemini llm.Client
	closer := Closer(noopCloser)
	if cfg.BedrockModelID != "" && awsCfg != nil {
		bedrock = llm.NewBedrockClient(bedrockruntime.NewFromConfig(*awsCfg), cfg.BedrockModelID)
	}
	if cfg.GeminiAPIKey != "" {
		g, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, noopCloser, err
		}
		gemini = g
		closer = g.Close
	}

	primary, fallback := bedrock, gemini
	if cfg.LLMProvider == ProviderGemini {
		primary, fallback = gemini, bedrock
	}
	switch {
	case primary != nil && fallback != nil:
		logger.Info("llm configured with fallback", "primary", cfg.LLMProvider)
		return llm.NewFallbackClient(primary, fallback, logger), closer, nil
	case primary != nil:
		return primary, closer, nil
	case fallback != nil:
		logger.Warn("configured llm provider unavailable; using the other one", "provider", cfg.LLMProvider)
		return fallback, closer, nil
	default:
		return nil, closer, nil
	}
}

// BuildStructurer returns the structuring backend, wrapped by the local PII
// screen when LOCAL_PII_SCREEN is on.
func BuildStructurer(cfg *appconfig.Config, llmClient llm.Client, metrics gateway.LatencyObserver, logger *logging.Logger) (structuring.Structurer, error) {
	var s structuring.Structurer
	switch cfg.StructuringProvider {
	case ProviderLLM:
		if llmClient == nil {
			return nil, errors.New("bootstrap: STRUCTURING_PROVIDER=llm requires an LLM provider")
		}
		s = structuring.NewLLMStructurer(llmClient, logger)
	case ProviderHTTP, "":
		gw, err := BuildGateway(cfg, "structuring", cfg.StructuringURL, cfg.StructuringAPIKey, metrics)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: structuring gateway: %w", err)
		}
		if gw == nil {
			logger.Warn("STRUCTURING_URL not set; structuring will report the service as unavailable")
			s = unavailableStructurer{}
		} else {
			s = structuring.NewHTTPClient(gw, logger)
		}
	default:
		return nil, fmt.Errorf("bootstrap: unknown structuring provider %q", cfg.StructuringProvider)
	}
	if cfg.LocalPIIScreen {
		s = structuring.NewScreeningStructurer(s, structuring.NewPIIScreen())
	}
	return s, nil
}

// BuildTranscriber returns the speech backend.
func BuildTranscriber(ctx context.Context, cfg *appconfig.Config, metrics gateway.LatencyObserver, logger *logging.Logger) (transcription.Transcriber, Closer, error) {
	switch cfg.TranscriptionProvider {
	case ProviderGoogle:
		client, err := speech.NewClient(ctx)
		if err != nil {
			return nil, noopCloser, fmt.Errorf("bootstrap: speech client: %w", err)
		}
		closer := Closer(client.Close)
		var stager transcription.AudioStager
		if cfg.SpeechStagingBucket != "" {
			gcs, err := storage.NewClient(ctx)
			if err != nil {
				_ = client.Close()
				return nil, noopCloser, fmt.Errorf("bootstrap: storage client: %w", err)
			}
			stager = transcription.NewGCSStager(gcs, cfg.SpeechStagingBucket, logger)
			closer = func() error { return errors.Join(client.Close(), gcs.Close()) }
		} else {
			logger.Warn("SPEECH_STAGING_BUCKET not set; recordings over 10MB will be refused")
		}
		t := transcription.NewGoogleSpeechTranscriber(
			transcription.NewSpeechRecognizer(client),
			stager,
			cfg.SpeechLanguageCode,
			cfg.TranscriptionMinConfidence,
			logger,
		)
		return t, closer, nil
	case ProviderHTTP, "":
		gw, err := BuildGateway(cfg, "transcription", cfg.TranscriptionURL, cfg.TranscriptionAPIKey, metrics)
		if err != nil {
			return nil, noopCloser, fmt.Errorf("bootstrap: transcription gateway: %w", err)
		}
		if gw == nil {
			logger.Warn("TRANSCRIPTION_URL not set; transcription will report the service as unavailable")
			return unavailableTranscriber{}, noopCloser, nil
		}
		return transcription.NewHTTPClient(gw, logger), noopCloser, nil
	default:
		return nil, noopCloser, fmt.Errorf("bootstrap: unknown transcription provider %q", cfg.TranscriptionProvider)
	}
}

// BuildGenerator returns the exercise program generator.
func BuildGenerator(cfg *appconfig.Config, llmClient llm.Client, metrics gateway.LatencyObserver, logger *logging.Logger) (exercises.Generator, error) {
	switch cfg.ExercisesProvider {
	case ProviderLLM:
		if llmClient == nil {
			return nil, errors.New("bootstrap: EXERCISES_PROVIDER=llm requires an LLM provider")
		}
		return exercises.NewLLMGenerator(llmClient, logger), nil
	case ProviderHTTP, "":
		gw, err := BuildGateway(cfg, "exercises", cfg.ExercisesURL, cfg.ExercisesAPIKey, metrics)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: exercises gateway: %w", err)
		}
		if gw == nil {
			logger.Warn("EXERCISES_URL not set; program generation will fail")
			return unavailableGenerator{}, nil
		}
		return exercises.NewHTTPGenerator(gw, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown exercises provider %q", cfg.ExercisesProvider)
	}
}

// BuildRenderer returns the document renderer.
func BuildRenderer(cfg *appconfig.Config, metrics gateway.LatencyObserver, logger *logging.Logger) (render.Renderer, error) {
	gw, err := BuildGateway(cfg, "render", cfg.RenderURL, cfg.RenderAPIKey, metrics)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: render gateway: %w", err)
	}
	if gw == nil {
		logger.Warn("RENDER_URL not set; exports will fail")
		return unavailableRenderer{}, nil
	}
	return render.NewClient(gw, cfg.DocumentTTL), nil
}

// BuildUsageLogger fans usage events out to the usage_logs table and the
// Kafka topic, whichever are configured.
func BuildUsageLogger(cfg *appconfig.Config, sqlDB *sql.DB, logger *logging.Logger) (usage.Logger, Closer) {
	var loggers usage.MultiLogger
	closer := Closer(noopCloser)
	if sqlDB != nil {
		loggers = append(loggers, usage.NewSQLLogger(sqlDB))
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := usage.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaUsageTopic, logger)
		loggers = append(loggers, publisher)
		closer = publisher.Close
		logger.Info("usage events streamed to kafka", "topic", cfg.KafkaUsageTopic)
	}
	if len(loggers) == 0 {
		return usage.NopLogger{}, closer
	}
	return loggers, closer
}

// BuildProgramMailer returns nil when no email provider is configured, which
// disables patient emails.
func BuildProgramMailer(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *notify.ProgramMailer {
	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case ProviderSES:
		if awsCfg == nil {
			logger.Warn("EMAIL_PROVIDER=ses without AWS config; patient email disabled")
			return nil
		}
		sender = notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
	case ProviderSendGrid:
		sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sg == nil {
			logger.Warn("SENDGRID_API_KEY not set; patient email disabled")
			return nil
		}
		sender = sg
	case ProviderStub:
		sender = notify.NewStubEmailSender(logger)
	default:
		return nil
	}
	return notify.NewProgramMailer(sender)
}

// BuildArchive returns nil when ARCHIVE_BUCKET is empty.
func BuildArchive(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *archive.Store {
	if strings.TrimSpace(cfg.ArchiveBucket) == "" || awsCfg == nil {
		return nil
	}
	return archive.NewStore(s3.NewFromConfig(*awsCfg), cfg.ArchiveBucket, logger)
}

type unavailableStructurer struct{}

func (unavailableStructurer) Structure(context.Context, structuring.Request) (structuring.Result, error) {
	return structuring.ServiceError("Le service de structuration n'est pas configuré."), nil
}

type unavailableTranscriber struct{}

func (unavailableTranscriber) Transcribe(_ context.Context, req transcription.Request) (transcription.Result, error) {
	if err := req.Validate(); err != nil {
		return transcription.Result{}, err
	}
	return transcription.Failed("Le service de transcription n'est pas configuré."), nil
}

type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, exercises.GenerationRequest) (exercises.Generation, error) {
	return exercises.Generation{}, fmt.Errorf("%w: %v", exercises.ErrGeneration, gateway.ErrNotConfigured)
}

type unavailableRenderer struct{}

func (unavailableRenderer) RenderBilan(context.Context, render.BilanPayload) (render.Document, error) {
	return render.Document{}, gateway.ErrNotConfigured
}

func (unavailableRenderer) RenderProgram(context.Context, render.ProgramPayload) (render.Document, error) {
	return render.Document{}, gateway.ErrNotConfigured
}
