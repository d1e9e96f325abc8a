package transcription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/wolfman30/kine-assistant/internal/gateway"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

// HTTPClient posts base64 audio to the transcription webhook.
type HTTPClient struct {
	gw     *gateway.Client
	logger *logging.Logger
}

func NewHTTPClient(gw *gateway.Client, logger *logging.Logger) *HTTPClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPClient{gw: gw, logger: logger}
}

type transcribeRequest struct {
	AudioBase64 string `json:"audioBase64"`
	UserID      string `json:"userId"`
	Format      string `json:"format"`
}

type transcribeResponse struct {
	Success    bool   `json:"success"`
	Transcript string `json:"transcript"`
	Warning    bool   `json:"warning"`
	Message    string `json:"message"`
}

func (c *HTTPClient) Transcribe(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	resp, err := c.gw.PostJSON(ctx, "", transcribeRequest{
		AudioBase64: base64.StdEncoding.EncodeToString(req.Audio),
		UserID:      req.UserID,
		Format:      string(req.Format),
	})
	if err != nil {
		c.logger.Warn("transcription call failed", "error", err, "user_id", req.UserID)
		return Failed(msgFailed), nil
	}

	var body transcribeResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		c.logger.Warn("transcription response not json", "status", resp.StatusCode)
		return Failed(msgFailed), nil
	}
	if !body.Success {
		if msg := strings.TrimSpace(body.Message); msg != "" {
			return Failed(msg), nil
		}
		return Failed(msgFailed), nil
	}
	transcript := strings.TrimSpace(body.Transcript)
	if transcript == "" {
		return Failed(msgEmpty), nil
	}
	return Transcribed(transcript, body.Warning), nil
}
