package structuring

import (
	"context"
	"errors"

	"github.com/wolfman30/kine-assistant/internal/gateway"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

// HTTPClient calls the structuring webhook.
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

type structureRequest struct {
	Message        string `json:"message"`
	PractitionerID string `json:"practitionerId"`
}

// Structure posts the notes and parses the body whatever the status code,
// since PII rejections may come back as 400.
func (c *HTTPClient) Structure(ctx context.Context, req Request) (Result, error) {
	resp, err := c.gw.PostJSON(ctx, "", structureRequest{
		Message:        req.Notes,
		PractitionerID: req.PractitionerID,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ServiceError("La requête a été annulée."), nil
		}
		c.logger.Warn("structuring call failed", "error", err, "practitioner_id", req.PractitionerID)
		return ServiceError(msgUnavailable), nil
	}
	result := decodeEnvelope(resp.Body)
	if result.Kind == KindServiceError {
		c.logger.Warn("structuring service returned an error",
			"status", resp.StatusCode,
			"practitioner_id", req.PractitionerID,
		)
	}
	return result, nil
}
