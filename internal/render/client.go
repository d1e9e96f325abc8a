// Package render sends bilans and exercise programs to the PDF renderer and
// returns short-lived document links.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/kine-assistant/internal/gateway"
	"github.com/wolfman30/kine-assistant/internal/practitioners"
)

const (
	BilanPath   = "/bilan-pdf"
	ProgramPath = "/assistant-exercices-pdf"
)

var (
	// ErrMissingDocument is returned when the renderer answers without a link.
	ErrMissingDocument = errors.New("render: response has no document url")
	// ErrRejected is returned for a 4xx answer.
	ErrRejected = errors.New("render: request rejected")
)

// Therapist is the practitioner block printed on documents.
type Therapist struct {
	ID            string `json:"id"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	RPPSNumber    string `json:"rppsNumber"`
	Phone         string `json:"phone"`
	ClinicAddress string `json:"clinicAddress"`
	LogoURL       string `json:"logoUrl,omitempty"`
}

// TherapistFromProfile copies the printable profile of a practitioner.
func TherapistFromProfile(p practitioners.Profile) Therapist {
	return Therapist{
		ID:            p.ID,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Email:         p.Email,
		RPPSNumber:    p.RPPSNumber,
		Phone:         p.Phone,
		ClinicAddress: p.ClinicAddress,
		LogoURL:       p.LogoURL,
	}
}

// BilanPayload asks for a bilan PDF. Bilan is the full structured record.
type BilanPayload struct {
	RecordID  string    `json:"recordId"`
	KineID    string    `json:"kineId"`
	Therapist Therapist `json:"therapist"`
	Bilan     any       `json:"bilan"`
	Markdown  string    `json:"markdown,omitempty"`
}

// ProgramPayload asks for a home-program PDF.
type ProgramPayload struct {
	SessionID string    `json:"sessionId"`
	KineID    string    `json:"kineId"`
	Therapist Therapist `json:"therapist"`
	Program   any       `json:"program"`
}

// Document is a rendered PDF link.
type Document struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Renderer is implemented by Client.
type Renderer interface {
	RenderBilan(ctx context.Context, payload BilanPayload) (Document, error)
	RenderProgram(ctx context.Context, payload ProgramPayload) (Document, error)
}

// Client talks to the renderer. Links without an expiry get the default TTL.
type Client struct {
	gw  *gateway.Client
	ttl time.Duration
	now func() time.Time
}

func NewClient(gw *gateway.Client, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{gw: gw, ttl: ttl, now: time.Now}
}

func (c *Client) RenderBilan(ctx context.Context, payload BilanPayload) (Document, error) {
	return c.render(ctx, BilanPath, payload)
}

func (c *Client) RenderProgram(ctx context.Context, payload ProgramPayload) (Document, error) {
	return c.render(ctx, ProgramPath, payload)
}

// renderResponse accepts the field spellings the render flows use.
type renderResponse struct {
	PDFURL    *string    `json:"pdfUrl"`
	PDFURLAlt *string    `json:"pdf_url"`
	URL       *string    `json:"url"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (r renderResponse) link() string {
	for _, v := range []*string{r.PDFURL, r.PDFURLAlt, r.URL} {
		if v != nil && strings.TrimSpace(*v) != "" {
			return strings.TrimSpace(*v)
		}
	}
	return ""
}

func (c *Client) render(ctx context.Context, path string, payload any) (Document, error) {
	resp, err := c.gw.PostJSON(ctx, path, payload)
	if err != nil {
		return Document{}, err
	}
	if resp.StatusCode >= 400 {
		return Document{}, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var body renderResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return Document{}, fmt.Errorf("render: decode response: %w", err)
	}
	url := body.link()
	if url == "" {
		return Document{}, ErrMissingDocument
	}
	doc := Document{URL: url, ExpiresAt: c.now().UTC().Add(c.ttl)}
	if body.ExpiresAt != nil && !body.ExpiresAt.IsZero() {
		doc.ExpiresAt = body.ExpiresAt.UTC()
	}
	return doc, nil
}
