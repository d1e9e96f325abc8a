package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"time"
)

// ErrInvalidRecipient is returned for a malformed patient address.
var ErrInvalidRecipient = errors.New("notify: invalid patient email")

// ProgramLink describes a home program ready for the patient.
type ProgramLink struct {
	PatientEmail  string
	TherapistName string
	DocumentURL   string
	ExpiresAt     time.Time
	// TherapistEmail receives the patient's replies when set.
	TherapistEmail string
}

// ProgramMailer sends home-program links to patients.
type ProgramMailer struct {
	sender EmailSender
}

func NewProgramMailer(sender EmailSender) *ProgramMailer {
	return &ProgramMailer{sender: sender}
}

// ValidateRecipient checks an address before any export work is done.
func ValidateRecipient(addr string) error {
	if _, err := mail.ParseAddress(strings.TrimSpace(addr)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	return nil
}

func (m *ProgramMailer) SendProgramLink(ctx context.Context, link ProgramLink) error {
	if err := ValidateRecipient(link.PatientEmail); err != nil {
		return err
	}
	therapist := strings.TrimSpace(link.TherapistName)
	if therapist == "" {
		therapist = "Votre kinésithérapeute"
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Bonjour,\n\n%s vous a préparé un programme d'exercices à réaliser à domicile.\n\n", therapist)
	fmt.Fprintf(&text, "Téléchargez-le ici : %s\n", link.DocumentURL)
	if !link.ExpiresAt.IsZero() {
		fmt.Fprintf(&text, "Ce lien est valable jusqu'au %s.\n", link.ExpiresAt.Format("02/01/2006 15:04"))
	}
	text.WriteString("\nBonne séance !\n")

	htmlBody := fmt.Sprintf(
		`<p>Bonjour,</p><p>%s vous a préparé un programme d'exercices à réaliser à domicile.</p><p><a href="%s">Télécharger mon programme</a></p>`,
		html.EscapeString(therapist), html.EscapeString(link.DocumentURL),
	)

	msg := EmailMessage{
		To:      strings.TrimSpace(link.PatientEmail),
		Subject: "Votre programme d'exercices à domicile",
		Body:    text.String(),
		HTML:    htmlBody,
	}
	if ValidateRecipient(link.TherapistEmail) == nil {
		msg.ReplyTo = link.TherapistEmail
	}
	return m.sender.Send(ctx, msg)
}
