// Package practitioners holds practitioner profiles, their plan and the free
// structuring credits that gate the bilan workflow.
package practitioners

import (
	"strings"
	"time"
)

// Plan is the subscription level.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// DefaultFreeCredits is granted to every new practitioner.
const DefaultFreeCredits = 2

// Profile is one practitioner account.
type Profile struct {
	ID            string    `json:"id"`
	Plan          Plan      `json:"plan"`
	CreditsFree   int       `json:"creditsFree"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email"`
	RPPSNumber    string    `json:"rppsNumber"`
	Phone         string    `json:"phone"`
	ClinicAddress string    `json:"clinicAddress"`
	LogoURL       string    `json:"logoUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CanStructure reports whether a structuring call is allowed.
func (p Profile) CanStructure() bool {
	return p.Plan == PlanPremium || p.CreditsFree > 0
}

// Display is the part of the profile printed on exported documents.
type Display struct {
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	RPPSNumber    string `json:"rppsNumber"`
	Phone         string `json:"phone"`
	ClinicAddress string `json:"clinicAddress"`
	LogoURL       string `json:"logoUrl,omitempty"`
}

// Display returns the printable part of the profile.
func (p Profile) Display() Display {
	return Display{
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		Email:         p.Email,
		RPPSNumber:    p.RPPSNumber,
		Phone:         p.Phone,
		ClinicAddress: p.ClinicAddress,
		LogoURL:       p.LogoURL,
	}
}

// Validate checks a display update.
func (d Display) Validate() error {
	if strings.TrimSpace(d.FirstName) == "" || strings.TrimSpace(d.LastName) == "" {
		return ErrInvalidDisplay
	}
	if rpps := strings.TrimSpace(d.RPPSNumber); rpps != "" && !isDigits(rpps) {
		return ErrInvalidDisplay
	}
	return nil
}

func (p Profile) withDisplay(d Display) Profile {
	p.FirstName = strings.TrimSpace(d.FirstName)
	p.LastName = strings.TrimSpace(d.LastName)
	p.Email = strings.TrimSpace(d.Email)
	p.RPPSNumber = strings.TrimSpace(d.RPPSNumber)
	p.Phone = strings.TrimSpace(d.Phone)
	p.ClinicAddress = strings.TrimSpace(d.ClinicAddress)
	p.LogoURL = strings.TrimSpace(d.LogoURL)
	return p
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
