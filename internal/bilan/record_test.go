package bilan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvance_IsMonotonic(t *testing.T) {
	rec := Record{Status: StatusDraft, RawNotesText: "douleur épaule"}

	validated := rec.Advance(StatusValidated)
	assert.Equal(t, StatusValidated, validated.Status)
	assert.Empty(t, validated.RawNotesText, "raw notes dropped once validated")

	assert.Equal(t, StatusValidated, validated.Advance(StatusDraft).Status)
	assert.Equal(t, StatusValidated, validated.Advance(StatusValidated).Status)

	exported := validated.Advance(StatusExported)
	assert.Equal(t, StatusExported, exported.Status)
	assert.Equal(t, StatusExported, exported.Advance(StatusValidated).Status)

	assert.Equal(t, "douleur épaule", rec.RawNotesText, "original value untouched")
}

func TestNormalized_AllocatesBranchesAndCanonicalizesRegions(t *testing.T) {
	bio := &Bio{PatientComplaint: "lombalgie"}
	rec := Record{
		ClinicalData:  &ClinicalData{Bio: bio},
		TargetRegions: []string{" Genou ", "epaule", "genou"},
	}

	n := rec.Normalized()
	require.NotNil(t, n.Identity)
	require.NotNil(t, n.ClinicalData.LifeHabits)
	assert.Same(t, bio, n.ClinicalData.Bio)
	assert.Equal(t, []string{"epaule", "genou"}, n.TargetRegions)
	assert.Equal(t, StatusDraft, n.Status)
	assert.Nil(t, rec.ClinicalData.LifeHabits)
}

func TestToggleRegion(t *testing.T) {
	rec := Record{TargetRegions: []string{"genou"}}
	on := rec.ToggleRegion("Epaule")
	assert.Equal(t, []string{"epaule", "genou"}, on.TargetRegions)
	off := on.ToggleRegion("genou")
	assert.Equal(t, []string{"epaule"}, off.TargetRegions)
	assert.Equal(t, []string{"genou"}, rec.TargetRegions)
}

func TestSameContent(t *testing.T) {
	a := Record{
		ID:            "a",
		Summary:       "Bilan initial",
		ClinicalData:  &ClinicalData{Bio: &Bio{PatientComplaint: "cervicalgie"}},
		TargetRegions: []string{"cou", "dos"},
	}.Normalized()
	b := a
	b.ID = "b"
	b.UpdatedAt = time.Now()
	b.TargetRegions = []string{"dos", "cou"}
	assert.True(t, SameContent(a, b))

	b.ClinicalData = &ClinicalData{Bio: &Bio{PatientComplaint: "dorsalgie"}}
	assert.False(t, SameContent(a, b))
}

func TestDocumentRefExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var missing *DocumentRef
	assert.True(t, missing.Expired(now))
	assert.True(t, (&DocumentRef{}).Expired(now))
	assert.False(t, (&DocumentRef{URL: "https://docs/x.pdf"}).Expired(now))
	assert.False(t, (&DocumentRef{URL: "https://docs/x.pdf", ExpiresAt: now.Add(time.Minute)}).Expired(now))
	assert.True(t, (&DocumentRef{URL: "https://docs/x.pdf", ExpiresAt: now}).Expired(now))
}
