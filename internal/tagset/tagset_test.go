package tagset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToggleAddsAndRemoves(t *testing.T) {
	set := Toggle(nil, "Épaule")
	assert.Equal(t, []string{"épaule"}, set)

	set = Toggle(set, "genou")
	assert.Equal(t, []string{"genou", "épaule"}, set)

	set = Toggle(set, " ÉPAULE ")
	assert.Equal(t, []string{"genou"}, set)
}

func TestToggleTwiceRestoresSet(t *testing.T) {
	original := From([]string{"rachis", "cheville"})
	round := Toggle(Toggle(original, "hanche"), "hanche")
	assert.Equal(t, original, round)
}

func TestToggleDoesNotMutateInput(t *testing.T) {
	input := []string{"cheville", "genou"}
	_ = Toggle(input, "cheville")
	assert.Equal(t, []string{"cheville", "genou"}, input)
}

func TestFromDeduplicatesAndIgnoresOrder(t *testing.T) {
	a := From([]string{"genou", "cheville", "genou", " "})
	b := From([]string{"cheville", "GENOU"})
	assert.Equal(t, a, b)
	assert.True(t, Contains(a, "Genou"))
	assert.False(t, Contains(a, "hanche"))
}
