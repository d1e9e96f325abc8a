package structuring

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// detector finds one class of identifying information. When group is set,
// the finding is that submatch instead of the whole match.
type detector struct {
	name  string
	re    *regexp.Regexp
	group int
}

// Detectors run in priority order; a later match overlapping an earlier
// one is dropped.
var defaultDetectors = []detector{
	{
		name: "nir",
		re:   regexp.MustCompile(`\b[12]\s?\d{2}\s?(?:0[1-9]|1[0-2])\s?(?:\d{2}|2[AB])\s?\d{3}\s?\d{3}(?:\s?\d{2})?\b`),
	},
	{
		name: "email",
		re:   regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	},
	{
		name: "phone",
		re:   regexp.MustCompile(`(?:\+33\s?|\b0)[1-9](?:[\s.\-]?\d{2}){4}\b`),
	},
	{
		name: "date",
		re:   regexp.MustCompile(`\b\d{1,2}[/.\-]\d{1,2}[/.\-](?:\d{4}|\d{2})\b`),
	},
	{
		name: "date_long",
		re:   regexp.MustCompile(`(?i)\b\d{1,2}(?:er)?\s+(?:janvier|f[ée]vrier|mars|avril|mai|juin|juillet|ao[uû]t|septembre|octobre|novembre|d[ée]cembre)\s+\d{4}\b`),
	},
	{
		name: "address",
		re:   regexp.MustCompile(`(?i)\b\d{1,4}(?:\s?(?:bis|ter))?,?\s+(?:rue|avenue|av\.|boulevard|bd|place|chemin|all[ée]e|impasse|route|quai|cours)\s+[^,.;\n]{2,60}`),
	},
	{
		name:  "name",
		re:    regexp.MustCompile(`(?:\bM\.|\bMme\b|\bMlle\b|\bMonsieur\b|\bMadame\b|\bDr\.?)\s+(\p{Lu}[\p{Ll}'\-]+(?:\s+\p{Lu}[\p{L}'\-]+){0,2})`),
		group: 1,
	},
}

// PIIScreen flags identifying fragments in free text before it leaves the
// service. It is stricter than the remote policy would be on names, which it
// only catches after a civil title.
type PIIScreen struct {
	detectors []detector
}

func NewPIIScreen() *PIIScreen {
	return &PIIScreen{detectors: defaultDetectors}
}

type span struct {
	start, end int
	text       string
}

// Screen returns the flagged fragments in order of appearance, each once.
func (s *PIIScreen) Screen(text string) []string {
	var found []span
	for _, d := range s.detectors {
		for _, idx := range d.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := idx[0], idx[1]
			if d.group > 0 && len(idx) > 2*d.group+1 && idx[2*d.group] >= 0 {
				start, end = idx[2*d.group], idx[2*d.group+1]
			}
			if overlaps(found, start, end) {
				continue
			}
			found = append(found, span{start: start, end: end, text: strings.TrimSpace(text[start:end])})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].start < found[j].start })

	out := make([]string, 0, len(found))
	seen := make(map[string]struct{}, len(found))
	for _, f := range found {
		if _, dup := seen[f.text]; dup || f.text == "" {
			continue
		}
		seen[f.text] = struct{}{}
		out = append(out, f.text)
	}
	return out
}

func overlaps(found []span, start, end int) bool {
	for _, f := range found {
		if start < f.end && f.start < end {
			return true
		}
	}
	return false
}

// ScreeningStructurer rejects notes carrying identifying information without
// calling the wrapped structurer.
type ScreeningStructurer struct {
	next   Structurer
	screen *PIIScreen
}

func NewScreeningStructurer(next Structurer, screen *PIIScreen) *ScreeningStructurer {
	if screen == nil {
		screen = NewPIIScreen()
	}
	return &ScreeningStructurer{next: next, screen: screen}
}

func (s *ScreeningStructurer) Structure(ctx context.Context, req Request) (Result, error) {
	if findings := s.screen.Screen(req.Notes); len(findings) > 0 {
		return Rejected(findings, "Des informations identifiantes ont été détectées dans vos notes."), nil
	}
	return s.next.Structure(ctx, req)
}
