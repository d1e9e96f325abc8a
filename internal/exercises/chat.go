package exercises

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one turn of the refinement chat. The log is append-only.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// AdaptationType is a one-click adaptation shortcut.
type AdaptationType string

const (
	AdaptEasier AdaptationType = "easier"
	AdaptHarder AdaptationType = "harder"
	AdaptFun    AdaptationType = "fun"
)

func (t AdaptationType) Valid() bool {
	return t == AdaptEasier || t == AdaptHarder || t == AdaptFun
}

// Adaptation targets a single exercise.
type Adaptation struct {
	ExerciseID string         `json:"exerciseId"`
	Type       AdaptationType `json:"type"`
}

func adaptationMessage(title string, t AdaptationType) string {
	switch t {
	case AdaptEasier:
		return `Rends l'exercice "` + title + `" plus facile`
	case AdaptHarder:
		return `Rends l'exercice "` + title + `" plus difficile`
	default:
		return `Rends l'exercice "` + title + `" plus ludique`
	}
}
