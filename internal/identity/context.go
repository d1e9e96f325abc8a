// Package identity carries the authenticated practitioner through a request.
package identity

import "context"

type ctxKey string

const practitionerKey ctxKey = "kine.practitioner_id"

// WithPractitioner stores the practitioner id in context.
func WithPractitioner(ctx context.Context, practitionerID string) context.Context {
	return context.WithValue(ctx, practitionerKey, practitionerID)
}

// PractitionerFromContext extracts the practitioner id if present.
func PractitionerFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(practitionerKey)
	if val == nil {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}
