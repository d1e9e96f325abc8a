package exercises

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Session is one assistant conversation owned by a practitioner.
type Session struct {
	ID             string        `json:"id"`
	PractitionerID string        `json:"practitionerId"`
	QuickForm      *QuickForm    `json:"quickForm,omitempty"`
	Chat           []ChatMessage `json:"chat"`
	Program        *Program      `json:"program,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// clone returns a copy that shares no mutable state with s.
func (s Session) clone() Session {
	s.Chat = append([]ChatMessage(nil), s.Chat...)
	if s.QuickForm != nil {
		f := *s.QuickForm
		f.Objectives = append([]string(nil), f.Objectives...)
		f.Constraints = append([]string(nil), f.Constraints...)
		f.Equipment = append([]string(nil), f.Equipment...)
		s.QuickForm = &f
	}
	if s.Program != nil {
		p := *s.Program
		p.Exercises = append([]Suggestion(nil), p.Exercises...)
		s.Program = &p
	}
	return s
}

// SessionStore keeps assistant sessions.
type SessionStore interface {
	Save(ctx context.Context, s Session) error
	Get(ctx context.Context, practitionerID, id string) (Session, error)
}

// MemorySessionStore is a process-local SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (m *MemorySessionStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.clone()
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, practitionerID, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok || s.PractitionerID != practitionerID {
		return Session{}, ErrSessionNotFound
	}
	return s.clone(), nil
}

const (
	sessionKeyPrefix  = "kine:exercises:session:"
	defaultSessionTTL = 24 * time.Hour
)

// RedisSessionStore keeps sessions as JSON values that expire after ttl of
// inactivity.
type RedisSessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisSessionStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("kine.internal.exercises.sessions"),
	}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (r *RedisSessionStore) Save(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("exercises: marshal session: %w", err)
	}
	ctx, span := r.tracer.Start(ctx, "exercises.sessions.save")
	defer span.End()

	if err := r.redis.Set(ctx, sessionKey(s.ID), data, r.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("exercises: save session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Get(ctx context.Context, practitionerID, id string) (Session, error) {
	ctx, span := r.tracer.Start(ctx, "exercises.sessions.get")
	defer span.End()

	raw, err := r.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		span.RecordError(err)
		return Session{}, fmt.Errorf("exercises: load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		span.RecordError(err)
		return Session{}, fmt.Errorf("exercises: decode session: %w", err)
	}
	if s.PractitionerID != practitionerID {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}
