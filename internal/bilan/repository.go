package bilan

import (
	"context"
	"sort"
	"sync"
)

// Repository persists records scoped to their owning practitioner.
//
// Update is a conditional write: rec.Version must be exactly one more than
// the stored version, otherwise ErrRecordConflict is returned and nothing
// changes.
type Repository interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, ownerID, id string) (Record, error)
	Update(ctx context.Context, rec Record) error
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Record, error)
}

// InMemoryRepository keeps deep copies of records in a map.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: make(map[string]Record)}
}

func (r *InMemoryRepository) Create(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ID]; exists {
		return ErrRecordExists
	}
	r.records[rec.ID] = rec.clone()
	return nil
}

func (r *InMemoryRepository) Get(ctx context.Context, ownerID, id string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok || rec.OwnerID != ownerID {
		return Record{}, ErrRecordNotFound
	}
	return rec.clone(), nil
}

func (r *InMemoryRepository) Update(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[rec.ID]
	if !ok || existing.OwnerID != rec.OwnerID {
		return ErrRecordNotFound
	}
	if rec.Version != existing.Version+1 {
		return ErrRecordConflict
	}
	r.records[rec.ID] = rec.clone()
	return nil
}

func (r *InMemoryRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]Record, error) {
	r.mu.RLock()
	out := make([]Record, 0)
	for _, rec := range r.records {
		if rec.OwnerID == ownerID {
			out = append(out, rec.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if offset >= len(out) {
		return []Record{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// clone allocates fresh branches so stored records never alias caller memory.
func (r Record) clone() Record {
	r = r.Normalized()
	identity := *r.Identity
	medical := *r.MedicalContext
	bio := *r.ClinicalData.Bio
	habits := *r.ClinicalData.LifeHabits
	env := *r.Environment
	psycho := *r.PsychoFactors
	objectives := *r.ObjectivesPlan
	r.Identity = &identity
	r.MedicalContext = &medical
	r.ClinicalData = &ClinicalData{Bio: &bio, LifeHabits: &habits}
	r.Environment = &env
	r.PsychoFactors = &psycho
	r.ObjectivesPlan = &objectives
	r.TargetRegions = append([]string{}, r.TargetRegions...)
	if r.Document != nil {
		doc := *r.Document
		r.Document = &doc
	}
	return r
}
