package bilan

import (
	"context"
	"sync"
	"time"
)

// DefaultDraftTTL is how long an untouched working copy stays cached.
const DefaultDraftTTL = 2 * time.Hour

// DraftStore holds the practitioner's working copy of each open record next
// to the last persisted version. Edits only touch the working copy.
//
// The store is a per-process cache. Writes are conditional on the record
// version, so a copy that went stale because another instance wrote the
// record is refused with ErrRecordConflict and dropped.
type DraftStore struct {
	mu        sync.Mutex
	drafts    map[string]*draft
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type draft struct {
	mu        sync.Mutex
	working   Record
	persisted Record
	touched   time.Time
}

// Draft is the working copy as seen by the practitioner.
type Draft struct {
	Record  Record `json:"record"`
	Unsaved bool   `json:"unsaved"`
}

// NewDraftStore returns a store evicting drafts idle for longer than ttl.
// A non-positive ttl falls back to DefaultDraftTTL.
func NewDraftStore(ttl time.Duration) *DraftStore {
	if ttl <= 0 {
		ttl = DefaultDraftTTL
	}
	return &DraftStore{drafts: make(map[string]*draft), ttl: ttl, now: time.Now}
}

func draftKey(ownerID, id string) string {
	return ownerID + "/" + id
}

// put replaces both copies with a freshly persisted record.
func (s *DraftStore) put(rec Record) *draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	d := &draft{working: rec, persisted: rec, touched: now}
	s.drafts[draftKey(rec.OwnerID, rec.ID)] = d
	return d
}

// load returns the draft for a record, seeding it from repo on first access.
func (s *DraftStore) load(ctx context.Context, repo Repository, ownerID, id string) (*draft, error) {
	key := draftKey(ownerID, id)
	s.mu.Lock()
	now := s.now()
	s.sweepLocked(now)
	d, ok := s.drafts[key]
	if ok {
		d.touched = now
	}
	s.mu.Unlock()
	if ok {
		return d, nil
	}

	rec, err := repo.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drafts[key]; ok {
		return d, nil
	}
	d = &draft{working: rec, persisted: rec, touched: now}
	s.drafts[key] = d
	return d, nil
}

// evict drops d if it is still the cached draft for its record.
func (s *DraftStore) evict(d *draft) {
	working, _ := d.snapshot()
	key := draftKey(working.OwnerID, working.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drafts[key] == d {
		delete(s.drafts, key)
	}
}

// Len reports how many drafts are cached.
func (s *DraftStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.drafts)
}

func (s *DraftStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < s.ttl/4 {
		return
	}
	s.lastSweep = now
	for key, d := range s.drafts {
		if now.Sub(d.touched) > s.ttl {
			delete(s.drafts, key)
		}
	}
}

func (d *draft) view() Draft {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewLocked()
}

func (d *draft) viewLocked() Draft {
	return Draft{Record: d.working, Unsaved: !SameContent(d.working, d.persisted)}
}

func (d *draft) snapshot() (working, persisted Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.working, d.persisted
}

func (d *draft) edit(fn func(Record) (Record, error)) (Draft, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, err := fn(d.working)
	if err != nil {
		return Draft{}, err
	}
	d.working = next
	return d.viewLocked(), nil
}

// commit records a successful write and reports whether the working copy
// still carries edits made while the write was in flight. Only lifecycle and
// rendering fields are carried over to the working copy.
func (d *draft) commit(saved Record) (unsaved bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.persisted = saved
	w := d.working.Advance(saved.Status)
	w.Version = saved.Version
	w.UpdatedAt = saved.UpdatedAt
	w.Document = saved.Document
	d.working = w
	return !SameContent(d.working, d.persisted)
}
