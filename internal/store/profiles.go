package store

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/wenzhenlab/wenzhen/internal/profile"
)

// ProfileStore owns the canonical profile collection and the current
// selection pointer. Reads go through an in-memory cache loaded lazily
// from the blob store; every mutation updates cache and durable blob as
// one step under the store lock before returning.
//
// A single logical writer is assumed. Concurrent mutating callers are a
// documented limitation, not a guarantee; the lock only keeps individual
// operations atomic.
type ProfileStore struct {
	mu     sync.Mutex
	blob   BlobStore
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewProfileStore creates a profile store over the given blob store.
func NewProfileStore(blob BlobStore, logger *slog.Logger) *ProfileStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ProfileStore{
		blob:   blob,
		cache:  gocache.New(gocache.NoExpiration, 0),
		logger: logger,
	}
}

// loadProfiles returns the cached profile slice, reading through to the
// blob store on first access. Caller must hold s.mu.
func (s *ProfileStore) loadProfiles() ([]*profile.Record, error) {
	if cached, ok := s.cache.Get(KeyProfiles); ok {
		return cached.([]*profile.Record), nil
	}

	var records []*profile.Record
	raw, ok, err := s.blob.Get(KeyProfiles)
	if err != nil {
		return nil, err
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &records); err != nil {
			return nil, fmt.Errorf("store: decode profiles: %w", err)
		}
	}
	if records == nil {
		records = []*profile.Record{}
	}
	s.cache.Set(KeyProfiles, records, gocache.NoExpiration)
	return records, nil
}

// saveProfiles persists the slice and refreshes the cache as one step.
// Caller must hold s.mu. The cache is only updated after the durable
// write succeeds, so a failed write leaves the pre-operation state.
func (s *ProfileStore) saveProfiles(records []*profile.Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("store: encode profiles: %w", err)
	}
	if err := s.blob.Set(KeyProfiles, string(raw)); err != nil {
		return err
	}
	s.cache.Set(KeyProfiles, records, gocache.NoExpiration)
	return nil
}

// List returns a snapshot copy of all profiles. Mutating the returned
// records does not affect the store.
func (s *ProfileStore) List() ([]*profile.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadProfiles()
	if err != nil {
		return nil, err
	}
	out := make([]*profile.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out, nil
}

// Get returns a snapshot copy of the profile with the given id, or
// ErrNotFound.
func (s *ProfileStore) Get(id string) (*profile.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *ProfileStore) get(id string) (*profile.Record, error) {
	records, err := s.loadProfiles()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Add appends a new profile and persists.
func (s *ProfileStore) Add(r *profile.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadProfiles()
	if err != nil {
		return err
	}
	updated := append(append([]*profile.Record{}, records...), r.Clone())
	if err := s.saveProfiles(updated); err != nil {
		return err
	}
	s.logger.Debug("profile added", "id", r.ID)
	return nil
}

// Update replaces the stored record with the same id. An unknown id is
// silently ignored: upstream callers update records they just read, and
// a vanished record means the user deleted it mid-turn.
func (s *ProfileStore) Update(r *profile.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadProfiles()
	if err != nil {
		return err
	}
	for i, existing := range records {
		if existing.ID == r.ID {
			updated := append([]*profile.Record{}, records...)
			updated[i] = r.Clone()
			updated[i].UpdatedAt = nowMillis()
			return s.saveProfiles(updated)
		}
	}
	s.logger.Debug("update for unknown profile ignored", "id", r.ID)
	return nil
}

// Remove deletes the profile with the given id. When the removed id is
// the current selection, the selection pointer is cleared as part of the
// same logical operation.
func (s *ProfileStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadProfiles()
	if err != nil {
		return err
	}
	updated := make([]*profile.Record, 0, len(records))
	for _, r := range records {
		if r.ID != id {
			updated = append(updated, r)
		}
	}
	if err := s.saveProfiles(updated); err != nil {
		return err
	}

	current, err := s.currentID()
	if err != nil {
		return err
	}
	if current == id {
		return s.setCurrentID("")
	}
	return nil
}

// CurrentID returns the selected profile id, or "" when none.
func (s *ProfileStore) CurrentID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID()
}

func (s *ProfileStore) currentID() (string, error) {
	if cached, ok := s.cache.Get(KeyCurrentProfileID); ok {
		return cached.(string), nil
	}
	id, _, err := s.blob.Get(KeyCurrentProfileID)
	if err != nil {
		return "", err
	}
	s.cache.Set(KeyCurrentProfileID, id, gocache.NoExpiration)
	return id, nil
}

// SetCurrentID sets the selection pointer; "" clears it.
func (s *ProfileStore) SetCurrentID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCurrentID(id)
}

func (s *ProfileStore) setCurrentID(id string) error {
	if id == "" {
		if err := s.blob.Delete(KeyCurrentProfileID); err != nil {
			return err
		}
	} else if err := s.blob.Set(KeyCurrentProfileID, id); err != nil {
		return err
	}
	s.cache.Set(KeyCurrentProfileID, id, gocache.NoExpiration)
	return nil
}

// Current resolves the selected profile. Returns ErrNotFound when no
// profile is selected or the selected id no longer exists.
func (s *ProfileStore) Current() (*profile.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.currentID()
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no profile selected", ErrNotFound)
	}
	return s.get(id)
}

// HasAny reports whether at least one profile exists.
func (s *ProfileStore) HasAny() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadProfiles()
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// ClearAll wipes every profile and the selection pointer. Test and
// reset hook.
func (s *ProfileStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.blob.Delete(KeyProfiles); err != nil {
		return err
	}
	if err := s.blob.Delete(KeyCurrentProfileID); err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}

// RefreshCache drops the in-memory cache so the next read goes back to
// the blob store.
func (s *ProfileStore) RefreshCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Flush()
}

func nowMillis() int64 { return time.Now().UnixMilli() }
