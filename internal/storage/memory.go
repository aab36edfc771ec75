// Package storage contains the in-memory persistence collaborator. It backs
// the single-binary dev mode and the test suite, and mirrors the transactional
// guarantees of the Postgres repository.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Jekudy/nutrition-bot/internal/model"
)

var (
	// ErrNotFound is exported so callers can compare with errors.Is.
	ErrNotFound = errors.New("not found")
)

// MemoryStore keeps requests, ledger entries, aggregates, and profiles in maps
// guarded by an RWMutex. Entry insertion and aggregate increment happen under
// one write lock, so the pair is atomic exactly like the SQL transaction.
type MemoryStore struct {
	mu         sync.RWMutex
	requests   map[string]model.AnalysisRequest
	entries    map[int64]map[string]model.LedgerEntry
	aggregates map[string]model.DailyAggregate
	profiles   map[int64]model.UserProfile
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:   make(map[string]model.AnalysisRequest),
		entries:    make(map[int64]map[string]model.LedgerEntry),
		aggregates: make(map[string]model.DailyAggregate),
		profiles:   make(map[int64]model.UserProfile),
	}
}

func aggKey(userID int64, day model.Day) string {
	return fmt.Sprintf("%d|%s", userID, day)
}

// CreateRequestIfAbsent inserts the request unless one with the same identity
// exists; the stored record is returned either way, with the bool reporting
// whether an insert happened.
func (m *MemoryStore) CreateRequestIfAbsent(ctx context.Context, req model.AnalysisRequest) (model.AnalysisRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.requests[req.ID]; ok {
		return existing, false, nil
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	m.requests[req.ID] = req
	return req, true, nil
}

// GetRequest returns a request by id.
func (m *MemoryStore) GetRequest(ctx context.Context, id string) (model.AnalysisRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[id]
	if !ok {
		return model.AnalysisRequest{}, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return req, nil
}

// TransitionRequest moves a request from one of the listed statuses to the
// target status. It returns false when the request is not in an eligible
// state, which keeps terminal states immutable.
func (m *MemoryStore) TransitionRequest(ctx context.Context, id string, from []model.RequestStatus, to model.RequestStatus, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return false, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	eligible := false
	for _, s := range from {
		if req.Status == s {
			eligible = true
			break
		}
	}
	if !eligible {
		return false, nil
	}
	req.Status = to
	req.ErrorMessage = message
	req.UpdatedAt = time.Now().UTC()
	m.requests[id] = req
	return true, nil
}

// UpsertEntry inserts the ledger entry and increments the daily aggregate as
// one atomic unit. A duplicate (user, request) pair changes nothing and
// returns the current aggregate.
func (m *MemoryStore) UpsertEntry(ctx context.Context, entry model.LedgerEntry) (bool, model.DailyAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser, ok := m.entries[entry.UserID]
	if !ok {
		byUser = make(map[string]model.LedgerEntry)
		m.entries[entry.UserID] = byUser
	}
	if existing, ok := byUser[entry.RequestID]; ok {
		return false, m.aggregateLocked(entry.UserID, existing.Day), nil
	}
	byUser[entry.RequestID] = entry

	key := aggKey(entry.UserID, entry.Day)
	agg, ok := m.aggregates[key]
	if !ok {
		agg = model.DailyAggregate{UserID: entry.UserID, Day: entry.Day}
	}
	agg.Totals = agg.Totals.Add(model.Totals{
		Calories: entry.Estimate.Calories,
		ProteinG: entry.Estimate.ProteinG,
		FatG:     entry.Estimate.FatG,
		CarbsG:   entry.Estimate.CarbsG,
	})
	agg.EntryCount++
	m.aggregates[key] = agg
	return true, agg, nil
}

// DeleteEntry removes the ledger entry and decrements its aggregate as one
// atomic unit. It reports false when no entry exists, so rolling back a write
// that never happened is a no-op.
func (m *MemoryStore) DeleteEntry(ctx context.Context, userID int64, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser, ok := m.entries[userID]
	if !ok {
		return false, nil
	}
	entry, ok := byUser[requestID]
	if !ok {
		return false, nil
	}
	delete(byUser, requestID)

	key := aggKey(userID, entry.Day)
	agg, ok := m.aggregates[key]
	if !ok {
		return true, nil
	}
	agg.Totals = model.Totals{
		Calories: agg.Totals.Calories - entry.Estimate.Calories,
		ProteinG: agg.Totals.ProteinG - entry.Estimate.ProteinG,
		FatG:     agg.Totals.FatG - entry.Estimate.FatG,
		CarbsG:   agg.Totals.CarbsG - entry.Estimate.CarbsG,
	}
	agg.EntryCount--
	m.aggregates[key] = agg
	return true, nil
}

// GetAggregate returns the aggregate for the day, zero-valued when no entries
// exist. Missing data is not an error.
func (m *MemoryStore) GetAggregate(ctx context.Context, userID int64, day model.Day) (model.DailyAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregateLocked(userID, day), nil
}

func (m *MemoryStore) aggregateLocked(userID int64, day model.Day) model.DailyAggregate {
	if agg, ok := m.aggregates[aggKey(userID, day)]; ok {
		return agg
	}
	return model.DailyAggregate{UserID: userID, Day: day}
}

// ListEntries returns all entries for the user's day.
func (m *MemoryStore) ListEntries(ctx context.Context, userID int64, day model.Day) ([]model.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.LedgerEntry
	for _, entry := range m.entries[userID] {
		if entry.Day == day {
			out = append(out, entry)
		}
	}
	return out, nil
}

// GetProfile returns the user's profile; the bool reports presence.
func (m *MemoryStore) GetProfile(ctx context.Context, userID int64) (model.UserProfile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	profile, ok := m.profiles[userID]
	return profile, ok, nil
}

// UpsertProfile stores the profile supplied by the user-configuration
// collaborator.
func (m *MemoryStore) UpsertProfile(ctx context.Context, profile model.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profile.UserID] = profile
	return nil
}

// MemoryPhotoStore holds photo bytes keyed by object key. It stands in for
// MinIO in dev mode and tests.
type MemoryPhotoStore struct {
	mu     sync.RWMutex
	photos map[string][]byte
}

// NewMemoryPhotoStore constructs an empty photo store.
func NewMemoryPhotoStore() *MemoryPhotoStore {
	return &MemoryPhotoStore{photos: make(map[string][]byte)}
}

// UploadPhoto stores a copy of the bytes under the key.
func (p *MemoryPhotoStore) UploadPhoto(ctx context.Context, objectKey string, data []byte, contentType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	p.photos[objectKey] = buf
	return nil
}

// FetchPhoto returns the stored bytes.
func (p *MemoryPhotoStore) FetchPhoto(ctx context.Context, objectKey string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.photos[objectKey]
	if !ok {
		return nil, fmt.Errorf("photo %s: %w", objectKey, ErrNotFound)
	}
	return data, nil
}
