// Package ledger owns the write path to ledger entries and daily aggregates.
// Recording is idempotent on (user, request) and serialized per (user, day).
package ledger

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Jekudy/nutrition-bot/internal/model"
)

// Store is the persistence collaborator. UpsertEntry must insert the entry and
// increment the matching aggregate as one atomic unit, and report false
// without changing anything when an entry with the same (user, request)
// already exists.
type Store interface {
	UpsertEntry(ctx context.Context, entry model.LedgerEntry) (bool, model.DailyAggregate, error)
	DeleteEntry(ctx context.Context, userID int64, requestID string) (bool, error)
	GetAggregate(ctx context.Context, userID int64, day model.Day) (model.DailyAggregate, error)
	ListEntries(ctx context.Context, userID int64, day model.Day) ([]model.LedgerEntry, error)
	GetProfile(ctx context.Context, userID int64) (model.UserProfile, bool, error)
}

// PersistenceError marks storage being unavailable. The whole submission is
// marked FAILED and is safe to resubmit because recording is idempotent on the
// request identity.
type PersistenceError struct {
	RequestID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure for %s: %v", e.RequestID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Aggregator assigns estimates to user-local calendar days and records them
// exactly once.
type Aggregator struct {
	store    Store
	fallback *time.Location

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAggregator constructs an Aggregator. defaultTimezone is used when a user
// has no profile or the profile's zone does not load.
func NewAggregator(store Store, defaultTimezone string) (*Aggregator, error) {
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("load default timezone %q: %w", defaultTimezone, err)
	}
	return &Aggregator{
		store:    store,
		fallback: loc,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Record writes the estimate against the user's local calendar day and returns
// the running aggregate. Calling it again with the same request identity, even
// concurrently, returns the aggregate unchanged.
func (a *Aggregator) Record(ctx context.Context, userID int64, requestID string, est model.NutritionEstimate, capturedAt time.Time) (model.DailyAggregate, error) {
	day, err := a.DayFor(ctx, userID, capturedAt)
	if err != nil {
		return model.DailyAggregate{}, &PersistenceError{RequestID: requestID, Err: err}
	}
	entry := model.LedgerEntry{
		UserID:     userID,
		Day:        day,
		RequestID:  requestID,
		Estimate:   est,
		RecordedAt: time.Now().UTC(),
	}

	// Writes for the same (user, day) are serialized so concurrent
	// submissions cannot interleave entry insertion with aggregate updates.
	lock := a.lockFor(fmt.Sprintf("%d|%s", userID, day))
	lock.Lock()
	defer lock.Unlock()

	inserted, agg, err := a.store.UpsertEntry(ctx, entry)
	if err != nil {
		return model.DailyAggregate{}, &PersistenceError{RequestID: requestID, Err: err}
	}
	if !inserted {
		log.Printf("ledger: duplicate record for request %s ignored", requestID)
	}
	return agg, nil
}

// Rollback removes a recorded estimate again. It compensates for the narrow
// race where a cancellation lands after Record but before the request reaches
// its terminal SUCCEEDED state; a rollback of a request that was never
// recorded is a no-op.
func (a *Aggregator) Rollback(ctx context.Context, userID int64, requestID string, capturedAt time.Time) error {
	day, err := a.DayFor(ctx, userID, capturedAt)
	if err != nil {
		return &PersistenceError{RequestID: requestID, Err: err}
	}
	lock := a.lockFor(fmt.Sprintf("%d|%s", userID, day))
	lock.Lock()
	defer lock.Unlock()

	deleted, err := a.store.DeleteEntry(ctx, userID, requestID)
	if err != nil {
		return &PersistenceError{RequestID: requestID, Err: err}
	}
	if deleted {
		log.Printf("ledger: rolled back entry for cancelled request %s", requestID)
	}
	return nil
}

// DayFor resolves the calendar day an instant belongs to for this user,
// consulting the profile timezone with a configured fallback.
func (a *Aggregator) DayFor(ctx context.Context, userID int64, t time.Time) (model.Day, error) {
	loc := a.fallback
	profile, ok, err := a.store.GetProfile(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load profile for %d: %w", userID, err)
	}
	if ok && profile.Timezone != "" {
		if parsed, err := time.LoadLocation(profile.Timezone); err == nil {
			loc = parsed
		} else {
			log.Printf("ledger: invalid timezone %q for user %d, using fallback", profile.Timezone, userID)
		}
	}
	return model.DayOf(t, loc), nil
}

// VerifyAggregate recomputes the aggregate from its entries and compares it
// against the stored totals, returning false on any mismatch.
func (a *Aggregator) VerifyAggregate(ctx context.Context, userID int64, day model.Day) (bool, error) {
	agg, err := a.store.GetAggregate(ctx, userID, day)
	if err != nil {
		return false, err
	}
	entries, err := a.store.ListEntries(ctx, userID, day)
	if err != nil {
		return false, err
	}
	var sum model.Totals
	for _, e := range entries {
		sum = sum.Add(model.Totals{
			Calories: e.Estimate.Calories,
			ProteinG: e.Estimate.ProteinG,
			FatG:     e.Estimate.FatG,
			CarbsG:   e.Estimate.CarbsG,
		})
	}
	return sum == agg.Totals && len(entries) == agg.EntryCount, nil
}

func (a *Aggregator) lockFor(key string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[key] = lock
	}
	return lock
}
