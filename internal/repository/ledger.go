// Package repository wraps all SQL used throughout the API and worker.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jekudy/nutrition-bot/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// LedgerRepository implements the persistence collaborator on Postgres.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository constructs a repository.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// CreateRequestIfAbsent inserts the request record unless the derived identity
// already exists, in which case the stored record is returned untouched.
func (r *LedgerRepository) CreateRequestIfAbsent(ctx context.Context, req model.AnalysisRequest) (model.AnalysisRequest, bool, error) {
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO analysis_requests (id, user_id, object_key, status, error_message, captured_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,NULL,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING
	`, req.ID, req.UserID, req.ObjectKey, req.Status, req.CapturedAt, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return model.AnalysisRequest{}, false, fmt.Errorf("insert request: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return req, true, nil
	}
	stored, err := r.GetRequest(ctx, req.ID)
	if err != nil {
		return model.AnalysisRequest{}, false, err
	}
	return stored, false, nil
}

// GetRequest returns a request by id.
func (r *LedgerRepository) GetRequest(ctx context.Context, id string) (model.AnalysisRequest, error) {
	var (
		req    model.AnalysisRequest
		errMsg sql.NullString
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, object_key, status, error_message, captured_at, created_at, updated_at
		FROM analysis_requests WHERE id=$1
	`, id)
	if err := row.Scan(&req.ID, &req.UserID, &req.ObjectKey, &req.Status, &errMsg, &req.CapturedAt, &req.CreatedAt, &req.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AnalysisRequest{}, fmt.Errorf("request %s: %w", id, ErrNotFound)
		}
		return model.AnalysisRequest{}, fmt.Errorf("select request: %w", err)
	}
	if errMsg.Valid {
		req.ErrorMessage = errMsg.String
	}
	return req, nil
}

// TransitionRequest moves a request from one of the listed statuses to the
// target status with a compare-and-set UPDATE. It returns false when no
// eligible row was found, which keeps terminal states immutable and lets the
// pipeline discard late results after cancellation.
func (r *LedgerRepository) TransitionRequest(ctx context.Context, id string, from []model.RequestStatus, to model.RequestStatus, message string) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	var msg *string
	if message != "" {
		msg = &message
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE analysis_requests
		SET status=$1, error_message=$2, updated_at=$3
		WHERE id=$4 AND status = ANY($5)
	`, to, msg, time.Now().UTC(), id, states)
	if err != nil {
		return false, fmt.Errorf("transition request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// serializableRetries bounds how often a serializable transaction is re-run
// after a serialization failure (SQLSTATE 40001) before giving up. Conflicts
// happen when two workers write the same (user, day) concurrently; the
// in-process keyed mutex cannot serialize across replicas.
const serializableRetries = 3

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func (r *LedgerRepository) inSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt <= serializableRetries; attempt++ {
		err = r.runTx(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("serializable tx after %d retries: %w", serializableRetries, err)
}

func (r *LedgerRepository) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpsertEntry inserts the ledger entry and increments the daily aggregate in
// one serializable transaction, retried on serialization conflicts. The
// UNIQUE(user_id, request_id) constraint turns duplicate deliveries into
// no-ops that still return the current aggregate.
func (r *LedgerRepository) UpsertEntry(ctx context.Context, entry model.LedgerEntry) (bool, model.DailyAggregate, error) {
	var (
		inserted bool
		agg      model.DailyAggregate
	)
	err := r.inSerializableTx(ctx, func(tx pgx.Tx) error {
		var err error
		inserted, agg, err = r.upsertEntryTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return false, model.DailyAggregate{}, err
	}
	return inserted, agg, nil
}

func (r *LedgerRepository) upsertEntryTx(ctx context.Context, tx pgx.Tx, entry model.LedgerEntry) (bool, model.DailyAggregate, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (user_id, day, request_id, calories, protein_g, fat_g, carbs_g, confidence, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (user_id, request_id) DO NOTHING
	`, entry.UserID, entry.Day, entry.RequestID,
		entry.Estimate.Calories, entry.Estimate.ProteinG, entry.Estimate.FatG, entry.Estimate.CarbsG,
		entry.Estimate.Confidence, entry.RecordedAt)
	if err != nil {
		return false, model.DailyAggregate{}, fmt.Errorf("insert entry: %w", err)
	}
	inserted := tag.RowsAffected() == 1
	if inserted {
		_, err = tx.Exec(ctx, `
			INSERT INTO daily_aggregates (user_id, day, calories, protein_g, fat_g, carbs_g, entry_count, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,1,$7)
			ON CONFLICT (user_id, day) DO UPDATE SET
				calories = daily_aggregates.calories + EXCLUDED.calories,
				protein_g = daily_aggregates.protein_g + EXCLUDED.protein_g,
				fat_g = daily_aggregates.fat_g + EXCLUDED.fat_g,
				carbs_g = daily_aggregates.carbs_g + EXCLUDED.carbs_g,
				entry_count = daily_aggregates.entry_count + 1,
				updated_at = EXCLUDED.updated_at
		`, entry.UserID, entry.Day,
			entry.Estimate.Calories, entry.Estimate.ProteinG, entry.Estimate.FatG, entry.Estimate.CarbsG,
			time.Now().UTC())
		if err != nil {
			return false, model.DailyAggregate{}, fmt.Errorf("increment aggregate: %w", err)
		}
	}
	agg, err := scanAggregate(tx.QueryRow(ctx, `
		SELECT user_id, day, calories, protein_g, fat_g, carbs_g, entry_count
		FROM daily_aggregates WHERE user_id=$1 AND day=$2
	`, entry.UserID, entry.Day), entry.UserID, entry.Day)
	if err != nil {
		return false, model.DailyAggregate{}, err
	}
	return inserted, agg, nil
}

// DeleteEntry removes the ledger entry and decrements its aggregate in one
// serializable transaction, reporting false when no entry existed. It is the
// compensation path for a recording that lost the race with a cancellation.
func (r *LedgerRepository) DeleteEntry(ctx context.Context, userID int64, requestID string) (bool, error) {
	var deleted bool
	err := r.inSerializableTx(ctx, func(tx pgx.Tx) error {
		var rawDay time.Time
		var calories, proteinG, fatG, carbsG float64
		row := tx.QueryRow(ctx, `
			DELETE FROM ledger_entries WHERE user_id=$1 AND request_id=$2
			RETURNING day, calories, protein_g, fat_g, carbs_g
		`, userID, requestID)
		if err := row.Scan(&rawDay, &calories, &proteinG, &fatG, &carbsG); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				deleted = false
				return nil
			}
			return fmt.Errorf("delete entry: %w", err)
		}
		deleted = true
		if _, err := tx.Exec(ctx, `
			UPDATE daily_aggregates SET
				calories = calories - $3,
				protein_g = protein_g - $4,
				fat_g = fat_g - $5,
				carbs_g = carbs_g - $6,
				entry_count = entry_count - 1,
				updated_at = $7
			WHERE user_id=$1 AND day=$2
		`, userID, rawDay, calories, proteinG, fatG, carbsG, time.Now().UTC()); err != nil {
			return fmt.Errorf("decrement aggregate: %w", err)
		}
		return nil
	})
	return deleted, err
}

// GetAggregate returns the day's aggregate, zero-valued when no entries exist.
func (r *LedgerRepository) GetAggregate(ctx context.Context, userID int64, day model.Day) (model.DailyAggregate, error) {
	return scanAggregate(r.pool.QueryRow(ctx, `
		SELECT user_id, day, calories, protein_g, fat_g, carbs_g, entry_count
		FROM daily_aggregates WHERE user_id=$1 AND day=$2
	`, userID, day), userID, day)
}

func scanAggregate(row pgx.Row, userID int64, day model.Day) (model.DailyAggregate, error) {
	var (
		agg    model.DailyAggregate
		rawDay time.Time
	)
	err := row.Scan(&agg.UserID, &rawDay, &agg.Totals.Calories, &agg.Totals.ProteinG, &agg.Totals.FatG, &agg.Totals.CarbsG, &agg.EntryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DailyAggregate{UserID: userID, Day: day}, nil
	}
	if err != nil {
		return model.DailyAggregate{}, fmt.Errorf("select aggregate: %w", err)
	}
	agg.Day = model.Day(rawDay.Format(time.DateOnly))
	return agg, nil
}

// ListEntries returns all entries for the user's day.
func (r *LedgerRepository) ListEntries(ctx context.Context, userID int64, day model.Day) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, day, request_id, calories, protein_g, fat_g, carbs_g, confidence, recorded_at
		FROM ledger_entries WHERE user_id=$1 AND day=$2
		ORDER BY recorded_at
	`, userID, day)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()
	var entries []model.LedgerEntry
	for rows.Next() {
		var (
			entry  model.LedgerEntry
			rawDay time.Time
		)
		if err := rows.Scan(&entry.UserID, &rawDay, &entry.RequestID,
			&entry.Estimate.Calories, &entry.Estimate.ProteinG, &entry.Estimate.FatG, &entry.Estimate.CarbsG,
			&entry.Estimate.Confidence, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.Day = model.Day(rawDay.Format(time.DateOnly))
		entry.Estimate.RequestID = entry.RequestID
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetProfile returns the user's profile; the bool reports presence.
func (r *LedgerRepository) GetProfile(ctx context.Context, userID int64) (model.UserProfile, bool, error) {
	var (
		profile model.UserProfile
		target  sql.NullInt32
	)
	row := r.pool.QueryRow(ctx, `
		SELECT user_id, timezone, daily_calorie_target FROM user_profiles WHERE user_id=$1
	`, userID)
	if err := row.Scan(&profile.UserID, &profile.Timezone, &target); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.UserProfile{}, false, nil
		}
		return model.UserProfile{}, false, fmt.Errorf("select profile: %w", err)
	}
	if target.Valid {
		t := int(target.Int32)
		profile.DailyCalorieTarget = &t
	}
	return profile, true, nil
}

// UpsertProfile stores the profile supplied by the user-configuration
// collaborator.
func (r *LedgerRepository) UpsertProfile(ctx context.Context, profile model.UserProfile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, timezone, daily_calorie_target, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			daily_calorie_target = EXCLUDED.daily_calorie_target,
			updated_at = EXCLUDED.updated_at
	`, profile.UserID, profile.Timezone, profile.DailyCalorieTarget, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
