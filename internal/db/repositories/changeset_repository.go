// changeset_repository.go implements ChangeSetRepository, providing database
// operations for persisting and querying change sets and their field-level
// records. A change set and its records are always written in one transaction
// so a consumer never observes a half-written audit entry.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fieldtrace/fieldtrace/internal/db/models"
)

// ChangeSetRepository handles change-set database operations
type ChangeSetRepository struct {
	db *sqlx.DB
}

// NewChangeSetRepository creates a new ChangeSetRepository
func NewChangeSetRepository(db *sqlx.DB) *ChangeSetRepository {
	return &ChangeSetRepository{db: db}
}

// ChangeSetFilters contains filters for querying change sets
type ChangeSetFilters struct {
	Kind     *string
	EntityID *string
	Actor    *string
	Since    *time.Time
	Until    *time.Time
}

// Create persists a change set and its records in one transaction. The ID and
// RecordedAt fields are assigned here when unset.
func (r *ChangeSetRepository) Create(ctx context.Context, set *models.ChangeSet) error {
	if set.ID == "" {
		set.ID = uuid.New().String()
	}
	if set.RecordedAt.IsZero() {
		set.RecordedAt = time.Now().UTC()
	}

	var metadataJSON []byte
	var err error
	if set.Metadata != nil {
		metadataJSON, err = json.Marshal(set.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO change_sets (id, kind, entity_id, actor, source, request_id, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, set.ID, set.Kind, set.EntityID, set.Actor, set.Source, set.RequestID, metadataJSON, set.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert change set: %w", err)
	}

	for i, rec := range set.Records {
		oldJSON, err := json.Marshal(rec.OldValue)
		if err != nil {
			return fmt.Errorf("failed to marshal old value for %q: %w", rec.Field, err)
		}
		newJSON, err := json.Marshal(rec.NewValue)
		if err != nil {
			return fmt.Errorf("failed to marshal new value for %q: %w", rec.Field, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO change_records (change_set_id, field, old_value, new_value, position)
			VALUES ($1, $2, $3, $4, $5)
		`, set.ID, rec.Field, oldJSON, newJSON, i)
		if err != nil {
			return fmt.Errorf("failed to insert change record %q: %w", rec.Field, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit change set: %w", err)
	}
	return nil
}

// List retrieves change sets (without their records) with optional filters and
// pagination, newest first. The second return value is the unpaginated total.
func (r *ChangeSetRepository) List(ctx context.Context, filters ChangeSetFilters, limit, offset int) ([]*models.ChangeSet, int, error) {
	countQuery := `SELECT COUNT(*) FROM change_sets WHERE 1=1`
	query := `
		SELECT id, kind, entity_id, actor, source, request_id, metadata, recorded_at
		FROM change_sets
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	appendFilter := func(clause string, value interface{}) {
		cond := fmt.Sprintf(clause, paramIndex)
		countQuery += cond
		query += cond
		args = append(args, value)
		paramIndex++
	}

	if filters.Kind != nil {
		appendFilter(` AND kind = $%d`, *filters.Kind)
	}
	if filters.EntityID != nil {
		appendFilter(` AND entity_id = $%d`, *filters.EntityID)
	}
	if filters.Actor != nil {
		appendFilter(` AND actor = $%d`, *filters.Actor)
	}
	if filters.Since != nil {
		appendFilter(` AND recorded_at >= $%d`, *filters.Since)
	}
	if filters.Until != nil {
		appendFilter(` AND recorded_at <= $%d`, *filters.Until)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count change sets: %w", err)
	}

	query += fmt.Sprintf(` ORDER BY recorded_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list change sets: %w", err)
	}
	defer rows.Close()

	sets := make([]*models.ChangeSet, 0)
	for rows.Next() {
		set, err := scanChangeSet(rows)
		if err != nil {
			return nil, 0, err
		}
		sets = append(sets, set)
	}
	return sets, total, rows.Err()
}

// GetByID retrieves a single change set with its records in position order.
// Returns (nil, nil) when no row exists.
func (r *ChangeSetRepository) GetByID(ctx context.Context, id string) (*models.ChangeSet, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, kind, entity_id, actor, source, request_id, metadata, recorded_at
		FROM change_sets
		WHERE id = $1
	`, id)

	set, err := scanChangeSet(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT field, old_value, new_value, position
		FROM change_records
		WHERE change_set_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load change records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec models.ChangeRecord
		var oldJSON, newJSON []byte
		if err := rows.Scan(&rec.Field, &oldJSON, &newJSON, &rec.Position); err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}
		if len(oldJSON) > 0 {
			if err := json.Unmarshal(oldJSON, &rec.OldValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal old value: %w", err)
			}
		}
		if len(newJSON) > 0 {
			if err := json.Unmarshal(newJSON, &rec.NewValue); err != nil {
				return nil, fmt.Errorf("failed to unmarshal new value: %w", err)
			}
		}
		set.Records = append(set.Records, rec)
	}
	return set, rows.Err()
}

// Stats returns per-kind change-set and record totals, largest first.
func (r *ChangeSetRepository) Stats(ctx context.Context) ([]models.KindStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.kind, COUNT(DISTINCT s.id) AS sets, COUNT(r.id) AS records
		FROM change_sets s
		LEFT JOIN change_records r ON r.change_set_id = s.id
		GROUP BY s.kind
		ORDER BY sets DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := make([]models.KindStat, 0)
	for rows.Next() {
		var s models.KindStat
		if err := rows.Scan(&s.Kind, &s.Sets, &s.Records); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// DeleteOlderThan deletes at most batchSize change sets recorded before the
// cutoff and returns the number deleted. Records go with them via the FK
// cascade. Batching keeps each sweep transaction short on large tables.
func (r *ChangeSetRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM change_sets
		WHERE id IN (
			SELECT id FROM change_sets
			WHERE recorded_at < $1
			ORDER BY recorded_at ASC
			LIMIT $2
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old change sets: %w", err)
	}
	return result.RowsAffected()
}

// ListForArchive retrieves all change sets recorded within [since, until),
// with records, oldest first, for the archive exporter.
func (r *ChangeSetRepository) ListForArchive(ctx context.Context, since, until time.Time) ([]*models.ChangeSet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, entity_id, actor, source, request_id, metadata, recorded_at
		FROM change_sets
		WHERE recorded_at >= $1 AND recorded_at < $2
		ORDER BY recorded_at ASC
	`, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list change sets for archive: %w", err)
	}
	defer rows.Close()

	sets := make([]*models.ChangeSet, 0)
	byID := make(map[string]*models.ChangeSet)
	for rows.Next() {
		set, err := scanChangeSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
		byID[set.ID] = set
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return sets, nil
	}

	recRows, err := r.db.QueryContext(ctx, `
		SELECT r.change_set_id, r.field, r.old_value, r.new_value, r.position
		FROM change_records r
		JOIN change_sets s ON s.id = r.change_set_id
		WHERE s.recorded_at >= $1 AND s.recorded_at < $2
		ORDER BY r.change_set_id, r.position ASC
	`, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to load change records for archive: %w", err)
	}
	defer recRows.Close()

	for recRows.Next() {
		var setID string
		var rec models.ChangeRecord
		var oldJSON, newJSON []byte
		if err := recRows.Scan(&setID, &rec.Field, &oldJSON, &newJSON, &rec.Position); err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}
		if len(oldJSON) > 0 {
			_ = json.Unmarshal(oldJSON, &rec.OldValue)
		}
		if len(newJSON) > 0 {
			_ = json.Unmarshal(newJSON, &rec.NewValue)
		}
		if set, ok := byID[setID]; ok {
			set.Records = append(set.Records, rec)
		}
	}
	return sets, recRows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChangeSet(row rowScanner) (*models.ChangeSet, error) {
	set := &models.ChangeSet{}
	var metadataJSON []byte
	err := row.Scan(
		&set.ID,
		&set.Kind,
		&set.EntityID,
		&set.Actor,
		&set.Source,
		&set.RequestID,
		&metadataJSON,
		&set.RecordedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan change set: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &set.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return set, nil
}
