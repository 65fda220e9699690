package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lfelipe/argus/internal/detector"
)

// Compile-time check to verify that DetectorStore implements
// DetectorRepository. If the interface changes and the struct doesn't, the
// build fails here.
var _ DetectorRepository = (*DetectorStore)(nil)

// DetectorRepository defines the persistence operations for detectors.
// Using an interface allows for dependency injection and easier mocking in
// tests.
type DetectorRepository interface {
	// CreateDetector inserts a new detector and populates its timestamps.
	CreateDetector(ctx context.Context, d *detector.Detector) error

	// GetDetector fetches one detector by identifier.
	GetDetector(ctx context.Context, id uuid.UUID) (*detector.Detector, error)

	// ListDetectors retrieves a paginated detector list and the total
	// count, optionally filtered by creator.
	ListDetectors(ctx context.Context, createdBy string, limit, offset int) ([]*detector.Detector, int64, error)

	// SetDetectorEnabled flips the enabled flag and returns the updated
	// row. Toggling bumps updated_at so pollers pick the change up.
	SetDetectorEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*detector.Detector, error)

	// ListDetectorsUpdatedSince returns detectors whose row changed at or
	// after the given instant.
	ListDetectorsUpdatedSince(ctx context.Context, since time.Time) ([]*detector.Detector, error)

	// DeleteDetector removes a detector; its mappings cascade.
	DeleteDetector(ctx context.Context, id uuid.UUID) error
}

// DetectorStore is the DetectorRepository implementation backed by
// PostgreSQL.
type DetectorStore struct {
	db *pgxpool.Pool
}

// NewDetectorStore creates a repository instance with the given pool.
func NewDetectorStore(db *pgxpool.Pool) *DetectorStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &DetectorStore{db: db}
}

// CreateDetector inserts a new detector, using RETURNING to pick up the
// server-generated timestamps.
func (s *DetectorStore) CreateDetector(ctx context.Context, d *detector.Detector) error {
	query := `
		INSERT INTO detectors (uuid, type, enabled, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRow(ctx, query,
		d.UUID,
		d.Type,
		d.Enabled,
		d.CreatedBy,
	).Scan(&d.CreatedAt, &d.UpdatedAt)

	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return fmt.Errorf("%w: detector %s", ErrAlreadyExists, d.UUID)
		}
		return fmt.Errorf("failed to insert detector: %w", err)
	}
	return nil
}

// GetDetector fetches a single detector by identifier.
func (s *DetectorStore) GetDetector(ctx context.Context, id uuid.UUID) (*detector.Detector, error) {
	query := `
		SELECT uuid, type, enabled, created_by, created_at, updated_at
		FROM detectors
		WHERE uuid = $1
	`

	var d detector.Detector
	err := s.db.QueryRow(ctx, query, id).Scan(
		&d.UUID,
		&d.Type,
		&d.Enabled,
		&d.CreatedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: detector %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get detector: %w", err)
	}
	return &d, nil
}

// ListDetectors retrieves a page of detectors plus the total count. An
// empty createdBy lists all creators.
func (s *DetectorStore) ListDetectors(ctx context.Context, createdBy string, limit, offset int) ([]*detector.Detector, int64, error) {
	countBuilder := sq.Select("count(*)").
		From("detectors").
		PlaceholderFormat(sq.Dollar)
	listBuilder := sq.Select("uuid", "type", "enabled", "created_by", "created_at", "updated_at").
		From("detectors").
		OrderBy("created_at DESC, uuid").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		PlaceholderFormat(sq.Dollar)

	if createdBy != "" {
		countBuilder = countBuilder.Where(sq.Eq{"created_by": createdBy})
		listBuilder = listBuilder.Where(sq.Eq{"created_by": createdBy})
	}

	countQuery, countArgs, err := countBuilder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}

	var total int64
	if err := s.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count detectors: %w", err)
	}
	if total == 0 {
		return []*detector.Detector{}, 0, nil
	}

	listQuery, listArgs, err := listBuilder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	rows, err := s.db.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list detectors: %w", err)
	}
	defer rows.Close()

	detectors := make([]*detector.Detector, 0, limit)
	for rows.Next() {
		var d detector.Detector
		if err := rows.Scan(
			&d.UUID,
			&d.Type,
			&d.Enabled,
			&d.CreatedBy,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan detector row: %w", err)
		}
		detectors = append(detectors, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return detectors, total, nil
}

// SetDetectorEnabled flips the enabled flag. The explicit updated_at bump
// is what makes the change visible to updated-since pollers.
func (s *DetectorStore) SetDetectorEnabled(ctx context.Context, id uuid.UUID, enabled bool) (*detector.Detector, error) {
	query := `
		UPDATE detectors
		SET enabled = $2, updated_at = now()
		WHERE uuid = $1
		RETURNING uuid, type, enabled, created_by, created_at, updated_at
	`

	var d detector.Detector
	err := s.db.QueryRow(ctx, query, id, enabled).Scan(
		&d.UUID,
		&d.Type,
		&d.Enabled,
		&d.CreatedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: detector %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to update detector: %w", err)
	}
	return &d, nil
}

// ListDetectorsUpdatedSince returns detectors changed at or after the given
// instant, the detector-level counterpart of the mapping poll.
func (s *DetectorStore) ListDetectorsUpdatedSince(ctx context.Context, since time.Time) ([]*detector.Detector, error) {
	query := `
		SELECT uuid, type, enabled, created_by, created_at, updated_at
		FROM detectors
		WHERE updated_at >= $1
		ORDER BY updated_at, uuid
	`

	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list updated detectors: %w", err)
	}
	defer rows.Close()

	detectors := make([]*detector.Detector, 0)
	for rows.Next() {
		var d detector.Detector
		if err := rows.Scan(
			&d.UUID,
			&d.Type,
			&d.Enabled,
			&d.CreatedBy,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan detector row: %w", err)
		}
		detectors = append(detectors, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return detectors, nil
}

// DeleteDetector removes a detector. The mappings table references it with
// ON DELETE CASCADE, so its mappings disappear in the same statement.
func (s *DetectorStore) DeleteDetector(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM detectors WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete detector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: detector %s", ErrNotFound, id)
	}
	return nil
}
