package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lfelipe/argus/internal/detector"
)

var _ MappingRepository = (*MappingStore)(nil)

// MappingRepository defines the persistence operations for detector
// mappings. Every read joins the owning detector so callers always see the
// mapping's own enabled flag and the detector's side by side. A detector
// carries at most one mapping, so mutations key on the detector UUID.
type MappingRepository interface {
	// CreateMapping inserts a new mapping and populates its ID and
	// timestamps. The referenced detector must exist and must not be
	// mapped yet.
	CreateMapping(ctx context.Context, m *detector.Mapping) error

	// GetMappingByDetector fetches the mapping owned by a detector.
	GetMappingByDetector(ctx context.Context, detectorUUID uuid.UUID) (*detector.Mapping, error)

	// ListEnabledMappings returns every mapping whose own flag and whose
	// detector's flag are both set. This feeds the search scan.
	ListEnabledMappings(ctx context.Context) ([]*detector.Mapping, error)

	// ListMappingsUpdatedSince returns every mapping touched at or after
	// the given instant, where "touched" covers edits to the mapping row
	// or to its detector (a detector toggle must surface its mappings).
	ListMappingsUpdatedSince(ctx context.Context, since time.Time) ([]*detector.Mapping, error)

	// DeleteMappingByDetector removes the mapping owned by a detector.
	DeleteMappingByDetector(ctx context.Context, detectorUUID uuid.UUID) error
}

// MappingStore is the MappingRepository implementation backed by
// PostgreSQL. Expressions are stored as JSONB.
type MappingStore struct {
	db *pgxpool.Pool
}

// NewMappingStore creates a repository instance with the given pool.
func NewMappingStore(db *pgxpool.Pool) *MappingStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &MappingStore{db: db}
}

// mappingColumns is the SELECT list shared by every mapping read; scan
// order must match scanMapping.
const mappingColumns = `
	m.id, m.expression, m.enabled, m.created_at, m.updated_at,
	d.uuid, d.type, d.enabled, d.created_by, d.created_at, d.updated_at
`

func scanMapping(row pgx.Row) (*detector.Mapping, error) {
	var (
		m        detector.Mapping
		exprJSON []byte
	)
	if err := row.Scan(
		&m.ID,
		&exprJSON,
		&m.Enabled,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.Detector.UUID,
		&m.Detector.Type,
		&m.Detector.Enabled,
		&m.Detector.CreatedBy,
		&m.Detector.CreatedAt,
		&m.Detector.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(exprJSON, &m.Expression); err != nil {
		return nil, fmt.Errorf("failed to decode stored expression: %w", err)
	}
	return &m, nil
}

// CreateMapping inserts a new mapping for an existing, unmapped detector.
func (s *MappingStore) CreateMapping(ctx context.Context, m *detector.Mapping) error {
	exprJSON, err := json.Marshal(m.Expression)
	if err != nil {
		return fmt.Errorf("failed to encode expression: %w", err)
	}

	query := `
		INSERT INTO detector_mappings (detector_uuid, expression, enabled)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		m.Detector.UUID,
		exprJSON,
		m.Enabled,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)

	if err != nil {
		switch pgErrCode(err) {
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: detector %s", ErrNotFound, m.Detector.UUID)
		case pgUniqueViolation:
			return fmt.Errorf("%w: mapping for detector %s", ErrAlreadyExists, m.Detector.UUID)
		}
		return fmt.Errorf("failed to insert mapping: %w", err)
	}
	return nil
}

// GetMappingByDetector fetches a detector's mapping.
func (s *MappingStore) GetMappingByDetector(ctx context.Context, detectorUUID uuid.UUID) (*detector.Mapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM detector_mappings m
		JOIN detectors d ON d.uuid = m.detector_uuid
		WHERE m.detector_uuid = $1
	`

	m, err := scanMapping(s.db.QueryRow(ctx, query, detectorUUID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: mapping for detector %s", ErrNotFound, detectorUUID)
		}
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return m, nil
}

// ListEnabledMappings returns the full effective mapping set. The search
// path scans it in memory; mapping counts are operationally small (tens to
// low thousands), which keeps the scan cheaper than maintaining a
// search-side index.
func (s *MappingStore) ListEnabledMappings(ctx context.Context) ([]*detector.Mapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM detector_mappings m
		JOIN detectors d ON d.uuid = m.detector_uuid
		WHERE m.enabled AND d.enabled
		ORDER BY m.id
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled mappings: %w", err)
	}
	defer rows.Close()

	return collectMappings(rows, 0)
}

// ListMappingsUpdatedSince returns mappings whose row or whose detector
// changed at or after the given instant.
func (s *MappingStore) ListMappingsUpdatedSince(ctx context.Context, since time.Time) ([]*detector.Mapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM detector_mappings m
		JOIN detectors d ON d.uuid = m.detector_uuid
		WHERE GREATEST(m.updated_at, d.updated_at) >= $1
		ORDER BY m.id
	`

	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list updated mappings: %w", err)
	}
	defer rows.Close()

	return collectMappings(rows, 0)
}

// DeleteMappingByDetector removes a detector's mapping.
func (s *MappingStore) DeleteMappingByDetector(ctx context.Context, detectorUUID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM detector_mappings WHERE detector_uuid = $1`, detectorUUID)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: mapping for detector %s", ErrNotFound, detectorUUID)
	}
	return nil
}

func collectMappings(rows pgx.Rows, sizeHint int) ([]*detector.Mapping, error) {
	mappings := make([]*detector.Mapping, 0, sizeHint)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return mappings, nil
}
