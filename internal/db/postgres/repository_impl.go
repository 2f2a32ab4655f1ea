package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stratflow/internal/domain/strategy/port"
	applog "stratflow/internal/platform/log"
)

type SavedStrategy = port.SavedStrategy
type ListStrategiesParams = port.ListStrategiesParams
type ListStrategiesResult = port.ListStrategiesResult

type Repository struct {
	db *sql.DB
}

var _ port.Repository = (*Repository)(nil)

// NewRepository 创建 PostgreSQL 存储
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureStrategiesTable 确保 strategies 表存在
func (r *Repository) EnsureStrategiesTable(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS strategies (
		id            UUID PRIMARY KEY,
		owner         VARCHAR(255),
		name          VARCHAR(255) NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		document      JSONB NOT NULL,
		element_count INT NOT NULL DEFAULT 0,
		version       INT NOT NULL DEFAULT 1,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_strategies_owner_updated ON strategies(owner, updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_strategies_name ON strategies(name)`,
	}
	for _, q := range indexes {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			applog.Warn("[Storage] CREATE INDEX failed (may already exist)", "query", q, "error", err)
		}
	}
	return nil
}

// --- Strategy CRUD ---

func (r *Repository) CreateStrategy(ctx context.Context, s *SavedStrategy) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if owner, ok := port.OwnerFrom(ctx); ok {
		s.Owner = owner
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Version == 0 {
		s.Version = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO strategies (id, owner, name, description, document, element_count, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, nullIfEmpty(s.Owner), s.Name, s.Description, []byte(s.Document), s.ElementCount, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *Repository) GetStrategy(ctx context.Context, id string) (*SavedStrategy, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	query := `SELECT id, COALESCE(owner,''), name, description, document, element_count, version, created_at, updated_at
		 FROM strategies WHERE id = $1`
	args := []interface{}{id}
	if owner, ok := port.OwnerFrom(ctx); ok {
		query += ` AND owner = $2`
		args = append(args, owner)
	}
	s, err := scanStrategy(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) UpdateStrategy(ctx context.Context, s *SavedStrategy) error {
	s.UpdatedAt = time.Now()
	s.Version++
	query := `UPDATE strategies SET name=$1, description=$2, document=$3, element_count=$4, version=$5, updated_at=$6
		 WHERE id=$7`
	args := []interface{}{s.Name, s.Description, []byte(s.Document), s.ElementCount, s.Version, s.UpdatedAt, s.ID}
	if owner, ok := port.OwnerFrom(ctx); ok {
		query += ` AND owner=$8`
		args = append(args, owner)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("strategy %s not found", s.ID)
	}
	return nil
}

func (r *Repository) DeleteStrategy(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	query := `DELETE FROM strategies WHERE id = $1`
	args := []interface{}{id}
	if owner, ok := port.OwnerFrom(ctx); ok {
		query += ` AND owner = $2`
		args = append(args, owner)
	}
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *Repository) ListStrategies(ctx context.Context, params ListStrategiesParams) (*ListStrategiesResult, error) {
	params.Normalize()

	var where []string
	var args []interface{}
	argIdx := 1

	if owner, ok := port.OwnerFrom(ctx); ok {
		where = append(where, fmt.Sprintf("owner = $%d", argIdx))
		args = append(args, owner)
		argIdx++
	}
	if params.Search != "" {
		where = append(where, fmt.Sprintf("name ILIKE $%d", argIdx))
		args = append(args, "%"+params.Search+"%")
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	// Count
	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM strategies %s", whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}

	// Query
	offset := params.Offset()
	query := fmt.Sprintf(
		`SELECT id, COALESCE(owner,''), name, description, document, element_count, version, created_at, updated_at
		 FROM strategies %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`,
		whereClause, argIdx, argIdx+1,
	)
	args = append(args, params.PageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	strategies := make([]*SavedStrategy, 0, params.PageSize)
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ListStrategiesResult{
		Strategies: strategies,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
	}, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStrategy(row rowScanner) (*SavedStrategy, error) {
	s := &SavedStrategy{}
	var doc []byte
	if err := row.Scan(&s.ID, &s.Owner, &s.Name, &s.Description, &doc, &s.ElementCount, &s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Document = doc
	return s, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
