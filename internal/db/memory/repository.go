package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"stratflow/internal/domain/strategy/port"
)

// Repository 内存版策略存储，未配置 DATABASE_URL 时使用
type Repository struct {
	mu         sync.RWMutex
	strategies map[string]*port.SavedStrategy
}

var _ port.Repository = (*Repository)(nil)

// NewRepository 创建内存存储
func NewRepository() *Repository {
	return &Repository{strategies: make(map[string]*port.SavedStrategy)}
}

func (r *Repository) CreateStrategy(ctx context.Context, s *port.SavedStrategy) error {
	if s == nil {
		return fmt.Errorf("invalid strategy")
	}
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

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[s.ID]; exists {
		return fmt.Errorf("strategy %s already exists", s.ID)
	}
	r.strategies[s.ID] = copyStrategy(s)
	return nil
}

func (r *Repository) GetStrategy(ctx context.Context, id string) (*port.SavedStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[id]
	if !ok || !visible(ctx, s) {
		return nil, nil
	}
	return copyStrategy(s), nil
}

func (r *Repository) UpdateStrategy(ctx context.Context, s *port.SavedStrategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.strategies[s.ID]
	if !ok || !visible(ctx, cur) {
		return fmt.Errorf("strategy %s not found", s.ID)
	}
	s.UpdatedAt = time.Now()
	s.Version++
	s.Owner = cur.Owner
	s.CreatedAt = cur.CreatedAt
	r.strategies[s.ID] = copyStrategy(s)
	return nil
}

func (r *Repository) DeleteStrategy(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.strategies[id]; ok && visible(ctx, s) {
		delete(r.strategies, id)
	}
	return nil
}

func (r *Repository) ListStrategies(ctx context.Context, params port.ListStrategiesParams) (*port.ListStrategiesResult, error) {
	params.Normalize()
	search := strings.ToLower(params.Search)

	r.mu.RLock()
	matched := make([]*port.SavedStrategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		if !visible(ctx, s) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(s.Name), search) {
			continue
		}
		matched = append(matched, copyStrategy(s))
	}
	r.mu.RUnlock()

	// 与 PostgreSQL 实现一致：按更新时间倒序
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := len(matched)
	start := params.Offset()
	if start > total {
		start = total
	}
	end := start + params.PageSize
	if end > total {
		end = total
	}

	return &port.ListStrategiesResult{
		Strategies: matched[start:end],
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
	}, nil
}

func visible(ctx context.Context, s *port.SavedStrategy) bool {
	owner, ok := port.OwnerFrom(ctx)
	return !ok || s.Owner == owner
}

func copyStrategy(s *port.SavedStrategy) *port.SavedStrategy {
	out := *s
	if s.Document != nil {
		out.Document = append([]byte(nil), s.Document...)
	}
	return &out
}
