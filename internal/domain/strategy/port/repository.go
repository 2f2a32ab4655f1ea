package port

import "context"

// Repository 已保存策略的存储接口
// Get 未找到时返回 (nil, nil)
type Repository interface {
	CreateStrategy(ctx context.Context, s *SavedStrategy) error
	GetStrategy(ctx context.Context, id string) (*SavedStrategy, error)
	UpdateStrategy(ctx context.Context, s *SavedStrategy) error
	DeleteStrategy(ctx context.Context, id string) error
	ListStrategies(ctx context.Context, params ListStrategiesParams) (*ListStrategiesResult, error)
}

// DraftCache 会话草稿缓存
// Load 未找到时返回 (nil, nil)
type DraftCache interface {
	SaveDraft(ctx context.Context, d *Draft) error
	LoadDraft(ctx context.Context, sessionID string) (*Draft, error)
	DeleteDraft(ctx context.Context, sessionID string) error
}

type ownerKey struct{}

// WithOwner 注入当前用户到 context（供 repository 层按用户隔离）
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom 从 context 读取当前用户
func OwnerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	if !ok || owner == "" {
		return "", false
	}
	return owner, true
}
