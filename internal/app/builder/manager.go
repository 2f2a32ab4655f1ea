package builder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stratflow/internal/domain/strategy/event"
	"stratflow/internal/domain/strategy/export"
	"stratflow/internal/domain/strategy/model"
	"stratflow/internal/domain/strategy/port"
	"stratflow/internal/domain/strategy/store"
	applog "stratflow/internal/platform/log"
	"stratflow/internal/platform/metrics"
)

const draftWriteTimeout = 3 * time.Second

// Config 会话管理配置
type Config struct {
	SessionTTL      time.Duration // 空闲超过该时长的会话被回收
	JanitorInterval time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		SessionTTL:      time.Hour,
		JanitorInterval: time.Minute,
	}
}

// Session 一个构建器会话，持有独立的 store
type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time
	Store     *store.Store

	mu          sync.Mutex
	savedID     string
	lastAccess  time.Time
	unsubscribe func()

	// draftMu 串行化草稿写入，写缓存期间不占用 mu
	draftMu      sync.Mutex
	draftVersion int64
}

// SavedID 关联的已保存策略 ID，未保存为空
func (s *Session) SavedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedID
}

// LastAccess 最近一次访问时间
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastAccess = now
	s.mu.Unlock()
}

// SessionInfo 会话摘要
type SessionInfo struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner,omitempty"`
	SavedID         string    `json:"saved_id,omitempty"`
	StrategyName    string    `json:"strategy_name"`
	ElementCount    int       `json:"element_count"`
	ConnectionCount int       `json:"connection_count"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	LastAccess      time.Time `json:"last_access"`
}

// Info 会话摘要
func (s *Session) Info() SessionInfo {
	strategy := s.Store.Strategy()
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:              s.ID,
		Owner:           s.Owner,
		SavedID:         s.savedID,
		StrategyName:    strategy.Name,
		ElementCount:    len(strategy.Elements),
		ConnectionCount: len(strategy.Connections),
		Version:         s.Store.Version(),
		CreatedAt:       s.CreatedAt,
		LastAccess:      s.lastAccess,
	}
}

// Manager 构建器会话管理器
// repo 为空时无法保存；drafts 为空时不做草稿缓存
type Manager struct {
	cfg     Config
	repo    port.Repository
	drafts  port.DraftCache
	metrics *metrics.Collector
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager 创建会话管理器
func NewManager(cfg Config, repo port.Repository, drafts port.DraftCache, mc *metrics.Collector) *Manager {
	def := DefaultConfig()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = def.JanitorInterval
	}
	return &Manager{
		cfg:      cfg,
		repo:     repo,
		drafts:   drafts,
		metrics:  mc,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create 新建空白会话
func (m *Manager) Create(ctx context.Context) *Session {
	owner, _ := port.OwnerFrom(ctx)
	sess := m.register(uuid.New().String(), owner, "", model.NewState())
	applog.Info("[Builder] Session created", "session_id", sess.ID, "owner", owner)
	return sess
}

// Get 获取会话；内存中不存在时尝试从草稿恢复
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()

	if ok {
		if !ownedBy(ctx, sess.Owner) {
			return nil, ErrSessionNotFound
		}
		sess.touch(m.now())
		return sess, nil
	}
	return m.restore(ctx, id)
}

// Delete 删除会话及其草稿
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok && !ownedBy(ctx, sess.Owner) {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if ok {
		sess.unsubscribe()
		m.metrics.SetSessions(count)
	}

	if m.drafts != nil {
		if !ok {
			// 仅存在于草稿中的会话也允许删除
			d, err := m.drafts.LoadDraft(ctx, id)
			if err != nil {
				return fmt.Errorf("load draft: %w", err)
			}
			if d == nil || !ownedBy(ctx, d.Owner) {
				return ErrSessionNotFound
			}
		}
		if err := m.drafts.DeleteDraft(ctx, id); err != nil {
			applog.Warn("[Builder/Draft] Failed to delete draft", "session_id", id, "error", err)
		}
		return nil
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// List 当前用户在内存中的会话，按创建时间排序
func (m *Manager) List(ctx context.Context) []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if ownedBy(ctx, s.Owner) {
			sessions = append(sessions, s)
		}
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Count 内存中的会话数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Save 校验并持久化会话中的策略；已关联的策略做更新
func (m *Manager) Save(ctx context.Context, id string) (*port.SavedStrategy, error) {
	if m.repo == nil {
		return nil, ErrRepositoryUnavailable
	}
	sess, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result := sess.Store.ValidateStrategy()
	m.metrics.ObserveValidation(result.Valid)
	if !result.Valid {
		return nil, &InvalidStrategyError{Result: result}
	}

	strategy := sess.Store.Strategy()
	doc, err := export.Marshal(export.FormatJSON, strategy)
	if err != nil {
		return nil, fmt.Errorf("encode strategy: %w", err)
	}

	saved := &port.SavedStrategy{
		Name:         strategy.Name,
		Description:  strategy.Description,
		Document:     doc,
		ElementCount: len(strategy.Elements),
	}

	var existing *port.SavedStrategy
	if savedID := sess.SavedID(); savedID != "" {
		existing, err = m.repo.GetStrategy(ctx, savedID)
		if err != nil {
			return nil, fmt.Errorf("get strategy: %w", err)
		}
	}

	if existing != nil {
		saved.ID = existing.ID
		saved.Owner = existing.Owner
		saved.Version = existing.Version
		saved.CreatedAt = existing.CreatedAt
		if err := m.repo.UpdateStrategy(ctx, saved); err != nil {
			return nil, fmt.Errorf("update strategy: %w", err)
		}
	} else {
		if err := m.repo.CreateStrategy(ctx, saved); err != nil {
			return nil, fmt.Errorf("create strategy: %w", err)
		}
	}

	sess.mu.Lock()
	sess.savedID = saved.ID
	sess.mu.Unlock()
	m.writeDraft(sess, true)
	m.metrics.ObserveSave()

	applog.Info("[Builder] Strategy saved", "session_id", sess.ID, "strategy_id", saved.ID, "version", saved.Version)
	return saved, nil
}

// Open 以已保存的策略新建会话
func (m *Manager) Open(ctx context.Context, strategyID string) (*Session, error) {
	if m.repo == nil {
		return nil, ErrRepositoryUnavailable
	}
	saved, err := m.repo.GetStrategy(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("get strategy: %w", err)
	}
	if saved == nil {
		return nil, ErrStrategyNotFound
	}
	strategy, err := export.Decode(export.FormatJSON, saved.Document)
	if err != nil {
		return nil, fmt.Errorf("decode strategy %s: %w", strategyID, err)
	}

	owner, _ := port.OwnerFrom(ctx)
	sess := m.register(uuid.New().String(), owner, saved.ID, model.State{Strategy: strategy})
	m.writeDraft(sess, true)
	applog.Info("[Builder] Session opened", "session_id", sess.ID, "strategy_id", saved.ID)
	return sess, nil
}

// RunJanitor 周期回收空闲会话，直到 ctx 取消
func (m *Manager) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := m.Sweep()
			if evicted > 0 {
				applog.Info("[Builder/Janitor] Swept idle sessions", "evicted", evicted, "active", m.Count())
			} else {
				applog.Debug("[Builder/Janitor] Tick", "active", m.Count())
			}
		}
	}
}

// Sweep 回收空闲超过 TTL 的会话，返回回收数量
// 草稿保留在缓存中，之后仍可通过 Get 恢复
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.cfg.SessionTTL)

	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	var idle []*Session
	for _, s := range candidates {
		if s.LastAccess().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	if len(idle) == 0 {
		return 0
	}

	m.mu.Lock()
	var evicted []*Session
	for _, s := range idle {
		// 期间可能已被删除或重新访问
		if m.sessions[s.ID] == s && s.LastAccess().Before(cutoff) {
			evicted = append(evicted, s)
			delete(m.sessions, s.ID)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	for _, s := range evicted {
		s.unsubscribe()
	}
	if len(evicted) > 0 {
		m.metrics.SetSessions(count)
	}
	return len(evicted)
}

func (m *Manager) restore(ctx context.Context, id string) (*Session, error) {
	if m.drafts == nil {
		return nil, ErrSessionNotFound
	}
	d, err := m.drafts.LoadDraft(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	if d == nil || !ownedBy(ctx, d.Owner) {
		return nil, ErrSessionNotFound
	}

	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		// 并发恢复，以先注册者为准
		m.mu.Unlock()
		sess.touch(m.now())
		return sess, nil
	}
	sess := m.newSession(id, d.Owner, d.SavedID, d.State)
	m.sessions[id] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetSessions(count)
	applog.Info("[Builder] Session restored from draft", "session_id", id, "draft_version", d.Version)
	return sess, nil
}

func (m *Manager) register(id, owner, savedID string, st model.State) *Session {
	sess := m.newSession(id, owner, savedID, st)

	m.mu.Lock()
	m.sessions[id] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetSessions(count)
	return sess
}

func (m *Manager) newSession(id, owner, savedID string, st model.State) *Session {
	now := m.now()
	sess := &Session{
		ID:         id,
		Owner:      owner,
		CreatedAt:  now,
		Store:      store.New(store.WithState(st)),
		savedID:    savedID,
		lastAccess: now,
	}
	sess.unsubscribe = sess.Store.Subscribe(store.ListenerFunc(func(ev event.Event) {
		m.metrics.ObserveMutation(string(ev.Type))
		sess.touch(m.now())
		m.writeDraft(sess, false)
	}))
	return sess
}

// writeDraft 将会话快照写入草稿缓存
// 同一会话的写入串行执行，旧版本不会覆盖新版本
func (m *Manager) writeDraft(sess *Session, force bool) {
	if m.drafts == nil {
		return
	}

	sess.draftMu.Lock()
	defer sess.draftMu.Unlock()

	state, version := sess.Store.Snapshot()
	if !force && version <= sess.draftVersion {
		return
	}
	d := &port.Draft{
		SessionID: sess.ID,
		Owner:     sess.Owner,
		SavedID:   sess.SavedID(),
		Version:   version,
		State:     state,
		UpdatedAt: m.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), draftWriteTimeout)
	defer cancel()
	if err := m.drafts.SaveDraft(ctx, d); err != nil {
		applog.Warn("[Builder/Draft] Failed to save draft", "session_id", sess.ID, "version", version, "error", err)
		return
	}
	sess.draftVersion = version
}

func ownedBy(ctx context.Context, owner string) bool {
	current, ok := port.OwnerFrom(ctx)
	return !ok || current == owner
}
