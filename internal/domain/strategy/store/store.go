package store

import (
	"sync"

	"stratflow/internal/domain/strategy/event"
	"stratflow/internal/domain/strategy/model"
	"stratflow/internal/domain/strategy/validation"
)

// Listener 状态变更订阅者
// 回调在 store 锁释放之后同步调用，可以安全地读取 store
type Listener interface {
	OnEvent(ev event.Event)
}

// ListenerFunc 函数适配器
type ListenerFunc func(ev event.Event)

func (f ListenerFunc) OnEvent(ev event.Event) { f(ev) }

// Option store 构造选项
type Option func(*Store)

// WithState 以给定状态初始化（包括选中元素），用于恢复草稿
func WithState(st model.State) Option {
	return func(s *Store) {
		s.state = st.Clone()
	}
}

// WithListener 构造时注册订阅者
func WithListener(l Listener) Option {
	return func(s *Store) {
		s.listeners[s.nextListener] = l
		s.nextListener++
	}
}

// Store 策略图状态的唯一持有者
// 所有修改都必须经过这里的方法；缺失 ID 的操作静默忽略
type Store struct {
	mu      sync.RWMutex
	state   model.State
	version int64

	listenersMu  sync.Mutex
	listeners    map[uint64]Listener
	nextListener uint64
}

// New 创建默认状态的 store
func New(opts ...Option) *Store {
	s := &Store{
		state:     model.NewState(),
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe 注册订阅者，返回取消订阅函数（可重复调用）
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// --- 读取 ---

// State 返回完整状态的深拷贝
func (s *Store) State() model.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Strategy 返回策略快照（不含选中状态）
func (s *Store) Strategy() model.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Strategy.Clone()
}

// Version 返回当前版本号，每次生效的修改加一
func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot 在同一次读锁内返回状态和对应的版本号
func (s *Store) Snapshot() (model.State, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), s.version
}

// SelectedElementID 当前选中的元素 ID，未选中为空串
func (s *Store) SelectedElementID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SelectedElementID
}

// ValidateStrategy 对当前状态做结构校验，不修改状态
func (s *Store) ValidateStrategy() validation.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return validation.Validate(s.state.Strategy)
}

// --- 元数据 ---

func (s *Store) SetStrategyName(name string) bool {
	return s.commit(func(st *model.State) (event.Event, bool) {
		st.Name = name
		return event.NewNameChangedEvent(), true
	})
}

func (s *Store) SetDescription(text string) bool {
	return s.commit(func(st *model.State) (event.Event, bool) {
		st.Description = text
		return event.NewDescriptionChangedEvent(), true
	})
}

// --- 元素 ---

// AddElement 追加元素；ID 由调用方保证唯一，这里不做重复检查
func (s *Store) AddElement(el model.Element) bool {
	el = el.Clone()
	return s.commit(func(st *model.State) (event.Event, bool) {
		st.Elements = append(st.Elements, el)
		return event.NewElementAddedEvent(el.ID), true
	})
}

// UpdateElement 将部分更新合并到匹配的元素；ID 不存在时不做任何事
func (s *Store) UpdateElement(id string, u model.ElementUpdate) bool {
	return s.commit(func(st *model.State) (event.Event, bool) {
		idx := indexOfElement(st.Elements, id)
		if idx < 0 {
			return event.Event{}, false
		}
		u.ApplyTo(&st.Elements[idx])
		return event.NewElementUpdatedEvent(id), true
	})
}

// RemoveElement 删除元素，并级联删除引用它的连接、清除指向它的选中状态
func (s *Store) RemoveElement(id string) bool {
	return s.commit(func(st *model.State) (event.Event, bool) {
		idx := indexOfElement(st.Elements, id)
		if idx < 0 {
			return event.Event{}, false
		}

		elements := make([]model.Element, 0, len(st.Elements)-1)
		for _, el := range st.Elements {
			if el.ID != id {
				elements = append(elements, el)
			}
		}

		var removed []string
		connections := make([]model.Connection, 0, len(st.Connections))
		for _, c := range st.Connections {
			if c.Touches(id) {
				removed = append(removed, c.ID)
				continue
			}
			connections = append(connections, c)
		}

		st.Elements = elements
		st.Connections = connections
		if st.SelectedElementID == id {
			st.SelectedElementID = ""
		}
		return event.NewElementRemovedEvent(id, removed), true
	})
}

// MoveElement 只更新坐标；ID 不存在时不做任何事
func (s *Store) MoveElement(id string, pos model.Position) bool {
	return s.commit(func(st *model.State) (event.Event, bool) {
		idx := indexOfElement(st.Elements, id)
		if idx < 0 {
			return event.Event{}, false
		}
		st.Elements[idx].Position = &pos
		return event.NewElementMovedEvent(id), true
	})
}

// --- 连接 ---

// AddConnection 追加连接；不校验端点是否存在
func (s *Store) AddConnection(c model.Connection) bool {
	return s.commit(func(st *model.State) (event.Event, bool) {
		st.Connections = append(st.Connections, c)
		return event.NewConnectionAddedEvent(c.ID), true
	})
}

func (s *Store) RemoveConnection(id string) bool {
	return s.commit(func(st *model.State) (event.Event, bool) {
		idx := -1
		for i, c := range st.Connections {
			if c.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return event.Event{}, false
		}

		connections := make([]model.Connection, 0, len(st.Connections)-1)
		for _, c := range st.Connections {
			if c.ID != id {
				connections = append(connections, c)
			}
		}
		st.Connections = connections
		return event.NewConnectionRemovedEvent(id), true
	})
}

// --- 选中 ---

// SetSelectedElement 设置选中元素，空串表示取消选中；不校验元素是否存在
func (s *Store) SetSelectedElement(id string) bool {
	return s.commit(func(st *model.State) (event.Event, bool) {
		st.SelectedElementID = id
		return event.NewSelectionChangedEvent(id), true
	})
}

// --- 整体操作 ---

// ClearStrategy 重置为默认状态
func (s *Store) ClearStrategy() bool {
	return s.commit(func(st *model.State) (event.Event, bool) {
		*st = model.NewState()
		return event.NewStrategyClearedEvent(), true
	})
}

// LoadStrategy 整体替换名称、描述、元素和连接，选中状态总是清空
func (s *Store) LoadStrategy(strategy model.Strategy) bool {
	loaded := strategy.Clone()
	return s.commit(func(st *model.State) (event.Event, bool) {
		*st = model.State{Strategy: loaded}
		return event.NewStrategyLoadedEvent(), true
	})
}

// commit 在写锁内执行修改，生效后递增版本并在锁外通知订阅者
func (s *Store) commit(mutate func(st *model.State) (event.Event, bool)) bool {
	s.mu.Lock()
	ev, changed := mutate(&s.state)
	if changed {
		s.version++
		ev.Version = s.version
	}
	s.mu.Unlock()

	if changed {
		s.notify(ev)
	}
	return changed
}

func (s *Store) notify(ev event.Event) {
	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l.OnEvent(ev)
	}
}

func indexOfElement(elements []model.Element, id string) int {
	for i, el := range elements {
		if el.ID == id {
			return i
		}
	}
	return -1
}
