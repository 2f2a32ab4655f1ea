package event

import "time"

// EventType 事件类型标识
type EventType string

const (
	// 策略元数据
	EventTypeNameChanged        EventType = "strategy_name_changed"
	EventTypeDescriptionChanged EventType = "strategy_description_changed"
	EventTypeStrategyCleared    EventType = "strategy_cleared"
	EventTypeStrategyLoaded     EventType = "strategy_loaded"

	// 元素
	EventTypeElementAdded   EventType = "element_added"
	EventTypeElementUpdated EventType = "element_updated"
	EventTypeElementRemoved EventType = "element_removed"
	EventTypeElementMoved   EventType = "element_moved"

	// 连接
	EventTypeConnectionAdded   EventType = "connection_added"
	EventTypeConnectionRemoved EventType = "connection_removed"

	// UI 选中
	EventTypeSelectionChanged EventType = "selection_changed"
)

// Event 一次状态变更产生的通知
// 每个生效的 store 操作恰好产生一个 Event
type Event struct {
	Type         EventType `json:"type"`
	Version      int64     `json:"version"` // 变更后的 store 版本号
	ElementID    string    `json:"element_id,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	At           time.Time `json:"at"`

	// 删除元素时级联移除的连接
	RemovedConnectionIDs []string `json:"removed_connection_ids,omitempty"`
}

func NewNameChangedEvent() Event {
	return Event{Type: EventTypeNameChanged, At: time.Now()}
}

func NewDescriptionChangedEvent() Event {
	return Event{Type: EventTypeDescriptionChanged, At: time.Now()}
}

func NewStrategyClearedEvent() Event {
	return Event{Type: EventTypeStrategyCleared, At: time.Now()}
}

func NewStrategyLoadedEvent() Event {
	return Event{Type: EventTypeStrategyLoaded, At: time.Now()}
}

func NewElementAddedEvent(elementID string) Event {
	return Event{Type: EventTypeElementAdded, ElementID: elementID, At: time.Now()}
}

func NewElementUpdatedEvent(elementID string) Event {
	return Event{Type: EventTypeElementUpdated, ElementID: elementID, At: time.Now()}
}

// NewElementRemovedEvent 创建元素删除事件，附带级联删除的连接
func NewElementRemovedEvent(elementID string, removedConnections []string) Event {
	return Event{
		Type:                 EventTypeElementRemoved,
		ElementID:            elementID,
		RemovedConnectionIDs: removedConnections,
		At:                   time.Now(),
	}
}

func NewElementMovedEvent(elementID string) Event {
	return Event{Type: EventTypeElementMoved, ElementID: elementID, At: time.Now()}
}

func NewConnectionAddedEvent(connectionID string) Event {
	return Event{Type: EventTypeConnectionAdded, ConnectionID: connectionID, At: time.Now()}
}

func NewConnectionRemovedEvent(connectionID string) Event {
	return Event{Type: EventTypeConnectionRemoved, ConnectionID: connectionID, At: time.Now()}
}

// NewSelectionChangedEvent 选中元素变化；elementID 为空表示取消选中
func NewSelectionChangedEvent(elementID string) Event {
	return Event{Type: EventTypeSelectionChanged, ElementID: elementID, At: time.Now()}
}
