package model

// DefaultStrategyName 新建或清空策略时使用的名称
const DefaultStrategyName = "New Strategy"

// Position 画布上的二维坐标
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Element 策略图中的节点（trigger / action / condition）
type Element struct {
	ID          string                `json:"id" yaml:"id"`
	Type        ElementType           `json:"type" yaml:"type"`
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description" yaml:"description"`
	Parameters  map[string]ParamValue `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Position    *Position             `json:"position,omitempty" yaml:"position,omitempty"`
}

// Clone 深拷贝，参数表与坐标不与原值共享
func (e Element) Clone() Element {
	out := e
	out.Parameters = CloneParams(e.Parameters)
	if e.Position != nil {
		pos := *e.Position
		out.Position = &pos
	}
	return out
}

// ElementUpdate 元素的部分更新；nil 字段保持不变
// ID 与 Type 不可变，因此不在更新范围内
type ElementUpdate struct {
	Name        *string               `json:"name,omitempty"`
	Description *string               `json:"description,omitempty"`
	Parameters  map[string]ParamValue `json:"parameters,omitempty"`
	Position    *Position             `json:"position,omitempty"`
}

// IsEmpty 没有任何字段需要更新
func (u ElementUpdate) IsEmpty() bool {
	return u.Name == nil && u.Description == nil && u.Parameters == nil && u.Position == nil
}

// ApplyTo 将更新合并到元素上，参数表整体替换
func (u ElementUpdate) ApplyTo(e *Element) {
	if u.Name != nil {
		e.Name = *u.Name
	}
	if u.Description != nil {
		e.Description = *u.Description
	}
	if u.Parameters != nil {
		e.Parameters = CloneParams(u.Parameters)
	}
	if u.Position != nil {
		pos := *u.Position
		e.Position = &pos
	}
}

// Connection 两个元素之间的有向连接
type Connection struct {
	ID       string `json:"id" yaml:"id"`
	SourceID string `json:"sourceId" yaml:"sourceId"`
	TargetID string `json:"targetId" yaml:"targetId"`
	Label    string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Touches 连接的任一端点是否为指定元素
func (c Connection) Touches(elementID string) bool {
	return c.SourceID == elementID || c.TargetID == elementID
}

// Strategy 可加载、可导出的策略快照
type Strategy struct {
	Name        string       `json:"strategyName" yaml:"strategyName"`
	Description string       `json:"description" yaml:"description"`
	Elements    []Element    `json:"elements" yaml:"elements"`
	Connections []Connection `json:"connections" yaml:"connections"`
}

// NewStrategy 返回默认的空策略
func NewStrategy() Strategy {
	return Strategy{
		Name:        DefaultStrategyName,
		Elements:    []Element{},
		Connections: []Connection{},
	}
}

// Clone 深拷贝；返回的切片总是非 nil
func (s Strategy) Clone() Strategy {
	out := Strategy{
		Name:        s.Name,
		Description: s.Description,
		Elements:    make([]Element, len(s.Elements)),
		Connections: make([]Connection, len(s.Connections)),
	}
	for i, el := range s.Elements {
		out.Elements[i] = el.Clone()
	}
	copy(out.Connections, s.Connections)
	return out
}

// Element 按 ID 查找元素
func (s Strategy) Element(id string) (Element, bool) {
	for _, el := range s.Elements {
		if el.ID == id {
			return el, true
		}
	}
	return Element{}, false
}

// State 策略构建器的聚合根：策略本身加 UI 选中状态
type State struct {
	Strategy          `yaml:",inline"`
	SelectedElementID string `json:"selectedElementId" yaml:"selectedElementId"`
}

// NewState 返回默认状态
func NewState() State {
	return State{Strategy: NewStrategy()}
}

// Clone 深拷贝
func (s State) Clone() State {
	return State{
		Strategy:          s.Strategy.Clone(),
		SelectedElementID: s.SelectedElementID,
	}
}
