package model

// ElementType 策略图中元素的类型，创建后不可变
type ElementType string

const (
	ElementTypeTrigger   ElementType = "trigger"
	ElementTypeAction    ElementType = "action"
	ElementTypeCondition ElementType = "condition"
)

// ElementTypes 按展示顺序返回全部元素类型
func ElementTypes() []ElementType {
	return []ElementType{ElementTypeTrigger, ElementTypeCondition, ElementTypeAction}
}

// Valid 判断是否为已知的元素类型
func (t ElementType) Valid() bool {
	switch t {
	case ElementTypeTrigger, ElementTypeAction, ElementTypeCondition:
		return true
	default:
		return false
	}
}

// Label 返回面向用户的类型名称
func (t ElementType) Label() string {
	switch t {
	case ElementTypeTrigger:
		return "Trigger"
	case ElementTypeAction:
		return "Action"
	case ElementTypeCondition:
		return "Condition"
	default:
		return "Element"
	}
}

// ParamKind 参数值的类型标签
type ParamKind string

const (
	ParamKindNumber ParamKind = "number"
	ParamKindBool   ParamKind = "boolean"
	ParamKindString ParamKind = "string"
)
