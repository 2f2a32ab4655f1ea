package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ParamValue 元素参数值：number | boolean | string 三选一
// 零值表示未设置，序列化为 null
type ParamValue struct {
	kind ParamKind
	num  float64
	flag bool
	str  string
}

func Number(v float64) ParamValue { return ParamValue{kind: ParamKindNumber, num: v} }
func Bool(v bool) ParamValue      { return ParamValue{kind: ParamKindBool, flag: v} }
func String(v string) ParamValue  { return ParamValue{kind: ParamKindString, str: v} }

// Kind 返回值的类型标签，零值返回空串
func (p ParamValue) Kind() ParamKind { return p.kind }

// IsZero 是否为未设置的零值
func (p ParamValue) IsZero() bool { return p.kind == "" }

func (p ParamValue) AsNumber() (float64, bool) { return p.num, p.kind == ParamKindNumber }
func (p ParamValue) AsBool() (bool, bool)      { return p.flag, p.kind == ParamKindBool }
func (p ParamValue) AsString() (string, bool)  { return p.str, p.kind == ParamKindString }

// Interface 返回底层 Go 值（float64 / bool / string / nil）
func (p ParamValue) Interface() any {
	switch p.kind {
	case ParamKindNumber:
		return p.num
	case ParamKindBool:
		return p.flag
	case ParamKindString:
		return p.str
	default:
		return nil
	}
}

// String 文本表示，用于日志
func (p ParamValue) String() string {
	switch p.kind {
	case ParamKindNumber:
		return strconv.FormatFloat(p.num, 'g', -1, 64)
	case ParamKindBool:
		return strconv.FormatBool(p.flag)
	case ParamKindString:
		return p.str
	default:
		return "<unset>"
	}
}

// MarshalJSON 输出 JSON 标量
func (p ParamValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Interface())
}

// UnmarshalJSON 只接受 JSON 标量（数字、布尔、字符串）
func (p *ParamValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty parameter value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*p = Bool(b)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*p = Number(f)
	default:
		return fmt.Errorf("parameter value must be a number, boolean or string, got %s", string(data))
	}
	return nil
}

// MarshalYAML 输出 YAML 标量
func (p ParamValue) MarshalYAML() (interface{}, error) {
	return p.Interface(), nil
}

// UnmarshalYAML 只接受 YAML 标量，按解析出的 tag 决定类型
func (p *ParamValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: parameter value must be a scalar", node.Line)
	}

	switch node.ShortTag() {
	case "!!int", "!!float":
		f, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			var decoded float64
			if derr := node.Decode(&decoded); derr != nil {
				return fmt.Errorf("line %d: invalid number %q", node.Line, node.Value)
			}
			f = decoded
		}
		// .inf / .nan 无法导出为 JSON
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("line %d: parameter number must be finite, got %q", node.Line, node.Value)
		}
		*p = Number(f)
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*p = Bool(b)
	case "!!str":
		*p = String(node.Value)
	default:
		return fmt.Errorf("line %d: unsupported parameter value %q", node.Line, node.Value)
	}
	return nil
}

// CloneParams 复制参数表；nil 保持为 nil
func CloneParams(params map[string]ParamValue) map[string]ParamValue {
	if params == nil {
		return nil
	}
	out := make(map[string]ParamValue, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
