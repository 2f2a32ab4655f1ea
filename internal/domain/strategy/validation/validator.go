package validation

import (
	"fmt"
	"math"
	"strings"

	"stratflow/internal/domain/strategy/model"
)

// 校验失败时的提示文案
const (
	MsgNameRequired = "Strategy name is required"
	MsgNoElements   = "Strategy must contain at least one element"
	MsgDisconnected = "Some elements are not connected to the strategy flow"
)

// Result 策略校验结果
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate 对策略快照做结构校验，不修改输入
// 所有规则都会执行，按顺序报告全部错误
func Validate(s model.Strategy) Result {
	errs := make([]string, 0, 3)

	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, MsgNameRequired)
	}

	if len(s.Elements) == 0 {
		errs = append(errs, MsgNoElements)
	}

	// 单个元素不要求连接
	if len(s.Elements) > 1 && hasDisconnected(s) {
		errs = append(errs, MsgDisconnected)
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// hasDisconnected 是否存在未出现在任何连接端点上的元素
func hasDisconnected(s model.Strategy) bool {
	connected := make(map[string]struct{}, len(s.Connections)*2)
	for _, c := range s.Connections {
		connected[c.SourceID] = struct{}{}
		connected[c.TargetID] = struct{}{}
	}
	for _, el := range s.Elements {
		if _, ok := connected[el.ID]; !ok {
			return true
		}
	}
	return false
}

// FieldErrors 表单字段错误，key 为 "name" 或 "param_<key>"
type FieldErrors map[string]string

// ValidateElementForm 校验属性面板提交的元素更新
// 仅用于接入层，store 本身不做此校验
func ValidateElementForm(u model.ElementUpdate) FieldErrors {
	errs := FieldErrors{}

	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		errs["name"] = "Name is required"
	}

	for key, v := range u.Parameters {
		if f, ok := v.AsNumber(); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			errs["param_"+key] = fmt.Sprintf("%s must be a valid number", key)
		}
		if s, ok := v.AsString(); ok && strings.Contains(key, "required") && strings.TrimSpace(s) == "" {
			errs["param_"+key] = fmt.Sprintf("%s is required", key)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}
