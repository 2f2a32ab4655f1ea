package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"stratflow/internal/domain/strategy/model"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 错误信息使用 JSON 字段名
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("elementtype", func(fl validator.FieldLevel) bool {
		return model.ElementType(fl.Field().String()).Valid()
	})
	return v
}

type nameRequest struct {
	Name *string `json:"name" validate:"required,max=200"`
}

type descriptionRequest struct {
	Description *string `json:"description" validate:"required,max=5000"`
}

// addElementRequest 未提供的字段使用该类型的模板默认值
type addElementRequest struct {
	ID          string                      `json:"id" validate:"omitempty,max=128"`
	Type        string                      `json:"type" validate:"required,elementtype"`
	Name        *string                     `json:"name,omitempty" validate:"omitempty,max=200"`
	Description *string                     `json:"description,omitempty"`
	Parameters  map[string]model.ParamValue `json:"parameters,omitempty"`
	Position    *model.Position             `json:"position,omitempty"`
}

func (req addElementRequest) element(id string) model.Element {
	el := model.NewElement(id, model.ElementType(req.Type))
	model.ElementUpdate{
		Name:        req.Name,
		Description: req.Description,
		Parameters:  req.Parameters,
		Position:    req.Position,
	}.ApplyTo(&el)
	return el
}

type positionRequest struct {
	X *float64 `json:"x" validate:"required"`
	Y *float64 `json:"y" validate:"required"`
}

type connectionRequest struct {
	ID       string `json:"id" validate:"omitempty,max=128"`
	SourceID string `json:"sourceId" validate:"required"`
	TargetID string `json:"targetId" validate:"required"`
	Label    string `json:"label,omitempty" validate:"max=200"`
}

// selectionRequest elementId 为空串表示取消选中
type selectionRequest struct {
	ElementID *string `json:"elementId" validate:"required"`
}

// decodeRequest 解析 JSON 请求体并做结构校验
func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "elementtype":
			msgs = append(msgs, fmt.Sprintf("%s must be one of trigger, condition, action", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
