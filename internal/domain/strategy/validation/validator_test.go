package validation

import (
	"math"
	"reflect"
	"testing"

	"stratflow/internal/domain/strategy/model"
)

func TestValidate(t *testing.T) {
	trigger := model.Element{ID: "t", Type: model.ElementTypeTrigger, Name: "Trigger A"}
	action := model.Element{ID: "a", Type: model.ElementTypeAction, Name: "Swap"}
	cond := model.Element{ID: "c", Type: model.ElementTypeCondition, Name: "Check"}

	tests := []struct {
		name     string
		strategy model.Strategy
		want     []string
	}{
		{
			name:     "default empty strategy",
			strategy: model.NewStrategy(),
			want:     []string{MsgNoElements},
		},
		{
			name:     "blank name reports every rule",
			strategy: model.Strategy{Name: " \t"},
			want:     []string{MsgNameRequired, MsgNoElements},
		},
		{
			name:     "single unconnected element is valid",
			strategy: model.Strategy{Name: "S", Elements: []model.Element{trigger}},
			want:     []string{},
		},
		{
			name:     "two elements without connections",
			strategy: model.Strategy{Name: "S", Elements: []model.Element{trigger, action}},
			want:     []string{MsgDisconnected},
		},
		{
			name: "one aggregate error for several disconnected elements",
			strategy: model.Strategy{
				Name:        "",
				Elements:    []model.Element{trigger, action, cond},
				Connections: []model.Connection{{ID: "x", SourceID: "t", TargetID: "t"}},
			},
			want: []string{MsgNameRequired, MsgDisconnected},
		},
		{
			name: "fully connected chain",
			strategy: model.Strategy{
				Name:     "S",
				Elements: []model.Element{trigger, cond, action},
				Connections: []model.Connection{
					{ID: "1", SourceID: "t", TargetID: "c"},
					{ID: "2", SourceID: "c", TargetID: "a"},
				},
			},
			want: []string{},
		},
		{
			name: "dangling endpoint does not count as an error",
			strategy: model.Strategy{
				Name:     "S",
				Elements: []model.Element{trigger, action},
				Connections: []model.Connection{
					{ID: "1", SourceID: "t", TargetID: "ghost"},
					{ID: "2", SourceID: "ghost", TargetID: "a"},
				},
			},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.strategy)
			if !reflect.DeepEqual(got.Errors, tt.want) {
				t.Fatalf("errors: want %v, got %v", tt.want, got.Errors)
			}
			if got.Valid != (len(tt.want) == 0) {
				t.Fatalf("valid flag %v does not match errors %v", got.Valid, got.Errors)
			}
		})
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	s := model.Strategy{
		Name:     "S",
		Elements: []model.Element{{ID: "a"}, {ID: "b"}},
	}
	before := s.Clone()
	Validate(s)
	if !reflect.DeepEqual(s, before) {
		t.Fatal("Validate mutated its input")
	}
}

func TestValidateElementForm(t *testing.T) {
	blank := "  "
	ok := "Swap"

	tests := []struct {
		name   string
		update model.ElementUpdate
		want   FieldErrors
	}{
		{
			name:   "valid update",
			update: model.ElementUpdate{Name: &ok, Parameters: map[string]model.ParamValue{"amount": model.Number(10)}},
			want:   nil,
		},
		{
			name:   "blank name",
			update: model.ElementUpdate{Name: &blank},
			want:   FieldErrors{"name": "Name is required"},
		},
		{
			name:   "NaN number",
			update: model.ElementUpdate{Parameters: map[string]model.ParamValue{"amount": model.Number(math.NaN())}},
			want:   FieldErrors{"param_amount": "amount must be a valid number"},
		},
		{
			name: "required string parameter",
			update: model.ElementUpdate{Parameters: map[string]model.ParamValue{
				"requiredToken": model.String(""),
				"memo":          model.String(""),
			}},
			want: FieldErrors{"param_requiredToken": "requiredToken is required"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateElementForm(tt.update)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, got)
			}
		})
	}
}
