package model

// elementTemplate 新建元素时的默认内容
type elementTemplate struct {
	name        string
	description string
	parameters  map[string]ParamValue
}

var templates = map[ElementType]elementTemplate{
	ElementTypeTrigger: {
		name:        "Price Trigger",
		description: "Fires when the asset price moves past a threshold",
		parameters: map[string]ParamValue{
			"asset":      String("ETH"),
			"percentage": Number(5),
			"direction":  String("up"),
		},
	},
	ElementTypeCondition: {
		name:        "Balance Check",
		description: "Continues only when the account holds enough funds",
		parameters: map[string]ParamValue{
			"asset":      String("USDC"),
			"minBalance": Number(100),
		},
	},
	ElementTypeAction: {
		name:        "Swap",
		description: "Swaps one asset for another on a DEX",
		parameters: map[string]ParamValue{
			"dex":      String("Dodoex"),
			"tokenIn":  String("USDC"),
			"tokenOut": String("ETH"),
			"amount":   Number(100),
		},
	},
}

// NewElement 按类型模板创建元素，ID 由调用方生成
// 未知类型返回只带 ID 和类型的空元素
func NewElement(id string, t ElementType) Element {
	el := Element{ID: id, Type: t}
	tpl, ok := templates[t]
	if !ok {
		return el
	}
	el.Name = tpl.name
	el.Description = tpl.description
	el.Parameters = CloneParams(tpl.parameters)
	return el
}

var parameterHints = map[string]string{
	"asset":      "The cryptocurrency ticker symbol",
	"percentage": "Threshold percentage for triggering",
	"direction":  "Price movement direction to monitor",
	"amount":     "Amount of cryptocurrency to trade",
	"minBalance": "Minimum account balance required",
	"dex":        "Decentralized exchange to use",
	"tokenIn":    "Asset to sell",
	"tokenOut":   "Asset to buy",
}

// ParameterHint 返回参数的说明文字
func ParameterHint(key string) string {
	if hint, ok := parameterHints[key]; ok {
		return hint
	}
	return "Configure " + key + " parameter"
}

// Template 元素模板目录中的一项，供前端属性面板使用
type Template struct {
	Type        ElementType           `json:"type"`
	Label       string                `json:"label"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Parameters  map[string]ParamValue `json:"parameters"`
	Hints       map[string]string     `json:"hints"`
}

// Templates 按展示顺序返回全部元素类型的模板
func Templates() []Template {
	out := make([]Template, 0, len(ElementTypes()))
	for _, t := range ElementTypes() {
		el := NewElement("", t)
		hints := make(map[string]string, len(el.Parameters))
		for key := range el.Parameters {
			hints[key] = ParameterHint(key)
		}
		out = append(out, Template{
			Type:        t,
			Label:       t.Label(),
			Name:        el.Name,
			Description: el.Description,
			Parameters:  el.Parameters,
			Hints:       hints,
		})
	}
	return out
}
