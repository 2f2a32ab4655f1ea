package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"stratflow/internal/domain/strategy/model"
)

// Format 导出格式
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat 解析格式名，空串默认为 JSON
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType 返回对应的 MIME 类型
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// FileExt 返回文件扩展名（不含点）
func (f Format) FileExt() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// document 导出视图：只保留对外有意义的字段
type document struct {
	StrategyName string             `json:"strategyName" yaml:"strategyName"`
	Description  string             `json:"description" yaml:"description"`
	Elements     []model.Element    `json:"elements" yaml:"elements"`
	Connections  []model.Connection `json:"connections" yaml:"connections"`
}

func toDocument(s model.Strategy) document {
	c := s.Clone()
	return document{
		StrategyName: c.Name,
		Description:  c.Description,
		Elements:     c.Elements,
		Connections:  c.Connections,
	}
}

func (d document) strategy() model.Strategy {
	s := model.Strategy{
		Name:        d.StrategyName,
		Description: d.Description,
		Elements:    d.Elements,
		Connections: d.Connections,
	}
	return s.Clone()
}

// Marshal 将策略快照序列化为文本
func Marshal(f Format, s model.Strategy) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, f, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write 将策略快照写入 w（剪贴板、下载文件等）
func Write(w io.Writer, f Format, s model.Strategy) error {
	doc := toDocument(s)

	switch f {
	case FormatJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		// 与 JSON.stringify 一致，不带结尾换行
		_, err := w.Write(bytes.TrimRight(buf.Bytes(), "\n"))
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// Decode 解析导出文本，返回可直接 LoadStrategy 的策略
func Decode(f Format, data []byte) (model.Strategy, error) {
	var doc document

	switch f {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return model.Strategy{}, fmt.Errorf("decode json: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return model.Strategy{}, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return model.Strategy{}, fmt.Errorf("unsupported export format %q", f)
	}

	for _, el := range doc.Elements {
		if el.ID == "" {
			return model.Strategy{}, fmt.Errorf("element without id")
		}
		if !el.Type.Valid() {
			return model.Strategy{}, fmt.Errorf("element %q: unknown type %q", el.ID, el.Type)
		}
	}
	for _, c := range doc.Connections {
		if c.ID == "" {
			return model.Strategy{}, fmt.Errorf("connection without id")
		}
	}

	return doc.strategy(), nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// FileName 根据策略名生成下载文件名
func FileName(strategyName string, f Format) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(strategyName), "-"), "-")
	if slug == "" {
		slug = "strategy"
	}
	return slug + "." + f.FileExt()
}
