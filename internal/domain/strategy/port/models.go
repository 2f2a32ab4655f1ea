package port

import (
	"encoding/json"
	"time"

	"stratflow/internal/domain/strategy/model"
)

// SavedStrategy 持久化的策略
// Document 为 JSON 导出格式的策略文本
type SavedStrategy struct {
	ID           string          `json:"id"`
	Owner        string          `json:"owner,omitempty"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Document     json.RawMessage `json:"document"`
	ElementCount int             `json:"element_count"`
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ListStrategiesParams 查询参数
type ListStrategiesParams struct {
	Page     int
	PageSize int
	Search   string // 按名称模糊搜索
}

// maxPage 页码上限，保证偏移量不会溢出
const maxPage = 100000

// Normalize 补齐分页默认值，页码超过上限时截断
func (p *ListStrategiesParams) Normalize() {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Page > maxPage {
		p.Page = maxPage
	}
	if p.PageSize <= 0 || p.PageSize > 100 {
		p.PageSize = 20
	}
}

// Offset 当前页的起始偏移，需先 Normalize
func (p ListStrategiesParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// ListStrategiesResult 分页结果
type ListStrategiesResult struct {
	Strategies []*SavedStrategy `json:"strategies"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
}

// Draft 构建器会话的草稿，用于进程重启或会话过期后恢复
type Draft struct {
	SessionID string      `json:"session_id"`
	Owner     string      `json:"owner,omitempty"`
	SavedID   string      `json:"saved_id,omitempty"`
	Version   int64       `json:"version"`
	State     model.State `json:"state"`
	UpdatedAt time.Time   `json:"updated_at"`
}
