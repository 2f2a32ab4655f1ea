package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stratflow/internal/domain/strategy/model"
)

// CatalogHandler 元素模板目录
type CatalogHandler struct{}

func NewCatalogHandler() *CatalogHandler {
	return &CatalogHandler{}
}

func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/element-templates", h.ListTemplates)
}

func (h *CatalogHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.Templates())
}
