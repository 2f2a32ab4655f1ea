package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stratflow/internal/integration"
)

// IntegrationHandler 上游 DeFi 服务状态
// 上游失败以 status=error 返回，HTTP 状态码仍为 200
type IntegrationHandler struct {
	client *integration.Client
}

func NewIntegrationHandler(client *integration.Client) *IntegrationHandler {
	return &IntegrationHandler{client: client}
}

func (h *IntegrationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/integrations", h.CheckAll)
	r.Get("/api/v1/integrations/{name}", h.Check)
	r.Get("/api/v1/accounts/{id}/balance", h.AccountBalance)
}

func (h *IntegrationHandler) CheckAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.client.CheckAll(r.Context()))
}

func (h *IntegrationHandler) Check(w http.ResponseWriter, r *http.Request) {
	st, ok := h.client.Check(r.Context(), chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "integration not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// AccountBalance 虚拟账户余额，结果格式与状态检查一致
func (h *IntegrationHandler) AccountBalance(w http.ResponseWriter, r *http.Request) {
	st, ok := h.client.AccountBalance(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "account ledger not configured")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
