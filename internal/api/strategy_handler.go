package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stratflow/internal/app/builder"
	"stratflow/internal/domain/strategy/port"
)

// StrategyHandler 已保存策略 API
type StrategyHandler struct {
	repo     port.Repository
	sessions *builder.Manager
}

// NewStrategyHandler 创建处理器
func NewStrategyHandler(repo port.Repository, sessions *builder.Manager) *StrategyHandler {
	return &StrategyHandler{repo: repo, sessions: sessions}
}

// RegisterRoutes 注册路由
func (h *StrategyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/strategies", func(r chi.Router) {
		r.Get("/", h.ListStrategies)
		r.Get("/{id}", h.GetStrategy)
		r.Delete("/{id}", h.DeleteStrategy)
		r.Post("/{id}/open", h.OpenStrategy)
	})
}

func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeAppError(w, builder.ErrRepositoryUnavailable)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	result, err := h.repo.ListStrategies(r.Context(), port.ListStrategiesParams{
		Page:     page,
		PageSize: pageSize,
		Search:   r.URL.Query().Get("search"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list strategies")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *StrategyHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeAppError(w, builder.ErrRepositoryUnavailable)
		return
	}
	s, err := h.repo.GetStrategy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get strategy")
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *StrategyHandler) DeleteStrategy(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeAppError(w, builder.ErrRepositoryUnavailable)
		return
	}
	if err := h.repo.DeleteStrategy(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete strategy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// OpenStrategy 以已保存的策略新建构建器会话
func (h *StrategyHandler) OpenStrategy(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionView(sess))
}
