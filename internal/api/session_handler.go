package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"stratflow/internal/app/builder"
	"stratflow/internal/domain/strategy/event"
	"stratflow/internal/domain/strategy/export"
	"stratflow/internal/domain/strategy/model"
	"stratflow/internal/domain/strategy/store"
	"stratflow/internal/domain/strategy/validation"
	applog "stratflow/internal/platform/log"
	"stratflow/internal/platform/metrics"
)

const (
	sseBufferSize  = 64
	sseKeepAlive   = 15 * time.Second
	maxImportBytes = 1 << 20
)

// SessionHandler 构建器会话 API
// 每个会话对应一个独立的 store，所有修改都经由 store 方法
type SessionHandler struct {
	sessions *builder.Manager
	metrics  *metrics.Collector
}

// NewSessionHandler 创建处理器
func NewSessionHandler(sessions *builder.Manager, mc *metrics.Collector) *SessionHandler {
	return &SessionHandler{sessions: sessions, metrics: mc}
}

// RegisterRoutes 注册路由
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)

			r.Put("/name", h.SetName)
			r.Put("/description", h.SetDescription)

			r.Post("/elements", h.AddElement)
			r.Patch("/elements/{eid}", h.UpdateElement)
			r.Delete("/elements/{eid}", h.RemoveElement)
			r.Put("/elements/{eid}/position", h.MoveElement)

			r.Post("/connections", h.AddConnection)
			r.Delete("/connections/{cid}", h.RemoveConnection)

			r.Put("/selection", h.SetSelection)
			r.Post("/clear", h.Clear)
			r.Post("/load", h.Load)

			r.Get("/validate", h.Validate)
			r.Get("/export", h.Export)
			r.Get("/events", h.Events)
			r.Post("/save", h.Save)
		})
	})
}

// sessionView 会话详情
type sessionView struct {
	Session builder.SessionInfo `json:"session"`
	State   model.State         `json:"state"`
}

// mutationResult 修改类接口的统一返回
// applied 为 false 表示目标不存在，状态未变
type mutationResult struct {
	Applied bool        `json:"applied"`
	Version int64       `json:"version"`
	State   model.State `json:"state"`
}

func newSessionView(sess *builder.Session) sessionView {
	return sessionView{Session: sess.Info(), State: sess.Store.State()}
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*builder.Session, bool) {
	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return nil, false
	}
	return sess, true
}

func writeMutation(w http.ResponseWriter, st *store.Store, applied bool) {
	state, version := st.Snapshot()
	writeJSON(w, http.StatusOK, mutationResult{
		Applied: applied,
		Version: version,
		State:   state,
	})
}

// --- 会话 ---

func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Create(r.Context())
	writeJSON(w, http.StatusCreated, newSessionView(sess))
}

func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List(r.Context()))
}

func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(sess))
}

func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

// --- 元数据 ---

func (h *SessionHandler) SetName(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applied := sess.Store.SetStrategyName(*req.Name)
	writeMutation(w, sess.Store, applied)
}

func (h *SessionHandler) SetDescription(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req descriptionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applied := sess.Store.SetDescription(*req.Description)
	writeMutation(w, sess.Store, applied)
}

// --- 元素 ---

func (h *SessionHandler) AddElement(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req addElementRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	applied := sess.Store.AddElement(req.element(id))
	writeMutation(w, sess.Store, applied)
}

func (h *SessionHandler) UpdateElement(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var upd model.ElementUpdate
	if err := decodeRequest(w, r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if upd.IsEmpty() {
		writeError(w, http.StatusBadRequest, "no element fields to update")
		return
	}
	if fieldErrs := validation.ValidateElementForm(upd); fieldErrs != nil {
		writeErrorWithData(w, http.StatusUnprocessableEntity, "invalid element properties", fieldErrs)
		return
	}
	applied := sess.Store.UpdateElement(chi.URLParam(r, "eid"), upd)
	writeMutation(w, sess.Store, applied)
}

func (h *SessionHandler) RemoveElement(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	applied := sess.Store.RemoveElement(chi.URLParam(r, "eid"))
	writeMutation(w, sess.Store, applied)
}

func (h *SessionHandler) MoveElement(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req positionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applied := sess.Store.MoveElement(chi.URLParam(r, "eid"), model.Position{X: *req.X, Y: *req.Y})
	writeMutation(w, sess.Store, applied)
}

// --- 连接 ---

func (h *SessionHandler) AddConnection(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req connectionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	applied := sess.Store.AddConnection(model.Connection{
		ID:       id,
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		Label:    req.Label,
	})
	writeMutation(w, sess.Store, applied)
}

func (h *SessionHandler) RemoveConnection(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	applied := sess.Store.RemoveConnection(chi.URLParam(r, "cid"))
	writeMutation(w, sess.Store, applied)
}

// --- 选中 / 清空 / 加载 ---

func (h *SessionHandler) SetSelection(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req selectionRequest
	if err := decodeRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	applied := sess.Store.SetSelectedElement(*req.ElementID)
	writeMutation(w, sess.Store, applied)
}

func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	applied := sess.Store.ClearStrategy()
	writeMutation(w, sess.Store, applied)
}

// Load 以导入文本整体替换会话中的策略
// 格式由 ?format 指定，否则按 Content-Type 判断，默认 JSON
func (h *SessionHandler) Load(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	format, err := requestFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	strategy, err := export.Decode(format, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	applied := sess.Store.LoadStrategy(strategy)
	applog.Info("[Builder] Strategy loaded", "session_id", sess.ID, "format", format, "elements", len(strategy.Elements))
	writeMutation(w, sess.Store, applied)
}

// --- 校验 / 导出 / 保存 ---

func (h *SessionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	result := sess.Store.ValidateStrategy()
	h.metrics.ObserveValidation(result.Valid)
	writeJSON(w, http.StatusOK, result)
}

// Export 输出策略文本；download=1 时作为附件下载
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	strategy := sess.Store.Strategy()
	data, err := export.Marshal(format, strategy)
	if err != nil {
		applog.Error("[Builder] Export failed", "session_id", sess.ID, "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export strategy")
		return
	}

	w.Header().Set("Content-Type", format.ContentType()+"; charset=utf-8")
	if isTruthy(r.URL.Query().Get("download")) {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": export.FileName(strategy.Name, format),
		}))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *SessionHandler) Save(w http.ResponseWriter, r *http.Request) {
	saved, err := h.sessions.Save(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// --- 事件流 ---

// Events 以 SSE 推送会话 store 的变更事件，直到客户端断开
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events := make(chan event.Event, sseBufferSize)
	unsubscribe := sess.Store.Subscribe(store.ListenerFunc(func(ev event.Event) {
		select {
		case events <- ev:
		default:
			applog.Warn("[Builder/SSE] Subscriber too slow, event dropped", "session_id", sess.ID, "type", ev.Type, "version", ev.Version)
		}
	}))
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", sess.ID)

	state, snapshotVersion := sess.Store.Snapshot()
	sseWriteEvent(w, flusher, "snapshot", mutationResult{
		Applied: true,
		Version: snapshotVersion,
		State:   state,
	})

	streamEvents(r.Context(), w, flusher, events, snapshotVersion)
}

// streamEvents 推送快照之后的事件，直到 ctx 结束或 events 关闭
func streamEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan event.Event, snapshotVersion int64) {
	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			// 快照已包含的变更
			if ev.Version <= snapshotVersion {
				continue
			}
			sseWriteEvent(w, flusher, string(ev.Type), ev)
		case <-keepAlive.C:
			w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

// --- helpers ---

func requestFormat(r *http.Request) (export.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return export.ParseFormat(f)
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return export.FormatYAML, nil
	default:
		return export.FormatJSON, nil
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// writeAppError 将应用层错误映射为 HTTP 状态码
func writeAppError(w http.ResponseWriter, err error) {
	var invalid *builder.InvalidStrategyError
	switch {
	case errors.As(err, &invalid):
		writeErrorWithData(w, http.StatusUnprocessableEntity, "strategy is invalid", invalid.Result)
	case errors.Is(err, builder.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, builder.ErrStrategyNotFound):
		writeError(w, http.StatusNotFound, "strategy not found")
	case errors.Is(err, builder.ErrRepositoryUnavailable):
		writeError(w, http.StatusServiceUnavailable, "strategy storage is not configured")
	default:
		applog.Error("[API] Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
