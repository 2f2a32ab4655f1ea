package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stratflow/internal/app/builder"
	"stratflow/internal/db/memory"
	"stratflow/internal/domain/strategy/event"
	"stratflow/internal/domain/strategy/model"
	"stratflow/internal/domain/strategy/port"
	"stratflow/internal/domain/strategy/validation"
	"stratflow/internal/integration"
)

type apiClient struct {
	t       *testing.T
	handler http.Handler
	token   string
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newAPIClient(t *testing.T, subject string) *apiClient {
	t.Helper()
	repo := memory.NewRepository()
	cfg := DefaultServerConfig()
	cfg.JWTSecret = testSecret
	server := NewServer(cfg, repo, builder.NewManager(builder.Config{}, repo, nil, nil), nil, nil)
	return &apiClient{t: t, handler: server.Handler(), token: tokenFor(t, subject)}
}

func tokenFor(t *testing.T, subject string) string {
	return signToken(t, jwt.MapClaims{"sub": subject, "exp": time.Now().Add(time.Hour).Unix()})
}

func (c *apiClient) as(subject string) *apiClient {
	return &apiClient{t: c.t, handler: c.handler, token: tokenFor(c.t, subject)}
}

func (c *apiClient) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)
	return rr
}

// call 发送 JSON 请求并解析 data 字段
func (c *apiClient) call(method, path, body string, wantStatus int, out interface{}) envelope {
	c.t.Helper()
	rr := c.do(method, path, "application/json", body)
	if rr.Code != wantStatus {
		c.t.Fatalf("%s %s: expected %d, got %d: %s", method, path, wantStatus, rr.Code, rr.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		c.t.Fatalf("%s %s: invalid envelope: %v", method, path, err)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			c.t.Fatalf("%s %s: decode data: %v", method, path, err)
		}
	}
	return env
}

func (c *apiClient) createSession() string {
	var view sessionView
	c.call(http.MethodPost, "/api/v1/sessions", "", http.StatusCreated, &view)
	if view.Session.ID == "" {
		c.t.Fatal("expected session id")
	}
	return view.Session.ID
}

func TestSessionBuildFlow(t *testing.T) {
	c := newAPIClient(t, "alice")
	id := c.createSession()
	base := "/api/v1/sessions/" + id

	var res mutationResult
	c.call(http.MethodPut, base+"/name", `{"name":"Dip Buyer"}`, http.StatusOK, &res)
	if !res.Applied || res.State.Name != "Dip Buyer" || res.Version != 1 {
		t.Fatalf("unexpected rename result %+v", res)
	}

	c.call(http.MethodPost, base+"/elements", `{"id":"t1","type":"trigger"}`, http.StatusOK, &res)
	el, ok := res.State.Element("t1")
	if !ok || el.Name != "Price Trigger" || len(el.Parameters) == 0 {
		t.Fatalf("expected trigger template defaults, got %+v", el)
	}

	// 未指定 id 时自动生成
	c.call(http.MethodPost, base+"/elements", `{"type":"action","name":"Buy ETH","position":{"x":200,"y":40}}`, http.StatusOK, &res)
	if len(res.State.Elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(res.State.Elements))
	}
	action := res.State.Elements[1]
	if action.ID == "" || action.Name != "Buy ETH" || action.Position == nil || action.Position.X != 200 {
		t.Fatalf("unexpected action %+v", action)
	}

	c.call(http.MethodPost, base+"/connections", `{"id":"c1","sourceId":"t1","targetId":"`+action.ID+`"}`, http.StatusOK, &res)
	if len(res.State.Connections) != 1 {
		t.Fatalf("expected 1 connection, got %+v", res.State.Connections)
	}

	c.call(http.MethodPut, base+"/selection", `{"elementId":"t1"}`, http.StatusOK, &res)
	if res.State.SelectedElementID != "t1" {
		t.Fatalf("expected selection t1, got %q", res.State.SelectedElementID)
	}

	c.call(http.MethodPatch, base+"/elements/t1", `{"name":"Drop 5%","parameters":{"asset":"ETH","percentage":5}}`, http.StatusOK, &res)
	el, _ = res.State.Element("t1")
	if el.Name != "Drop 5%" || len(el.Parameters) != 2 {
		t.Fatalf("unexpected updated element %+v", el)
	}
	if n, _ := el.Parameters["percentage"].AsNumber(); n != 5 {
		t.Fatalf("expected numeric percentage, got %v", el.Parameters["percentage"])
	}

	c.call(http.MethodPut, base+"/elements/t1/position", `{"x":10,"y":20}`, http.StatusOK, &res)
	el, _ = res.State.Element("t1")
	if el.Position == nil || el.Position.Y != 20 {
		t.Fatalf("unexpected position %+v", el.Position)
	}

	var result validation.Result
	c.call(http.MethodGet, base+"/validate", "", http.StatusOK, &result)
	if !result.Valid {
		t.Fatalf("expected valid strategy, got %v", result.Errors)
	}

	// 删除元素时级联删除连接并清除选中
	c.call(http.MethodDelete, base+"/elements/t1", "", http.StatusOK, &res)
	if len(res.State.Connections) != 0 || res.State.SelectedElementID != "" {
		t.Fatalf("expected cascade, got %+v", res.State)
	}

	// 只剩一个元素时不要求连接
	c.call(http.MethodGet, base+"/validate", "", http.StatusOK, &result)
	if !result.Valid {
		t.Fatalf("expected single element to be valid, got %v", result.Errors)
	}
}

func TestMissingTargetsAreNoOps(t *testing.T) {
	c := newAPIClient(t, "alice")
	base := "/api/v1/sessions/" + c.createSession()

	tests := []struct {
		method, path, body string
	}{
		{http.MethodPatch, base + "/elements/ghost", `{"name":"x"}`},
		{http.MethodDelete, base + "/elements/ghost", ""},
		{http.MethodPut, base + "/elements/ghost/position", `{"x":1,"y":2}`},
		{http.MethodDelete, base + "/connections/ghost", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var res mutationResult
			c.call(tt.method, tt.path, tt.body, http.StatusOK, &res)
			if res.Applied || res.Version != 0 {
				t.Fatalf("expected no-op, got %+v", res)
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	c := newAPIClient(t, "alice")
	base := "/api/v1/sessions/" + c.createSession()

	tests := []struct {
		name, method, path, body string
		want                     int
		contains                 string
	}{
		{"unknown element type", http.MethodPost, base + "/elements", `{"type":"oracle"}`, http.StatusBadRequest, "type must be one of"},
		{"missing element type", http.MethodPost, base + "/elements", `{}`, http.StatusBadRequest, "type is required"},
		{"missing name", http.MethodPut, base + "/name", `{}`, http.StatusBadRequest, "name is required"},
		{"missing connection target", http.MethodPost, base + "/connections", `{"sourceId":"a"}`, http.StatusBadRequest, "targetId is required"},
		{"position without y", http.MethodPut, base + "/elements/e/position", `{"x":1}`, http.StatusBadRequest, "y is required"},
		{"invalid json", http.MethodPut, base + "/name", `{`, http.StatusBadRequest, "invalid JSON"},
		{"object parameter", http.MethodPost, base + "/elements", `{"type":"action","parameters":{"a":{"b":1}}}`, http.StatusBadRequest, "invalid JSON"},
		{"empty element update", http.MethodPatch, base + "/elements/e", `{}`, http.StatusBadRequest, "no element fields"},
		{"blank element name", http.MethodPatch, base + "/elements/e", `{"name":"  "}`, http.StatusUnprocessableEntity, "Name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := c.do(tt.method, tt.path, "application/json", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tt.contains) {
				t.Fatalf("expected body to contain %q, got %s", tt.contains, rr.Body.String())
			}
		})
	}
}

func TestExportAndLoadRoundTrip(t *testing.T) {
	c := newAPIClient(t, "alice")
	src := "/api/v1/sessions/" + c.createSession()

	c.call(http.MethodPut, src+"/name", `{"name":"My Strategy"}`, http.StatusOK, nil)
	c.call(http.MethodPost, src+"/elements", `{"id":"t1","type":"trigger"}`, http.StatusOK, nil)
	c.call(http.MethodPost, src+"/elements", `{"id":"a1","type":"action"}`, http.StatusOK, nil)
	c.call(http.MethodPost, src+"/connections", `{"id":"c1","sourceId":"t1","targetId":"a1"}`, http.StatusOK, nil)

	for _, format := range []struct {
		name, contentType string
	}{
		{"json", "application/json"},
		{"yaml", "application/yaml"},
	} {
		t.Run(format.name, func(t *testing.T) {
			rr := c.do(http.MethodGet, src+"/export?format="+format.name+"&download=1", "", "")
			if rr.Code != http.StatusOK {
				t.Fatalf("export failed: %d %s", rr.Code, rr.Body.String())
			}
			if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, format.contentType) {
				t.Fatalf("unexpected content type %q", ct)
			}
			if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "my-strategy."+format.name) {
				t.Fatalf("unexpected content disposition %q", cd)
			}

			dst := "/api/v1/sessions/" + c.createSession()
			lr := c.do(http.MethodPost, dst+"/load", format.contentType, rr.Body.String())
			if lr.Code != http.StatusOK {
				t.Fatalf("load failed: %d %s", lr.Code, lr.Body.String())
			}
			var env envelope
			var res mutationResult
			_ = json.Unmarshal(lr.Body.Bytes(), &env)
			_ = json.Unmarshal(env.Data, &res)
			if res.State.Name != "My Strategy" || len(res.State.Elements) != 2 || len(res.State.Connections) != 1 {
				t.Fatalf("unexpected loaded state %+v", res.State)
			}
		})
	}

	if rr := c.do(http.MethodGet, src+"/export?format=xml", "", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", rr.Code)
	}
	if rr := c.do(http.MethodPost, src+"/load", "application/json", `{"elements":[{"id":"x","type":"oracle"}]}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown element type, got %d", rr.Code)
	}
}

func TestSaveListOpen(t *testing.T) {
	c := newAPIClient(t, "alice")
	base := "/api/v1/sessions/" + c.createSession()

	// 空策略不能保存
	rr := c.do(http.MethodPost, base+"/save", "", "")
	if rr.Code != http.StatusUnprocessableEntity || !strings.Contains(rr.Body.String(), validation.MsgNoElements) {
		t.Fatalf("expected 422 with validation errors, got %d %s", rr.Code, rr.Body.String())
	}

	c.call(http.MethodPost, base+"/elements", `{"id":"t1","type":"trigger"}`, http.StatusOK, nil)
	var saved struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	c.call(http.MethodPost, base+"/save", "", http.StatusOK, &saved)
	if saved.ID == "" || saved.Version != 1 {
		t.Fatalf("unexpected saved strategy %+v", saved)
	}

	var list struct {
		Total int `json:"total"`
	}
	c.call(http.MethodGet, "/api/v1/strategies", "", http.StatusOK, &list)
	if list.Total != 1 {
		t.Fatalf("expected 1 saved strategy, got %d", list.Total)
	}

	// 其他用户看不到
	c.as("bob").call(http.MethodGet, "/api/v1/strategies/"+saved.ID, "", http.StatusNotFound, nil)
	c.as("bob").call(http.MethodGet, base, "", http.StatusNotFound, nil)

	var opened sessionView
	c.call(http.MethodPost, "/api/v1/strategies/"+saved.ID+"/open", "", http.StatusCreated, &opened)
	if opened.Session.SavedID != saved.ID || len(opened.State.Elements) != 1 {
		t.Fatalf("unexpected opened session %+v", opened)
	}

	c.call(http.MethodDelete, "/api/v1/strategies/"+saved.ID, "", http.StatusOK, nil)
	c.call(http.MethodGet, "/api/v1/strategies/"+saved.ID, "", http.StatusNotFound, nil)
}

func TestDeleteSession(t *testing.T) {
	c := newAPIClient(t, "alice")
	id := c.createSession()

	var sessions []builder.SessionInfo
	c.call(http.MethodGet, "/api/v1/sessions", "", http.StatusOK, &sessions)
	if len(sessions) != 1 || sessions[0].StrategyName != model.DefaultStrategyName {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	c.call(http.MethodDelete, "/api/v1/sessions/"+id, "", http.StatusOK, nil)
	c.call(http.MethodGet, "/api/v1/sessions/"+id, "", http.StatusNotFound, nil)
	c.call(http.MethodDelete, "/api/v1/sessions/"+id, "", http.StatusNotFound, nil)
}

func TestEventsStream(t *testing.T) {
	repo := memory.NewRepository()
	mgr := builder.NewManager(builder.Config{}, repo, nil, nil)
	cfg := DefaultServerConfig()
	cfg.JWTSecret = testSecret
	srv := httptest.NewServer(NewServer(cfg, repo, mgr, nil, nil).Handler())
	defer srv.Close()

	token := tokenFor(t, "alice")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	owned := mgr.Create(port.WithOwner(context.Background(), "alice"))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sessions/"+owned.ID+"/events?access_token="+token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	if ev := readSSEEvent(t, reader); ev != "snapshot" {
		t.Fatalf("expected snapshot first, got %q", ev)
	}

	owned.Store.AddElement(model.NewElement("t1", model.ElementTypeTrigger))
	if ev := readSSEEvent(t, reader); ev != "element_added" {
		t.Fatalf("expected element_added, got %q", ev)
	}
}

func TestStreamEventsSkipsEventsCoveredBySnapshot(t *testing.T) {
	stale := event.NewElementAddedEvent("t1")
	stale.Version = 3
	fresh := event.NewElementMovedEvent("t1")
	fresh.Version = 4

	events := make(chan event.Event, 2)
	events <- stale
	events <- fresh
	close(events)

	rr := httptest.NewRecorder()
	streamEvents(context.Background(), rr, rr, events, 3)

	body := rr.Body.String()
	if strings.Contains(body, "event: element_added") {
		t.Fatalf("event already in snapshot was streamed:\n%s", body)
	}
	if !strings.Contains(body, "event: element_moved") {
		t.Fatalf("expected element_moved in stream:\n%s", body)
	}
}

// readSSEEvent 读取下一条事件，返回事件名
func readSSEEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	var name string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case line == "" && name != "":
			return name
		}
	}
}

func TestIntegrationRoutes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	client := integration.NewClient(integration.Config{}, []integration.Provider{
		{Name: "tatum", Service: "Tatum.io", URL: upstream.URL, Auth: integration.AuthAPIKey},
	}, nil)
	cfg := DefaultServerConfig()
	cfg.JWTSecret = testSecret
	handler := NewServer(cfg, nil, nil, client, nil).Handler()
	c := &apiClient{t: t, handler: handler, token: tokenFor(t, "alice")}

	var all []integration.Status
	c.call(http.MethodGet, "/api/v1/integrations", "", http.StatusOK, &all)
	if len(all) != 1 || all[0].Status != integration.StatusOperational {
		t.Fatalf("unexpected statuses %+v", all)
	}
	c.call(http.MethodGet, "/api/v1/integrations/nope", "", http.StatusNotFound, nil)

	// 未配置存储时保存接口返回 503
	id := c.createSession()
	c.call(http.MethodGet, "/api/v1/strategies", "", http.StatusServiceUnavailable, nil)
	c.call(http.MethodPost, "/api/v1/sessions/"+id+"/save", "", http.StatusServiceUnavailable, nil)
}

func TestAccountBalanceRoute(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ledger/account/acc-7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"balance":{"accountBalance":"3"}}`))
	}))
	defer upstream.Close()

	cfg := DefaultServerConfig()
	cfg.JWTSecret = testSecret
	providers := []integration.Provider{{Name: "tatum", Service: "Tatum.io", URL: upstream.URL, Auth: integration.AuthAPIKey}}

	client := integration.NewClient(integration.Config{LedgerURL: upstream.URL + "/ledger/account"}, providers, nil)
	c := &apiClient{t: t, handler: NewServer(cfg, nil, nil, client, nil).Handler(), token: tokenFor(t, "alice")}

	var st integration.Status
	c.call(http.MethodGet, "/api/v1/accounts/acc-7/balance", "", http.StatusOK, &st)
	if st.Status != integration.StatusOperational || !strings.Contains(string(st.Data), "accountBalance") {
		t.Fatalf("unexpected balance %+v", st)
	}

	var failed integration.Status
	c.call(http.MethodGet, "/api/v1/accounts/unknown/balance", "", http.StatusOK, &failed)
	if failed.Status != integration.StatusError || failed.Error == "" {
		t.Fatalf("expected error status, got %+v", failed)
	}

	// 未配置余额接口
	bare := integration.NewClient(integration.Config{}, providers, nil)
	c.handler = NewServer(cfg, nil, nil, bare, nil).Handler()
	c.call(http.MethodGet, "/api/v1/accounts/acc-7/balance", "", http.StatusNotFound, nil)
}

func TestElementTemplatesRoute(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.JWTSecret = testSecret
	c := &apiClient{t: t, handler: NewServer(cfg, nil, nil, nil, nil).Handler(), token: tokenFor(t, "alice")}

	var catalog []model.Template
	c.call(http.MethodGet, "/api/v1/element-templates", "", http.StatusOK, &catalog)
	if len(catalog) != 3 || catalog[0].Type != model.ElementTypeTrigger {
		t.Fatalf("unexpected catalog %+v", catalog)
	}
	if catalog[2].Hints["dex"] != "Decentralized exchange to use" {
		t.Fatalf("expected dex hint, got %+v", catalog[2].Hints)
	}
}
