package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	applog "stratflow/internal/platform/log"
	"stratflow/internal/platform/metrics"
)

const (
	StatusOperational = "operational"
	StatusError       = "error"

	// ledgerProvider 账户余额走该 provider 的熔断器和密钥
	ledgerProvider = "tatum"

	maxBodyBytes = 1 << 20
)

// AuthStyle 上游 API 的鉴权头格式
type AuthStyle int

const (
	AuthBearer AuthStyle = iota // Authorization: Bearer <key>
	AuthAPIKey                  // x-api-key: <key>
)

// Provider 一个上游 DeFi 服务
type Provider struct {
	Name    string // 路由名，如 tatum
	Service string // 展示名，如 Tatum.io
	URL     string
	APIKey  string
	Auth    AuthStyle
}

// Status 统一的检查结果；失败也是数据而不是错误
type Status struct {
	Service string          `json:"service"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// OK 是否可用
func (s Status) OK() bool {
	return s.Status == StatusOperational
}

// Config 客户端配置
type Config struct {
	Timeout            time.Duration
	BreakerMaxFailures uint32        // 连续失败多少次后熔断
	BreakerOpenTimeout time.Duration // 熔断后多久进入半开
	LedgerURL          string        // 账户余额接口前缀，如 https://api.tatum.io/v3/ledger/account
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Timeout:            10 * time.Second,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 60 * time.Second,
	}
}

type providerEntry struct {
	Provider
	breaker *gobreaker.CircuitBreaker
}

// Client 上游服务健康检查客户端
// 每次检查只发一次 GET，不重试
type Client struct {
	httpClient *http.Client
	metrics    *metrics.Collector
	ledgerURL  string
	order      []string
	providers  map[string]*providerEntry
}

// NewClient 创建客户端，providers 的顺序即 CheckAll 的返回顺序
func NewClient(cfg Config, providers []Provider, mc *metrics.Collector) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = def.BreakerMaxFailures
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = def.BreakerOpenTimeout
	}

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    mc,
		ledgerURL:  strings.TrimRight(cfg.LedgerURL, "/"),
		providers:  make(map[string]*providerEntry, len(providers)),
	}
	for _, p := range providers {
		maxFailures := cfg.BreakerMaxFailures
		c.order = append(c.order, p.Name)
		c.providers[p.Name] = &providerEntry{
			Provider: p,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        p.Name,
				MaxRequests: 1,
				Timeout:     cfg.BreakerOpenTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= maxFailures
				},
				OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
					applog.Warn("[Integration] Circuit breaker state changed", "provider", name, "from", from.String(), "to", to.String())
				},
			}),
		}
	}
	return c
}

// Names 已配置的 provider 名称
func (c *Client) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Check 检查单个 provider；未知名称返回 false
func (c *Client) Check(ctx context.Context, name string) (Status, bool) {
	p, ok := c.providers[name]
	if !ok {
		return Status{}, false
	}

	return c.call(ctx, p, p.URL), true
}

// AccountBalance 查询虚拟账户余额，与 Check 共用 tatum 的熔断器
// 未配置 tatum 或余额接口时返回 false
func (c *Client) AccountBalance(ctx context.Context, accountID string) (Status, bool) {
	p, ok := c.providers[ledgerProvider]
	if !ok || c.ledgerURL == "" {
		return Status{}, false
	}
	return c.call(ctx, p, c.ledgerURL+"/"+url.PathEscape(accountID)), true
}

func (c *Client) call(ctx context.Context, p *providerEntry, target string) Status {
	start := time.Now()
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, p.Provider, target)
	})

	var st Status
	if err != nil {
		applog.Warn("[Integration] Request failed", "provider", p.Name, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
		st = Status{Service: p.Service, Status: StatusError, Error: err.Error()}
	} else {
		st = Status{Service: p.Service, Status: StatusOperational, Data: out.(json.RawMessage)}
	}
	c.metrics.ObserveIntegration(p.Name, st.Status)
	return st
}

// CheckAll 并发检查全部 provider，按配置顺序返回
func (c *Client) CheckAll(ctx context.Context) []Status {
	results := make([]Status, len(c.order))
	done := make(chan struct{}, len(c.order))
	for i, name := range c.order {
		go func(i int, name string) {
			results[i], _ = c.Check(ctx, name)
			done <- struct{}{}
		}(i, name)
	}
	for range c.order {
		<-done
	}

	operational := 0
	for _, st := range results {
		if st.OK() {
			operational++
		}
	}
	applog.Info("[Integration] Checked all providers", "operational", operational, "total", len(results))
	return results
}

func (c *Client) fetch(ctx context.Context, p Provider, target string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	switch p.Auth {
	case AuthAPIKey:
		req.Header.Set("x-api-key", p.APIKey)
	default:
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with status code %d", resp.StatusCode)
	}
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		// 非 JSON 响应按字符串返回
		quoted, _ := json.Marshal(string(body))
		return quoted, nil
	}
	return json.RawMessage(body), nil
}
