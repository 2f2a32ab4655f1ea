package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"stratflow/internal/platform/config"
)

func TestCheckSuccessSendsAuthHeaders(t *testing.T) {
	tests := []struct {
		name   string
		auth   AuthStyle
		header string
		want   string
	}{
		{name: "api key", auth: AuthAPIKey, header: "x-api-key", want: "k1"},
		{name: "bearer", auth: AuthBearer, header: "Authorization", want: "Bearer k1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get(tt.header); got != tt.want {
					t.Errorf("expected %s=%q, got %q", tt.header, tt.want, got)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"pools":[1,2]}`))
			}))
			defer srv.Close()

			c := NewClient(Config{}, []Provider{{Name: "p", Service: "P", URL: srv.URL, APIKey: "k1", Auth: tt.auth}}, nil)
			st, ok := c.Check(context.Background(), "p")
			if !ok {
				t.Fatal("expected provider to be known")
			}
			if !st.OK() || st.Service != "P" || string(st.Data) != `{"pools":[1,2]}` {
				t.Fatalf("unexpected status %+v", st)
			}
		})
	}
}

func TestCheckNon2xxBecomesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{}, []Provider{{Name: "p", Service: "P", URL: srv.URL}}, nil)
	st, _ := c.Check(context.Background(), "p")
	if st.Status != StatusError || !strings.Contains(st.Error, "401") || st.Data != nil {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestCheckTimeoutDoesNotRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Config{Timeout: 50 * time.Millisecond}, []Provider{{Name: "p", Service: "P", URL: srv.URL}}, nil)
	st, _ := c.Check(context.Background(), "p")
	if st.Status != StatusError || st.Error == "" {
		t.Fatalf("expected timeout error, got %+v", st)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", n)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BreakerMaxFailures: 2, BreakerOpenTimeout: time.Minute}, []Provider{{Name: "p", Service: "P", URL: srv.URL}}, nil)
	for i := 0; i < 2; i++ {
		c.Check(context.Background(), "p")
	}
	st, _ := c.Check(context.Background(), "p")
	if st.Status != StatusError || st.Error != "circuit breaker is open" {
		t.Fatalf("expected open breaker, got %+v", st)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("open breaker should not reach upstream, got %d calls", n)
	}
}

func TestCheckUnknownProvider(t *testing.T) {
	c := NewClient(Config{}, nil, nil)
	if _, ok := c.Check(context.Background(), "nope"); ok {
		t.Fatal("expected unknown provider")
	}
}

func TestCheckAllKeepsOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	c := NewClient(Config{}, []Provider{
		{Name: "a", Service: "A", URL: srv.URL + "/up"},
		{Name: "b", Service: "B", URL: srv.URL + "/down"},
		{Name: "c", Service: "C", URL: srv.URL + "/up"},
	}, nil)

	all := c.CheckAll(context.Background())
	if len(all) != 3 {
		t.Fatalf("expected 3 results, got %d", len(all))
	}
	want := []struct{ service, status string }{
		{"A", StatusOperational}, {"B", StatusError}, {"C", StatusOperational},
	}
	for i, w := range want {
		if all[i].Service != w.service || all[i].Status != w.status {
			t.Errorf("result %d: expected %s/%s, got %+v", i, w.service, w.status, all[i])
		}
	}
	if string(all[0].Data) != `"plain text"` {
		t.Errorf("expected non-JSON body as string, got %s", all[0].Data)
	}
}

func TestProvidersFromConfig(t *testing.T) {
	cfg := config.Default().Integrations
	cfg.Tatum.APIKey = "tk"

	providers := ProvidersFromConfig(cfg)
	c := NewClient(Config{}, providers, nil)
	names := c.Names()
	if len(names) != 3 || names[0] != "tatum" || names[1] != "dodoex" || names[2] != "aave" {
		t.Fatalf("unexpected names %v", names)
	}
	if providers[0].Auth != AuthAPIKey || providers[0].APIKey != "tk" || providers[0].Service != "Tatum.io" {
		t.Fatalf("unexpected tatum provider %+v", providers[0])
	}
	if providers[2].Service != "Aave Special Lever" || providers[2].Auth != AuthBearer {
		t.Fatalf("unexpected aave provider %+v", providers[2])
	}
}

func TestAccountBalance(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("x-api-key") != "tk" {
			t.Errorf("expected x-api-key header, got %q", r.Header.Get("x-api-key"))
		}
		switch r.URL.Path {
		case "/ledger/account/acc-1":
			_, _ = w.Write([]byte(`{"balance":{"accountBalance":"12.5","availableBalance":"10"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{LedgerURL: srv.URL + "/ledger/account/", BreakerMaxFailures: 1}, []Provider{
		{Name: "tatum", Service: "Tatum.io", URL: srv.URL + "/wallet", APIKey: "tk", Auth: AuthAPIKey},
	}, nil)

	st, ok := c.AccountBalance(context.Background(), "acc-1")
	if !ok || !st.OK() || !strings.Contains(string(st.Data), "accountBalance") {
		t.Fatalf("unexpected balance %+v", st)
	}

	// 失败计入 tatum 熔断器，之后的状态检查直接被拒绝
	st, _ = c.AccountBalance(context.Background(), "missing")
	if st.Status != StatusError || !strings.Contains(st.Error, "404") {
		t.Fatalf("expected 404 error status, got %+v", st)
	}
	before := atomic.LoadInt32(&hits)
	st, _ = c.Check(context.Background(), "tatum")
	if st.Status != StatusError || !strings.Contains(st.Error, "circuit breaker is open") {
		t.Fatalf("expected open breaker, got %+v", st)
	}
	if atomic.LoadInt32(&hits) != before {
		t.Fatal("open breaker should not reach upstream")
	}
}

func TestAccountBalanceRequiresLedger(t *testing.T) {
	providers := []Provider{{Name: "tatum", Service: "Tatum.io", URL: "http://127.0.0.1:1"}}
	if _, ok := NewClient(Config{}, providers, nil).AccountBalance(context.Background(), "a"); ok {
		t.Fatal("expected false without ledger url")
	}
	if _, ok := NewClient(Config{LedgerURL: "http://127.0.0.1:1"}, nil, nil).AccountBalance(context.Background(), "a"); ok {
		t.Fatal("expected false without tatum provider")
	}
}
