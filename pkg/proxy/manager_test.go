package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/meridianvpn/fleet/pkg/pool"
	"github.com/meridianvpn/fleet/pkg/ratelimit"
)

func testPoolConfig() pool.Config {
	return pool.Config{
		MaxTotalConnections:   16,
		MaxConnectionsPerHost: 8,
		IdleTimeout:           time.Minute,
		MaxLifetime:           time.Hour,
		ConnectTimeout:        2 * time.Second,
	}
}

func testRateLimit() ratelimit.PrincipalConfig {
	return ratelimit.PrincipalConfig{RequestsPerSecond: 1000, BurstSize: 1000}
}

func TestManagerServesHTTPForwardRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello from upstream")
	}))
	defer upstream.Close()

	mgr := NewManager(Config{
		HTTPAddr:    "127.0.0.1:0",
		AuthEnabled: false,
		RateLimit:   testRateLimit(),
		Pool:        testPoolConfig(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- mgr.ServeHTTP(ctx) }()

	addrCtx, addrCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer addrCancel()
	proxyAddr := mgr.HTTPAddr(addrCtx)
	if proxyAddr == nil {
		t.Fatal("manager never bound its http listener")
	}

	conn, err := net.Dial("tcp", proxyAddr.String())
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer conn.Close()

	req, _ := http.NewRequest(http.MethodGet, upstream.URL, nil)
	if err := req.Write(conn); err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello from upstream" {
		t.Fatalf("unexpected body: %q", body)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("ServeHTTP returned error: %v", err)
		}
	case <-time.After(DrainGrace + time.Second):
		t.Fatal("ServeHTTP did not return after shutdown")
	}
}

func TestManagerServeHTTPWithoutAddrIsNoop(t *testing.T) {
	mgr := NewManager(Config{
		RateLimit: testRateLimit(),
		Pool:      testPoolConfig(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- mgr.ServeHTTP(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeHTTP returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ServeHTTP with no HTTPAddr should return immediately")
	}
}

type recordingUserStore struct {
	mu      sync.Mutex
	credits map[string]uint64
}

func (r *recordingUserStore) RecordTraffic(name string, bytes uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.credits == nil {
		r.credits = make(map[string]uint64)
	}
	r.credits[name] += bytes
	return nil
}

func (r *recordingUserStore) get(name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.credits[name]
}

func TestRunBackgroundJobsFlushesTrafficToUserStore(t *testing.T) {
	store := &recordingUserStore{}
	mgr := NewManager(Config{
		RateLimit:    testRateLimit(),
		Pool:         testPoolConfig(),
		UserStore:    store,
		TrafficFlush: 20 * time.Millisecond,
	})
	mgr.limiter.RecordBandwidth("alice", 4096)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.RunBackgroundJobs(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.get("alice") == 4096 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("traffic flush loop never credited alice's bytes to the user store")
}

func TestAcceptLoopRecoversPanickingHandler(t *testing.T) {
	mgr := NewManager(Config{
		RateLimit: testRateLimit(),
		Pool:      testPoolConfig(),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var conns sync.WaitGroup
	acceptErr := make(chan error, 1)
	go func() {
		acceptErr <- mgr.acceptLoop(ctx, ln, &conns, func(context.Context, net.Conn) {
			panic("boom")
		})
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// A panicking handler must close the connection rather than hang it,
	// and must not crash the accept loop: the test process surviving this
	// call at all is the main assertion.
	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed after handler panic")
	}

	cancel()
	_ = ln.Close()
	select {
	case <-acceptErr:
	case <-time.After(2 * time.Second):
		t.Fatal("acceptLoop did not return after listener close")
	}
}

func TestManagerServeSOCKS5BindsAndDrains(t *testing.T) {
	mgr := NewManager(Config{
		SOCKSAddr:   "127.0.0.1:0",
		AuthEnabled: false,
		RateLimit:   testRateLimit(),
		Pool:        testPoolConfig(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- mgr.ServeSOCKS5(ctx) }()

	addrCtx, addrCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer addrCancel()
	if addr := mgr.SOCKSAddr(addrCtx); addr == nil {
		t.Fatal("manager never bound its socks5 listener")
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("ServeSOCKS5 returned error: %v", err)
		}
	case <-time.After(DrainGrace + time.Second):
		t.Fatal("ServeSOCKS5 did not return after shutdown")
	}
}
