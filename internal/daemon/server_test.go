package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/config"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/dataprovider/remote"
	"github.com/runger/refkit/internal/metrics"
	"github.com/runger/refkit/internal/refstore"
)

func newProvider() *dataprovider.Memory {
	p := dataprovider.NewMemory()
	p.Add("authors",
		choice.Choice{"id": 1, "name": "Leo Tolstoi"},
		choice.Choice{"id": 2, "name": "Victor Hugo"},
	)
	return p
}

// shortTempDir keeps unix socket paths under the sun_path limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "rk")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func TestNewServer_Success(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	server, err := NewServer(&ServerConfig{
		Provider: newProvider(),
		Paths:    &config.Paths{RuntimeDir: dir},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if server.Store() == nil {
		t.Error("store should be created")
	}
	if server.Sessions() == nil {
		t.Error("session manager should be created")
	}
	if want := filepath.Join(dir, "refkit.sock"); server.socketPath != want {
		t.Errorf("socketPath = %q, want %q", server.socketPath, want)
	}
	if server.HTTPAddr() != nil {
		t.Error("HTTPAddr should be nil before Start")
	}
}

func TestNewServer_NilConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNewServer_NilProvider(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(&ServerConfig{}); err == nil {
		t.Error("expected error for nil provider")
	}
}

func TestNewServer_SocketPathOverride(t *testing.T) {
	t.Parallel()

	server, err := NewServer(&ServerConfig{Provider: newProvider(), SocketPath: "/tmp/custom.sock"})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if server.socketPath != "/tmp/custom.sock" {
		t.Errorf("socketPath = %q", server.socketPath)
	}
}

func TestServer_Handler(t *testing.T) {
	t.Parallel()

	server, err := NewServer(&ServerConfig{
		Provider: newProvider(),
		Paths:    &config.Paths{RuntimeDir: t.TempDir()},
		Metrics:  metrics.New(),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, _ := get("/healthz"); code != http.StatusOK {
		t.Errorf("/healthz status = %d", code)
	}

	code, body := get("/api/authors/2")
	if code != http.StatusOK {
		t.Fatalf("/api/authors/2 status = %d: %s", code, body)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if rec["name"] != "Victor Hugo" {
		t.Errorf("name = %v", rec["name"])
	}

	if code, _ := get("/api/authors/99"); code != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", code)
	}

	code, body = get("/metrics")
	if code != http.StatusOK {
		t.Errorf("/metrics status = %d", code)
	}
	if !strings.Contains(body, "refkit_") {
		t.Errorf("/metrics should expose refkit series:\n%s", body)
	}

	// Plain GET without the WebSocket upgrade is refused.
	if code, _ := get("/live"); code < 400 {
		t.Errorf("/live without upgrade status = %d", code)
	}
}

func TestServer_CreateResolvesMissingLookup(t *testing.T) {
	t.Parallel()

	server, err := NewServer(&ServerConfig{
		Provider: newProvider(),
		Paths:    &config.Paths{RuntimeDir: t.TempDir()},
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Store().Close()
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	store := server.Store()
	store.FetchReference("authors", 5)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, l := store.Record("authors", 5); l.Settled() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lookup never settled")
		}
		time.Sleep(2 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/api/authors", "application/json", strings.NewReader(`{"id":5,"name":"Ursula Le Guin"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d", resp.StatusCode)
	}

	rec, l := store.Record("authors", 5)
	if l != refstore.LookupFound {
		t.Fatalf("lookup = %s, want found", l)
	}
	if rec["name"] != "Ursula Le Guin" {
		t.Errorf("name = %v", rec["name"])
	}
}

func TestServer_StartServesGRPCAndHTTP(t *testing.T) {
	t.Parallel()

	dir := shortTempDir(t)
	socketPath := filepath.Join(dir, "d.sock")
	server, err := NewServer(&ServerConfig{
		Provider:    newProvider(),
		Paths:       &config.Paths{RuntimeDir: dir},
		SocketPath:  socketPath,
		HTTPAddr:    "127.0.0.1:0",
		SessionIdle: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	select {
	case <-server.Ready():
	case err := <-done:
		t.Fatalf("Start returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	conn, err := remote.Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	rec, err := remote.NewClient(conn).GetOne(callCtx, "authors", 1)
	if err != nil {
		t.Fatalf("GetOne over gRPC failed: %v", err)
	}
	if rec["name"] != "Leo Tolstoi" {
		t.Errorf("name = %v", rec["name"])
	}

	addr := server.HTTPAddr()
	if addr == nil {
		t.Fatal("HTTPAddr should be set after Start")
	}
	resp, err := http.Get("http://" + addr.String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket should be removed on shutdown")
	}
}

func TestServer_ShutdownIdempotent(t *testing.T) {
	t.Parallel()

	server, err := NewServer(&ServerConfig{
		Provider:   newProvider(),
		SocketPath: filepath.Join(t.TempDir(), "never.sock"),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	server.Shutdown()
	server.Shutdown()
}
