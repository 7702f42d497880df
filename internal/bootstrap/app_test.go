package bootstrap

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/snapfn-go/internal/core/lifecycle"
	"github.com/yndnr/snapfn-go/internal/server/config"
)

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Engine = "memory"
	cfg.Snapshot.Mode = mode
	cfg.Snapshot.Dir = filepath.Join(t.TempDir(), "images")
	cfg.Server.HTTP.Addr = "127.0.0.1:0"
	cfg.Log.Level = "error"
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, build string) *App {
	t.Helper()
	app, err := New(context.Background(), cfg, WithLogOutput(io.Discard), WithBuildVersion(build))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return app
}

func greet(t *testing.T, app *App) string {
	t.Helper()
	out := app.Dispatcher.Dispatch(context.Background(), []byte(`{"route":"greet"}`), time.Time{})
	if !out.OK() {
		t.Fatalf("greet failed: %v", out.Err)
	}
	return string(out.Value)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapfn.yaml")
	yaml := "store:\n  engine: memory\nsnapshot:\n  mode: \"off\"\nlog:\n  level: warn\n"
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SNAPFN_RUNTIME__COLD_START_TIMEOUT_MS", "2500")

	cfg, loader, err := LoadConfig(path, map[string]any{"log.level": "debug"})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Store.Engine != "memory" {
		t.Errorf("Store.Engine = %q, want memory", cfg.Store.Engine)
	}
	if cfg.Runtime.ColdStartTimeout() != 2500*time.Millisecond {
		t.Errorf("ColdStartTimeout() = %v, want 2.5s", cfg.Runtime.ColdStartTimeout())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want the override", cfg.Log.Level)
	}
	if cfg.Store.MaxAttempts != config.DefaultMaxAttempts {
		t.Errorf("Store.MaxAttempts = %d, want default", cfg.Store.MaxAttempts)
	}
	if loader.FilePath() != path {
		t.Errorf("FilePath() = %q", loader.FilePath())
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, _, err := LoadConfig("", map[string]any{"store.engine": "cassandra"})
	if err == nil {
		t.Fatal("LoadConfig() accepted an unknown engine")
	}
}

func TestApp_SnapshotsOff(t *testing.T) {
	app := newApp(t, testConfig(t, "off"), "test")
	defer app.Close(context.Background())

	if app.Images != nil {
		t.Error("image manager opened with snapshots off")
	}
	if err := app.Boot(context.Background()); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if app.Env.State() != lifecycle.StateReady {
		t.Fatalf("State() = %v, want ready", app.Env.State())
	}
	if got := greet(t, app); got != `{"count":1}` {
		t.Errorf("greet = %s", got)
	}
	if got := greet(t, app); got != `{"count":2}` {
		t.Errorf("second greet = %s", got)
	}
}

func TestApp_ColdThenResume(t *testing.T) {
	cfg := testConfig(t, "auto")

	first := newApp(t, cfg, "test")
	if err := first.Boot(context.Background()); err != nil {
		t.Fatalf("cold Boot() error = %v", err)
	}
	captured := first.Env.Image()
	if captured == nil {
		t.Fatal("cold boot captured no image")
	}
	greet(t, first)
	first.Close(context.Background())

	second := newApp(t, cfg, "test")
	defer second.Close(context.Background())
	if err := second.Boot(context.Background()); err != nil {
		t.Fatalf("resume Boot() error = %v", err)
	}
	if second.Env.Image().ID != captured.ID {
		t.Errorf("resumed image = %s, want %s", second.Env.Image().ID, captured.ID)
	}

	// The image holds the store as it was at the snapshot point.
	if got := greet(t, second); got != `{"count":1}` {
		t.Errorf("greet after resume = %s", got)
	}

	infos, err := second.Images.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 {
		t.Errorf("images = %d, want 1 (resume must not capture)", len(infos))
	}
}

func TestApp_OtherBuildBootsCold(t *testing.T) {
	cfg := testConfig(t, "auto")

	old := newApp(t, cfg, "v1")
	if err := old.Boot(context.Background()); err != nil {
		t.Fatal(err)
	}
	old.Close(context.Background())

	app := newApp(t, cfg, "v2")
	defer app.Close(context.Background())
	if err := app.Boot(context.Background()); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
	if app.Env.Image().BuildVersion != "v2" {
		t.Errorf("BuildVersion = %q, want v2", app.Env.Image().BuildVersion)
	}
	infos, err := app.Images.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Errorf("images = %d, want 2", len(infos))
	}
}

func TestApp_ServeHTTP(t *testing.T) {
	app := newApp(t, testConfig(t, "off"), "test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- app.ServeHTTP(ctx, func(a net.Addr) { addrCh <- a })
	}()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("ServeHTTP() returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Post("http://"+addr.String()+"/invoke", "application/json", strings.NewReader(`{"route":"greet"}`))
	if err != nil {
		t.Fatalf("POST /invoke: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"count":1`) {
		t.Errorf("body = %s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ServeHTTP() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if app.Env.State() != lifecycle.StateDraining {
		t.Errorf("State() after shutdown = %v, want draining", app.Env.State())
	}
}

func TestApp_WatchConfigWithoutFile(t *testing.T) {
	app := newApp(t, testConfig(t, "off"), "test")
	defer app.Close(context.Background())

	_, loader, err := LoadConfig("", map[string]any{"store.engine": "memory"})
	if err != nil {
		t.Fatal(err)
	}
	stop, err := app.WatchConfig(loader)
	if err != nil {
		t.Fatalf("WatchConfig() error = %v", err)
	}
	if err := stop(); err != nil {
		t.Errorf("stop() error = %v", err)
	}
}
