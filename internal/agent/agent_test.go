package agent_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voxproxy/internal/agent"
)

// newTestAgent builds an agent over a fake upstream with an in-memory
// registry and the given manifest content.
func newTestAgent(t *testing.T, upstream *httptest.Server, manifest string) *agent.Agent {
	t.Helper()

	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := agent.New(agent.Config{
		UpstreamURL:  upstream.URL,
		ManifestPath: path,
	}, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAgentServesInstalledAssetsOffline(t *testing.T) {
	pages := map[string]string{
		"/":              "<html>index</html>",
		"/main":          "<html>main</html>",
		"/static/app.js": "console.log('app')",
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, body) //nolint:errcheck
	}))

	a := newTestAgent(t, upstream, `["/", "/main", "/static/app.js"]`)
	if err := a.Install(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Simulate going offline.
	upstream.Close()

	handler := a.Handler()
	for path, want := range pages {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: status %d, want 200", path, rec.Code)
			continue
		}
		if got := rec.Body.String(); got != want {
			t.Errorf("GET %s: body %q, want %q", path, got, want)
		}
	}

	// Bypassed paths are never served from the store; offline they fail.
	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("GET /api/messages offline: status %d, want 502", rec.Code)
	}
}

func TestAgentInstallSkipsUnchangedManifest(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, "ok") //nolint:errcheck
	}))
	defer upstream.Close()

	a := newTestAgent(t, upstream, `["/", "/main"]`)
	if err := a.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	first := hits.Load()

	if err := a.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := hits.Load(); got != first {
		t.Errorf("unchanged manifest refetched assets: %d fetches, want %d", got, first)
	}
}

func TestAgentInvalidUpstream(t *testing.T) {
	_, err := agent.New(agent.Config{UpstreamURL: "not a url"}, log.New(io.Discard))
	if err == nil {
		t.Error("expected an error for an invalid upstream URL")
	}
}

// A restarted agent must keep serving its persisted generation offline:
// an unchanged manifest installs nothing, and a changed manifest whose
// install fails leaves the persisted generation serving.
func TestAgentRestartServesPersistedStoreOffline(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "content of "+r.URL.Path) //nolint:errcheck
	}))

	cacheDir := t.TempDir()
	manifestPath := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(manifestPath, []byte(`["/", "/main"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := agent.Config{
		UpstreamURL:  upstream.URL,
		ManifestPath: manifestPath,
		CacheDir:     cacheDir,
	}

	a, err := agent.New(cfg, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Install(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Restart offline: fresh agent over the same cache directory with
	// the upstream gone.
	upstream.Close()
	a2, err := agent.New(cfg, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}

	// Unchanged manifest: the persisted generation is adopted and no
	// install is attempted.
	if err := a2.Install(context.Background()); err != nil {
		t.Fatalf("Install after restart with unchanged manifest failed: %v", err)
	}

	handler := a2.Handler()
	req := httptest.NewRequest(http.MethodGet, "/main", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "content of /main" {
		t.Fatalf("GET /main after restart: status %d body %q", rec.Code, rec.Body.String())
	}

	// Changed manifest while offline: the install fails, but the
	// persisted generation keeps serving.
	if err := os.WriteFile(manifestPath, []byte(`["/", "/main", "/extra"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a2.Install(context.Background()); err == nil {
		t.Fatal("expected offline install of a changed manifest to fail")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/main", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "content of /main" {
		t.Errorf("GET /main after failed re-install: status %d body %q", rec.Code, rec.Body.String())
	}
}

func TestAgentFailedInstallLeavesPreviousGeneration(t *testing.T) {
	broken := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken && r.URL.Path == "/main" {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "content of "+r.URL.Path) //nolint:errcheck
	}))
	defer upstream.Close()

	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(`["/"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := agent.New(agent.Config{
		UpstreamURL:  upstream.URL,
		ManifestPath: path,
	}, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	cur := a.Manager().Current()
	if cur == nil {
		t.Fatal("no current generation after install")
	}
	firstVersion := cur.Name()

	// A new manifest including an asset the upstream now refuses must
	// not replace the serving generation.
	broken = true
	if err := os.WriteFile(path, []byte(`["/", "/main"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.Install(context.Background()); err == nil {
		t.Fatal("expected install to fail")
	}

	cur = a.Manager().Current()
	if cur == nil || cur.Name() != firstVersion {
		t.Errorf("failed install disturbed the serving generation")
	}
}
