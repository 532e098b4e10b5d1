package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/moduhost/workerd/internal/detector"
	"github.com/moduhost/workerd/internal/events"
	"github.com/moduhost/workerd/internal/lifecycle"
	"github.com/moduhost/workerd/internal/logging"
	"github.com/moduhost/workerd/internal/registry"
	"github.com/moduhost/workerd/internal/signalfile"
	"github.com/moduhost/workerd/internal/supervisor"
)

type staticScanner struct {
	hashes map[string]string
}

func (s *staticScanner) Scan(root string) (map[string]string, error) {
	out := make(map[string]string, len(s.hashes))
	for rel, hash := range s.hashes {
		out[rel] = hash
	}
	return out, nil
}

func (s *staticScanner) ReadFile(root, rel string) ([]byte, error) {
	return []byte(s.hashes[rel]), nil
}

type staticClassifier struct{}

func (staticClassifier) Classify(source []byte) detector.ChangeType {
	return detector.ChangeRebindable
}

type stubPool struct {
	info supervisor.Info
}

func (p *stubPool) Start(workerID string) error   { return nil }
func (p *stubPool) Stop(workerID string) error    { return nil }
func (p *stubPool) Restart(workerID string) error { return nil }
func (p *stubPool) GetStatus(workerID string) *supervisor.Info {
	info := p.info
	info.ID = workerID
	return &info
}
func (p *stubPool) IsRunning(workerID string) bool { return true }
func (p *stubPool) StopAll()                       {}

type testServer struct {
	server *Server
	ts     *httptest.Server
	sigDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reg := registry.NewMemoryRegistry()
	reg.Register(registry.NewStaticModule(
		registry.ModuleInfo{Code: "vendor/blog", Path: "/srv/modules/blog"}, nil, nil))

	det := detector.New(
		&staticScanner{hashes: map[string]string{"Controller.php": "h1"}},
		staticClassifier{},
		logging.GetLogger("detector"),
	)

	sigDir := t.TempDir()
	mgr := lifecycle.New(&lifecycle.Options{
		Config: lifecycle.Config{
			SignalPath: filepath.Join(sigDir, signalfile.DefaultFileName),
		},
		Detector:  det,
		Registry:  reg,
		Container: registry.NewRebindContainer(0),
		Logger:    logging.GetLogger("lifecycle"),
	})
	mgr.Boot()

	server := NewServer(&Options{
		AuthUsername: "test",
		AuthPassword: "test",
		Manager:      mgr,
		Registry:     reg,
		Detector:     det,
		Pool: &stubPool{info: supervisor.Info{
			State:     supervisor.StateRunning,
			PID:       4242,
			StartedAt: time.Now(),
		}},
		Bus:        events.New(),
		WorkerIDs:  []string{"web-1"},
		SignalPath: filepath.Join(sigDir, signalfile.DefaultFileName),
	})

	ts := httptest.NewServer(server.mux)
	t.Cleanup(ts.Close)
	return &testServer{server: server, ts: ts, sigDir: sigDir}
}

func (e *testServer) get(t *testing.T, path string, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if auth {
		req.SetBasicAuth("test", "test")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func TestHealthEndpointNoAuth(t *testing.T) {
	env := newTestServer(t)

	resp := env.get(t, "/api/health", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 without auth, got %d", resp.StatusCode)
	}
	body := decodeBody[HealthData](t, resp)
	if body.Status != "ok" {
		t.Errorf("Expected status ok, got %q", body.Status)
	}
}

func TestVersionEndpointNoAuth(t *testing.T) {
	env := newTestServer(t)

	resp := env.get(t, "/api/version", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 without auth, got %d", resp.StatusCode)
	}
	body := decodeBody[VersionData](t, resp)
	if body.GoVersion == "" {
		t.Error("Expected go_version to be populated")
	}
}

func TestStatusRequiresAuth(t *testing.T) {
	env := newTestServer(t)

	resp := env.get(t, "/api/status", false)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without credentials, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("WWW-Authenticate"), "Basic") {
		t.Errorf("Expected WWW-Authenticate challenge, got %q", resp.Header.Get("WWW-Authenticate"))
	}
}

func TestStatusRejectsBadCredentials(t *testing.T) {
	env := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/status", nil)
	req.SetBasicAuth("test", "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for bad password, got %d", resp.StatusCode)
	}
}

func TestStatusReportsLifecycleAndWorkers(t *testing.T) {
	env := newTestServer(t)

	resp := env.get(t, "/api/status", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody[StatusData](t, resp)

	if body.State != string(lifecycle.StateReady) {
		t.Errorf("Expected state ready, got %q", body.State)
	}
	if body.BootedAt == "" {
		t.Error("Expected booted_at to be set after Boot")
	}
	if len(body.Workers) != 1 {
		t.Fatalf("Expected 1 worker, got %d", len(body.Workers))
	}
	worker := body.Workers[0]
	if worker.ID != "web-1" {
		t.Errorf("Expected worker id web-1, got %q", worker.ID)
	}
	if worker.State != string(supervisor.StateRunning) {
		t.Errorf("Expected running worker, got %q", worker.State)
	}
	if worker.PID != 4242 {
		t.Errorf("Expected PID 4242, got %d", worker.PID)
	}
}

func TestModulesEndpointListsRegistry(t *testing.T) {
	env := newTestServer(t)

	resp := env.get(t, "/api/modules", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody[ModulesData](t, resp)

	if len(body.Modules) != 1 {
		t.Fatalf("Expected 1 module, got %d", len(body.Modules))
	}
	if body.Modules[0].Code != "vendor/blog" {
		t.Errorf("Expected vendor/blog, got %q", body.Modules[0].Code)
	}
}

func TestSignalEndpointWritesFile(t *testing.T) {
	env := newTestServer(t)

	payload := strings.NewReader(`{"action":"restart","reason":"deploy 1.4.0"}`)
	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/api/signal", payload)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("test", "test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody[SignalData](t, resp)
	if body.ID == "" {
		t.Error("Expected signal id in response")
	}

	sig := signalfile.Check(filepath.Join(env.sigDir, signalfile.DefaultFileName))
	if sig == nil {
		t.Fatal("Expected signal file to exist")
	}
	if sig.Action != signalfile.ActionRestart {
		t.Errorf("Expected restart action, got %q", sig.Action)
	}
	if sig.Reason != "deploy 1.4.0" {
		t.Errorf("Expected reason to round-trip, got %q", sig.Reason)
	}
}

func TestSignalEndpointRejectsUnknownAction(t *testing.T) {
	env := newTestServer(t)

	payload := strings.NewReader(`{"action":"reboot"}`)
	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/api/signal", payload)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("test", "test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 for unknown action, got %d", resp.StatusCode)
	}
}

func TestQueryAuthFallback(t *testing.T) {
	env := newTestServer(t)

	credentials := base64.StdEncoding.EncodeToString([]byte("test:test"))
	resp := env.get(t, "/api/status?auth="+credentials, false)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 with query auth, got %d", resp.StatusCode)
	}
}

func TestLogsEndpointReturnsBufferedEntries(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	env := newTestServer(t)

	logging.GetLogger("lifecycle").Info("API test log line", "key", "value")

	resp := env.get(t, "/api/logs", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody[LogsData](t, resp)

	found := false
	for _, entry := range body.Entries {
		if entry.Message == "API test log line" {
			found = true
			if entry.Module != "lifecycle" {
				t.Errorf("Expected module lifecycle, got %q", entry.Module)
			}
		}
	}
	if !found {
		t.Error("Expected buffered log line in response")
	}
}
