package lifecycle

import (
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moduhost/workerd/internal/detector"
	"github.com/moduhost/workerd/internal/registry"
	"github.com/moduhost/workerd/internal/signalfile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeScanner serves canned hash maps keyed by root path and counts walks.
type fakeScanner struct {
	trees map[string]map[string]string
	scans int
}

func (s *fakeScanner) Scan(root string) (map[string]string, error) {
	s.scans++
	out := make(map[string]string, len(s.trees[root]))
	for k, v := range s.trees[root] {
		out[k] = v
	}
	return out, nil
}

func (s *fakeScanner) ReadFile(root, rel string) ([]byte, error) {
	hash, ok := s.trees[root][rel]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(hash), nil
}

func (s *fakeScanner) set(root, rel, hash string) {
	if s.trees[root] == nil {
		s.trees[root] = make(map[string]string)
	}
	s.trees[root][rel] = hash
}

// fakeClassifier returns a configurable classification for changed source.
type fakeClassifier struct {
	result detector.ChangeType
}

func (c *fakeClassifier) Classify(_ []byte) detector.ChangeType { return c.result }

// fakeModule tracks reload calls and returns configured outcomes.
type fakeModule struct {
	info           registry.ModuleInfo
	reloadDiskOK   bool
	reloadConfigOK bool
	diskReloads    int
	configReloads  int
}

func (m *fakeModule) Info() registry.ModuleInfo { return m.info }

func (m *fakeModule) ReloadFromDisk() bool {
	m.diskReloads++
	return m.reloadDiskOK
}

func (m *fakeModule) ReloadConfig() bool {
	m.configReloads++
	return m.reloadConfigOK
}

type testEnv struct {
	scanner    *fakeScanner
	classifier *fakeClassifier
	registry   *registry.MemoryRegistry
	container  *registry.RebindContainer
	module     *fakeModule
	mgr        *Manager
	sigPath    string
}

// newTestEnv builds a booted manager with one module, vendor/a, rooted at
// the synthetic path /mod/a with a single controller source file.
func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	env := &testEnv{
		scanner:    &fakeScanner{trees: map[string]map[string]string{}},
		classifier: &fakeClassifier{result: detector.ChangeRebindable},
		registry:   registry.NewMemoryRegistry(),
		container:  registry.NewRebindContainer(1000),
		sigPath:    filepath.Join(t.TempDir(), signalfile.DefaultFileName),
	}
	env.scanner.set("/mod/a", "Controller.php", "h1")
	env.scanner.set("/mod/a", "view/home.tpl", "t1")

	env.module = &fakeModule{
		info:           registry.ModuleInfo{Code: "vendor/a", Path: "/mod/a"},
		reloadDiskOK:   true,
		reloadConfigOK: true,
	}
	env.registry.Register(env.module)

	if cfg.SignalPath == "" {
		cfg.SignalPath = env.sigPath
	}
	det := detector.New(env.scanner, env.classifier, testLogger())
	env.mgr = New(&Options{
		Config:    cfg,
		Detector:  det,
		Registry:  env.registry,
		Container: env.container,
		Logger:    testLogger(),
	})
	env.mgr.Boot()
	return env
}

func TestBootTransitionsToReady(t *testing.T) {
	env := newTestEnv(t, Config{})
	if got := env.mgr.State(); got != StateReady {
		t.Errorf("State() = %v after Boot, want ready", got)
	}
	if !StateReady.AcceptsRequests() || !StateSwapping.AcceptsRequests() {
		t.Error("ready and swapping must accept requests")
	}
	if StateDraining.AcceptsRequests() || StateTerminated.AcceptsRequests() {
		t.Error("draining and terminated must not accept requests")
	}
}

func TestNoChangeContinues(t *testing.T) {
	env := newTestEnv(t, Config{})
	if got := env.mgr.CheckForChanges(); got != ActionContinue {
		t.Errorf("CheckForChanges() = %v, want continue", got)
	}
}

func TestClassFileChangeDrainsThenTerminates(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.classifier.result = detector.ChangeClassFile

	env.mgr.RequestStarted()
	env.scanner.set("/mod/a", "Controller.php", "h1-changed")

	if got := env.mgr.CheckForChanges(); got != ActionDraining {
		t.Fatalf("CheckForChanges() = %v, want draining", got)
	}
	if got := env.mgr.State(); got != StateDraining {
		t.Fatalf("State() = %v, want draining", got)
	}

	// Drain in progress keeps reporting draining.
	if got := env.mgr.CheckForChanges(); got != ActionDraining {
		t.Fatalf("CheckForChanges() during drain = %v, want draining", got)
	}

	env.mgr.RequestFinished()
	if got := env.mgr.State(); got != StateTerminated {
		t.Fatalf("State() = %v after last request finished, want terminated", got)
	}
	if got := env.mgr.CheckForChanges(); got != ActionTerminate {
		t.Errorf("CheckForChanges() = %v after termination, want terminate", got)
	}
}

func TestDrainTimeoutForcesTermination(t *testing.T) {
	env := newTestEnv(t, Config{DrainTimeout: 10 * time.Second})
	env.classifier.result = detector.ChangeClassFile

	env.mgr.RequestStarted()
	env.scanner.set("/mod/a", "Controller.php", "h1-changed")
	if got := env.mgr.CheckForChanges(); got != ActionDraining {
		t.Fatalf("CheckForChanges() = %v, want draining", got)
	}

	// No RequestFinished ever arrives; advance the clock past the timeout.
	env.mgr.now = func() time.Time { return time.Now().Add(11 * time.Second) }
	if got := env.mgr.CheckForChanges(); got != ActionTerminate {
		t.Fatalf("CheckForChanges() = %v after timeout, want terminate", got)
	}
	if got := env.mgr.State(); got != StateTerminated {
		t.Errorf("State() = %v, want terminated", got)
	}
	if got := env.mgr.InFlight(); got != 1 {
		t.Errorf("InFlight() = %d, want 1 (abandoned request)", got)
	}
}

func TestRebindableChangeRebinds(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.scanner.set("/mod/a", "Controller.php", "h1-changed")

	if got := env.mgr.CheckForChanges(); got != ActionRebound {
		t.Fatalf("CheckForChanges() = %v, want rebound", got)
	}
	if env.module.diskReloads != 1 {
		t.Errorf("diskReloads = %d, want 1", env.module.diskReloads)
	}
	if got := env.mgr.State(); got != StateReady {
		t.Errorf("State() = %v, want ready", got)
	}

	// Snapshot refreshed: the same change is not re-reported.
	if got := env.mgr.CheckForChanges(); got != ActionContinue {
		t.Errorf("CheckForChanges() = %v after rebind, want continue", got)
	}
}

func TestRebindSweepsConfigChanges(t *testing.T) {
	env := newTestEnv(t, Config{})

	// A second, config-only module changed at the same time as the
	// rebindable one; it must be swept into the rebind batch.
	other := &fakeModule{
		info:           registry.ModuleInfo{Code: "vendor/b", Path: "/mod/b"},
		reloadDiskOK:   true,
		reloadConfigOK: true,
	}
	env.scanner.set("/mod/b", "view/list.tpl", "t1")
	env.registry.Register(other)
	env.mgr.Boot()

	env.scanner.set("/mod/a", "Controller.php", "h1-changed")
	env.scanner.set("/mod/b", "view/list.tpl", "t1-changed")

	if got := env.mgr.CheckForChanges(); got != ActionRebound {
		t.Fatalf("CheckForChanges() = %v, want rebound", got)
	}
	if other.diskReloads != 1 {
		t.Errorf("config-only module reloads = %d, want 1 (swept into batch)", other.diskReloads)
	}
}

func TestRebindFailureFallsBackToDrain(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.module.reloadDiskOK = false
	env.scanner.set("/mod/a", "Controller.php", "h1-changed")

	if got := env.mgr.CheckForChanges(); got != ActionDraining {
		t.Fatalf("CheckForChanges() = %v, want draining on rebind failure", got)
	}
	if reason := env.mgr.DrainReason(); reason == "" {
		t.Error("DrainReason() empty, want failure description")
	}
}

func TestRebindMissingModuleFallsBackToDrain(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.registry.Unregister("vendor/a")
	env.scanner.set("/mod/a", "Controller.php", "h1-changed")

	if got := env.mgr.CheckForChanges(); got != ActionDraining {
		t.Fatalf("CheckForChanges() = %v, want draining for unloaded module", got)
	}
}

func TestConfigChangeHotSwaps(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.scanner.set("/mod/a", "view/home.tpl", "t1-changed")

	if got := env.mgr.CheckForChanges(); got != ActionSwapped {
		t.Fatalf("CheckForChanges() = %v, want swapped", got)
	}
	if env.module.configReloads != 1 {
		t.Errorf("configReloads = %d, want 1", env.module.configReloads)
	}
	if env.module.diskReloads != 0 {
		t.Errorf("diskReloads = %d, want 0 for pure config change", env.module.diskReloads)
	}
	if got := env.mgr.CheckForChanges(); got != ActionContinue {
		t.Errorf("CheckForChanges() = %v after swap, want continue", got)
	}
}

func TestSwapFailureFallsBackToDrain(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.module.reloadConfigOK = false
	env.scanner.set("/mod/a", "view/home.tpl", "t1-changed")

	if got := env.mgr.CheckForChanges(); got != ActionDraining {
		t.Fatalf("CheckForChanges() = %v, want draining on swap failure", got)
	}
}

func TestRestartSignalBeginsDrain(t *testing.T) {
	env := newTestEnv(t, Config{})
	if _, err := signalfile.Send(env.sigPath, signalfile.ActionRestart, nil, "deploy"); err != nil {
		t.Fatal(err)
	}

	if got := env.mgr.CheckForChanges(); got != ActionDraining {
		t.Fatalf("CheckForChanges() = %v, want draining on restart signal", got)
	}
	// Read-then-delete: the signal is consumed.
	if sig := signalfile.Check(env.sigPath); sig != nil {
		t.Errorf("signal file still present after consumption: %+v", sig)
	}
}

func TestTerminateSignalTerminatesImmediately(t *testing.T) {
	env := newTestEnv(t, Config{})
	if _, err := signalfile.Send(env.sigPath, signalfile.ActionTerminate, nil, ""); err != nil {
		t.Fatal(err)
	}

	if got := env.mgr.CheckForChanges(); got != ActionTerminate {
		t.Fatalf("CheckForChanges() = %v, want terminate", got)
	}
	if got := env.mgr.State(); got != StateTerminated {
		t.Errorf("State() = %v, want terminated", got)
	}
}

func TestTargetedSwapSignal(t *testing.T) {
	env := newTestEnv(t, Config{})
	if _, err := signalfile.Send(env.sigPath, signalfile.ActionSwap, []string{"vendor/a"}, ""); err != nil {
		t.Fatal(err)
	}

	if got := env.mgr.CheckForChanges(); got != ActionSwapped {
		t.Fatalf("CheckForChanges() = %v, want swapped", got)
	}
	if env.module.configReloads != 1 {
		t.Errorf("configReloads = %d, want 1", env.module.configReloads)
	}
}

func TestUntargetedSwapSignalRoutesDetection(t *testing.T) {
	env := newTestEnv(t, Config{CheckInterval: 1000})
	env.scanner.set("/mod/a", "Controller.php", "h1-changed")

	// The sampling interval would normally skip detection, but an
	// untargeted swap signal forces a full pass.
	if _, err := signalfile.Send(env.sigPath, signalfile.ActionSwap, nil, ""); err != nil {
		t.Fatal(err)
	}
	if got := env.mgr.CheckForChanges(); got != ActionRebound {
		t.Fatalf("CheckForChanges() = %v, want rebound via swap signal", got)
	}
}

func TestStaleSignalDiscarded(t *testing.T) {
	env := newTestEnv(t, Config{})

	writeStaleSignal(t, env.sigPath, -400*time.Second)

	if got := env.mgr.CheckForChanges(); got != ActionContinue {
		t.Fatalf("CheckForChanges() = %v, want continue for stale signal", got)
	}
	if env.module.configReloads != 0 {
		t.Error("stale swap signal must not trigger a swap")
	}
	if sig := signalfile.Check(env.sigPath); sig != nil {
		t.Error("stale signal must still be cleared")
	}
}

func writeStaleSignal(t *testing.T, path string, age time.Duration) {
	t.Helper()
	sig, err := signalfile.Send(path, signalfile.ActionSwap, []string{"vendor/a"}, "")
	if err != nil {
		t.Fatal(err)
	}
	sig.Timestamp = time.Now().Add(age).Unix()
	data, err := json.Marshal(sig)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRebindThresholdBeginsDrain(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.container.Bind("db", "pgsql")
	for range 1001 {
		env.container.Rebind("db", "pgsql")
	}

	if got := env.mgr.CheckForChanges(); got != ActionDraining {
		t.Fatalf("CheckForChanges() = %v, want draining over rebind threshold", got)
	}
}

func TestSamplingIntervalSkipsDetection(t *testing.T) {
	env := newTestEnv(t, Config{CheckInterval: 3})

	baseline := env.scanner.scans
	env.mgr.CheckForChanges()
	env.mgr.CheckForChanges()
	if env.scanner.scans != baseline {
		t.Errorf("detection ran on non-sampled call (scans %d -> %d)", baseline, env.scanner.scans)
	}

	env.mgr.CheckForChanges() // third call samples
	if env.scanner.scans == baseline {
		t.Error("detection did not run on sampled call")
	}
}

func TestRequestAccountingClampsAtZero(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.mgr.RequestFinished() // unbalanced, must not underflow or terminate
	if got := env.mgr.InFlight(); got != 0 {
		t.Errorf("InFlight() = %d, want 0", got)
	}
	if got := env.mgr.State(); got != StateReady {
		t.Errorf("State() = %v, want ready", got)
	}
}
