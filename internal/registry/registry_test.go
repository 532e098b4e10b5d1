package registry

import "testing"

func TestMemoryRegistry(t *testing.T) {
	r := NewMemoryRegistry()
	if got := r.LoadedModule("vendor/a"); got != nil {
		t.Errorf("LoadedModule() = %v, want nil before registration", got)
	}

	r.Register(NewStaticModule(ModuleInfo{Code: "vendor/b", Path: "/mod/b"}, nil, nil))
	r.Register(NewStaticModule(ModuleInfo{Code: "vendor/a", Path: "/mod/a"}, nil, nil))

	if got := r.LoadedModule("vendor/a"); got == nil || got.Info().Path != "/mod/a" {
		t.Errorf("LoadedModule() = %v", got)
	}

	mods := r.Modules()
	if len(mods) != 2 || mods[0].Info().Code != "vendor/a" || mods[1].Info().Code != "vendor/b" {
		t.Errorf("Modules() not sorted by code: %v", mods)
	}

	r.Unregister("vendor/a")
	if got := r.LoadedModule("vendor/a"); got != nil {
		t.Errorf("LoadedModule() = %v after Unregister, want nil", got)
	}
}

func TestStaticModuleHooks(t *testing.T) {
	calls := 0
	m := NewStaticModule(ModuleInfo{Code: "vendor/a"}, func() bool {
		calls++
		return calls > 1 // fail first, succeed after
	}, nil)

	if m.ReloadFromDisk() {
		t.Error("first reload should fail")
	}
	if !m.ReloadFromDisk() {
		t.Error("second reload should succeed")
	}
	if !m.ReloadConfig() {
		t.Error("nil config hook should report success")
	}
}

func TestRebindCountersSurviveReset(t *testing.T) {
	c := NewRebindContainer(3)

	c.Bind("db", "pgsql")
	c.Rebind("db", "mysql")
	c.Rebind("db", "sqlite")
	c.Rebind("cache", "redis")

	if got := c.RebindCount("db"); got != 2 {
		t.Errorf("RebindCount(db) = %d, want 2", got)
	}
	if got := c.TotalRebindCount(); got != 3 {
		t.Errorf("TotalRebindCount() = %d, want 3", got)
	}
	if c.ExceedsRebindThreshold() {
		t.Error("threshold 3 not exceeded at exactly 3 rebinds")
	}

	c.Reset()
	if _, ok := c.Resolve("db"); ok {
		t.Error("Reset() should clear bindings")
	}
	if got := c.TotalRebindCount(); got != 3 {
		t.Errorf("TotalRebindCount() = %d after Reset, want 3 (counters survive)", got)
	}

	c.Rebind("db", "pgsql")
	if !c.ExceedsRebindThreshold() {
		t.Error("threshold 3 exceeded at 4 rebinds")
	}
}

func TestInitialBindDoesNotCount(t *testing.T) {
	c := NewRebindContainer(0)
	c.Bind("db", "pgsql")
	c.Bind("cache", "redis")
	if got := c.TotalRebindCount(); got != 0 {
		t.Errorf("TotalRebindCount() = %d after Bind only, want 0", got)
	}
}
