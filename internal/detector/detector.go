package detector

import (
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/moduhost/workerd/internal/metrics"
)

// manifestFile is the module package descriptor. It is PHP source but only
// returns a metadata array, so editing it never requires a restart.
const manifestFile = "package.php"

// sourceExtensions are the extensions scanned for named declarations.
// Everything else (templates, styles, scripts, data files) is config-grade.
var sourceExtensions = map[string]bool{
	".php":   true,
	".inc":   true,
	".phtml": true,
}

// Classifier decides whether a changed source file only defines anonymous
// constructs and closures (safe to re-include, Rebindable) or declares named
// types (ClassFile). Implementations must return one of those two values.
type Classifier interface {
	Classify(source []byte) ChangeType
}

// snapshot is the stored baseline for one module.
type snapshot struct {
	path   string
	hashes map[string]string
}

// Detector diffs module source trees against stored baselines and
// classifies what kind of change happened since the last snapshot.
//
// All methods are safe for concurrent use, though the expected caller is a
// single request-handling loop.
type Detector struct {
	scanner    Scanner
	classifier Classifier
	logger     *slog.Logger

	mu          sync.Mutex
	snapshots   map[string]*snapshot
	lastChanges map[string]ChangeType
	trackDirty  bool
	dirty       map[string]bool
}

// New creates a detector using the given scanner and source classifier.
func New(scanner Scanner, classifier Classifier, logger *slog.Logger) *Detector {
	return &Detector{
		scanner:     scanner,
		classifier:  classifier,
		logger:      logger,
		snapshots:   make(map[string]*snapshot),
		lastChanges: make(map[string]ChangeType),
		dirty:       make(map[string]bool),
	}
}

// Snapshot walks modulePath and stores the baseline hash map for moduleCode.
// Call once per module right after the module is loaded.
func (d *Detector) Snapshot(moduleCode, modulePath string) error {
	hashes, err := d.scanner.Scan(modulePath)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshots[moduleCode] = &snapshot{path: modulePath, hashes: hashes}
	delete(d.dirty, moduleCode)
	d.logger.Debug("Module snapshot taken", "module", moduleCode, "files", len(hashes))
	return nil
}

// EnableDirtyTracking turns on dirty-flag gating: modules not marked dirty
// since their last clean detection are reported as unchanged without a
// filesystem walk. Only enable when a directory watcher feeds MarkDirty.
func (d *Detector) EnableDirtyTracking() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trackDirty = true
}

// MarkDirty flags a module so the next detection pass rescans it.
func (d *Detector) MarkDirty(moduleCode string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty[moduleCode] = true
}

// Detect recomputes the module's hash map, diffs it against the baseline and
// returns the highest-severity classification among changed files.
//
// A module without a baseline classifies as ClassFile: unknown modules get
// the heaviest-weight handling, never a silent pass.
func (d *Detector) Detect(moduleCode string) ChangeType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detectLocked(moduleCode)
}

func (d *Detector) detectLocked(moduleCode string) ChangeType {
	start := time.Now()
	result := d.diffModule(moduleCode)
	metrics.ObserveDetection(result.String(), time.Since(start))
	return result
}

func (d *Detector) diffModule(moduleCode string) ChangeType {
	snap, ok := d.snapshots[moduleCode]
	if !ok {
		d.logger.Warn("No snapshot for module, assuming class change", "module", moduleCode)
		return ChangeClassFile
	}
	if d.trackDirty && !d.dirty[moduleCode] {
		return ChangeNone
	}

	current, err := d.scanner.Scan(snap.path)
	if err != nil {
		d.logger.Warn("Module scan failed, assuming class change", "module", moduleCode, "error", err)
		return ChangeClassFile
	}

	changed := diffHashes(snap.hashes, current)
	if len(changed) == 0 {
		delete(d.dirty, moduleCode)
		return ChangeNone
	}

	result := ChangeNone
	for _, rel := range changed {
		result = MaxChange(result, d.classifyFile(snap.path, rel, current))
		if result == ChangeClassFile {
			break
		}
	}
	d.logger.Info("Module change detected", "module", moduleCode, "change", result.String(), "files", len(changed))
	return result
}

// classifyFile applies the severity rules to a single changed file.
func (d *Detector) classifyFile(moduleRoot, rel string, current map[string]string) ChangeType {
	if _, exists := current[rel]; !exists {
		// Deleted file: the definition it backed is already in memory,
		// its absence cannot conflict with a re-include.
		return ChangeRebindable
	}
	if !sourceExtensions[strings.ToLower(filepath.Ext(rel))] {
		return ChangeConfig
	}
	if rel == manifestFile {
		return ChangeConfig
	}

	source, err := d.scanner.ReadFile(moduleRoot, rel)
	if err != nil {
		d.logger.Warn("Unreadable source file, assuming class change", "file", rel, "error", err)
		return ChangeClassFile
	}
	return d.classifier.Classify(source)
}

// DetectAll runs Detect over every snapshotted module and returns the
// modules whose result is not None. The result is also stored as the
// last-detected change set for the derived queries below.
func (d *Detector) DetectAll() map[string]ChangeType {
	d.mu.Lock()
	defer d.mu.Unlock()

	changes := make(map[string]ChangeType)
	for _, code := range d.moduleCodesLocked() {
		if ct := d.detectLocked(code); ct != ChangeNone {
			changes[code] = ct
		}
	}
	d.lastChanges = changes
	return changes
}

// DetectOverall returns the maximum severity across all modules, or None
// when nothing changed.
func (d *Detector) DetectOverall() ChangeType {
	overall := ChangeNone
	for _, ct := range d.DetectAll() {
		overall = MaxChange(overall, ct)
		if overall == ChangeClassFile {
			break
		}
	}
	return overall
}

// HotSwappableModules returns the last-detected modules with pure config
// changes, sorted by module code.
func (d *Detector) HotSwappableModules() []string {
	return d.lastChangedModules(ChangeConfig)
}

// RestartRequiredModules returns the last-detected modules with named class
// changes, sorted by module code.
func (d *Detector) RestartRequiredModules() []string {
	return d.lastChangedModules(ChangeClassFile)
}

// RebindableModules returns the last-detected modules whose changed source
// only defines anonymous constructs, sorted by module code.
func (d *Detector) RebindableModules() []string {
	return d.lastChangedModules(ChangeRebindable)
}

// LastChanges returns a copy of the last-detected change set.
func (d *Detector) LastChanges() map[string]ChangeType {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]ChangeType, len(d.lastChanges))
	for code, ct := range d.lastChanges {
		out[code] = ct
	}
	return out
}

func (d *Detector) lastChangedModules(want ChangeType) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var codes []string
	for code, ct := range d.lastChanges {
		if ct == want {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// RefreshSnapshot re-baselines one module. Call only after the detected
// change was handled, otherwise the change is silently absorbed.
func (d *Detector) RefreshSnapshot(moduleCode string) error {
	d.mu.Lock()
	snap, ok := d.snapshots[moduleCode]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	if err := d.Snapshot(moduleCode, snap.path); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.lastChanges, moduleCode)
	d.mu.Unlock()
	return nil
}

// RefreshAll re-baselines every module.
func (d *Detector) RefreshAll() error {
	d.mu.Lock()
	codes := d.moduleCodesLocked()
	d.mu.Unlock()

	for _, code := range codes {
		if err := d.RefreshSnapshot(code); err != nil {
			return err
		}
	}
	return nil
}

// Modules returns the snapshotted module codes, sorted.
func (d *Detector) Modules() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.moduleCodesLocked()
}

func (d *Detector) moduleCodesLocked() []string {
	codes := make([]string, 0, len(d.snapshots))
	for code := range d.snapshots {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// diffHashes returns the relative paths added, removed or modified between
// baseline and current, sorted for deterministic iteration.
func diffHashes(baseline, current map[string]string) []string {
	var changed []string
	for rel, hash := range current {
		if old, ok := baseline[rel]; !ok || old != hash {
			changed = append(changed, rel)
		}
	}
	for rel := range baseline {
		if _, ok := current[rel]; !ok {
			changed = append(changed, rel)
		}
	}
	sort.Strings(changed)
	return changed
}
