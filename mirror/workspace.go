package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/zenibako/scenario-sync/messages"
	"github.com/zenibako/scenario-sync/scenario"
)

// ScriptExt is the file extension of mirrored script slots
const ScriptExt = ".js"

// ManifestName is the per-scenario file recording what was last synced
const ManifestName = ".sync.json"

// DefaultPullConcurrency bounds parallel scenario fetches during Pull
const DefaultPullConcurrency = 4

// Options configures a Workspace
type Options struct {
	Logger          *log.Logger
	PullConcurrency int
}

// Workspace mirrors scenarios into a local directory laid out as
// {dir}/{shortId}/{slot}.js and {dir}/{shortId}/scenario.json. It is the
// editor tracker of the file host: a slot file on disk is an open buffer,
// dirty when its text differs from what was last synced. Synced text is
// remembered as a hash in each scenario's manifest so it survives restarts.
type Workspace struct {
	dir         string
	provider    *scenario.Provider
	logger      *log.Logger
	concurrency int

	mu        sync.Mutex
	manifests map[string]manifest // shortID -> manifest
}

// manifest maps a file name inside a scenario directory to the hash of its
// last synced text
type manifest map[string]uint64

var _ scenario.EditorTracker = (*Workspace)(nil)

// NewWorkspace creates a workspace rooted at dir
func NewWorkspace(dir string, opts Options) *Workspace {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	concurrency := opts.PullConcurrency
	if concurrency <= 0 {
		concurrency = DefaultPullConcurrency
	}
	return &Workspace{
		dir:         dir,
		logger:      logger,
		concurrency: concurrency,
		manifests:   make(map[string]manifest),
	}
}

// Bind sets the provider used for pulls and pushes. The provider's save
// coordinator usually tracks this workspace, so the two are built in turn.
func (w *Workspace) Bind(provider *scenario.Provider) {
	w.provider = provider
}

// Dir returns the workspace root
func (w *Workspace) Dir() string {
	return w.dir
}

// ScriptFile returns the file mirroring one slot
func (w *Workspace) ScriptFile(shortID string, slot scenario.ScriptSlot) string {
	return filepath.Join(w.dir, shortID, string(slot)+ScriptExt)
}

// DocumentFile returns the file mirroring the scenario document
func (w *Workspace) DocumentFile(shortID string) string {
	return filepath.Join(w.dir, shortID, messages.ScenarioJSONName)
}

// ResourcePath maps a workspace file to its resource path
func (w *Workspace) ResourcePath(file string) (string, bool) {
	rel, err := filepath.Rel(w.dir, file)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || parts[0] == "" || parts[0] == ".." {
		return "", false
	}
	shortID, name := parts[0], parts[1]

	if name == messages.ScenarioJSONName {
		return messages.NewAddressBuilder(shortID).ScenarioJSONPath(), true
	}
	if slot, ok := scenario.ParseScriptSlot(strings.TrimSuffix(name, ScriptExt)); ok && strings.HasSuffix(name, ScriptExt) {
		return messages.NewAddressBuilder(shortID).ScriptPath(string(slot)), true
	}
	return "", false
}

// Scenarios lists the scenario directories present in the workspace
func (w *Workspace) Scenarios() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace %s: %w", w.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Has reports whether the scenario is mirrored
func (w *Workspace) Has(shortID string) bool {
	info, err := os.Stat(filepath.Join(w.dir, shortID))
	return err == nil && info.IsDir()
}

func (w *Workspace) split(file string) (shortID, name string) {
	return filepath.Base(filepath.Dir(file)), filepath.Base(file)
}

// manifestLocked returns the scenario's manifest, loading it on first use
func (w *Workspace) manifestLocked(shortID string) manifest {
	if m, ok := w.manifests[shortID]; ok {
		return m
	}
	m := manifest{}
	data, err := os.ReadFile(filepath.Join(w.dir, shortID, ManifestName))
	if err == nil {
		if err := json.Unmarshal(data, &m); err != nil {
			w.logger.Warn("Ignoring corrupt sync manifest", "shortId", shortID, "err", err)
			m = manifest{}
		}
	}
	w.manifests[shortID] = m
	return m
}

func (w *Workspace) saveManifestLocked(shortID string) error {
	data, err := json.MarshalIndent(w.manifestLocked(shortID), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sync manifest: %w", err)
	}
	return writeFile(filepath.Join(w.dir, shortID, ManifestName), string(data))
}

func (w *Workspace) markSynced(file, text string) {
	shortID, name := w.split(file)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.manifestLocked(shortID)[name] = xxhash.Sum64String(text)
	if err := w.saveManifestLocked(shortID); err != nil {
		w.logger.Warn("Failed to save sync manifest", "shortId", shortID, "err", err)
	}
}

func (w *Workspace) forgetSynced(file string) {
	shortID, name := w.split(file)
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.manifestLocked(shortID)
	if _, ok := m[name]; !ok {
		return
	}
	delete(m, name)
	if err := w.saveManifestLocked(shortID); err != nil {
		w.logger.Warn("Failed to save sync manifest", "shortId", shortID, "err", err)
	}
}

// matchesSynced reports whether text equals the file's last synced text
func (w *Workspace) matchesSynced(file, text string) bool {
	shortID, name := w.split(file)
	w.mu.Lock()
	defer w.mu.Unlock()
	sum, ok := w.manifestLocked(shortID)[name]
	return ok && sum == xxhash.Sum64String(text)
}

// IsDirty reports whether file differs from its last synced text. A file
// that was never synced is dirty.
func (w *Workspace) IsDirty(file string) (bool, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return false, err
	}
	return !w.matchesSynced(file, string(data)), nil
}

func writeFile(file, text string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(file), err)
	}
	if err := os.WriteFile(file, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	return nil
}

// OpenBuffers returns the slot files present on disk
func (w *Workspace) OpenBuffers(shortID string) map[scenario.ScriptSlot]scenario.Buffer {
	buffers := make(map[scenario.ScriptSlot]scenario.Buffer)
	for _, slot := range scenario.ScriptSlots {
		file := w.ScriptFile(shortID, slot)
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		buffers[slot] = scenario.Buffer{
			Text:  string(data),
			Dirty: !w.matchesSynced(file, string(data)),
		}
	}
	return buffers
}

// IsBufferOpen reports whether the slot file exists
func (w *Workspace) IsBufferOpen(shortID string, slot scenario.ScriptSlot) bool {
	_, err := os.Stat(w.ScriptFile(shortID, slot))
	return err == nil
}

// RevertAll rewrites every present slot file with the saved text
func (w *Workspace) RevertAll(shortID string, saved scenario.Snapshot) error {
	var errs []error
	for _, slot := range scenario.ScriptSlots {
		file := w.ScriptFile(shortID, slot)
		if _, err := os.Stat(file); err != nil {
			continue
		}
		text := saved.Value(slot)
		// Recorded first so the watcher sees its own write as clean
		w.markSynced(file, text)
		if err := writeFile(file, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseAll removes every slot file of the scenario, discarding unsaved edits
func (w *Workspace) CloseAll(shortID string) error {
	var errs []error
	for _, slot := range scenario.ScriptSlots {
		file := w.ScriptFile(shortID, slot)
		w.forgetSynced(file)
		if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", file, err))
		}
	}
	w.logger.Debug("Closed mirrored scripts", "shortId", shortID)
	return errors.Join(errs...)
}

// PullResult summarizes one scenario pull
type PullResult struct {
	ShortID string
	Written []string
	Skipped []string // dirty files left untouched
}

// Pull mirrors the given scenarios, fetching them in parallel. Slots without
// server content get no file. Dirty files are left untouched.
func (w *Workspace) Pull(ctx context.Context, shortIDs ...string) ([]PullResult, error) {
	if w.provider == nil {
		return nil, fmt.Errorf("workspace %s has no provider", w.dir)
	}

	results := make([]PullResult, len(shortIDs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for i, shortID := range shortIDs {
		g.Go(func() error {
			result, err := w.pullOne(ctx, shortID)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (w *Workspace) pullOne(ctx context.Context, shortID string) (PullResult, error) {
	result := PullResult{ShortID: shortID}

	entries, err := w.provider.ReadDirectory(ctx, shortID)
	if err != nil {
		return result, fmt.Errorf("failed to list %s: %w", shortID, err)
	}

	for _, entry := range entries {
		if !entry.Exists {
			continue
		}
		var file string
		if entry.Kind == scenario.ResourceJSON {
			file = w.DocumentFile(shortID)
		} else {
			slot, _ := scenario.ParseScriptSlot(entry.Name)
			file = w.ScriptFile(shortID, slot)
		}

		if dirty, err := w.IsDirty(file); err == nil && dirty {
			w.logger.Warn("Keeping unsaved local file", "file", file)
			result.Skipped = append(result.Skipped, file)
			continue
		}

		data, err := w.provider.Read(ctx, entry.Path)
		if err != nil {
			return result, err
		}
		w.markSynced(file, string(data))
		if err := writeFile(file, string(data)); err != nil {
			return result, err
		}
		result.Written = append(result.Written, file)
	}

	w.logger.Info("Pulled scenario", "shortId", shortID, "written", len(result.Written), "skipped", len(result.Skipped))
	return result, nil
}

// Push sends a workspace file through the provider. It returns false when the
// file is unchanged or the user declined the save.
func (w *Workspace) Push(ctx context.Context, file string) (bool, error) {
	if w.provider == nil {
		return false, fmt.Errorf("workspace %s has no provider", w.dir)
	}
	path, ok := w.ResourcePath(file)
	if !ok {
		return false, fmt.Errorf("%s: %w", file, scenario.ErrResourceNotFound)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", file, err)
	}
	if w.matchesSynced(file, string(data)) {
		return false, nil
	}

	saved, err := w.provider.Write(ctx, path, data)
	if err != nil || !saved {
		return false, err
	}
	if strings.HasSuffix(file, messages.JSONSuffix) {
		w.markSynced(file, string(data))
	}
	return true, nil
}
