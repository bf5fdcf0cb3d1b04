package mirror

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zenibako/scenario-sync/scenario"
)

type mirrorHarness struct {
	remote    *scenario.MockRemote
	cache     *scenario.Cache
	workspace *Workspace
	provider  *scenario.Provider
	confirms  int
}

func newMirrorHarness(t *testing.T) *mirrorHarness {
	t.Helper()
	h := &mirrorHarness{remote: scenario.NewMockRemote()}
	h.remote.AddScenario("abc", "Lighthouse")
	h.remote.SetScripts("abc", scenario.Snapshot{
		scenario.SlotSharedLibrary: scenario.Str("const lib = 1"),
		scenario.SlotOnInput:       scenario.Str("return text"),
	})

	h.cache = scenario.NewCache(h.remote, scenario.CacheOptions{})
	h.workspace = NewWorkspace(t.TempDir(), Options{})
	confirmer := scenario.ConfirmFunc(func(context.Context, scenario.ConfirmRequest) (bool, error) {
		h.confirms++
		return true, nil
	})
	saver := scenario.NewSaveCoordinator(h.remote, h.cache.Store(), h.workspace, confirmer, scenario.SaveOptions{})
	h.provider = scenario.NewProvider(h.cache, saver, scenario.OverrideWriter{Cache: h.cache})
	h.workspace.Bind(h.provider)
	return h
}

func readText(t *testing.T, file string) string {
	t.Helper()
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", file, err)
	}
	return string(data)
}

func TestResourcePath(t *testing.T) {
	ws := NewWorkspace("/work", Options{})

	tests := []struct {
		file string
		want string
		ok   bool
	}{
		{file: "/work/abc/onInput.js", want: "abc/onInput", ok: true},
		{file: "/work/abc/scenario.json", want: "abc/scenario.json", ok: true},
		{file: "/work/abc/notes.txt"},
		{file: "/work/abc/onInput"},
		{file: "/work/abc/bogus.js"},
		{file: "/work/abc"},
		{file: "/elsewhere/abc/onInput.js"},
		{file: "/work/abc/nested/onInput.js"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got, ok := ws.ResourcePath(tt.file)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Expected (%q, %v), got (%q, %v)", tt.want, tt.ok, got, ok)
			}
		})
	}
}

func TestPullWritesExistingSlots(t *testing.T) {
	h := newMirrorHarness(t)

	results, err := h.workspace.Pull(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if len(results) != 1 || len(results[0].Written) != 3 {
		t.Fatalf("Expected 2 scripts and the document written, got %+v", results)
	}

	if got := readText(t, h.workspace.ScriptFile("abc", scenario.SlotOnInput)); got != "return text" {
		t.Errorf("Unexpected onInput content %q", got)
	}
	if h.workspace.IsBufferOpen("abc", scenario.SlotOnOutput) {
		t.Error("Expected no file for a slot without server content")
	}
	if got := readText(t, h.workspace.DocumentFile("abc")); !strings.Contains(got, `"title": "Lighthouse"`) {
		t.Errorf("Expected scenario document with title, got %s", got)
	}

	buffers := h.workspace.OpenBuffers("abc")
	if len(buffers) != 2 {
		t.Fatalf("Expected 2 open buffers, got %d", len(buffers))
	}
	for slot, b := range buffers {
		if b.Dirty {
			t.Errorf("Freshly pulled %s should be clean", slot)
		}
	}
	if ids, _ := h.workspace.Scenarios(); len(ids) != 1 || ids[0] != "abc" {
		t.Errorf("Expected workspace to list abc, got %v", ids)
	}
}

func TestPullKeepsDirtyFiles(t *testing.T) {
	h := newMirrorHarness(t)
	ctx := context.Background()
	if _, err := h.workspace.Pull(ctx, "abc"); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	file := h.workspace.ScriptFile("abc", scenario.SlotOnInput)
	if err := os.WriteFile(file, []byte("local edit"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := h.workspace.Pull(ctx, "abc")
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if len(results[0].Skipped) != 1 || results[0].Skipped[0] != file {
		t.Errorf("Expected %s skipped, got %v", file, results[0].Skipped)
	}
	if got := readText(t, file); got != "local edit" {
		t.Errorf("Dirty file was overwritten: %q", got)
	}
}

func TestPushSavesAndCleans(t *testing.T) {
	h := newMirrorHarness(t)
	ctx := context.Background()
	if _, err := h.workspace.Pull(ctx, "abc"); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	file := h.workspace.ScriptFile("abc", scenario.SlotOnInput)
	if err := os.WriteFile(file, []byte("return text.trim()"), 0o644); err != nil {
		t.Fatal(err)
	}

	saved, err := h.workspace.Push(ctx, file)
	if err != nil || !saved {
		t.Fatalf("Expected push to save, got %v, %v", saved, err)
	}
	payloads := h.remote.SavedPayloads()
	if len(payloads) != 1 {
		t.Fatalf("Expected one save, got %d", len(payloads))
	}
	if got := payloads[0].Value(scenario.SlotOnInput); got != "return text.trim()" {
		t.Errorf("Expected pushed content, got %q", got)
	}
	if got := payloads[0].Value(scenario.SlotSharedLibrary); got != "const lib = 1" {
		t.Errorf("Expected untouched slot preserved, got %q", got)
	}
	if h.confirms != 0 {
		t.Errorf("Single dirty slot should not prompt, got %d prompts", h.confirms)
	}
	if dirty, _ := h.workspace.IsDirty(file); dirty {
		t.Error("Expected file clean after save")
	}

	saved, err = h.workspace.Push(ctx, file)
	if err != nil || saved {
		t.Errorf("Expected unchanged push to be a no-op, got %v, %v", saved, err)
	}
}

func TestPushIncludesOtherDirtyFiles(t *testing.T) {
	h := newMirrorHarness(t)
	ctx := context.Background()
	if _, err := h.workspace.Pull(ctx, "abc"); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	onInput := h.workspace.ScriptFile("abc", scenario.SlotOnInput)
	lib := h.workspace.ScriptFile("abc", scenario.SlotSharedLibrary)
	_ = os.WriteFile(onInput, []byte("input v2"), 0o644)
	_ = os.WriteFile(lib, []byte("lib v2"), 0o644)

	saved, err := h.workspace.Push(ctx, onInput)
	if err != nil || !saved {
		t.Fatalf("Expected push to save, got %v, %v", saved, err)
	}
	if h.confirms != 1 {
		t.Errorf("Expected one confirmation, got %d", h.confirms)
	}
	payload := h.remote.SavedPayloads()[0]
	if payload.Value(scenario.SlotSharedLibrary) != "lib v2" || payload.Value(scenario.SlotOnInput) != "input v2" {
		t.Errorf("Expected both edits saved, got %v / %v", payload.Value(scenario.SlotSharedLibrary), payload.Value(scenario.SlotOnInput))
	}
	for _, file := range []string{onInput, lib} {
		if dirty, _ := h.workspace.IsDirty(file); dirty {
			t.Errorf("Expected %s clean after save", file)
		}
	}
}

func TestPushDocumentSetsOverride(t *testing.T) {
	h := newMirrorHarness(t)
	ctx := context.Background()
	if _, err := h.workspace.Pull(ctx, "abc"); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	doc := h.workspace.DocumentFile("abc")
	if err := os.WriteFile(doc, []byte(`{"title":"Lighthouse (draft)"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	saved, err := h.workspace.Push(ctx, doc)
	if err != nil || !saved {
		t.Fatalf("Expected document push, got %v, %v", saved, err)
	}
	if !h.cache.HasLocalOverride("abc") {
		t.Error("Expected document write to set a local override")
	}
	if dirty, _ := h.workspace.IsDirty(doc); dirty {
		t.Error("Expected document clean after push")
	}
}

func TestCloseAllRemovesScripts(t *testing.T) {
	h := newMirrorHarness(t)
	if _, err := h.workspace.Pull(context.Background(), "abc"); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	if err := h.workspace.CloseAll("abc"); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if len(h.workspace.OpenBuffers("abc")) != 0 {
		t.Error("Expected no open buffers after CloseAll")
	}
	if _, err := os.Stat(h.workspace.DocumentFile("abc")); err != nil {
		t.Error("Expected scenario document kept")
	}
}

func TestWatcherPushesEdits(t *testing.T) {
	h := newMirrorHarness(t)
	ctx := context.Background()
	if _, err := h.workspace.Pull(ctx, "abc"); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	w := NewWatcher(h.workspace, WatcherOptions{Debounce: 20 * time.Millisecond})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	file := h.workspace.ScriptFile("abc", scenario.SlotOnInput)
	if err := os.WriteFile(file, []byte("watched edit"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(h.remote.SavedPayloads()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	payloads := h.remote.SavedPayloads()
	if len(payloads) == 0 {
		t.Fatal("Expected watcher to push the edit")
	}
	if got := payloads[0].Value(scenario.SlotOnInput); got != "watched edit" {
		t.Errorf("Expected watched content, got %q", got)
	}

	// The revert write after save must not trigger another push
	time.Sleep(150 * time.Millisecond)
	if n := len(h.remote.SavedPayloads()); n != 1 {
		t.Errorf("Expected exactly one save, got %d", n)
	}
}

func TestWatcherProcessIgnoresCleanFiles(t *testing.T) {
	h := newMirrorHarness(t)
	if _, err := h.workspace.Pull(context.Background(), "abc"); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	w := NewWatcher(h.workspace, WatcherOptions{})

	tests := []string{
		h.workspace.ScriptFile("abc", scenario.SlotOnInput),
		h.workspace.ScriptFile("abc", scenario.SlotOnOutput),
	}
	for _, file := range tests {
		if err := w.Process(context.Background(), file); err != nil {
			t.Errorf("Process(%s) failed: %v", file, err)
		}
	}
	if len(h.remote.SavedPayloads()) != 0 {
		t.Error("Expected no saves for clean or missing files")
	}
}

func TestSyncStateSurvivesRestart(t *testing.T) {
	h := newMirrorHarness(t)
	if _, err := h.workspace.Pull(context.Background(), "abc"); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	reopened := NewWorkspace(h.workspace.Dir(), Options{})
	for slot, b := range reopened.OpenBuffers("abc") {
		if b.Dirty {
			t.Errorf("Expected %s clean after restart", slot)
		}
	}

	file := reopened.ScriptFile("abc", scenario.SlotOnInput)
	if err := os.WriteFile(file, []byte("edited after restart"), 0o644); err != nil {
		t.Fatal(err)
	}
	if dirty, _ := reopened.IsDirty(file); !dirty {
		t.Error("Expected edited file dirty")
	}
	if _, ok := reopened.ResourcePath(filepath.Join(reopened.Dir(), "abc", ManifestName)); ok {
		t.Error("Manifest must not map to a resource")
	}
}
