package scenario

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/zenibako/scenario-sync/messages"
)

// ResourceKind tells script slots apart from the structured scenario document
type ResourceKind int

const (
	ResourceScript ResourceKind = iota
	ResourceJSON
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceScript:
		return "script"
	case ResourceJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ResourcePath is a parsed {shortId}/{resource} address
type ResourcePath struct {
	ShortID string
	Name    string
	Kind    ResourceKind
	Slot    ScriptSlot // set for ResourceScript
}

// String renders the canonical path
func (p ResourcePath) String() string {
	return p.ShortID + "/" + p.Name
}

// ParseResourcePath parses a resource address. Names other than the four
// slots and JSON-suffixed documents are not found.
func ParseResourcePath(path string) (ResourcePath, error) {
	shortID, name, ok := messages.SplitPath(path)
	if !ok {
		return ResourcePath{}, fmt.Errorf("%q: %w", path, ErrResourceNotFound)
	}
	if slot, ok := ParseScriptSlot(name); ok {
		return ResourcePath{ShortID: shortID, Name: name, Kind: ResourceScript, Slot: slot}, nil
	}
	if strings.HasSuffix(name, messages.JSONSuffix) && len(name) > len(messages.JSONSuffix) {
		return ResourcePath{ShortID: shortID, Name: name, Kind: ResourceJSON}, nil
	}
	return ResourcePath{}, fmt.Errorf("%q: %w", path, ErrResourceNotFound)
}

// ResourceInfo describes one resource for directory listings
type ResourceInfo struct {
	Path     string
	Name     string
	Kind     ResourceKind
	Exists   bool
	Writable bool
	Size     int
}

// JSONWriter accepts a written scenario document
type JSONWriter interface {
	WriteJSON(ctx context.Context, shortID string, data []byte) error
}

// OverrideWriter stores written scenario documents as the local override model
type OverrideWriter struct {
	Cache *Cache
}

// WriteJSON parses data and replaces the scenario's local override. Malformed
// documents fail with a ValidationError and change nothing.
func (w OverrideWriter) WriteJSON(_ context.Context, shortID string, data []byte) error {
	model, err := ParseEditorJSON(shortID, data)
	if err != nil {
		return err
	}
	w.Cache.SetLocalScenarioOverride(shortID, model)
	return nil
}

// Provider is the path-addressed read/write surface of scenario resources
type Provider struct {
	cache  *Cache
	saver  ScriptSaver
	writer JSONWriter
	fetch  singleflight.Group

	mu        sync.RWMutex
	next      int
	listeners map[int]func(path string)
}

// NewProvider creates a provider. A nil writer puts JSON resources in
// read-only mode.
func NewProvider(cache *Cache, saver ScriptSaver, writer JSONWriter) *Provider {
	return &Provider{
		cache:     cache,
		saver:     saver,
		writer:    writer,
		listeners: make(map[int]func(path string)),
	}
}

// OnDidChangeResource registers a listener for successful writes
func (p *Provider) OnDidChangeResource(fn func(path string)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) fireChanged(path string) {
	p.mu.RLock()
	fns := make([]func(string), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()

	for _, fn := range fns {
		fn(path)
	}
}

// Read returns the resource's content. Script slots come from the cached
// snapshot, fetched first when absent or after a reload request.
func (p *Provider) Read(ctx context.Context, path string) ([]byte, error) {
	res, err := ParseResourcePath(path)
	if err != nil {
		return nil, err
	}

	switch res.Kind {
	case ResourceJSON:
		model, err := p.cache.GetEditorJSON(ctx, res.ShortID)
		if err != nil {
			return nil, err
		}
		return MarshalEditorJSON(model)
	default:
		snap, err := p.snapshot(ctx, res.ShortID)
		if err != nil {
			return nil, err
		}
		return []byte(snap.Value(res.Slot)), nil
	}
}

// snapshot returns the cached scripts, fetching all four slots in one call
// when needed. Concurrent reads of the same scenario share one fetch.
func (p *Provider) snapshot(ctx context.Context, shortID string) (Snapshot, error) {
	store := p.cache.Store()
	reload := store.ConsumeServerReload(shortID)
	if !reload {
		if snap, ok := store.Snapshot(shortID); ok {
			return snap, nil
		}
	}

	v, err, _ := p.fetch.Do(shortID, func() (interface{}, error) {
		state, err := p.cache.Remote().FetchScripts(ctx, shortID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch scripts for %s: %w", shortID, err)
		}
		full := make(Snapshot, len(ScriptSlots))
		for _, slot := range ScriptSlots {
			full[slot] = state.Scripts[slot]
		}
		store.SetSnapshot(shortID, full)
		return full, nil
	})
	if err != nil {
		if reload {
			store.RequestServerReload(shortID)
		}
		return nil, err
	}
	return v.(Snapshot).Clone(), nil
}

// Write stores data at path. Script slots go through the save coordinator;
// JSON documents go to the configured writer. The bool is false when the
// user declined the save.
func (p *Provider) Write(ctx context.Context, path string, data []byte) (bool, error) {
	res, err := ParseResourcePath(path)
	if err != nil {
		return false, err
	}

	switch res.Kind {
	case ResourceJSON:
		if p.writer == nil {
			return false, fmt.Errorf("%s: %w", res, ErrNoWriter)
		}
		if err := p.writer.WriteJSON(ctx, res.ShortID, data); err != nil {
			return false, err
		}
	default:
		if p.saver == nil {
			return false, fmt.Errorf("%s: %w", res, ErrNoWriter)
		}
		saved, err := p.saver.Save(ctx, res.ShortID, res.Slot, string(data))
		if err != nil || !saved {
			return false, err
		}
	}

	p.fireChanged(res.String())
	return true, nil
}

// Delete is never supported; resource paths are fixed by the scenario
func (p *Provider) Delete(_ context.Context, path string) error {
	return fmt.Errorf("delete %s: %w", path, ErrUnsupportedOperation)
}

// Rename is never supported; resource paths are fixed by the scenario
func (p *Provider) Rename(_ context.Context, from, to string) error {
	return fmt.Errorf("rename %s to %s: %w", from, to, ErrUnsupportedOperation)
}

// Stat describes one resource
func (p *Provider) Stat(ctx context.Context, path string) (ResourceInfo, error) {
	res, err := ParseResourcePath(path)
	if err != nil {
		return ResourceInfo{}, err
	}
	if res.Kind == ResourceJSON {
		data, err := p.Read(ctx, path)
		if err != nil {
			return ResourceInfo{}, err
		}
		return ResourceInfo{
			Path:     res.String(),
			Name:     res.Name,
			Kind:     ResourceJSON,
			Exists:   true,
			Writable: p.writer != nil,
			Size:     len(data),
		}, nil
	}

	snap, err := p.snapshot(ctx, res.ShortID)
	if err != nil {
		return ResourceInfo{}, err
	}
	return p.scriptInfo(res.ShortID, res.Slot, snap), nil
}

// ReadDirectory lists the four script slots and the scenario document
func (p *Provider) ReadDirectory(ctx context.Context, shortID string) ([]ResourceInfo, error) {
	snap, err := p.snapshot(ctx, shortID)
	if err != nil {
		return nil, err
	}
	builder := messages.NewAddressBuilder(shortID)

	entries := make([]ResourceInfo, 0, len(ScriptSlots)+1)
	for _, slot := range ScriptSlots {
		entries = append(entries, p.scriptInfo(shortID, slot, snap))
	}
	entries = append(entries, ResourceInfo{
		Path:     builder.ScenarioJSONPath(),
		Name:     messages.ScenarioJSONName,
		Kind:     ResourceJSON,
		Exists:   true,
		Writable: p.writer != nil,
	})
	return entries, nil
}

func (p *Provider) scriptInfo(shortID string, slot ScriptSlot, snap Snapshot) ResourceInfo {
	return ResourceInfo{
		Path:     messages.NewAddressBuilder(shortID).ScriptPath(string(slot)),
		Name:     string(slot),
		Kind:     ResourceScript,
		Exists:   p.cache.Store().EffectiveExists(shortID, slot),
		Writable: p.saver != nil,
		Size:     len(snap.Value(slot)),
	}
}

// ClearCache drops the scenario's script snapshot so the next read refetches
func (p *Provider) ClearCache(shortID string) {
	store := p.cache.Store()
	store.ClearSnapshot(shortID)
	store.RequestServerReload(shortID)
	p.forgetFetch(shortID)
}

// forgetFetch detaches any in-flight snapshot fetch so later reads start a new one
func (p *Provider) forgetFetch(shortID string) {
	p.fetch.Forget(shortID)
}
