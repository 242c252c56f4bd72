// Package registry owns every live faker in one process: it allocates
// instance ids, holds the id→instance map, and exposes the uniform set
// of control operations (load, start, pause, resume, stop, stats,
// delete, list) that a transport layer serves over REST, desktop IPC, or
// in-browser bindings.
package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prxssh/phantom/internal/faker"
	"github.com/prxssh/phantom/internal/metainfo"
	"github.com/prxssh/phantom/internal/stats"
	"golang.org/x/sync/errgroup"
)

// Source names how an instance was created.
type Source int

const (
	SourceManual Source = iota
	SourceWatch
)

func (s Source) String() string {
	if s == SourceWatch {
		return "watch"
	}
	return "manual"
}

var (
	// ErrNotFound is returned for any operation against an unknown id.
	ErrNotFound = errors.New("registry: instance not found")
	// ErrBusy is returned when a mutation is attempted against a
	// Running instance that disallows it.
	ErrBusy = errors.New("registry: instance busy")
)

// EventKind distinguishes the two lifecycle events the registry emits.
type EventKind int

const (
	Created EventKind = iota
	Deleted
)

// Event is published to every subscriber in a single, per-process
// totally-ordered stream.
type Event struct {
	Kind EventKind
	ID   string
}

// instance is the registry's internal {id, source, torrent, config,
// engine} tuple. The registry exclusively owns it; all mutation passes
// through the registry's exported operations.
type instance struct {
	id      string
	source  Source
	torrent *metainfo.Torrent
	config  stats.Config
	engine  *faker.Engine
}

// View is the read-only projection of an instance returned by List.
type View struct {
	ID      string
	Source  Source
	Torrent *metainfo.Torrent
	Config  stats.Config
	Stats   stats.Snapshot
}

// Registry is safe for concurrent use. The map lock is never held across
// I/O; each instance's own mutex (inside its faker.Engine) serializes
// mutation of that instance's runtime state.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*instance

	subMu sync.Mutex
	subs  []chan Event
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{instances: make(map[string]*instance)}
}

// Create allocates a new Idle instance and returns its id.
func (r *Registry) Create(source Source) string {
	id := newID()

	r.mu.Lock()
	for r.instances[id] != nil {
		id = newID()
	}
	r.instances[id] = &instance{id: id, source: source}
	r.mu.Unlock()

	r.publish(Event{Kind: Created, ID: id})
	return id
}

// newID returns a 12-character URL-safe id derived from a fresh UUIDv4.
func newID() string {
	u := uuid.New()
	return base64.RawURLEncoding.EncodeToString(u[:])[:12]
}

// LoadTorrent parses data and attaches it to id. Only permitted while
// the instance is Idle; a second call while still Idle replaces the
// previously loaded torrent.
func (r *Registry) LoadTorrent(id string, data []byte) (*metainfo.Torrent, error) {
	inst, err := r.get(id)
	if err != nil {
		return nil, err
	}

	if inst.engine != nil && inst.engine.Stats().State != stats.Idle {
		return nil, fmt.Errorf("%w: torrent already running", ErrBusy)
	}

	t, err := metainfo.Parse(data)
	if err != nil {
		return nil, err
	}
	t.ShuffleTiers()

	r.mu.Lock()
	inst.torrent = t
	r.mu.Unlock()

	return t, nil
}

// UpdateConfig replaces id's configuration. Disallowed while Running.
func (r *Registry) UpdateConfig(id string, cfg stats.Config) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if inst.engine != nil {
		if uerr := inst.engine.UpdateConfig(cfg); uerr != nil {
			return fmt.Errorf("%w: %v", ErrBusy, uerr)
		}
	}

	r.mu.Lock()
	inst.config = cfg
	r.mu.Unlock()

	return nil
}

// Start transitions id to Starting and begins ticking. If cfg is
// non-nil it replaces the instance's stored configuration first.
func (r *Registry) Start(ctx context.Context, id string, cfg *stats.Config) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	if inst.torrent == nil {
		return fmt.Errorf("registry: instance %s has no torrent loaded", id)
	}
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	if cfg != nil {
		inst.config = *cfg
	}
	if inst.engine == nil {
		inst.engine = faker.New(inst.torrent, inst.config)
	}
	engine := inst.engine
	r.mu.Unlock()

	return engine.Start(ctx)
}

// Pause pauses id's faker. Idempotent.
func (r *Registry) Pause(id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	if inst.engine == nil {
		return fmt.Errorf("%w: not started", faker.ErrInvalidState)
	}
	return inst.engine.Pause()
}

// Resume resumes id's faker. Idempotent.
func (r *Registry) Resume(id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	if inst.engine == nil {
		return fmt.Errorf("%w: not started", faker.ErrInvalidState)
	}
	return inst.engine.Resume()
}

// Stop gracefully stops id's faker. Idempotent.
func (r *Registry) Stop(ctx context.Context, id string) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}
	if inst.engine == nil {
		return nil
	}
	return inst.engine.Stop(ctx)
}

// ManualAnnounce triggers an off-schedule announce for id, returning the
// seeders/leechers counts the tracker reported.
func (r *Registry) ManualAnnounce(ctx context.Context, id string) (seeders, leechers uint32, err error) {
	inst, err := r.get(id)
	if err != nil {
		return 0, 0, err
	}
	if inst.engine == nil {
		return 0, 0, fmt.Errorf("%w: not started", faker.ErrInvalidState)
	}
	return inst.engine.ManualAnnounce(ctx)
}

// Stats returns id's current snapshot.
func (r *Registry) Stats(id string) (stats.Snapshot, error) {
	inst, err := r.get(id)
	if err != nil {
		return stats.Snapshot{}, err
	}
	if inst.engine == nil {
		return stats.Snapshot{State: stats.Idle}, nil
	}
	return inst.engine.Stats(), nil
}

// Delete removes id from the registry. If it is currently Running, a
// best-effort stopped announce is sent first unless force is set.
func (r *Registry) Delete(ctx context.Context, id string, force bool) error {
	inst, err := r.get(id)
	if err != nil {
		return err
	}

	if inst.engine != nil && !force {
		if serr := inst.engine.Stop(ctx); serr != nil {
			return serr
		}
	}

	r.mu.Lock()
	delete(r.instances, id)
	r.mu.Unlock()

	r.publish(Event{Kind: Deleted, ID: id})
	return nil
}

// List returns a snapshot of every instance currently held.
func (r *Registry) List() []View {
	r.mu.RLock()
	views := make([]View, 0, len(r.instances))
	snapshot := make([]*instance, 0, len(r.instances))
	for _, inst := range r.instances {
		snapshot = append(snapshot, inst)
	}
	r.mu.RUnlock()

	for _, inst := range snapshot {
		var snap stats.Snapshot
		if inst.engine != nil {
			snap = inst.engine.Stats()
		} else {
			snap = stats.Snapshot{State: stats.Idle}
		}
		views = append(views, View{
			ID:      inst.id,
			Source:  inst.source,
			Torrent: inst.torrent,
			Config:  inst.config,
			Stats:   snap,
		})
	}
	return views
}

// Subscribe returns a channel of future Created/Deleted events. The
// channel is buffered; slow subscribers may miss events rather than
// block the registry.
func (r *Registry) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

func (r *Registry) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *Registry) get(id string) (*instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return inst, nil
}

// Shutdown stops every Running instance concurrently, bounded by ctx,
// used when the host process is shutting down entirely.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	insts := make([]*instance, 0, len(r.instances))
	for _, inst := range r.instances {
		insts = append(insts, inst)
	}
	r.mu.RUnlock()

	grp, ctx := errgroup.WithContext(ctx)
	for _, inst := range insts {
		inst := inst
		if inst.engine == nil {
			continue
		}
		grp.Go(func() error { return inst.engine.Stop(ctx) })
	}
	return grp.Wait()
}
