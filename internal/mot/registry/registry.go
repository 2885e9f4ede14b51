// Package registry maps stream keys to tracking engines. One Registry is
// shared by every stream of a pipeline; each stream drives its own engine.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/hailo-ai/tappas-tracker/internal/monitoring"
	"github.com/hailo-ai/tappas-tracker/internal/mot/engine"
	"github.com/hailo-ai/tappas-tracker/internal/mot/tracks"
	"github.com/hailo-ai/tappas-tracker/internal/timeutil"
)

// AllStreams addresses every registered stream in UpdateParameter and
// UpdateConfig.
const AllStreams = "*"

// ErrUnknownStream is returned for operations on a key that is not registered.
var ErrUnknownStream = errors.New("registry: unknown stream")

type entry struct {
	engine *engine.Engine
	stats  *monitoring.FrameStats
	logf   func(format string, v ...interface{})
}

// Registry is a concurrency-safe map from stream key to engine. The lock
// guards the map only; engines serialise their own updates.
type Registry struct {
	mu         sync.Mutex
	streams    map[string]*entry
	engineOpts []engine.Option
	clock      timeutil.Clock
}

// Option configures a Registry.
type Option func(*Registry)

// WithEngineOptions applies opts to every engine the registry creates.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(r *Registry) { r.engineOpts = append(r.engineOpts, opts...) }
}

// WithClock sets the clock used for frame timing.
func WithClock(c timeutil.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		streams: make(map[string]*entry),
		clock:   timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the engine for key, creating it with cfg on first use.
// cfg is ignored when the stream already exists.
func (r *Registry) GetOrCreate(key string, cfg engine.Config) (*engine.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.streams[key]; ok {
		return e.engine, nil
	}
	eng, err := engine.New(cfg, r.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", key, err)
	}
	e := &entry{
		engine: eng,
		stats:  monitoring.NewFrameStatsWithClock(r.clock),
		logf:   monitoring.StreamLogf(key),
	}
	r.streams[key] = e
	e.logf("tracker %s created", eng.InstanceID())
	return eng, nil
}

// Get returns the engine for key.
func (r *Registry) Get(key string) (*engine.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.streams[key]
	if !ok {
		return nil, false
	}
	return e.engine, true
}

// Remove drops key. Removing an unknown key is a no-op.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	e, ok := r.streams[key]
	delete(r.streams, key)
	r.mu.Unlock()
	if ok {
		e.logf("tracker %s removed after %d frames", e.engine.InstanceID(), e.stats.TotalFrames())
	}
}

// Keys returns the registered stream keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.streams))
	for k := range r.streams {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of registered streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// Update runs one frame on the stream's engine and records its timing.
// The registry lock is only held for the lookup.
func (r *Registry) Update(key string, dets []engine.Detection) ([]engine.Track, error) {
	e, err := r.entry(key)
	if err != nil {
		return nil, err
	}
	start := r.clock.Now()
	out, err := e.engine.Update(dets)
	if err != nil {
		e.stats.AddError()
		e.logf("frame rejected: %v", err)
		return nil, err
	}
	e.stats.AddFrame(len(out), r.clock.Since(start))
	return out, nil
}

// UpdateParameter sets one named parameter on key, or on every stream when
// key is AllStreams. The value is validated once; an invalid value leaves
// every engine unchanged.
func (r *Registry) UpdateParameter(key, name string, value any) error {
	if _, err := engine.DefaultConfig().With(name, value); err != nil {
		return err
	}
	return r.UpdateConfig(key, func(c *engine.Config) {
		next, err := c.With(name, value)
		if err == nil {
			*c = next
		}
	})
}

// UpdateConfig applies fn to the config of key, or of every stream when key
// is AllStreams. Streams whose resulting config is invalid keep their old
// config and the first such error is returned.
func (r *Registry) UpdateConfig(key string, fn func(*engine.Config)) error {
	targets, err := r.targets(key)
	if err != nil {
		return err
	}
	var firstErr error
	for k, e := range targets {
		if err := e.engine.UpdateConfig(fn); err != nil {
			e.logf("config update rejected: %v", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stream %s: %w", k, err)
			}
		}
	}
	if firstErr == nil {
		monitoring.Logf("tracker config updated on %d stream(s)", len(targets))
	}
	return firstErr
}

// Tracks returns every live track of key.
func (r *Registry) Tracks(key string) ([]engine.Track, error) {
	e, err := r.entry(key)
	if err != nil {
		return nil, err
	}
	return e.engine.Tracks(), nil
}

// Reset clears the tracks of key.
func (r *Registry) Reset(key string) error {
	e, err := r.entry(key)
	if err != nil {
		return err
	}
	e.engine.Reset()
	e.logf("tracker %s reset", e.engine.InstanceID())
	return nil
}

// AddAttachment hangs att on a confirmed track of key.
func (r *Registry) AddAttachment(key string, trackID int, att tracks.Attachment) error {
	e, err := r.entry(key)
	if err != nil {
		return err
	}
	return e.engine.AddAttachment(trackID, att)
}

// RemoveAttachments drops every attachment of kind from a track of key.
func (r *Registry) RemoveAttachments(key string, trackID int, kind tracks.AttachmentKind) (int, error) {
	e, err := r.entry(key)
	if err != nil {
		return 0, err
	}
	return e.engine.RemoveAttachments(trackID, kind)
}

// LogStats logs and resets the frame statistics of every stream.
func (r *Registry) LogStats() {
	targets, _ := r.targets(AllStreams)
	keys := make([]string, 0, len(targets))
	for k := range targets {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		targets[k].stats.LogStats(targets[k].logf)
	}
}

func (r *Registry) entry(key string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.streams[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, key)
	}
	return e, nil
}

// targets snapshots the entries addressed by key so engine locks are never
// taken under the registry lock.
func (r *Registry) targets(key string) (map[string]*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key == AllStreams {
		out := make(map[string]*entry, len(r.streams))
		for k, e := range r.streams {
			out[k] = e
		}
		return out, nil
	}
	e, ok := r.streams[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, key)
	}
	return map[string]*entry{key: e}, nil
}
