// Package engine runs the per-frame multi-object tracking loop for a single
// video stream: Kalman prediction, three association rounds, track creation,
// and lifecycle retirement.
package engine

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/hailo-ai/tappas-tracker/internal/mot/association"
	"github.com/hailo-ai/tappas-tracker/internal/mot/kalman"
	"github.com/hailo-ai/tappas-tracker/internal/mot/lap"
	"github.com/hailo-ai/tappas-tracker/internal/mot/tracks"
)

var (
	// ErrFeatureDimension is returned when a detection's appearance feature
	// differs in length from the features the stream has seen so far.
	ErrFeatureDimension = errors.New("engine: appearance feature dimension mismatch")
	// ErrUnknownTrack is returned by attachment edits on an id that is not live.
	ErrUnknownTrack = errors.New("engine: unknown track")
	// ErrFailed is returned by Update after a frame failed part way through.
	// The engine stays failed until Reset.
	ErrFailed = errors.New("engine: failed, reset required")
)

// Detection is one detector output for the current frame.
type Detection struct {
	Box         tracks.Box
	Confidence  float64
	ClassID     int
	Feature     []float64 // optional appearance embedding
	Payload     any       // caller back-reference, forwarded untouched
	Attachments []tracks.Attachment
}

// Track is the engine's report of one track after a frame.
type Track struct {
	ID          int
	State       tracks.State
	Box         tracks.Box
	Confidence  float64
	ClassID     int
	StartFrame  int
	LastFrame   int
	Missed      int
	Hits        int
	Payload     any
	Attachments []tracks.Attachment
}

// FrameStats summarises the association work of the last Update.
type FrameStats struct {
	FrameID     int
	Detections  int // after the class filter
	Pool        int // Tracked+Lost tracks entering Round 1
	Round1      int // appearance+motion matches
	Round2      int // IoU fallback matches
	Reactivated int // Lost tracks brought back in Round 2
	Activated   int // New tracks confirmed in Round 3
	Demoted     int // Tracked tracks marked Lost
	Created     int // New tracks created from leftover detections
	Removed     int // tracks retired this frame
}

// Option configures an Engine.
type Option func(*Engine)

// WithAttachmentFilter replaces the config blacklist with a custom filter.
func WithAttachmentFilter(f tracks.AttachmentFilter) Option {
	return func(e *Engine) { e.filter = f }
}

// Engine tracks objects across the frames of one stream. All methods are
// safe for concurrent use; Update calls are serialised.
type Engine struct {
	mu sync.Mutex

	id     uuid.UUID
	cfg    Config
	filter tracks.AttachmentFilter
	arena  *tracks.Arena

	tracked     []*tracks.Track
	lost        []*tracks.Track
	unconfirmed []*tracks.Track

	frameID    int
	nextID     int
	featureDim int
	stats      FrameStats
	failed     error
}

// New returns an engine with the given config.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		id:    uuid.New(),
		cfg:   cfg.Clone(),
		arena: tracks.NewArena(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// InstanceID identifies this engine in logs.
func (e *Engine) InstanceID() uuid.UUID { return e.id }

// Config returns a copy of the current config.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone()
}

// SetConfig replaces the config. It takes effect on the next Update.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg.Clone()
	e.mu.Unlock()
	return nil
}

// UpdateConfig applies fn to a copy of the config and installs the result
// if it validates.
func (e *Engine) UpdateConfig(fn func(*Config)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.cfg.Clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	e.cfg = next
	return nil
}

// FrameID returns the number of frames processed since creation or Reset.
func (e *Engine) FrameID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frameID
}

// LastFrameStats returns the statistics of the most recent Update.
func (e *Engine) LastFrameStats() FrameStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Err returns the error that failed the engine, or nil.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

// Reset drops every track and restarts frame and id counters. It also
// clears a previous failure.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracked, e.lost, e.unconfirmed = nil, nil, nil
	e.frameID, e.nextID, e.featureDim = 0, 0, 0
	e.stats = FrameStats{}
	e.failed = nil
	e.arena.Reset()
	diagf("engine %s reset", e.id)
}

// Tracks returns every live track regardless of state, ordered
// Tracked, Lost, New.
func (e *Engine) Tracks() []Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Track, 0, len(e.tracked)+len(e.lost)+len(e.unconfirmed))
	for _, pool := range [][]*tracks.Track{e.tracked, e.lost, e.unconfirmed} {
		for _, t := range pool {
			out = append(out, e.report(t))
		}
	}
	return out
}

// Update processes one frame of detections and returns the tracks to report:
// every Tracked track, and Lost tracks that missed at most
// KeepTrackedFrames frames. With Debug, New tracks and all Lost tracks are
// reported as well.
//
// A numeric failure inside the association rounds is fatal for the stream:
// the frame is left half applied, so every later Update returns ErrFailed
// until Reset.
func (e *Engine) Update(dets []Detection) ([]Track, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failed != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailed, e.failed)
	}

	cfg := e.cfg
	policy := tracks.AttachmentPolicy{
		Arena:    e.arena,
		Filter:   e.attachmentFilter(),
		KeepPast: cfg.KeepPastMetadata,
	}

	obs, err := e.ingest(dets, cfg, policy)
	if err != nil {
		return nil, err
	}

	e.frameID++
	frame := e.frameID
	kf := kalman.NewFilter(cfg.Weights())
	stats := FrameStats{FrameID: frame, Detections: len(obs)}

	for _, t := range e.tracked {
		t.Predict(kf)
	}
	for _, t := range e.lost {
		t.Predict(kf)
	}

	// Round 1: appearance fused with motion over Tracked and Lost tracks.
	pool, dups := joinPools(e.tracked, e.lost)
	for _, t := range dups {
		t.MarkRemoved()
	}
	stats.Pool = len(pool)

	cost := association.AppearanceDistance(pool, obs)
	if err := association.FuseMotion(kf, cost, pool, obs, cfg.AppearanceLambda); err != nil {
		return nil, e.fail(frame, "round 1", err)
	}
	matches, uTracks, uObs, err := lap.Solve(cost, len(pool), len(obs), cfg.KalmanDistThr)
	if err != nil {
		return nil, e.fail(frame, "round 1", err)
	}
	for _, m := range matches {
		t := pool[m.Row]
		if err := t.Update(kf, obs[m.Col], frame, policy); err != nil {
			return nil, e.fail(frame, "round 1", err)
		}
	}
	stats.Round1 = len(matches)

	// Round 2: IoU fallback for what Round 1 left over.
	pool2 := pick(pool, uTracks)
	obs2 := pick(obs, uObs)
	cost = association.TrackIoUDistance(pool2, obs2)
	matches, uTracks, uObs, err = lap.Solve(cost, len(pool2), len(obs2), cfg.IoUThr)
	if err != nil {
		return nil, e.fail(frame, "round 2", err)
	}
	for _, m := range matches {
		t := pool2[m.Row]
		if t.State == tracks.StateLost {
			if err := t.ReActivate(kf, obs2[m.Col], frame, 0, policy); err != nil {
				return nil, e.fail(frame, "round 2", err)
			}
			stats.Reactivated++
			diagf("engine %s frame %d: track %d re-activated", e.id, frame, t.ID)
			continue
		}
		if err := t.Update(kf, obs2[m.Col], frame, policy); err != nil {
			return nil, e.fail(frame, "round 2", err)
		}
	}
	stats.Round2 = len(matches)

	for _, i := range uTracks {
		t := pool2[i]
		t.MarkMissed()
		if t.State == tracks.StateTracked {
			t.MarkLost()
			stats.Demoted++
			diagf("engine %s frame %d: track %d lost", e.id, frame, t.ID)
			continue
		}
		t.AgeInState++
	}

	// Round 3: confirm New tracks that overlap a leftover detection.
	obs3 := pick(obs2, uObs)
	cost = association.TrackIoUDistance(e.unconfirmed, obs3)
	matches, uNew, uObs, err := lap.Solve(cost, len(e.unconfirmed), len(obs3), cfg.InitIoUThr)
	if err != nil {
		return nil, e.fail(frame, "round 3", err)
	}
	for _, m := range matches {
		t := e.unconfirmed[m.Row]
		e.nextID++
		t.Activate(kf, obs3[m.Col], frame, e.nextID, policy)
		diagf("engine %s frame %d: track %d confirmed", e.id, frame, t.ID)
	}
	stats.Activated = len(matches)
	for _, i := range uNew {
		t := e.unconfirmed[i]
		t.MarkMissed()
		t.AgeInState++
	}

	created := make([]*tracks.Track, 0, len(uObs))
	for _, j := range uObs {
		created = append(created, tracks.NewTrack(obs3[j], frame))
	}
	stats.Created = len(created)

	stats.Removed = e.retire(cfg, created)
	e.sweepArena()
	e.stats = stats

	tracef("engine %s frame %d: dets=%d pool=%d r1=%d r2=%d react=%d act=%d lost=%d new=%d removed=%d",
		e.id, frame, stats.Detections, stats.Pool, stats.Round1, stats.Round2,
		stats.Reactivated, stats.Activated, stats.Demoted, stats.Created, stats.Removed)

	return e.output(cfg), nil
}

// ingest converts detections into observations. It runs before any state
// changes so a rejected frame leaves the engine untouched.
func (e *Engine) ingest(dets []Detection, cfg Config, policy tracks.AttachmentPolicy) ([]tracks.Observation, error) {
	dim := e.featureDim
	for _, d := range dets {
		if len(d.Feature) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(d.Feature)
		}
		if len(d.Feature) != dim {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrFeatureDimension, len(d.Feature), dim)
		}
	}
	e.featureDim = dim

	obs := make([]tracks.Observation, 0, len(dets))
	for _, d := range dets {
		if cfg.ClassID != AllClasses && d.ClassID != cfg.ClassID {
			continue
		}
		var feat []float64
		if len(d.Feature) > 0 {
			feat = tracks.NormalizeFeature(slices.Clone(d.Feature))
		}
		obs = append(obs, tracks.Observation{
			Box:         d.Box,
			Confidence:  d.Confidence,
			ClassID:     d.ClassID,
			Feature:     feat,
			Payload:     d.Payload,
			Attachments: policy.Ingest(d.Attachments),
		})
	}
	return obs, nil
}

// retire rebuilds the state pools from scratch and drops expired tracks.
func (e *Engine) retire(cfg Config, created []*tracks.Track) int {
	var tracked, lost, unconfirmed []*tracks.Track
	removed := 0
	all := slices.Concat(e.tracked, e.lost, e.unconfirmed, created)
	for _, t := range all {
		switch t.State {
		case tracks.StateTracked:
			tracked = append(tracked, t)
		case tracks.StateLost:
			if t.AgeInState > cfg.KeepLostFrames {
				t.MarkRemoved()
				removed++
				diagf("engine %s: track %d removed after %d lost frames", e.id, t.ID, t.AgeInState)
				continue
			}
			lost = append(lost, t)
		case tracks.StateNew:
			if t.AgeInState > cfg.KeepNewFrames {
				t.MarkRemoved()
				removed++
				continue
			}
			unconfirmed = append(unconfirmed, t)
		default:
			removed++
		}
	}
	e.tracked, e.lost, e.unconfirmed = tracked, lost, unconfirmed
	return removed
}

func (e *Engine) sweepArena() {
	live := make(map[tracks.AttachmentID]struct{})
	for _, pool := range [][]*tracks.Track{e.tracked, e.lost, e.unconfirmed} {
		for _, t := range pool {
			for _, id := range t.Attachments {
				live[id] = struct{}{}
			}
		}
	}
	e.arena.Retain(live)
}

func (e *Engine) output(cfg Config) []Track {
	out := make([]Track, 0, len(e.tracked)+len(e.lost))
	for _, t := range e.tracked {
		out = append(out, e.report(t))
	}
	for _, t := range e.lost {
		if cfg.Debug || t.Missed <= cfg.KeepTrackedFrames {
			out = append(out, e.report(t))
		}
	}
	if cfg.Debug {
		for _, t := range e.unconfirmed {
			out = append(out, e.report(t))
		}
	}
	return out
}

func (e *Engine) report(t *tracks.Track) Track {
	return Track{
		ID:          t.ID,
		State:       t.State,
		Box:         t.Box,
		Confidence:  t.Confidence,
		ClassID:     t.ClassID,
		StartFrame:  t.StartFrame,
		LastFrame:   t.LastFrame,
		Missed:      t.Missed,
		Hits:        t.Hits,
		Payload:     t.Payload,
		Attachments: e.arena.Resolve(t.Attachments),
	}
}

func (e *Engine) attachmentFilter() tracks.AttachmentFilter {
	if e.filter != nil {
		return e.filter
	}
	return e.cfg.Blacklist()
}

func (e *Engine) fail(frame int, round string, err error) error {
	opsf("engine %s frame %d: %s failed, engine stopped until reset: %v", e.id, frame, round, err)
	e.failed = fmt.Errorf("frame %d %s: %w", frame, round, err)
	return e.failed
}

// AddAttachment stores att on the live track with the given id.
func (e *Engine) AddAttachment(trackID int, att tracks.Attachment) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.find(trackID)
	if t == nil {
		return fmt.Errorf("%w: %d", ErrUnknownTrack, trackID)
	}
	t.Attachments = append(t.Attachments, e.arena.Add(att))
	return nil
}

// RemoveAttachments drops every attachment of kind from the track and
// returns how many were removed.
func (e *Engine) RemoveAttachments(trackID int, kind tracks.AttachmentKind) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.find(trackID)
	if t == nil {
		return 0, fmt.Errorf("%w: %d", ErrUnknownTrack, trackID)
	}
	before := len(t.Attachments)
	t.Attachments = slices.DeleteFunc(t.Attachments, func(id tracks.AttachmentID) bool {
		att, ok := e.arena.Get(id)
		return ok && att.Kind == kind
	})
	return before - len(t.Attachments), nil
}

func (e *Engine) find(id int) *tracks.Track {
	if id <= 0 {
		return nil
	}
	for _, pool := range [][]*tracks.Track{e.tracked, e.lost} {
		for _, t := range pool {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

// joinPools concatenates tracked and lost, keeping the Tracked entry when
// both hold the same id. The Lost duplicates are returned separately.
func joinPools(tracked, lost []*tracks.Track) (pool, dups []*tracks.Track) {
	seen := make(map[int]struct{}, len(tracked))
	pool = make([]*tracks.Track, 0, len(tracked)+len(lost))
	for _, t := range tracked {
		seen[t.ID] = struct{}{}
		pool = append(pool, t)
	}
	for _, t := range lost {
		if _, ok := seen[t.ID]; ok {
			dups = append(dups, t)
			continue
		}
		seen[t.ID] = struct{}{}
		pool = append(pool, t)
	}
	return pool, dups
}

func pick[T any](items []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}
