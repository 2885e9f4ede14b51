package tracks

import (
	"fmt"

	"github.com/hailo-ai/tappas-tracker/internal/mot/kalman"
	"gonum.org/v1/gonum/floats"
)

// State is the lifecycle state of a track.
type State int

const (
	StateNew     State = iota // created from an unmatched detection, no id yet
	StateTracked              // confirmed and matched recently
	StateLost                 // confirmed but unmatched, may be re-acquired
	StateRemoved              // terminal
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateTracked:
		return "tracked"
	case StateLost:
		return "lost"
	case StateRemoved:
		return "removed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FeatureSmoothing is the EMA factor applied to appearance features.
const FeatureSmoothing = 0.9

// Observation is one detection after ingestion. Feature is L2-normalised
// (or empty); Attachments index the engine's arena.
type Observation struct {
	Box         Box
	Confidence  float64
	ClassID     int
	Feature     []float64
	Payload     any
	Attachments []AttachmentID
}

// Track is one object's identity across frames.
type Track struct {
	ID    int // zero until the track is confirmed
	State State

	Box        Box
	Confidence float64
	ClassID    int
	Motion     kalman.State

	Feature       []float64 // latest raw feature
	SmoothFeature []float64 // unit-norm EMA of raw features

	StartFrame int
	LastFrame  int // last frame the track was matched
	AgeInState int // frames spent unmatched in the current state
	Missed     int // consecutive unmatched frames
	Hits       int // successful associations since creation

	Payload     any
	Attachments []AttachmentID
}

// NewTrack creates an unconfirmed track from an observation. Its motion
// state stays uninitiated until Activate.
func NewTrack(obs Observation, frame int) *Track {
	t := &Track{
		State:       StateNew,
		Box:         obs.Box,
		Confidence:  obs.Confidence,
		ClassID:     obs.ClassID,
		StartFrame:  frame,
		LastFrame:   frame,
		Payload:     obs.Payload,
		Attachments: obs.Attachments,
	}
	t.updateFeature(obs.Feature)
	return t
}

// Activate confirms a New track: the motion state is initiated from the
// observation box and the track receives its permanent id.
func (t *Track) Activate(f *kalman.Filter, obs Observation, frame, id int, policy AttachmentPolicy) {
	t.Motion = f.Initiate(obs.Box.XYAH())
	t.syncBox()
	t.absorb(obs, frame, policy)
	t.ID = id
	t.State = StateTracked
	t.StartFrame = frame
}

// Update corrects an initiated track with a matched observation and marks
// it Tracked.
func (t *Track) Update(f *kalman.Filter, obs Observation, frame int, policy AttachmentPolicy) error {
	motion, err := f.Update(t.Motion, obs.Box.XYAH())
	if err != nil {
		return fmt.Errorf("track %d: %w", t.ID, err)
	}
	t.Motion = motion
	t.syncBox()
	t.absorb(obs, frame, policy)
	t.State = StateTracked
	return nil
}

// ReActivate brings a Lost track back to Tracked. A positive newID replaces
// the track id; otherwise the id is kept.
func (t *Track) ReActivate(f *kalman.Filter, obs Observation, frame, newID int, policy AttachmentPolicy) error {
	if err := t.Update(f, obs, frame, policy); err != nil {
		return err
	}
	if newID > 0 {
		t.ID = newID
	}
	return nil
}

// Predict advances the motion state one frame. Tracks that are not actively
// Tracked have their height velocity zeroed first.
func (t *Track) Predict(f *kalman.Filter) {
	if !t.Motion.Initiated() {
		return
	}
	if t.State != StateTracked {
		t.Motion.Mean.SetVec(7, 0)
	}
	t.Motion = f.Predict(t.Motion)
	t.syncBox()
}

// MarkLost demotes the track and restarts its in-state counter.
func (t *Track) MarkLost() {
	t.State = StateLost
	t.AgeInState = 0
}

// MarkRemoved retires the track.
func (t *Track) MarkRemoved() {
	t.State = StateRemoved
}

// MarkMissed records a frame without a match.
func (t *Track) MarkMissed() {
	t.Missed++
}

// Confirmed reports whether the track has been given an id.
func (t *Track) Confirmed() bool { return t.ID > 0 }

func (t *Track) absorb(obs Observation, frame int, policy AttachmentPolicy) {
	t.Confidence = obs.Confidence
	t.ClassID = obs.ClassID
	t.LastFrame = frame
	t.AgeInState = 0
	t.Missed = 0
	t.Hits++
	t.updateFeature(obs.Feature)
	if policy.Arena != nil {
		t.Attachments = policy.Merge(t.Attachments, obs.Attachments)
	} else {
		t.Attachments = obs.Attachments
	}
	t.Payload = obs.Payload
}

func (t *Track) updateFeature(feat []float64) {
	if len(feat) == 0 {
		return
	}
	t.Feature = append(t.Feature[:0], feat...)
	if len(t.SmoothFeature) != len(feat) {
		t.SmoothFeature = append([]float64(nil), feat...)
	} else {
		floats.Scale(FeatureSmoothing, t.SmoothFeature)
		floats.AddScaled(t.SmoothFeature, 1-FeatureSmoothing, feat)
	}
	NormalizeFeature(t.SmoothFeature)
}

// syncBox derives the rolling box from the motion mean.
func (t *Track) syncBox() {
	m := t.Motion.Mean
	t.Box = BoxFromXYAH(m.AtVec(0), m.AtVec(1), m.AtVec(2), m.AtVec(3))
}

// NormalizeFeature scales v to unit L2 norm in place. A zero vector is left
// unchanged.
func NormalizeFeature(v []float64) []float64 {
	n := floats.Norm(v, 2)
	if n > 0 {
		floats.Scale(1/n, v)
	}
	return v
}
