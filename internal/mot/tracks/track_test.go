package tracks

import (
	"testing"

	"github.com/hailo-ai/tappas-tracker/internal/mot/kalman"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func testPolicy() AttachmentPolicy {
	return AttachmentPolicy{Arena: NewArena(), Filter: DefaultBlacklist(), KeepPast: true}
}

func TestNewTrack(t *testing.T) {
	t.Parallel()

	obs := Observation{Box: Box{X: 10, Y: 100, W: 30, H: 50}, Confidence: 0.8, Payload: "det-1"}
	tr := NewTrack(obs, 3)

	assert.Equal(t, StateNew, tr.State)
	assert.Zero(t, tr.ID)
	assert.False(t, tr.Confirmed())
	assert.False(t, tr.Motion.Initiated())
	assert.Equal(t, obs.Box, tr.Box)
	assert.Equal(t, 3, tr.StartFrame)
	assert.Equal(t, "det-1", tr.Payload)
}

func TestActivate(t *testing.T) {
	t.Parallel()

	f := kalman.NewFilter(kalman.DefaultWeights())
	tr := NewTrack(Observation{Box: Box{X: 10, Y: 100, W: 30, H: 50}}, 1)
	next := Observation{Box: Box{X: 12, Y: 101, W: 30, H: 50}, Confidence: 0.9, Payload: "det-2"}

	tr.Activate(f, next, 2, 7, testPolicy())

	assert.Equal(t, StateTracked, tr.State)
	assert.Equal(t, 7, tr.ID)
	assert.True(t, tr.Motion.Initiated())
	assert.InDelta(t, 12, tr.Box.X, 1e-9)
	assert.InDelta(t, 101, tr.Box.Y, 1e-9)
	assert.InDelta(t, 30, tr.Box.W, 1e-9)
	assert.InDelta(t, 50, tr.Box.H, 1e-9)
	assert.Equal(t, 0.9, tr.Confidence)
	assert.Equal(t, "det-2", tr.Payload)
	assert.Equal(t, 2, tr.LastFrame)
}

func TestUpdateAndReActivate(t *testing.T) {
	t.Parallel()

	f := kalman.NewFilter(kalman.DefaultWeights())
	tr := NewTrack(Observation{Box: Box{X: 10, Y: 100, W: 30, H: 50}}, 1)
	tr.Activate(f, Observation{Box: Box{X: 10, Y: 100, W: 30, H: 50}}, 2, 1, testPolicy())

	tr.Predict(f)
	require.NoError(t, tr.Update(f, Observation{Box: Box{X: 20, Y: 110, W: 30, H: 50}}, 3, testPolicy()))
	assert.InDelta(t, 18.5714, tr.Box.X, 1e-3)
	assert.InDelta(t, 108.5714, tr.Box.Y, 1e-3)
	assert.Equal(t, 1, tr.ID)

	tr.MarkLost()
	tr.AgeInState = 2
	tr.MarkMissed()
	assert.Equal(t, StateLost, tr.State)

	require.NoError(t, tr.ReActivate(f, Observation{Box: Box{X: 21, Y: 111, W: 30, H: 50}}, 6, 0, testPolicy()))
	assert.Equal(t, StateTracked, tr.State)
	assert.Equal(t, 1, tr.ID, "id kept when no new id is given")
	assert.Zero(t, tr.AgeInState)
	assert.Zero(t, tr.Missed)

	tr.MarkLost()
	require.NoError(t, tr.ReActivate(f, Observation{Box: Box{X: 21, Y: 111, W: 30, H: 50}}, 7, 42, testPolicy()))
	assert.Equal(t, 42, tr.ID)
}

func TestPredictZeroesHeightVelocityWhenNotTracked(t *testing.T) {
	t.Parallel()

	f := kalman.NewFilter(kalman.DefaultWeights())
	tr := NewTrack(Observation{Box: Box{X: 0, Y: 0, W: 10, H: 20}}, 1)
	tr.Activate(f, Observation{Box: Box{X: 0, Y: 0, W: 10, H: 20}}, 1, 1, testPolicy())
	tr.Motion.Mean.SetVec(7, 5)
	tr.MarkLost()

	tr.Predict(f)
	assert.InDelta(t, 20, tr.Box.H, 1e-9)

	// Uninitiated tracks are left alone.
	fresh := NewTrack(Observation{Box: Box{X: 1, Y: 1, W: 1, H: 1}}, 1)
	fresh.Predict(f)
	assert.Equal(t, Box{X: 1, Y: 1, W: 1, H: 1}, fresh.Box)
}

func TestAppearanceSmoothing(t *testing.T) {
	t.Parallel()

	f := kalman.NewFilter(kalman.DefaultWeights())
	box := Box{X: 0, Y: 0, W: 10, H: 20}
	tr := NewTrack(Observation{Box: box, Feature: []float64{1, 0}}, 1)
	assert.InDelta(t, 1, floats.Norm(tr.SmoothFeature, 2), 1e-12)

	tr.Activate(f, Observation{Box: box, Feature: []float64{0, 1}}, 2, 1, testPolicy())

	// 0.9*[1,0] + 0.1*[0,1], renormalised.
	n := floats.Norm([]float64{0.9, 0.1}, 2)
	assert.InDelta(t, 0.9/n, tr.SmoothFeature[0], 1e-12)
	assert.InDelta(t, 0.1/n, tr.SmoothFeature[1], 1e-12)
	assert.InDelta(t, 1, floats.Norm(tr.SmoothFeature, 2), 1e-12)
	assert.Equal(t, []float64{0, 1}, tr.Feature)

	// A detection without a feature leaves the signature alone.
	before := append([]float64(nil), tr.SmoothFeature...)
	require.NoError(t, tr.Update(f, Observation{Box: box}, 3, testPolicy()))
	assert.Equal(t, before, tr.SmoothFeature)
}

func TestAttachmentsFollowTrack(t *testing.T) {
	t.Parallel()

	f := kalman.NewFilter(kalman.DefaultWeights())
	p := testPolicy()
	box := Box{X: 0, Y: 0, W: 10, H: 20}

	first := p.Ingest([]Attachment{{Kind: KindClassification, Value: "dog"}, {Kind: KindUserMeta, Value: 1}})
	tr := NewTrack(Observation{Box: box, Attachments: first}, 1)

	second := p.Ingest([]Attachment{{Kind: KindClassification, Value: "cat"}})
	tr.Activate(f, Observation{Box: box, Attachments: second}, 2, 1, p)

	got := p.Arena.Resolve(tr.Attachments)
	require.Len(t, got, 2)
	assert.Equal(t, "cat", got[0].Value)
	assert.Equal(t, KindUserMeta, got[1].Kind)
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "new", StateNew.String())
	assert.Equal(t, "tracked", StateTracked.String())
	assert.Equal(t, "lost", StateLost.String())
	assert.Equal(t, "removed", StateRemoved.String())
	assert.Equal(t, "state(9)", State(9).String())
}
