// Package association builds the track-to-detection cost matrices used by
// the assignment rounds: geometric overlap, appearance distance, and
// appearance fused with Kalman gating.
//
// Every builder returns a nil matrix when either side is empty. Callers
// treat that as "nothing to match" and must not index it.
package association

import (
	"fmt"
	"math"

	"github.com/hailo-ai/tappas-tracker/internal/mot/kalman"
	"github.com/hailo-ai/tappas-tracker/internal/mot/tracks"
	"gonum.org/v1/gonum/floats"
)

// DefaultLambda weights appearance against motion in FuseMotion.
const DefaultLambda = 0.98

// Infeasible marks a pair that must never be matched.
var Infeasible = math.Inf(1)

// IoUDistance returns 1 - IoU for every (a[i], b[j]) pair.
func IoUDistance(a, b []tracks.Box) [][]float64 {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	cost := make([][]float64, len(a))
	for i := range a {
		cost[i] = make([]float64, len(b))
		for j := range b {
			cost[i][j] = 1 - tracks.IoU(a[i], b[j])
		}
	}
	return cost
}

// TrackIoUDistance is IoUDistance between track boxes and observation boxes.
func TrackIoUDistance(trs []*tracks.Track, obs []tracks.Observation) [][]float64 {
	if len(trs) == 0 || len(obs) == 0 {
		return nil
	}
	a := make([]tracks.Box, len(trs))
	for i, t := range trs {
		a[i] = t.Box
	}
	b := make([]tracks.Box, len(obs))
	for j, o := range obs {
		b[j] = o.Box
	}
	return IoUDistance(a, b)
}

// AppearanceDistance returns the Euclidean distance between each track's
// smoothed feature and each observation's raw feature. Pairs where either
// side carries no feature cost 0, leaving the decision to motion gating.
func AppearanceDistance(trs []*tracks.Track, obs []tracks.Observation) [][]float64 {
	if len(trs) == 0 || len(obs) == 0 {
		return nil
	}
	cost := make([][]float64, len(trs))
	for i, t := range trs {
		cost[i] = make([]float64, len(obs))
		for j, o := range obs {
			if len(t.SmoothFeature) == 0 || len(o.Feature) == 0 || len(t.SmoothFeature) != len(o.Feature) {
				continue
			}
			cost[i][j] = floats.Distance(t.SmoothFeature, o.Feature, 2)
		}
	}
	return cost
}

// FuseMotion folds Kalman gating into cost in place. Pairs beyond the
// chi-square gate become Infeasible; the rest cost
// lambda*cost + (1-lambda)*gating.
func FuseMotion(f *kalman.Filter, cost [][]float64, trs []*tracks.Track, obs []tracks.Observation, lambda float64) error {
	if len(cost) == 0 {
		return nil
	}
	if len(cost) != len(trs) {
		return fmt.Errorf("fuse motion: %d cost rows for %d tracks", len(cost), len(trs))
	}

	gate := kalman.GatingThreshold()
	measurements := make([]kalman.Measurement, len(obs))
	for j, o := range obs {
		measurements[j] = o.Box.XYAH()
	}

	for i, t := range trs {
		if !t.Motion.Initiated() {
			for j := range cost[i] {
				cost[i][j] = Infeasible
			}
			continue
		}
		gating, err := f.GatingDistance(t.Motion, measurements)
		if err != nil {
			return fmt.Errorf("fuse motion: track %d: %w", t.ID, err)
		}
		for j, d := range gating {
			if d > gate {
				cost[i][j] = Infeasible
				continue
			}
			cost[i][j] = lambda*cost[i][j] + (1-lambda)*d
		}
	}
	return nil
}
