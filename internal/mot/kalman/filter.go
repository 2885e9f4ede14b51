package kalman

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StateDim and MeasurementDim describe the filter spaces: the state is
// (x, y, a, h, vx, vy, va, vh) and the measurement is (x, y, a, h), where
// (x, y) is the box centre, a the aspect ratio (w/h) and h the height.
const (
	StateDim       = 8
	MeasurementDim = 4
)

// ErrNotPositiveDefinite is returned when the projected covariance cannot be
// Cholesky factorised.
var ErrNotPositiveDefinite = errors.New("kalman: projected covariance is not positive definite")

// Measurement is a single (x, y, a, h) observation.
type Measurement [MeasurementDim]float64

// Weights holds the noise weights. Every standard deviation the filter uses
// is one of these weights scaled by the current height estimate.
type Weights struct {
	Position    float64 // centre and height terms
	PositionBox float64 // aspect ratio term
	Velocity    float64 // centre and height velocities
	VelocityBox float64 // aspect ratio velocity
}

// DefaultWeights returns production-default noise weights.
func DefaultWeights() Weights {
	return Weights{
		Position:    0.01,
		PositionBox: 1e-8,
		Velocity:    0.001,
		VelocityBox: 1e-8,
	}
}

// State is a Gaussian over the 8-dimensional track state.
type State struct {
	Mean       *mat.VecDense
	Covariance *mat.SymDense
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s.Mean == nil {
		return State{}
	}
	mean := mat.VecDenseCopyOf(s.Mean)
	cov := mat.NewSymDense(StateDim, nil)
	cov.CopySym(s.Covariance)
	return State{Mean: mean, Covariance: cov}
}

// Initiated reports whether the state has been set by Initiate.
func (s State) Initiated() bool { return s.Mean != nil && s.Covariance != nil }

// Filter is a constant-velocity Kalman filter for bounding boxes in
// (x, y, a, h) space. It is stateless apart from its weights and safe for
// concurrent use.
type Filter struct {
	weights Weights

	motion *mat.Dense // F, 8x8
	update *mat.Dense // H, 4x8
}

// NewFilter builds a filter using the given noise weights.
func NewFilter(w Weights) *Filter {
	// F = I with a unit time step coupling each term to its velocity.
	motion := mat.NewDense(StateDim, StateDim, nil)
	for i := 0; i < StateDim; i++ {
		motion.Set(i, i, 1)
	}
	for i := 0; i < MeasurementDim; i++ {
		motion.Set(i, MeasurementDim+i, 1)
	}

	// H selects the first four state components.
	update := mat.NewDense(MeasurementDim, StateDim, nil)
	for i := 0; i < MeasurementDim; i++ {
		update.Set(i, i, 1)
	}

	return &Filter{weights: w, motion: motion, update: update}
}

// Weights returns the filter's noise weights.
func (f *Filter) Weights() Weights { return f.weights }

// Initiate creates a track state from an unassociated measurement. Velocities
// start at zero and the covariance is diagonal with standard deviations
// proportional to the measured height.
func (f *Filter) Initiate(m Measurement) State {
	mean := mat.NewVecDense(StateDim, nil)
	for i := 0; i < MeasurementDim; i++ {
		mean.SetVec(i, m[i])
	}

	h := m[3]
	w := f.weights
	std := [StateDim]float64{
		2 * w.Position * h,
		2 * w.Position * h,
		2 * w.PositionBox * h,
		2 * w.Position * h,
		10 * w.Velocity * h,
		10 * w.Velocity * h,
		5 * w.VelocityBox * h,
		10 * w.Velocity * h,
	}

	cov := mat.NewSymDense(StateDim, nil)
	for i, s := range std {
		cov.SetSym(i, i, s*s)
	}
	return State{Mean: mean, Covariance: cov}
}

// Predict runs the prediction step and returns the predicted state. The input
// state is not modified.
func (f *Filter) Predict(s State) State {
	h := s.Mean.AtVec(3)
	w := f.weights
	std := [StateDim]float64{
		w.Position * h,
		w.Position * h,
		w.PositionBox * h,
		w.Position * h,
		w.Velocity * h,
		w.Velocity * h,
		w.VelocityBox * h,
		w.Velocity * h,
	}

	mean := mat.NewVecDense(StateDim, nil)
	mean.MulVec(f.motion, s.Mean)

	var fp, fpft mat.Dense
	fp.Mul(f.motion, s.Covariance)
	fpft.Mul(&fp, f.motion.T())

	cov := symmetrize(&fpft, StateDim)
	for i, sd := range std {
		cov.SetSym(i, i, cov.At(i, i)+sd*sd)
	}
	return State{Mean: mean, Covariance: cov}
}

// Project maps the state distribution into measurement space.
func (f *Filter) Project(s State) (*mat.VecDense, *mat.SymDense) {
	h := s.Mean.AtVec(3)
	w := f.weights
	std := [MeasurementDim]float64{
		w.Position * h,
		w.Position * h,
		w.PositionBox * h,
		w.Position * h,
	}

	mean := mat.NewVecDense(MeasurementDim, nil)
	mean.MulVec(f.update, s.Mean)

	var hp, hpht mat.Dense
	hp.Mul(f.update, s.Covariance)
	hpht.Mul(&hp, f.update.T())

	cov := symmetrize(&hpht, MeasurementDim)
	for i, sd := range std {
		cov.SetSym(i, i, cov.At(i, i)+sd*sd)
	}
	return mean, cov
}

// Update runs the correction step against measurement m. The Kalman gain is
// obtained from the Cholesky factor of the projected covariance with a
// forward and a back substitution rather than an explicit inverse.
//
// An all-zero measurement is accepted and produces a large correction.
func (f *Filter) Update(s State, m Measurement) (State, error) {
	projMean, projCov := f.Project(s)

	var chol mat.Cholesky
	if ok := chol.Factorize(projCov); !ok {
		return State{}, ErrNotPositiveDefinite
	}
	var u mat.TriDense
	chol.UTo(&u)

	// (P Hᵀ)ᵀ = H P, shape 4x8.
	var hp mat.Dense
	hp.Mul(f.update, s.Covariance)

	// S Kᵀ = H P with S = Uᵀ U: solve Uᵀ Y = H P, then U Kᵀ = Y.
	var y, gainT mat.Dense
	if err := solveTriangular(&y, u.T(), &hp); err != nil {
		return State{}, fmt.Errorf("forward substitution: %w", err)
	}
	if err := solveTriangular(&gainT, &u, &y); err != nil {
		return State{}, fmt.Errorf("back substitution: %w", err)
	}

	innovation := mat.NewVecDense(MeasurementDim, nil)
	for i := 0; i < MeasurementDim; i++ {
		innovation.SetVec(i, m[i]-projMean.AtVec(i))
	}

	// mean' = mean + K·innovation
	mean := mat.NewVecDense(StateDim, nil)
	mean.MulVec(gainT.T(), innovation)
	mean.AddVec(mean, s.Mean)

	// cov' = P - K S Kᵀ
	var ks, kskt, ksk mat.Dense
	ks.Mul(gainT.T(), projCov)
	kskt.Mul(&ks, &gainT)
	ksk.Sub(s.Covariance, &kskt)

	return State{Mean: mean, Covariance: symmetrize(&ksk, StateDim)}, nil
}

// GatingDistance returns the squared Mahalanobis distance between the
// projected state and each measurement.
func (f *Filter) GatingDistance(s State, measurements []Measurement) ([]float64, error) {
	if len(measurements) == 0 {
		return nil, nil
	}
	projMean, projCov := f.Project(s)

	var chol mat.Cholesky
	if ok := chol.Factorize(projCov); !ok {
		return nil, ErrNotPositiveDefinite
	}
	var l mat.TriDense
	chol.LTo(&l)

	// Column j of d is measurement j minus the projected mean.
	d := mat.NewDense(MeasurementDim, len(measurements), nil)
	for j, m := range measurements {
		for i := 0; i < MeasurementDim; i++ {
			d.Set(i, j, m[i]-projMean.AtVec(i))
		}
	}

	var z mat.Dense
	if err := solveTriangular(&z, &l, d); err != nil {
		return nil, fmt.Errorf("gating substitution: %w", err)
	}

	out := make([]float64, len(measurements))
	for j := range measurements {
		col := mat.Col(nil, j, &z)
		var sum float64
		for _, v := range col {
			sum += v * v
		}
		out[j] = sum
	}
	return out, nil
}

// solveTriangular solves a·x = b for triangular a. Poor conditioning is
// reported by gonum as mat.Condition; the result is still usable so that
// warning is not treated as a failure.
func solveTriangular(dst *mat.Dense, a mat.Matrix, b mat.Matrix) error {
	err := dst.Solve(a, b)
	var cond mat.Condition
	if errors.As(err, &cond) {
		return nil
	}
	return err
}

// symmetrize averages m with its transpose to absorb rounding drift.
func symmetrize(m mat.Matrix, n int) *mat.SymDense {
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return out
}
