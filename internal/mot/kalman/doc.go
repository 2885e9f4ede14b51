// Package kalman implements the motion model used by the tracker: a
// constant-velocity Kalman filter over box centre, aspect ratio and height.
//
// The filter itself is stateless; callers own the State values and pass
// them through Initiate, Predict and Update. Gating uses the 95th
// percentile of the chi-square distribution.
//
// No SQL, I/O or logging happens in this package.
package kalman
