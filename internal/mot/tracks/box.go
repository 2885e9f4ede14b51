package tracks

import (
	"fmt"

	"github.com/hailo-ai/tappas-tracker/internal/mot/kalman"
)

// Box is an axis-aligned rectangle in top-left/width/height form. The
// tracker does not care whether coordinates are normalised or absolute as
// long as one stream sticks to a single convention.
type Box struct {
	X float64 // top-left x
	Y float64 // top-left y
	W float64
	H float64
}

// BoxFromTLBR builds a Box from (xmin, ymin, xmax, ymax) corners.
func BoxFromTLBR(xmin, ymin, xmax, ymax float64) Box {
	return Box{X: xmin, Y: ymin, W: xmax - xmin, H: ymax - ymin}
}

// BoxFromXYAH builds a Box from a centre, aspect ratio and height.
func BoxFromXYAH(cx, cy, aspect, h float64) Box {
	w := aspect * h
	return Box{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}

// TLBR returns the (xmin, ymin, xmax, ymax) corners.
func (b Box) TLBR() (xmin, ymin, xmax, ymax float64) {
	return b.X, b.Y, b.X + b.W, b.Y + b.H
}

// XYAH returns the box as a filter measurement. A zero-height box yields a
// zero aspect ratio instead of dividing by zero.
func (b Box) XYAH() kalman.Measurement {
	var aspect float64
	if b.H != 0 {
		aspect = b.W / b.H
	}
	return kalman.Measurement{b.X + b.W/2, b.Y + b.H/2, aspect, b.H}
}

// Area returns W*H.
func (b Box) Area() float64 { return b.W * b.H }

func (b Box) String() string {
	return fmt.Sprintf("[%.2f,%.2f,%.2f,%.2f]", b.X, b.Y, b.W, b.H)
}

// IoU returns the intersection-over-union of two boxes. Disjoint boxes and
// boxes with no positive union have IoU 0.
func IoU(a, b Box) float64 {
	ax1, ay1, ax2, ay2 := a.TLBR()
	bx1, by1, bx2, by2 := b.TLBR()

	iw := min(ax2, bx2) - max(ax1, bx1)
	ih := min(ay2, by2) - max(ay1, by1)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
