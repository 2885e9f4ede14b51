package main

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/hailo-ai/tappas-tracker/internal/mot/engine"
	"github.com/hailo-ai/tappas-tracker/internal/mot/tracks"
)

// object is one synthetic target moving at constant velocity.
type object struct {
	box     tracks.Box
	vx, vy  float64
	feature []float64
}

// scene generates detections for one stream. It is deterministic for a
// given seed.
type scene struct {
	rng      *rand.Rand
	objects  []object
	width    float64
	height   float64
	dropRate float64
	jitter   float64
}

type sceneParams struct {
	objects    int
	featureDim int
	dropRate   float64
	jitter     float64
	seed       uint64
}

func newScene(p sceneParams) *scene {
	s := &scene{
		rng:      rand.New(rand.NewPCG(p.seed, p.seed^0x9e3779b97f4a7c15)),
		width:    1920,
		height:   1080,
		dropRate: p.dropRate,
		jitter:   p.jitter,
	}
	for i := 0; i < p.objects; i++ {
		w := 30 + s.rng.Float64()*90
		h := w * (1.5 + s.rng.Float64())
		o := object{
			box: tracks.Box{X: s.rng.Float64() * (s.width - w), Y: s.rng.Float64() * (s.height - h), W: w, H: h},
			vx:  s.rng.NormFloat64() * 4,
			vy:  s.rng.NormFloat64() * 2,
		}
		if p.featureDim > 0 {
			o.feature = make([]float64, p.featureDim)
			for j := range o.feature {
				o.feature[j] = s.rng.NormFloat64()
			}
		}
		s.objects = append(s.objects, o)
	}
	return s
}

// step advances every object one frame and returns the visible detections.
func (s *scene) step() []engine.Detection {
	dets := make([]engine.Detection, 0, len(s.objects))
	for i := range s.objects {
		o := &s.objects[i]
		o.box.X += o.vx
		o.box.Y += o.vy
		if o.box.X < 0 || o.box.X+o.box.W > s.width {
			o.vx = -o.vx
		}
		if o.box.Y < 0 || o.box.Y+o.box.H > s.height {
			o.vy = -o.vy
		}
		if s.rng.Float64() < s.dropRate {
			continue
		}
		b := o.box
		b.X += s.rng.NormFloat64() * s.jitter
		b.Y += s.rng.NormFloat64() * s.jitter
		dets = append(dets, engine.Detection{
			Box:        b,
			Confidence: 0.5 + s.rng.Float64()/2,
			ClassID:    1,
			Feature:    o.feature,
			Payload:    i,
		})
	}
	return dets
}

// paramFlag collects repeated -set name=value flags.
type paramFlag []param

type param struct {
	name  string
	value string
}

func (p *paramFlag) String() string {
	parts := make([]string, len(*p))
	for i, kv := range *p {
		parts[i] = kv.name + "=" + kv.value
	}
	return strings.Join(parts, ",")
}

func (p *paramFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	*p = append(*p, param{name: name, value: strings.TrimSpace(value)})
	return nil
}
