package main

import (
	"testing"

	"github.com/hailo-ai/tappas-tracker/internal/monitoring"
	"github.com/hailo-ai/tappas-tracker/internal/mot/engine"
	"github.com/hailo-ai/tappas-tracker/internal/mot/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamFlag(t *testing.T) {
	var p paramFlag
	require.NoError(t, p.Set("iou_thr=0.5"))
	require.NoError(t, p.Set(" debug = true "))
	assert.Equal(t, "iou_thr=0.5,debug=true", p.String())

	assert.Error(t, p.Set("novalue"))
	assert.Error(t, p.Set("=1"))
}

func TestSceneDeterministic(t *testing.T) {
	params := sceneParams{objects: 5, featureDim: 8, dropRate: 0.2, jitter: 1, seed: 42}
	a, b := newScene(params), newScene(params)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.step(), b.step())
	}
}

func TestSceneNoDrops(t *testing.T) {
	sc := newScene(sceneParams{objects: 7, seed: 3})
	for i := 0; i < 5; i++ {
		assert.Len(t, sc.step(), 7)
	}
}

func TestRunStream(t *testing.T) {
	monitoring.SetLogger(nil)

	reg := registry.New()
	_, err := reg.GetOrCreate("s", engine.DefaultConfig())
	require.NoError(t, err)

	sc := newScene(sceneParams{objects: 6, featureDim: 16, jitter: 0.5, seed: 7})
	res := runStream(reg, "s", sc, 60)
	require.NoError(t, res.err)
	assert.Equal(t, 60, res.frames)
	assert.Positive(t, res.confirmed)
	assert.Positive(t, res.maxTracks)
}
