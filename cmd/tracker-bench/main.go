// Command tracker-bench drives several synthetic streams through one shared
// tracker registry, one goroutine per stream, and reports per-stream
// lifecycle counts and frame timings.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/hailo-ai/tappas-tracker/internal/config"
	"github.com/hailo-ai/tappas-tracker/internal/monitoring"
	"github.com/hailo-ai/tappas-tracker/internal/mot/engine"
	"github.com/hailo-ai/tappas-tracker/internal/mot/registry"
	"github.com/hailo-ai/tappas-tracker/internal/mot/tracks"
	"github.com/hailo-ai/tappas-tracker/internal/version"
)

type streamResult struct {
	key        string
	frames     int
	confirmed  int // distinct ids seen
	maxTracks  int
	lostFrames int // reported Lost track-frames
	err        error
}

func main() {
	streams := flag.Int("streams", 4, "number of concurrent streams")
	frames := flag.Int("frames", 300, "frames per stream")
	objects := flag.Int("objects", 12, "synthetic objects per stream")
	featureDim := flag.Int("feature-dim", 0, "appearance feature length (0 disables appearance)")
	dropRate := flag.Float64("drop", 0.05, "probability an object is missed in a frame")
	jitter := flag.Float64("jitter", 1.5, "detection position noise (pixels, stddev)")
	seed := flag.Uint64("seed", 1, "base random seed; stream i uses seed+i")
	configPath := flag.String("config", "", "tuning file (.json/.yaml); defaults apply when empty")
	statsEvery := flag.Duration("stats-interval", 2*time.Second, "interval between stats lines (0 disables)")
	engineLogs := flag.Bool("engine-logs", false, "write engine lifecycle and per-frame logs to stderr")
	showVersion := flag.Bool("version", false, "print version and exit")
	var overrides paramFlag
	flag.Var(&overrides, "set", "override a tracker parameter on all streams, name=value (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	monitoring.Logf("%s: %d streams x %d frames, %d objects", version.String(), *streams, *frames, *objects)
	if *engineLogs {
		engine.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	} else {
		engine.SetLogWriters(os.Stderr, nil, nil)
	}

	tuning := config.EmptyTrackerTuning()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	cfg, err := engine.ConfigFromTuning(tuning)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	reg := registry.New()
	keys := make([]string, *streams)
	for i := range keys {
		keys[i] = fmt.Sprintf("stream-%02d", i)
		if _, err := reg.GetOrCreate(keys[i], cfg); err != nil {
			log.Fatalf("create %s: %v", keys[i], err)
		}
	}
	for _, o := range overrides {
		if err := reg.UpdateParameter(registry.AllStreams, o.name, o.value); err != nil {
			log.Fatalf("-set %s=%s: %v", o.name, o.value, err)
		}
	}

	stop := make(chan struct{})
	if *statsEvery > 0 {
		go func() {
			ticker := time.NewTicker(*statsEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					reg.LogStats()
				case <-stop:
					return
				}
			}
		}()
	}

	start := time.Now()
	results := make([]streamResult, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			sc := newScene(sceneParams{
				objects:    *objects,
				featureDim: *featureDim,
				dropRate:   *dropRate,
				jitter:     *jitter,
				seed:       *seed + uint64(i),
			})
			results[i] = runStream(reg, key, sc, *frames)
		}(i, key)
	}
	wg.Wait()
	close(stop)
	elapsed := time.Since(start)

	reg.LogStats()
	total := 0
	for _, r := range results {
		if r.err != nil {
			monitoring.Logf("%s: failed after %d frames: %v", r.key, r.frames, r.err)
			continue
		}
		total += r.frames
		monitoring.Logf("%s: %d frames, %d ids for %d objects, peak %d tracks, %d lost track-frames",
			r.key, r.frames, r.confirmed, *objects, r.maxTracks, r.lostFrames)
		reg.Remove(r.key)
	}
	monitoring.Logf("%d frames across %d streams in %s (%.0f frames/sec)",
		total, len(keys), elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
}

func runStream(reg *registry.Registry, key string, sc *scene, frames int) streamResult {
	res := streamResult{key: key}
	ids := make(map[int]struct{})
	for f := 0; f < frames; f++ {
		out, err := reg.Update(key, sc.step())
		if err != nil {
			res.err = err
			return res
		}
		res.frames++
		res.maxTracks = max(res.maxTracks, len(out))
		for _, t := range out {
			if t.ID > 0 {
				ids[t.ID] = struct{}{}
			}
			if t.State == tracks.StateLost {
				res.lostFrames++
			}
		}
	}
	res.confirmed = len(ids)
	return res
}
