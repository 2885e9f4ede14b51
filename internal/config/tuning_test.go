package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

func TestEmptyTuningDefaults(t *testing.T) {
	cfg := EmptyTrackerTuning()

	if cfg.GetKalmanDistThr() != 0.7 {
		t.Errorf("GetKalmanDistThr() = %f, want 0.7", cfg.GetKalmanDistThr())
	}
	if cfg.GetIoUThr() != 0.8 {
		t.Errorf("GetIoUThr() = %f, want 0.8", cfg.GetIoUThr())
	}
	if cfg.GetInitIoUThr() != 0.9 {
		t.Errorf("GetInitIoUThr() = %f, want 0.9", cfg.GetInitIoUThr())
	}
	if cfg.GetKeepTrackedFrames() != 2 || cfg.GetKeepNewFrames() != 2 || cfg.GetKeepLostFrames() != 2 {
		t.Errorf("keep windows = %d/%d/%d, want 2/2/2",
			cfg.GetKeepTrackedFrames(), cfg.GetKeepNewFrames(), cfg.GetKeepLostFrames())
	}
	if !cfg.GetKeepPastMetadata() {
		t.Error("GetKeepPastMetadata() = false, want true")
	}
	if cfg.GetStdWeightPosition() != 0.01 || cfg.GetStdWeightVelocity() != 0.001 {
		t.Errorf("std weights = %g/%g", cfg.GetStdWeightPosition(), cfg.GetStdWeightVelocity())
	}
	if cfg.GetStdWeightPositionBox() != 1e-8 || cfg.GetStdWeightVelocityBox() != 1e-8 {
		t.Errorf("box std weights = %g/%g", cfg.GetStdWeightPositionBox(), cfg.GetStdWeightVelocityBox())
	}
	if cfg.GetClassID() != -1 {
		t.Errorf("GetClassID() = %d, want -1", cfg.GetClassID())
	}
	if got := strings.Join(cfg.GetObjectsBlacklist(), ","); got != "landmarks,depth_mask,class_mask" {
		t.Errorf("GetObjectsBlacklist() = %s", got)
	}
	if cfg.GetDebug() {
		t.Error("GetDebug() = true, want false")
	}
}

func TestDefaultsFileMatchesGetters(t *testing.T) {
	file := MustLoadDefaultConfig()
	empty := EmptyTrackerTuning()

	if file.GetKalmanDistThr() != empty.GetKalmanDistThr() {
		t.Errorf("kalman_dist_thr: file %f, getter %f", file.GetKalmanDistThr(), empty.GetKalmanDistThr())
	}
	if file.GetIoUThr() != empty.GetIoUThr() || file.GetInitIoUThr() != empty.GetInitIoUThr() {
		t.Error("iou thresholds differ between defaults file and getters")
	}
	if file.GetKeepLostFrames() != empty.GetKeepLostFrames() {
		t.Error("keep_lost_frames differs between defaults file and getters")
	}
	if file.GetStdWeightPositionBox() != empty.GetStdWeightPositionBox() {
		t.Error("std_weight_position_box differs between defaults file and getters")
	}
	if file.GetClassID() != empty.GetClassID() {
		t.Error("class_id differs between defaults file and getters")
	}
	if len(file.GetObjectsBlacklist()) != 3 {
		t.Errorf("objects_blacklist = %v", file.GetObjectsBlacklist())
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracker.json")

	testJSON := `{
  "kalman_dist_thr": 0.5,
  "keep_lost_frames": 30,
  "keep_past_metadata": false,
  "class_id": 1,
  "objects_blacklist": ["user_meta"]
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetKalmanDistThr() != 0.5 {
		t.Errorf("GetKalmanDistThr() = %f, want 0.5", cfg.GetKalmanDistThr())
	}
	if cfg.GetKeepLostFrames() != 30 {
		t.Errorf("GetKeepLostFrames() = %d, want 30", cfg.GetKeepLostFrames())
	}
	if cfg.GetKeepPastMetadata() {
		t.Error("GetKeepPastMetadata() = true, want false")
	}
	if cfg.GetClassID() != 1 {
		t.Errorf("GetClassID() = %d, want 1", cfg.GetClassID())
	}
	if got := cfg.GetObjectsBlacklist(); len(got) != 1 || got[0] != "user_meta" {
		t.Errorf("GetObjectsBlacklist() = %v", got)
	}
	// Unset fields keep their defaults.
	if cfg.GetIoUThr() != 0.8 {
		t.Errorf("GetIoUThr() = %f, want 0.8", cfg.GetIoUThr())
	}
}

func TestLoadTuningConfigYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "tracker.yaml")

	testYAML := `iou_thr: 0.6
keep_new_frames: 5
debug: true
objects_blacklist:
  - landmarks
  - matrix
`
	if err := os.WriteFile(configPath, []byte(testYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetIoUThr() != 0.6 {
		t.Errorf("GetIoUThr() = %f, want 0.6", cfg.GetIoUThr())
	}
	if cfg.GetKeepNewFrames() != 5 {
		t.Errorf("GetKeepNewFrames() = %d, want 5", cfg.GetKeepNewFrames())
	}
	if !cfg.GetDebug() {
		t.Error("GetDebug() = false, want true")
	}
	if got := strings.Join(cfg.GetObjectsBlacklist(), ","); got != "landmarks,matrix" {
		t.Errorf("GetObjectsBlacklist() = %s", got)
	}
}

func TestLoadTuningConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", "/nonexistent/path/to/config.json"},
		{"wrong extension", write("tracker.toml", "iou_thr = 0.5")},
		{"malformed json", write("bad.json", `{"iou_thr": "x"`)},
		{"malformed yaml", write("bad.yaml", "iou_thr: [\n")},
		{"out of range", write("range.json", `{"iou_thr": 1.5}`)},
		{"too large", write("large.json", `{"debug": false`+strings.Repeat(" ", maxFileSize)+`}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTuningConfig(tt.path); err == nil {
				t.Errorf("LoadTuningConfig(%s) succeeded, want error", tt.name)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TrackerTuning
		wantErr bool
	}{
		{name: "empty config is valid", cfg: &TrackerTuning{}},
		{name: "defaults file is valid", cfg: MustLoadDefaultConfig()},
		{name: "zero thresholds", cfg: &TrackerTuning{IoUThr: ptrFloat64(0), KeepLostFrames: ptrInt(0)}},
		{name: "negative kalman threshold", cfg: &TrackerTuning{KalmanDistThr: ptrFloat64(-0.1)}, wantErr: true},
		{name: "iou threshold above one", cfg: &TrackerTuning{IoUThr: ptrFloat64(1.2)}, wantErr: true},
		{name: "init iou threshold above one", cfg: &TrackerTuning{InitIoUThr: ptrFloat64(2)}, wantErr: true},
		{name: "negative lost window", cfg: &TrackerTuning{KeepLostFrames: ptrInt(-1)}, wantErr: true},
		{name: "class id below -1", cfg: &TrackerTuning{ClassID: ptrInt(-2)}, wantErr: true},
		{name: "lambda above one", cfg: &TrackerTuning{AppearanceLambda: ptrFloat64(1.01)}, wantErr: true},
		{name: "unknown blacklist kind", cfg: &TrackerTuning{ObjectsBlacklist: []string{"landmarks", "bogus"}}, wantErr: true},
		{name: "infinite kalman threshold", cfg: &TrackerTuning{KalmanDistThr: ptrFloat64(math.Inf(1))}, wantErr: true},
		{name: "NaN kalman threshold", cfg: &TrackerTuning{KalmanDistThr: ptrFloat64(math.NaN())}, wantErr: true},
		{name: "zero position weight", cfg: &TrackerTuning{StdWeightPosition: ptrFloat64(0)}, wantErr: true},
		{name: "zero velocity weight", cfg: &TrackerTuning{StdWeightVelocity: ptrFloat64(0)}, wantErr: true},
		{name: "zero box weights", cfg: &TrackerTuning{StdWeightPositionBox: ptrFloat64(0), StdWeightVelocityBox: ptrFloat64(0)}, wantErr: true},
		{name: "infinite velocity weight", cfg: &TrackerTuning{StdWeightVelocity: ptrFloat64(math.Inf(1))}, wantErr: true},
		{name: "small positive weights", cfg: &TrackerTuning{StdWeightPositionBox: ptrFloat64(1e-12), StdWeightVelocityBox: ptrFloat64(1e-12)}},
		{name: "debug flag", cfg: &TrackerTuning{Debug: ptrBool(true)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
