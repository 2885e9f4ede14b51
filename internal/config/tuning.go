package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tracker defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// TrackerTuning is the on-disk form of the tracker parameters. Every field
// is optional; the Get* methods fall back to production defaults, so
// partial files are safe. The same keys are accepted by runtime parameter
// updates.
type TrackerTuning struct {
	// Association thresholds
	KalmanDistThr *float64 `json:"kalman_dist_thr,omitempty" yaml:"kalman_dist_thr,omitempty" validate:"omitempty,finite,gte=0"`
	IoUThr        *float64 `json:"iou_thr,omitempty" yaml:"iou_thr,omitempty" validate:"omitempty,gte=0,lte=1"`
	InitIoUThr    *float64 `json:"init_iou_thr,omitempty" yaml:"init_iou_thr,omitempty" validate:"omitempty,gte=0,lte=1"`

	// Lifecycle windows, in frames
	KeepTrackedFrames *int `json:"keep_tracked_frames,omitempty" yaml:"keep_tracked_frames,omitempty" validate:"omitempty,gte=0"`
	KeepNewFrames     *int `json:"keep_new_frames,omitempty" yaml:"keep_new_frames,omitempty" validate:"omitempty,gte=0"`
	KeepLostFrames    *int `json:"keep_lost_frames,omitempty" yaml:"keep_lost_frames,omitempty" validate:"omitempty,gte=0"`

	KeepPastMetadata *bool `json:"keep_past_metadata,omitempty" yaml:"keep_past_metadata,omitempty"`

	// Kalman noise weights
	StdWeightPosition    *float64 `json:"std_weight_position,omitempty" yaml:"std_weight_position,omitempty" validate:"omitempty,finite,gt=0"`
	StdWeightPositionBox *float64 `json:"std_weight_position_box,omitempty" yaml:"std_weight_position_box,omitempty" validate:"omitempty,finite,gt=0"`
	StdWeightVelocity    *float64 `json:"std_weight_velocity,omitempty" yaml:"std_weight_velocity,omitempty" validate:"omitempty,finite,gt=0"`
	StdWeightVelocityBox *float64 `json:"std_weight_velocity_box,omitempty" yaml:"std_weight_velocity_box,omitempty" validate:"omitempty,finite,gt=0"`

	AppearanceLambda *float64 `json:"appearance_lambda,omitempty" yaml:"appearance_lambda,omitempty" validate:"omitempty,gte=0,lte=1"`

	ClassID          *int     `json:"class_id,omitempty" yaml:"class_id,omitempty" validate:"omitempty,gte=-1"`
	ObjectsBlacklist []string `json:"objects_blacklist,omitempty" yaml:"objects_blacklist,omitempty" validate:"omitempty,dive,oneof=classification landmarks depth_mask class_mask matrix unique_id user_meta"`
	Debug            *bool    `json:"debug,omitempty" yaml:"debug,omitempty"`
}

var validate = NewValidator()

// NewValidator returns a validator with the "finite" tag registered, which
// rejects NaN and infinite floats.
func NewValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("finite", isFinite); err != nil {
		panic(err)
	}
	return v
}

func isFinite(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		x := f.Float()
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	}
	return true
}

// EmptyTrackerTuning returns a TrackerTuning with every field unset.
func EmptyTrackerTuning() *TrackerTuning {
	return &TrackerTuning{}
}

// LoadTuningConfig loads a TrackerTuning from a .json, .yaml or .yml file
// of at most 1MB.
func LoadTuningConfig(path string) (*TrackerTuning, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTrackerTuning()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *TrackerTuning {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/mot/engine/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *TrackerTuning) Validate() error {
	return validate.Struct(c)
}

// GetKalmanDistThr returns kalman_dist_thr or the default.
func (c *TrackerTuning) GetKalmanDistThr() float64 {
	if c.KalmanDistThr == nil {
		return 0.7
	}
	return *c.KalmanDistThr
}

// GetIoUThr returns iou_thr or the default.
func (c *TrackerTuning) GetIoUThr() float64 {
	if c.IoUThr == nil {
		return 0.8
	}
	return *c.IoUThr
}

// GetInitIoUThr returns init_iou_thr or the default.
func (c *TrackerTuning) GetInitIoUThr() float64 {
	if c.InitIoUThr == nil {
		return 0.9
	}
	return *c.InitIoUThr
}

func (c *TrackerTuning) GetKeepTrackedFrames() int { return intOr(c.KeepTrackedFrames, 2) }
func (c *TrackerTuning) GetKeepNewFrames() int     { return intOr(c.KeepNewFrames, 2) }
func (c *TrackerTuning) GetKeepLostFrames() int    { return intOr(c.KeepLostFrames, 2) }

// GetKeepPastMetadata returns keep_past_metadata or the default (true).
func (c *TrackerTuning) GetKeepPastMetadata() bool {
	if c.KeepPastMetadata == nil {
		return true
	}
	return *c.KeepPastMetadata
}

func (c *TrackerTuning) GetStdWeightPosition() float64 {
	return floatOr(c.StdWeightPosition, 0.01)
}

func (c *TrackerTuning) GetStdWeightPositionBox() float64 {
	return floatOr(c.StdWeightPositionBox, 1e-8)
}

func (c *TrackerTuning) GetStdWeightVelocity() float64 {
	return floatOr(c.StdWeightVelocity, 0.001)
}

func (c *TrackerTuning) GetStdWeightVelocityBox() float64 {
	return floatOr(c.StdWeightVelocityBox, 1e-8)
}

// GetAppearanceLambda returns appearance_lambda or the default.
func (c *TrackerTuning) GetAppearanceLambda() float64 {
	return floatOr(c.AppearanceLambda, 0.98)
}

// GetClassID returns class_id or -1 (all classes).
func (c *TrackerTuning) GetClassID() int { return intOr(c.ClassID, -1) }

// GetObjectsBlacklist returns objects_blacklist, or the kinds that cannot
// be re-projected onto a moving box when unset.
func (c *TrackerTuning) GetObjectsBlacklist() []string {
	if c.ObjectsBlacklist == nil {
		return []string{"landmarks", "depth_mask", "class_mask"}
	}
	return c.ObjectsBlacklist
}

func (c *TrackerTuning) GetDebug() bool {
	return c.Debug != nil && *c.Debug
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
