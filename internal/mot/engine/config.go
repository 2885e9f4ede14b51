package engine

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hailo-ai/tappas-tracker/internal/config"
	"github.com/hailo-ai/tappas-tracker/internal/mot/association"
	"github.com/hailo-ai/tappas-tracker/internal/mot/kalman"
	"github.com/hailo-ai/tappas-tracker/internal/mot/tracks"
)

// AllClasses disables the class filter.
const AllClasses = -1

// Config holds the tracking parameters of one engine.
type Config struct {
	KalmanDistThr float64 `validate:"finite,gte=0"` // Round 1 cost limit (fused appearance+motion)
	IoUThr        float64 `validate:"gte=0,lte=1"`  // Round 2 cost limit (1-IoU)
	InitIoUThr    float64 `validate:"gte=0,lte=1"`  // Round 3 cost limit (1-IoU)

	KeepTrackedFrames int `validate:"gte=0"` // frames a demoted track is still reported
	KeepNewFrames     int `validate:"gte=0"` // unmatched frames before a New track is dropped
	KeepLostFrames    int `validate:"gte=0"` // unmatched frames before a Lost track is removed

	KeepPastMetadata bool

	// Kalman noise weights; zero makes the projected covariance singular.
	StdWeightPosition    float64 `validate:"finite,gt=0"`
	StdWeightPositionBox float64 `validate:"finite,gt=0"`
	StdWeightVelocity    float64 `validate:"finite,gt=0"`
	StdWeightVelocityBox float64 `validate:"finite,gt=0"`

	// AppearanceLambda weights appearance against gating distance in Round 1.
	AppearanceLambda float64 `validate:"gte=0,lte=1"`

	ClassID          int `validate:"gte=-1"`
	ObjectsBlacklist []tracks.AttachmentKind

	Debug bool // also report New and every Lost track
}

var validate = config.NewValidator()

// DefaultConfig returns production-default tracking parameters.
func DefaultConfig() Config {
	w := kalman.DefaultWeights()
	return Config{
		KalmanDistThr:        0.7,
		IoUThr:               0.8,
		InitIoUThr:           0.9,
		KeepTrackedFrames:    2,
		KeepNewFrames:        2,
		KeepLostFrames:       2,
		KeepPastMetadata:     true,
		StdWeightPosition:    w.Position,
		StdWeightPositionBox: w.PositionBox,
		StdWeightVelocity:    w.Velocity,
		StdWeightVelocityBox: w.VelocityBox,
		AppearanceLambda:     association.DefaultLambda,
		ClassID:              AllClasses,
		ObjectsBlacklist:     tracks.DefaultBlacklist().Kinds(),
	}
}

// ConfigFromTuning builds a Config from a loaded tuning file.
func ConfigFromTuning(t *config.TrackerTuning) (Config, error) {
	blacklist := make([]tracks.AttachmentKind, 0, len(t.GetObjectsBlacklist()))
	for _, name := range t.GetObjectsBlacklist() {
		k, err := tracks.ParseAttachmentKind(name)
		if err != nil {
			return Config{}, fmt.Errorf("objects_blacklist: %w", err)
		}
		blacklist = append(blacklist, k)
	}
	cfg := Config{
		KalmanDistThr:        t.GetKalmanDistThr(),
		IoUThr:               t.GetIoUThr(),
		InitIoUThr:           t.GetInitIoUThr(),
		KeepTrackedFrames:    t.GetKeepTrackedFrames(),
		KeepNewFrames:        t.GetKeepNewFrames(),
		KeepLostFrames:       t.GetKeepLostFrames(),
		KeepPastMetadata:     t.GetKeepPastMetadata(),
		StdWeightPosition:    t.GetStdWeightPosition(),
		StdWeightPositionBox: t.GetStdWeightPositionBox(),
		StdWeightVelocity:    t.GetStdWeightVelocity(),
		StdWeightVelocityBox: t.GetStdWeightVelocityBox(),
		AppearanceLambda:     t.GetAppearanceLambda(),
		ClassID:              t.GetClassID(),
		ObjectsBlacklist:     blacklist,
		Debug:                t.GetDebug(),
	}
	return cfg, cfg.Validate()
}

// Validate rejects out-of-range parameters.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid tracker config: %w", err)
	}
	return nil
}

// Weights returns the Kalman noise weights.
func (c Config) Weights() kalman.Weights {
	return kalman.Weights{
		Position:    c.StdWeightPosition,
		PositionBox: c.StdWeightPositionBox,
		Velocity:    c.StdWeightVelocity,
		VelocityBox: c.StdWeightVelocityBox,
	}
}

// Blacklist returns the configured attachment blacklist.
func (c Config) Blacklist() tracks.KindBlacklist {
	return tracks.NewKindBlacklist(c.ObjectsBlacklist...)
}

// Clone returns a copy that shares no slices with c.
func (c Config) Clone() Config {
	c.ObjectsBlacklist = slices.Clone(c.ObjectsBlacklist)
	return c
}

// ParameterNames lists the names accepted by With.
var ParameterNames = []string{
	"kalman_dist_thr", "iou_thr", "init_iou_thr",
	"keep_tracked_frames", "keep_new_frames", "keep_lost_frames",
	"keep_past_metadata",
	"std_weight_position", "std_weight_position_box",
	"std_weight_velocity", "std_weight_velocity_box",
	"appearance_lambda", "class_id", "objects_blacklist", "debug",
}

// With returns a copy of c with the named parameter set to value, validated.
// Numbers may be given as any Go numeric type or a numeric string;
// objects_blacklist accepts []tracks.AttachmentKind, []string, or a
// comma-separated string.
func (c Config) With(name string, value any) (Config, error) {
	out := c.Clone()
	var err error
	switch name {
	case "kalman_dist_thr":
		out.KalmanDistThr, err = toFloat(value)
	case "iou_thr":
		out.IoUThr, err = toFloat(value)
	case "init_iou_thr":
		out.InitIoUThr, err = toFloat(value)
	case "keep_tracked_frames":
		out.KeepTrackedFrames, err = toInt(value)
	case "keep_new_frames":
		out.KeepNewFrames, err = toInt(value)
	case "keep_lost_frames":
		out.KeepLostFrames, err = toInt(value)
	case "keep_past_metadata":
		out.KeepPastMetadata, err = toBool(value)
	case "std_weight_position":
		out.StdWeightPosition, err = toFloat(value)
	case "std_weight_position_box":
		out.StdWeightPositionBox, err = toFloat(value)
	case "std_weight_velocity":
		out.StdWeightVelocity, err = toFloat(value)
	case "std_weight_velocity_box":
		out.StdWeightVelocityBox, err = toFloat(value)
	case "appearance_lambda":
		out.AppearanceLambda, err = toFloat(value)
	case "class_id":
		out.ClassID, err = toInt(value)
	case "objects_blacklist":
		out.ObjectsBlacklist, err = toKinds(value)
	case "debug":
		out.Debug, err = toBool(value)
	default:
		return c, fmt.Errorf("unknown tracker parameter %q", name)
	}
	if err != nil {
		return c, fmt.Errorf("parameter %s: %w", name, err)
	}
	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("cannot use %T as a number", v)
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case int32:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	}
	return 0, fmt.Errorf("cannot use %T as an integer", v)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	}
	return false, fmt.Errorf("cannot use %T as a bool", v)
}

func toKinds(v any) ([]tracks.AttachmentKind, error) {
	var names []string
	switch x := v.(type) {
	case []tracks.AttachmentKind:
		return slices.Clone(x), nil
	case []string:
		names = x
	case string:
		if strings.TrimSpace(x) != "" {
			names = strings.Split(x, ",")
		}
	default:
		return nil, fmt.Errorf("cannot use %T as an attachment kind list", v)
	}
	out := make([]tracks.AttachmentKind, 0, len(names))
	for _, n := range names {
		k, err := tracks.ParseAttachmentKind(n)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}
