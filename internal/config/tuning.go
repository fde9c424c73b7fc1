package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the thresholds of the extraction core. Defaults match the values the
// reviewer UI was calibrated against; a YAML file can override any subset of them.
type Tuning struct {
	Scheduler SchedulerTuning `yaml:"scheduler"`
	Alignment AlignmentTuning `yaml:"alignment"`
	Matcher   MatcherTuning   `yaml:"matcher"`
	Geometry  GeometryTuning  `yaml:"geometry"`
}

type SchedulerTuning struct {
	RoundSize  int           `yaml:"round_size"`
	RoundDelay time.Duration `yaml:"round_delay"`
}

type AlignmentTuning struct {
	VerticalWindow float64 `yaml:"vertical_window"`
	MinConfidence  float64 `yaml:"min_confidence"`
}

type MatcherTuning struct {
	MinScore    float64 `yaml:"min_score"`
	VendorBonus float64 `yaml:"vendor_bonus"`
	VendorKey   string  `yaml:"vendor_key"`
}

type GeometryTuning struct {
	MinDrawPixels float64 `yaml:"min_draw_pixels"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Scheduler: SchedulerTuning{RoundSize: 5, RoundDelay: 500 * time.Millisecond},
		Alignment: AlignmentTuning{VerticalWindow: 150, MinConfidence: 0.3},
		Matcher:   MatcherTuning{MinScore: 0.2, VendorBonus: 0.3, VendorKey: "vendor_name"},
		Geometry:  GeometryTuning{MinDrawPixels: 10},
	}
}

// LoadTuning returns the defaults when path is empty, otherwise the defaults overlaid with the file.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return DefaultTuning(), fmt.Errorf("parse tuning file: %w", err)
	}
	if t.Scheduler.RoundSize < 1 {
		return DefaultTuning(), fmt.Errorf("round_size must be positive, got %d", t.Scheduler.RoundSize)
	}
	return t, nil
}
