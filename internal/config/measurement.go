package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/revlift/revlift/internal/types"
)

// DefaultKey is the fallback entry used when an action type has no
// measurement configuration of its own
const DefaultKey = "default"

// MeasurementWindow describes how impact is measured for one action type
type MeasurementWindow struct {
	// Metric is the per-page daily metric the measurement observes
	Metric types.MetricType

	// MeasurementWindowDays is the length of the post-execution
	// observation window
	// Default: 14, Range: 1-90
	MeasurementWindowDays int

	// BaselineWindowDays is the length of the pre-execution window the
	// baseline is aggregated over
	// Default: 14, Range: 1-90
	BaselineWindowDays int

	// AttributionConfidence is a static weight expressing how plausible it
	// is that an observed change was caused by the action rather than
	// external factors. It is recorded on the measurement, not computed.
	AttributionConfidence decimal.Decimal
}

// Validate checks the window configuration
func (w MeasurementWindow) Validate() error {
	if !w.Metric.IsValid() {
		return fmt.Errorf("invalid metric type: %s", w.Metric)
	}
	if w.MeasurementWindowDays < 1 || w.MeasurementWindowDays > 90 {
		return fmt.Errorf("measurement window must be 1-90 days (got %d)", w.MeasurementWindowDays)
	}
	if w.BaselineWindowDays < 1 || w.BaselineWindowDays > 90 {
		return fmt.Errorf("baseline window must be 1-90 days (got %d)", w.BaselineWindowDays)
	}
	if w.AttributionConfidence.IsNegative() || w.AttributionConfidence.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("attribution confidence must be between 0 and 1 (got %s)", w.AttributionConfidence)
	}
	return nil
}

// MeasurementConfigs maps lowercase action types to their measurement
// windows. A "default" entry must always be present.
type MeasurementConfigs map[string]MeasurementWindow

// DefaultMeasurementConfigs returns the built-in per-action-type windows.
//
// Affiliate changes are judged on clicks over a two-week window; ad
// placement changes on RPM, the metric they directly move; content
// updates on pageviews over a month, since traffic responds slowly.
// Anything unrecognized falls back to revenue over a month.
func DefaultMeasurementConfigs() MeasurementConfigs {
	return MeasurementConfigs{
		"add_affiliate_link": {
			Metric:                types.MetricAffiliateClicks,
			MeasurementWindowDays: 14,
			BaselineWindowDays:    14,
			AttributionConfidence: decimal.RequireFromString("0.7"),
		},
		"update_affiliate_link": {
			Metric:                types.MetricAffiliateClicks,
			MeasurementWindowDays: 14,
			BaselineWindowDays:    14,
			AttributionConfidence: decimal.RequireFromString("0.7"),
		},
		"add_ad_placement": {
			Metric:                types.MetricRPM,
			MeasurementWindowDays: 14,
			BaselineWindowDays:    14,
			AttributionConfidence: decimal.RequireFromString("0.6"),
		},
		"move_ad_placement": {
			Metric:                types.MetricRPM,
			MeasurementWindowDays: 14,
			BaselineWindowDays:    14,
			AttributionConfidence: decimal.RequireFromString("0.6"),
		},
		"update_content": {
			Metric:                types.MetricPageviews,
			MeasurementWindowDays: 30,
			BaselineWindowDays:    30,
			AttributionConfidence: decimal.RequireFromString("0.5"),
		},
		DefaultKey: {
			Metric:                types.MetricAdRevenue,
			MeasurementWindowDays: 30,
			BaselineWindowDays:    30,
			AttributionConfidence: decimal.RequireFromString("0.5"),
		},
	}
}

// ForActionType resolves the window for an action type, falling back to
// the default entry when the type is unrecognized. Lookup is
// case-insensitive since detector naming conventions vary.
func (c MeasurementConfigs) ForActionType(actionType string) MeasurementWindow {
	if w, ok := c[strings.ToLower(actionType)]; ok {
		return w
	}
	return c[DefaultKey]
}

// Validate checks every entry and requires the default to be present
func (c MeasurementConfigs) Validate() error {
	if _, ok := c[DefaultKey]; !ok {
		return fmt.Errorf("measurement configs must include a %q entry", DefaultKey)
	}
	for actionType, w := range c {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("config for %q: %w", actionType, err)
		}
	}
	return nil
}

// measurementWindowYAML is the file representation of one window entry
type measurementWindowYAML struct {
	Metric                string  `yaml:"metric"`
	MeasurementWindowDays int     `yaml:"measurement_window_days"`
	BaselineWindowDays    int     `yaml:"baseline_window_days"`
	AttributionConfidence float64 `yaml:"attribution_confidence"`
}

// LoadMeasurementConfigs reads per-action-type overrides from a YAML file
// and merges them over the built-in defaults. Entries omit fields they do
// not override. A missing path returns the defaults unchanged.
func LoadMeasurementConfigs(path string) (MeasurementConfigs, error) {
	configs := DefaultMeasurementConfigs()
	if path == "" {
		return configs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return configs, nil
		}
		return nil, fmt.Errorf("failed to read measurement config: %w", err)
	}

	var raw map[string]measurementWindowYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse measurement config: %w", err)
	}

	for actionType, entry := range raw {
		key := strings.ToLower(actionType)
		w := configs.ForActionType(key)
		if entry.Metric != "" {
			w.Metric = types.MetricType(entry.Metric)
		}
		if entry.MeasurementWindowDays != 0 {
			w.MeasurementWindowDays = entry.MeasurementWindowDays
		}
		if entry.BaselineWindowDays != 0 {
			w.BaselineWindowDays = entry.BaselineWindowDays
		}
		if entry.AttributionConfidence != 0 {
			w.AttributionConfidence = decimal.NewFromFloat(entry.AttributionConfidence)
		}
		configs[key] = w
	}

	if err := configs.Validate(); err != nil {
		return nil, err
	}
	return configs, nil
}
