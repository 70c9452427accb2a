package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/revlift/revlift/internal/types"
)

func TestDefaultMeasurementConfigs(t *testing.T) {
	configs := DefaultMeasurementConfigs()

	if err := configs.Validate(); err != nil {
		t.Fatalf("Default configs failed validation: %v", err)
	}

	tests := []struct {
		actionType string
		metric     types.MetricType
		window     int
	}{
		{"add_affiliate_link", types.MetricAffiliateClicks, 14},
		{"update_affiliate_link", types.MetricAffiliateClicks, 14},
		{"add_ad_placement", types.MetricRPM, 14},
		{"move_ad_placement", types.MetricRPM, 14},
		{"update_content", types.MetricPageviews, 30},
	}
	for _, tt := range tests {
		w := configs.ForActionType(tt.actionType)
		if w.Metric != tt.metric {
			t.Errorf("%s: metric = %s, want %s", tt.actionType, w.Metric, tt.metric)
		}
		if w.MeasurementWindowDays != tt.window {
			t.Errorf("%s: window = %d, want %d", tt.actionType, w.MeasurementWindowDays, tt.window)
		}
	}
}

func TestForActionTypeFallback(t *testing.T) {
	configs := DefaultMeasurementConfigs()

	// Unknown types fall back to the default window.
	w := configs.ForActionType("swap_theme")
	if w.Metric != types.MetricAdRevenue {
		t.Errorf("Fallback metric = %s, want %s", w.Metric, types.MetricAdRevenue)
	}
	if w.MeasurementWindowDays != 30 {
		t.Errorf("Fallback window = %d, want 30", w.MeasurementWindowDays)
	}

	// Lookup is case-insensitive.
	upper := configs.ForActionType("ADD_AFFILIATE_LINK")
	if upper.Metric != types.MetricAffiliateClicks {
		t.Errorf("Uppercase lookup metric = %s, want %s", upper.Metric, types.MetricAffiliateClicks)
	}
}

func TestMeasurementWindowValidate(t *testing.T) {
	valid := MeasurementWindow{
		Metric:                types.MetricRPM,
		MeasurementWindowDays: 14,
		BaselineWindowDays:    14,
		AttributionConfidence: decimal.RequireFromString("0.6"),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid window failed validation: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*MeasurementWindow)
	}{
		{"invalid metric", func(w *MeasurementWindow) { w.Metric = "bounce_rate" }},
		{"zero measurement window", func(w *MeasurementWindow) { w.MeasurementWindowDays = 0 }},
		{"measurement window too long", func(w *MeasurementWindow) { w.MeasurementWindowDays = 91 }},
		{"zero baseline window", func(w *MeasurementWindow) { w.BaselineWindowDays = 0 }},
		{"confidence above one", func(w *MeasurementWindow) { w.AttributionConfidence = decimal.RequireFromString("1.1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := valid
			tt.mutate(&w)
			if err := w.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestMeasurementConfigsRequireDefault(t *testing.T) {
	configs := DefaultMeasurementConfigs()
	delete(configs, DefaultKey)
	if err := configs.Validate(); err == nil {
		t.Error("Expected error for missing default entry")
	}
}

func TestLoadMeasurementConfigs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "measurements.yaml")

	content := `
add_affiliate_link:
  measurement_window_days: 21
update_content:
  metric: ad_revenue
  attribution_confidence: 0.8
new_custom_type:
  metric: rpm
  measurement_window_days: 7
  baseline_window_days: 7
  attribution_confidence: 0.9
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	configs, err := LoadMeasurementConfigs(path)
	if err != nil {
		t.Fatalf("Failed to load configs: %v", err)
	}

	// Overrides merge field-by-field over the defaults.
	w := configs.ForActionType("add_affiliate_link")
	if w.MeasurementWindowDays != 21 {
		t.Errorf("Override window = %d, want 21", w.MeasurementWindowDays)
	}
	if w.Metric != types.MetricAffiliateClicks {
		t.Errorf("Unoverridden metric changed: got %s", w.Metric)
	}
	if !w.AttributionConfidence.Equal(decimal.RequireFromString("0.7")) {
		t.Errorf("Unoverridden confidence changed: got %s", w.AttributionConfidence)
	}

	w = configs.ForActionType("update_content")
	if w.Metric != types.MetricAdRevenue {
		t.Errorf("Metric override = %s, want ad_revenue", w.Metric)
	}
	if !w.AttributionConfidence.Equal(decimal.RequireFromString("0.8")) {
		t.Errorf("Confidence override = %s, want 0.8", w.AttributionConfidence)
	}

	// New entries start from the default window before applying overrides.
	w = configs.ForActionType("new_custom_type")
	if w.Metric != types.MetricRPM || w.MeasurementWindowDays != 7 {
		t.Errorf("New entry mismatch: %+v", w)
	}

	// Untouched entries keep their defaults.
	w = configs.ForActionType("add_ad_placement")
	if w.Metric != types.MetricRPM || w.MeasurementWindowDays != 14 {
		t.Errorf("Untouched entry changed: %+v", w)
	}
}

func TestLoadMeasurementConfigsMissingFile(t *testing.T) {
	configs, err := LoadMeasurementConfigs(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Missing file should return defaults: %v", err)
	}
	if w := configs.ForActionType("add_affiliate_link"); w.MeasurementWindowDays != 14 {
		t.Errorf("Defaults mismatch: %+v", w)
	}

	configs, err = LoadMeasurementConfigs("")
	if err != nil {
		t.Fatalf("Empty path should return defaults: %v", err)
	}
	if _, ok := configs[DefaultKey]; !ok {
		t.Error("Expected default entry to be present")
	}
}

func TestLoadMeasurementConfigsInvalid(t *testing.T) {
	dir := t.TempDir()

	badYAML := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(badYAML, []byte("{not yaml"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadMeasurementConfigs(badYAML); err == nil {
		t.Error("Expected error for malformed YAML")
	}

	// An override that produces an invalid window is rejected.
	badWindow := filepath.Join(dir, "window.yaml")
	if err := os.WriteFile(badWindow, []byte("add_affiliate_link:\n  measurement_window_days: 120\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadMeasurementConfigs(badWindow); err == nil {
		t.Error("Expected error for out-of-range window override")
	}
}
