package billing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RatePlan resolves the per-minute rate for an image. Images without an
// override bill at the default rate.
type RatePlan struct {
	Default  float64
	PerImage map[string]float64
}

// For returns the per-minute rate for the given image id.
func (r RatePlan) For(imageID string) float64 {
	if rate, ok := r.PerImage[imageID]; ok {
		return rate
	}
	return r.Default
}

// rateFile is the on-disk YAML shape of a rate plan.
type rateFile struct {
	DefaultPerMinute *float64           `yaml:"default_per_minute"`
	Images           map[string]float64 `yaml:"images"`
}

// LoadRatePlan builds a RatePlan from the configured default rate plus an
// optional YAML override file. An empty path yields a flat-rate plan.
func LoadRatePlan(defaultRate float64, path string) (RatePlan, error) {
	plan := RatePlan{Default: defaultRate}
	if path == "" {
		return plan, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return plan, fmt.Errorf("read rate plan: %w", err)
	}
	var f rateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return plan, fmt.Errorf("parse rate plan: %w", err)
	}

	if f.DefaultPerMinute != nil {
		plan.Default = *f.DefaultPerMinute
	}
	plan.PerImage = f.Images
	for img, rate := range f.Images {
		if rate < 0 {
			return plan, fmt.Errorf("rate plan: negative rate %g for image %s", rate, img)
		}
	}
	return plan, nil
}
