package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed calibration.yaml
var calibrationYAML []byte

// Calibration source labels reported alongside neighbor results.
const (
	CalibrationSourceFile     = "file"
	CalibrationSourceFallback = "fallback"
)

// Thresholds are the upper distance bounds of each confidence tier.
type Thresholds struct {
	VeryHigh float64 `yaml:"very_high" json:"very_high"`
	High     float64 `yaml:"high" json:"high"`
	Moderate float64 `yaml:"moderate" json:"moderate"`
	Low      float64 `yaml:"low" json:"low"`
}

// Calibration holds confidence-tier thresholds derived offline from confirmed
// same-person and different-person distance distributions.
type Calibration struct {
	Version    int        `yaml:"version" json:"version"`
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
	Source     string     `yaml:"-" json:"source"`
}

// Validate checks that thresholds are positive and ordered.
func (c *Calibration) Validate() error {
	t := c.Thresholds
	if t.VeryHigh <= 0 {
		return errors.New("very_high threshold must be positive")
	}
	if t.VeryHigh > t.High || t.High > t.Moderate || t.Moderate > t.Low {
		return fmt.Errorf("thresholds must be non-decreasing: %v <= %v <= %v <= %v",
			t.VeryHigh, t.High, t.Moderate, t.Low)
	}
	return nil
}

// FallbackCalibration returns the embedded calibration.
func FallbackCalibration() Calibration {
	var c Calibration
	if err := yaml.Unmarshal(calibrationYAML, &c); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded calibration.yaml: " + err.Error())
	}
	c.Source = CalibrationSourceFallback
	return c
}

// ParseCalibration decodes a calibration artifact.
func ParseCalibration(data []byte) (Calibration, error) {
	var c Calibration
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Calibration{}, fmt.Errorf("decode calibration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Calibration{}, fmt.Errorf("invalid calibration: %w", err)
	}
	c.Source = CalibrationSourceFile
	return c, nil
}

// LoadCalibration reads the calibration artifact at path. An empty path, a
// missing file or an invalid artifact yields the embedded fallback together
// with the reason it was used (nil when the path was simply not configured).
func LoadCalibration(path string) (Calibration, error) {
	if path == "" {
		return FallbackCalibration(), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return FallbackCalibration(), fmt.Errorf("read calibration %s: %w", path, err)
	}

	c, err := ParseCalibration(data)
	if err != nil {
		return FallbackCalibration(), fmt.Errorf("calibration %s: %w", path, err)
	}
	return c, nil
}
