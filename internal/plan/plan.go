// Package plan loads the render plan: the operator-authored YAML file that
// declares which cameras to render from, which HDRI variants to use, and the
// render settings forwarded to Blender.
package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Variant selects one HDRI file per environment: a resolution key like "4k"
// and a file format like "exr". Variants requested here are intersected with
// what each HDRI's metadata actually offers.
type Variant struct {
	Resolution string `yaml:"resolution"`
	Format     string `yaml:"format"`
}

func (v Variant) String() string {
	return v.Resolution + "/" + v.Format
}

// Settings are passed through to the Blender-side render script untouched.
type Settings struct {
	Samples         int     `yaml:"samples"`
	Denoise         bool    `yaml:"denoise"`
	HDRIStrength    float64 `yaml:"hdri_strength"`
	HDRIRotationDeg float64 `yaml:"hdri_rotation_deg"`
}

// Plan is the full render plan document.
type Plan struct {
	Cameras  []string  `yaml:"cameras"`
	Variants []Variant `yaml:"variants"`
	Settings Settings  `yaml:"settings"`
}

// Load reads and validates a plan file.
func Load(path string) (Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read render plan: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a plan document and applies defaults.
func Parse(raw []byte) (Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Plan{}, fmt.Errorf("parse render plan: %w", err)
	}
	if p.Settings.Samples == 0 {
		p.Settings.Samples = 128
	}
	if p.Settings.HDRIStrength == 0 {
		p.Settings.HDRIStrength = 1.0
	}
	if err := p.validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func (p Plan) validate() error {
	if len(p.Cameras) == 0 {
		return fmt.Errorf("render plan declares no cameras")
	}
	if len(p.Variants) == 0 {
		return fmt.Errorf("render plan declares no variants")
	}
	seenCam := make(map[string]bool, len(p.Cameras))
	for _, c := range p.Cameras {
		if c == "" {
			return fmt.Errorf("render plan contains an empty camera id")
		}
		if seenCam[c] {
			return fmt.Errorf("duplicate camera id %q in render plan", c)
		}
		seenCam[c] = true
	}
	seenVar := make(map[Variant]bool, len(p.Variants))
	for _, v := range p.Variants {
		if v.Resolution == "" || v.Format == "" {
			return fmt.Errorf("variant %q is missing resolution or format", v)
		}
		if seenVar[v] {
			return fmt.Errorf("duplicate variant %q in render plan", v)
		}
		seenVar[v] = true
	}
	return nil
}
