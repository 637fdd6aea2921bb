package analysis

import (
	_ "embed"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Catalog holds the fixed recommendation text used by the rule-based path.
type Catalog struct {
	Healthy struct {
		Summary         string   `yaml:"summary"`
		Recommendations []string `yaml:"recommendations"`
	} `yaml:"healthy"`
	RiskFactors map[string]struct {
		Recommendations []string `yaml:"recommendations"`
	} `yaml:"risk_factors"`
	Impacts map[string]string `yaml:"impacts"`
}

// LoadCatalog parses a catalog document.
func LoadCatalog(data []byte) (*Catalog, error) {
	var wrapper struct {
		Catalog Catalog `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "analysis: parse catalog")
	}
	c := &wrapper.Catalog
	if c.Healthy.Summary == "" {
		return nil, eris.New("analysis: catalog has no healthy summary")
	}
	return c, nil
}

var defaultCatalog = func() *Catalog {
	c, err := LoadCatalog(catalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}()

// recommendations returns the catalog entries for a risk factor.
func (c *Catalog) recommendations(id string) []string {
	return c.RiskFactors[id].Recommendations
}
