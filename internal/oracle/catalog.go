// Package oracle generates digital product jobs and writes them to the job
// store as pending documents.
package oracle

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"ghost-systems/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ErrInvalidCatalog wraps every catalog validation failure.
var ErrInvalidCatalog = errors.New("invalid catalog")

type WeightedType struct {
	Type   models.ProductType `yaml:"type"`
	Weight float64            `yaml:"weight"`
}

// Template is one base prompt pack or automation kit.
type Template struct {
	BaseTitle      string   `yaml:"baseTitle"`
	Tags           []string `yaml:"tags"`
	DigitalContent string   `yaml:"digitalContent"`
	ImagePrompt    string   `yaml:"imagePrompt"`
}

// BundleTemplate pairs a prompt pack with an automation kit by index.
type BundleTemplate struct {
	Title         string   `yaml:"title"`
	PromptPack    int      `yaml:"promptPack"`
	AutomationKit int      `yaml:"automationKit"`
	Tags          []string `yaml:"tags"`
}

// Catalog is the generator's source material.
type Catalog struct {
	Currency          string               `yaml:"currency"`
	DeliveryType      string               `yaml:"deliveryType"`
	Weights           []WeightedType       `yaml:"weights"`
	Prices            map[string][]float64 `yaml:"prices"`
	Hooks             []string             `yaml:"hooks"`
	Niches            []string             `yaml:"niches"`
	PromptPacks       []Template           `yaml:"promptPacks"`
	AutomationKits    []Template           `yaml:"automationKits"`
	Bundles           []BundleTemplate     `yaml:"bundles"`
	BundleImagePrompt string               `yaml:"bundleImagePrompt"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog file, or the built-in one when path is empty.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.DeliveryType == "" {
		c.DeliveryType = "digital"
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

func (c Catalog) Validate() error {
	if len(c.Hooks) == 0 || len(c.Niches) == 0 {
		return fmt.Errorf("%w: hooks and niches must not be empty", ErrInvalidCatalog)
	}
	var total float64
	for _, w := range c.Weights {
		if w.Weight < 0 {
			return fmt.Errorf("%w: negative weight for %s", ErrInvalidCatalog, w.Type)
		}
		total += w.Weight
		if len(c.Prices[string(w.Type)]) == 0 {
			return fmt.Errorf("%w: no price ladder for %s", ErrInvalidCatalog, w.Type)
		}
		switch w.Type {
		case models.ProductPromptPack:
			if len(c.PromptPacks) == 0 {
				return fmt.Errorf("%w: no prompt packs", ErrInvalidCatalog)
			}
		case models.ProductAutomationKit:
			if len(c.AutomationKits) == 0 {
				return fmt.Errorf("%w: no automation kits", ErrInvalidCatalog)
			}
		case models.ProductBundle:
			if len(c.Bundles) == 0 {
				return fmt.Errorf("%w: no bundles", ErrInvalidCatalog)
			}
		default:
			return fmt.Errorf("%w: oracle cannot generate %q", ErrInvalidCatalog, w.Type)
		}
	}
	if total <= 0 {
		return fmt.Errorf("%w: weights must sum to a positive value", ErrInvalidCatalog)
	}
	for i, b := range c.Bundles {
		if b.PromptPack < 0 || b.PromptPack >= len(c.PromptPacks) {
			return fmt.Errorf("%w: bundle %d references prompt pack %d", ErrInvalidCatalog, i, b.PromptPack)
		}
		if b.AutomationKit < 0 || b.AutomationKit >= len(c.AutomationKits) {
			return fmt.Errorf("%w: bundle %d references automation kit %d", ErrInvalidCatalog, i, b.AutomationKit)
		}
	}
	return nil
}
