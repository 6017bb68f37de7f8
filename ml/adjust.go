package ml

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Breakdown keys reported alongside an adjusted prediction.
const (
	BreakdownBase            = "base"
	BreakdownOwner           = "owner_multiplier"
	BreakdownSeller          = "seller_multiplier"
	BreakdownKm              = "km_multiplier"
	BreakdownModel           = "model_multiplier"
	BreakdownTotalMultiplier = "total_multiplier"
	BreakdownAdjusted        = "adjusted"
)

// KmBand applies Multiplier when km driven is strictly above Above, or when
// Below is set and km driven is strictly below it. Bands are tried in order.
type KmBand struct {
	Above      *float64 `yaml:"above,omitempty"`
	Below      *float64 `yaml:"below,omitempty"`
	Multiplier float64  `yaml:"multiplier"`
}

// BrandMultiplier matches Key as a substring of the lowered model name.
type BrandMultiplier struct {
	Key        string  `yaml:"key"`
	Multiplier float64 `yaml:"multiplier"`
}

// Heuristics are lightweight market multipliers layered over the model
// output. They approximate classified-listing behaviour without retraining.
type Heuristics struct {
	Owner  map[string]float64 `yaml:"owner"`
	Seller map[string]float64 `yaml:"seller"`
	Brands []BrandMultiplier  `yaml:"brands"`
	Km     []KmBand           `yaml:"km"`
}

// AdjustInput carries the optional listing attributes used by Apply.
type AdjustInput struct {
	Owner      string
	SellerType string
	ModelName  string
	KmDriven   *float64
}

func floatPtr(v float64) *float64 { return &v }

func DefaultHeuristics() *Heuristics {
	return &Heuristics{
		Owner: map[string]float64{
			"1st owner": 1.05,
			"2nd owner": 0.98,
			"3rd owner": 0.94,
			"4th owner": 0.90,
		},
		Seller: map[string]float64{
			"individual":       1.00,
			"dealer":           1.03,
			"trustmark dealer": 1.05,
		},
		Brands: []BrandMultiplier{
			{Key: "royal", Multiplier: 1.15},
			{Key: "honda", Multiplier: 1.06},
			{Key: "yamaha", Multiplier: 1.05},
			{Key: "bajaj", Multiplier: 1.00},
			{Key: "hero", Multiplier: 1.00},
			{Key: "suzuki", Multiplier: 1.04},
		},
		Km: []KmBand{
			{Above: floatPtr(50000), Multiplier: 0.88},
			{Above: floatPtr(30000), Multiplier: 0.95},
			{Below: floatPtr(15000), Multiplier: 1.03},
		},
	}
}

// LoadHeuristics reads a YAML table. Sections missing from the file keep
// their defaults.
func LoadHeuristics(path string) (*Heuristics, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var loaded Heuristics
	if err := yaml.Unmarshal(payload, &loaded); err != nil {
		return nil, fmt.Errorf("parse heuristics %s: %w", path, err)
	}
	h := DefaultHeuristics()
	if loaded.Owner != nil {
		h.Owner = lowerKeys(loaded.Owner)
	}
	if loaded.Seller != nil {
		h.Seller = lowerKeys(loaded.Seller)
	}
	if loaded.Brands != nil {
		h.Brands = loaded.Brands
		for i := range h.Brands {
			h.Brands[i].Key = strings.ToLower(h.Brands[i].Key)
		}
	}
	if loaded.Km != nil {
		h.Km = loaded.Km
	}
	return h, nil
}

func lowerKeys(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Apply returns the adjusted price and its breakdown. When apply is false the
// base price is returned unchanged and the breakdown holds only the base.
func (h *Heuristics) Apply(base float64, in AdjustInput, apply bool) (float64, map[string]float64) {
	breakdown := map[string]float64{BreakdownBase: base}
	if !apply {
		return base, breakdown
	}

	multiplier := 1.0

	if in.Owner != "" {
		mult, ok := h.Owner[strings.ToLower(in.Owner)]
		if !ok {
			mult = 1.0
		}
		multiplier *= mult
		breakdown[BreakdownOwner] = mult
	}

	if in.SellerType != "" {
		mult, ok := h.Seller[strings.ToLower(in.SellerType)]
		if !ok {
			mult = 1.0
		}
		multiplier *= mult
		breakdown[BreakdownSeller] = mult
	}

	if in.KmDriven != nil {
		mult := h.kmMultiplier(*in.KmDriven)
		multiplier *= mult
		breakdown[BreakdownKm] = mult
	}

	if in.ModelName != "" {
		lowered := strings.ToLower(in.ModelName)
		breakdown[BreakdownModel] = 1.0
		for _, brand := range h.Brands {
			if brand.Key != "" && strings.Contains(lowered, brand.Key) {
				multiplier *= brand.Multiplier
				breakdown[BreakdownModel] = brand.Multiplier
				break
			}
		}
	}

	adjusted := base * multiplier
	breakdown[BreakdownAdjusted] = adjusted
	breakdown[BreakdownTotalMultiplier] = multiplier
	return adjusted, breakdown
}

func (h *Heuristics) kmMultiplier(km float64) float64 {
	for _, band := range h.Km {
		if band.Above != nil && km > *band.Above {
			return band.Multiplier
		}
		if band.Below != nil && km < *band.Below {
			return band.Multiplier
		}
	}
	return 1.0
}
