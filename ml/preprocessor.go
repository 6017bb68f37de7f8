package ml

import (
	"errors"
	"fmt"
)

// DataPreprocessor min-max scales feature vectors using per-column bounds
// captured at training time. The bounds travel inside the model artifact so
// serving scales inputs exactly like training did.
type DataPreprocessor struct {
	Mins []float64 `json:"mins"`
	Maxs []float64 `json:"maxs"`
}

func (p *DataPreprocessor) ComputeStats(features [][]float64) error {
	if len(features) == 0 {
		return errors.New("features is empty")
	}
	width := len(features[0])
	p.Mins = make([]float64, width)
	p.Maxs = make([]float64, width)
	copy(p.Mins, features[0])
	copy(p.Maxs, features[0])

	for _, row := range features[1:] {
		if len(row) != width {
			return fmt.Errorf("expected %d features, got %d", width, len(row))
		}
		for i, value := range row {
			if value < p.Mins[i] {
				p.Mins[i] = value
			}
			if value > p.Maxs[i] {
				p.Maxs[i] = value
			}
		}
	}
	return nil
}

func (p *DataPreprocessor) Normalize(features [][]float64) ([][]float64, error) {
	if len(features) == 0 {
		return nil, errors.New("features is empty")
	}
	vectors := make([][]float64, len(features))
	for i, feature := range features {
		normalized, err := p.Transform(feature)
		if err != nil {
			return nil, err
		}
		vectors[i] = normalized
	}
	return vectors, nil
}

// Transform scales one vector. Values outside the training range map
// outside [0, 1]; they are not clamped.
func (p *DataPreprocessor) Transform(vector []float64) ([]float64, error) {
	if p.Mins == nil || p.Maxs == nil {
		return nil, errors.New("feature stats not computed")
	}
	return NormalizeVector(vector, p.Mins, p.Maxs)
}

func (p *DataPreprocessor) FeatureStats(names []string) map[string][2]float64 {
	if p.Mins == nil {
		return nil
	}
	stats := make(map[string][2]float64, len(p.Mins))
	for i := range p.Mins {
		name := fmt.Sprintf("f%d", i)
		if i < len(names) {
			name = names[i]
		}
		stats[name] = [2]float64{p.Mins[i], p.Maxs[i]}
	}
	return stats
}

func NormalizeFeature(value, min, max float64) float64 {
	if max == min {
		return 0
	}
	return (value - min) / (max - min)
}

func NormalizeVector(values []float64, mins []float64, maxs []float64) ([]float64, error) {
	if len(values) != len(mins) || len(values) != len(maxs) {
		return nil, errors.New("values/mins/maxs length mismatch")
	}
	result := make([]float64, len(values))
	for i := range values {
		result[i] = NormalizeFeature(values[i], mins[i], maxs[i])
	}
	return result, nil
}
