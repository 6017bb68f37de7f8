package ml

import (
	"errors"
	"time"

	json "github.com/goccy/go-json"
)

const (
	ModelTypeLinear       = "linear"
	ModelTypeDecisionTree = "decision_tree"
)

var ErrModelNotTrained = errors.New("model not trained")

// Regressor is the only capability the serving path needs from a model.
type Regressor interface {
	Predict(features []float64) (float64, error)
}

type Model interface {
	Regressor
	Train(features [][]float64, targets []float64) error
	Save(path string) error
	Load(path string) error
	Type() string
	FeatureNames() []string
}

// artifact is the on-disk envelope shared by every model type.
type artifact struct {
	Type         string          `json:"type"`
	FeatureNames []string        `json:"feature_names"`
	TrainedAt    time.Time       `json:"trained_at"`
	Params       json.RawMessage `json:"params"`
}

func validateTrainingSet(features [][]float64, targets []float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return errors.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature vectors are empty")
	}
	for _, row := range features {
		if len(row) != width {
			return errors.New("feature vectors have inconsistent length")
		}
	}
	return nil
}
