package ml

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Evaluation summarises regression quality on a held-out set.
type Evaluation struct {
	R2      float64 `json:"r2"`
	MAE     float64 `json:"mae"`
	RMSE    float64 `json:"rmse"`
	Samples int     `json:"samples"`
}

func Evaluate(model Regressor, features [][]float64, targets []float64) (Evaluation, error) {
	if len(features) == 0 {
		return Evaluation{}, errors.New("evaluation set is empty")
	}
	if len(features) != len(targets) {
		return Evaluation{}, errors.New("features and targets size mismatch")
	}

	predicted := make([]float64, len(features))
	for i, feature := range features {
		v, err := model.Predict(feature)
		if err != nil {
			return Evaluation{}, err
		}
		predicted[i] = v
	}

	n := float64(len(features))
	eval := Evaluation{
		MAE:     floats.Distance(predicted, targets, 1) / n,
		RMSE:    floats.Distance(predicted, targets, 2) / math.Sqrt(n),
		Samples: len(features),
	}
	if stat.Variance(targets, nil) > 0 {
		eval.R2 = stat.RSquaredFrom(predicted, targets, nil)
	}
	return eval, nil
}

// SplitDataset shuffles with the given seed and holds out testRatio of the
// rows. Ratios outside (0, 1) fall back to 0.2.
func SplitDataset(features [][]float64, targets []float64, testRatio float64, seed int64) (trainX [][]float64, trainY []float64, testX [][]float64, testY []float64) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(len(features))

	split := int(math.Round(float64(len(features)) * (1 - testRatio)))
	for i, idx := range indices {
		if i < split {
			trainX = append(trainX, features[idx])
			trainY = append(trainY, targets[idx])
		} else {
			testX = append(testX, features[idx])
			testY = append(testY, targets[idx])
		}
	}
	return trainX, trainY, testX, testY
}
