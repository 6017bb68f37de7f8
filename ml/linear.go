package ml

import (
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"gonum.org/v1/gonum/mat"
)

// LinearRegression fits y = w·x + b over min-max scaled features by solving
// the normal equations. A positive Ridge adds an L2 penalty on w (never on b).
type LinearRegression struct {
	Ridge float64

	weights   []float64
	intercept float64
	scaler    DataPreprocessor
	names     []string
	trainedAt time.Time
}

type linearParams struct {
	Weights   []float64        `json:"weights"`
	Intercept float64          `json:"intercept"`
	Ridge     float64          `json:"ridge"`
	Scaler    DataPreprocessor `json:"scaler"`
}

func NewLinearRegression(ridge float64) *LinearRegression {
	if ridge < 0 {
		ridge = 0
	}
	return &LinearRegression{Ridge: ridge, names: FeatureNames()}
}

func (lr *LinearRegression) Type() string { return ModelTypeLinear }

func (lr *LinearRegression) FeatureNames() []string { return lr.names }

func (lr *LinearRegression) Train(features [][]float64, targets []float64) error {
	if err := validateTrainingSet(features, targets); err != nil {
		return err
	}
	var scaler DataPreprocessor
	if err := scaler.ComputeStats(features); err != nil {
		return err
	}
	scaled, err := scaler.Normalize(features)
	if err != nil {
		return err
	}

	// Column 0 of the design matrix is the intercept.
	dim := len(features[0]) + 1
	design := mat.NewDense(len(scaled), dim, nil)
	for n, x := range scaled {
		design.Set(n, 0, 1)
		for j, v := range x {
			design.Set(n, j+1, v)
		}
	}
	y := mat.NewVecDense(len(targets), append([]float64(nil), targets...))

	solution, err := solveNormalEquations(design, y, lr.Ridge)
	if err != nil {
		return err
	}

	lr.intercept = solution[0]
	lr.weights = solution[1:]
	lr.scaler = scaler
	if lr.names == nil {
		lr.names = FeatureNames()
	}
	lr.trainedAt = time.Now().UTC()
	return nil
}

func (lr *LinearRegression) Predict(features []float64) (float64, error) {
	if len(lr.weights) == 0 {
		return 0, ErrModelNotTrained
	}
	if err := checkFeatureCount(features, len(lr.weights)); err != nil {
		return 0, err
	}
	scaled, err := lr.scaler.Transform(features)
	if err != nil {
		return 0, err
	}
	y := lr.intercept
	for i, w := range lr.weights {
		y += w * scaled[i]
	}
	return y, nil
}

// Coefficients returns the weights in scaled feature space and the intercept.
func (lr *LinearRegression) Coefficients() ([]float64, float64) {
	return append([]float64(nil), lr.weights...), lr.intercept
}

// FeatureRanges reports the min/max each feature was scaled with, by name.
func (lr *LinearRegression) FeatureRanges() map[string][2]float64 {
	return lr.scaler.FeatureStats(lr.names)
}

func (lr *LinearRegression) Save(path string) error {
	if len(lr.weights) == 0 {
		return ErrModelNotTrained
	}
	return writeArtifact(path, lr.Type(), lr.names, lr.trainedAt, linearParams{
		Weights:   lr.weights,
		Intercept: lr.intercept,
		Ridge:     lr.Ridge,
		Scaler:    lr.scaler,
	})
}

func (lr *LinearRegression) Load(path string) error {
	a, err := readArtifact(path)
	if err != nil {
		return err
	}
	if a.Type != ModelTypeLinear {
		return errors.New("artifact is not a linear model")
	}
	return lr.fromArtifact(a)
}

func (lr *LinearRegression) fromArtifact(a *artifact) error {
	var params linearParams
	if err := json.Unmarshal(a.Params, &params); err != nil {
		return err
	}
	if len(params.Weights) == 0 {
		return errors.New("linear model has no weights")
	}
	if len(params.Scaler.Mins) != len(params.Weights) || len(params.Scaler.Maxs) != len(params.Weights) {
		return errors.New("linear model scaler does not match weights")
	}
	lr.weights = params.Weights
	lr.intercept = params.Intercept
	lr.Ridge = params.Ridge
	lr.scaler = params.Scaler
	lr.names = a.FeatureNames
	lr.trainedAt = a.TrainedAt
	return nil
}

// maxCondition bounds the normal-equations condition number; beyond it the
// fit is dominated by rounding.
const maxCondition = 1e12

// solveNormalEquations solves (XᵀX + ridge·I')w = Xᵀy by Cholesky, where I'
// leaves the intercept column unpenalised.
func solveNormalEquations(design *mat.Dense, y *mat.VecDense, ridge float64) ([]float64, error) {
	_, dim := design.Dims()

	var xtx mat.SymDense
	xtx.SymOuterK(1, design.T())
	for i := 1; i < dim; i++ {
		xtx.SetSym(i, i, xtx.At(i, i)+ridge)
	}
	var xty mat.VecDense
	xty.MulVec(design.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok || chol.Cond() > maxCondition {
		return nil, errSingular
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &xty); err != nil {
		return nil, errSingular
	}
	return mat.Col(nil, 0, &w), nil
}

var errSingular = errors.New("singular design matrix: features are collinear, try a ridge penalty")
