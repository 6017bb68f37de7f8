package ml

import (
	"math"
	"path/filepath"
	"testing"
)

func TestLinearRegressionExactFit(t *testing.T) {
	features := [][]float64{
		{1, 2},
		{2, 1},
		{3, 4},
		{4, 3},
		{5, 6},
	}
	targets := make([]float64, len(features))
	for i, x := range features {
		targets[i] = 2*x[0] + 3*x[1] + 5
	}

	model := NewLinearRegression(0)
	if err := model.Train(features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := model.Predict([]float64{10, 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-55) > 1e-6 {
		t.Fatalf("expected 55, got %v", got)
	}
}

func TestLinearRegressionCollinear(t *testing.T) {
	features := [][]float64{{1, 1}, {2, 2}, {3, 3}}
	targets := []float64{1, 2, 3}

	if err := NewLinearRegression(0).Train(features, targets); err == nil {
		t.Fatal("expected singular matrix error")
	}
	model := NewLinearRegression(0.01)
	if err := model.Train(features, targets); err != nil {
		t.Fatalf("ridge should make the system solvable: %v", err)
	}
	got, _ := model.Predict([]float64{2, 2})
	if math.Abs(got-2) > 0.1 {
		t.Fatalf("expected about 2, got %v", got)
	}
}

func TestLinearRegressionBikeFeatures(t *testing.T) {
	// year and age are perfectly collinear; a small ridge keeps the fit stable.
	var features [][]float64
	var targets []float64
	for year := 2010; year <= 2020; year++ {
		for _, km := range []float64{5000, 20000, 40000} {
			f, err := NewBikeFeatures(year, km, 80000, 2025)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			features = append(features, FeatureVector(f))
			targets = append(targets, 80000-float64(f.Age)*4000-km*0.2)
		}
	}

	model := NewLinearRegression(1e-3)
	if err := model.Train(features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	eval, err := Evaluate(model, features, targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eval.R2 < 0.99 {
		t.Fatalf("expected near perfect fit, got r2=%v", eval.R2)
	}
}

func TestLinearRegressionSaveLoad(t *testing.T) {
	features := [][]float64{{1, 5}, {2, 3}, {3, 8}, {4, 1}}
	targets := []float64{3, 5, 9, 4}

	model := NewLinearRegression(0.5)
	if err := model.Train(features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "linear.json")
	if err := model.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Type() != ModelTypeLinear {
		t.Fatalf("unexpected type %s", loaded.Type())
	}
	want, _ := model.Predict([]float64{2.5, 4})
	got, err := loaded.Predict([]float64{2.5, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}

	var direct LinearRegression
	if err := direct.Load(path); err != nil {
		t.Fatalf("direct load failed: %v", err)
	}
	var tree DecisionTree
	if err := tree.Load(path); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestLinearRegressionUntrained(t *testing.T) {
	model := NewLinearRegression(0)
	if _, err := model.Predict([]float64{1}); err != ErrModelNotTrained {
		t.Fatalf("expected ErrModelNotTrained, got %v", err)
	}
	if err := model.Save(filepath.Join(t.TempDir(), "m.json")); err != ErrModelNotTrained {
		t.Fatalf("expected ErrModelNotTrained, got %v", err)
	}
}
