package predictor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bikeprice/ml"

	"github.com/stretchr/testify/require"
)

func trainingRows(currentYear int) ([][]float64, []float64) {
	var X [][]float64
	var y []float64
	for i := 0; i < 30; i++ {
		f, _ := ml.NewBikeFeatures(2005+i%18, float64(1000+i*1700), float64(50000+i*4000), currentYear)
		X = append(X, ml.FeatureVector(f))
		y = append(y, 0.6*f.ExShowroomPrice-0.2*f.KmDriven+1500*float64(f.Year-2000))
	}
	return X, y
}

func TestWatcherReloadsChangedArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	X, y := trainingRows(fixedNow().Year())

	linear := ml.NewLinearRegression(0.001)
	require.NoError(t, linear.Train(X, y))
	require.NoError(t, linear.Save(path))

	p := New(Options{ModelPath: path, Now: fixedNow})
	require.NoError(t, p.Reload())
	require.Equal(t, ml.ModelTypeLinear, p.Status().ModelType)

	w := NewWatcher(p, nil)
	w.debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	tree := ml.NewDecisionTree(4)
	require.NoError(t, tree.Train(X, y))

	// the directory watch is registered asynchronously
	require.Eventually(t, func() bool {
		if err := tree.Save(path); err != nil {
			return false
		}
		return p.Status().ModelType == ml.ModelTypeDecisionTree
	}, 5*time.Second, 100*time.Millisecond)
	require.Nil(t, p.Status().LoadError)
}
