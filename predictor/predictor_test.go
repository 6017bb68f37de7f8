package predictor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bikeprice/db"
	"bikeprice/ml"
	"bikeprice/monitoring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

type stubModel struct {
	mu    sync.Mutex
	price float64
	typ   string
	err   error
	calls int
}

func (s *stubModel) Predict(features []float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(features) != 4 {
		return 0, errors.New("bad vector")
	}
	return s.price, s.err
}

func (s *stubModel) Train([][]float64, []float64) error { return nil }
func (s *stubModel) Save(string) error                  { return nil }
func (s *stubModel) Load(string) error                  { return nil }
func (s *stubModel) FeatureNames() []string             { return ml.FeatureNames() }
func (s *stubModel) Type() string {
	if s.typ == "" {
		return "stub"
	}
	return s.typ
}

func (s *stubModel) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memoryStore struct {
	mu      sync.Mutex
	records []db.PredictionRecord
	err     error
}

func (m *memoryStore) SavePrediction(_ context.Context, rec db.PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []monitoring.MessageType
}

func (r *recordingPublisher) Publish(t monitoring.MessageType, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, t)
	return nil
}

func loadedPredictor(t *testing.T, model *stubModel, opts Options) *Predictor {
	t.Helper()
	opts.Now = fixedNow
	opts.Loader = func(string) (ml.Model, error) { return model, nil }
	p := New(opts)
	require.NoError(t, p.Reload())
	return p
}

func TestPredictWithoutModel(t *testing.T) {
	p := New(Options{
		ModelPath: "missing.json",
		Now:       fixedNow,
		Loader: func(path string) (ml.Model, error) {
			return nil, errors.New("no such file")
		},
	})
	require.Error(t, p.Reload())

	_, err := p.Predict(context.Background(), Request{Year: 2019, KmDriven: 1000, ExShowroomPrice: 80000})
	require.ErrorIs(t, err, ErrModelNotLoaded)
	assert.True(t, strings.HasPrefix(err.Error(), "Model not loaded: "), err.Error())
	assert.Contains(t, err.Error(), "no such file")

	st := p.Status()
	assert.False(t, st.ModelLoaded)
	require.NotNil(t, st.LoadError)
	assert.Equal(t, "missing.json", st.ModelPath)
	assert.Equal(t, ml.FeatureNames(), st.FeatureNames)
}

func TestPredictRejectsInvalidInput(t *testing.T) {
	p := loadedPredictor(t, &stubModel{price: 40000}, Options{})

	cases := []struct {
		req   Request
		field string
	}{
		{Request{Year: 1800, KmDriven: 0, ExShowroomPrice: 1}, "year"},
		{Request{Year: 2026, KmDriven: 0, ExShowroomPrice: 1}, "year"},
		{Request{Year: 2020, KmDriven: -1, ExShowroomPrice: 1}, "km_driven"},
		{Request{Year: 2020, KmDriven: 0, ExShowroomPrice: 0}, "ex_showroom_price"},
	}
	for _, tc := range cases {
		_, err := p.Predict(context.Background(), tc.req)
		require.ErrorIs(t, err, ml.ErrInvalidInput)
		var fe *ml.FieldError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, tc.field, fe.Field)
	}
}

func TestPredictAppliesHeuristics(t *testing.T) {
	store := &memoryStore{}
	pub := &recordingPublisher{}
	p := loadedPredictor(t, &stubModel{price: 50000}, Options{Store: store, Publisher: pub})

	res, err := p.Predict(context.Background(), Request{
		Year:             2019,
		KmDriven:         10000,
		ExShowroomPrice:  120000,
		Owner:            "1st Owner",
		SellerType:       "Dealer",
		ModelName:        "Royal Enfield Classic 350",
		ApplyAdjustments: true,
	})
	require.NoError(t, err)

	want := 50000 * 1.05 * 1.03 * 1.03 * 1.15
	assert.Equal(t, 50000.0, res.PredictedPrice)
	assert.InDelta(t, want, res.AdjustedPrice, 1e-6)
	assert.InDelta(t, want, res.Breakdown[ml.BreakdownAdjusted], 1e-6)
	assert.Equal(t, 1.15, res.Breakdown[ml.BreakdownModel])
	assert.NotEmpty(t, res.ID)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, res.ID, rec.ID)
	assert.True(t, rec.AppliedAdjustments)
	assert.Equal(t, "stub", rec.ModelType)

	assert.Contains(t, pub.events, monitoring.PredictionEvent)
	assert.Contains(t, pub.events, monitoring.ModelEvent)
}

func TestPredictWithoutAdjustments(t *testing.T) {
	p := loadedPredictor(t, &stubModel{price: 31000}, Options{})
	res, err := p.Predict(context.Background(), Request{Year: 2015, KmDriven: 60000, ExShowroomPrice: 70000, Owner: "2nd owner"})
	require.NoError(t, err)
	assert.Equal(t, res.PredictedPrice, res.AdjustedPrice)
	assert.Equal(t, map[string]float64{ml.BreakdownBase: 31000}, res.Breakdown)
}

func TestPredictCacheInvalidatedOnSwap(t *testing.T) {
	model := &stubModel{price: 45000}
	p := loadedPredictor(t, model, Options{CacheSize: 16, CacheTTL: time.Minute})
	req := Request{Year: 2020, KmDriven: 5000, ExShowroomPrice: 90000}

	first, err := p.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := p.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, model.callCount())

	replacement := &stubModel{price: 47000, typ: "replacement"}
	p.Swap(replacement)

	third, err := p.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 47000.0, third.PredictedPrice)
	assert.Equal(t, "replacement", third.ModelType)
}

func TestHistoryFailureDoesNotFailPrediction(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	p := loadedPredictor(t, &stubModel{price: 38000}, Options{Store: store})

	for i := 0; i < 7; i++ {
		res, err := p.Predict(context.Background(), Request{Year: 2018, KmDriven: float64(i), ExShowroomPrice: 65000})
		require.NoError(t, err)
		assert.Equal(t, 38000.0, res.PredictedPrice)
	}
	assert.Equal(t, "open", p.BreakerState().String())
}

func TestModelErrorIsReturned(t *testing.T) {
	p := loadedPredictor(t, &stubModel{err: errors.New("boom")}, Options{})
	_, err := p.Predict(context.Background(), Request{Year: 2018, KmDriven: 10, ExShowroomPrice: 65000})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrModelNotLoaded))
	assert.False(t, errors.Is(err, ml.ErrInvalidInput))
}

func TestFailedReloadKeepsServingModel(t *testing.T) {
	model := &stubModel{price: 42000}
	fail := false
	p := New(Options{
		ModelPath: "model.json",
		Now:       fixedNow,
		Loader: func(string) (ml.Model, error) {
			if fail {
				return nil, errors.New("truncated artifact")
			}
			return model, nil
		},
	})
	require.NoError(t, p.Reload())

	fail = true
	require.Error(t, p.Reload())

	st := p.Status()
	assert.True(t, st.ModelLoaded)
	assert.Nil(t, st.LoadError)
	require.NotNil(t, st.LastReloadError)
	assert.Contains(t, *st.LastReloadError, "truncated artifact")

	res, err := p.Predict(context.Background(), Request{Year: 2021, KmDriven: 100, ExShowroomPrice: 100000})
	require.NoError(t, err)
	assert.Equal(t, 42000.0, res.PredictedPrice)
}

func TestPredictRejectsNonFinitePrice(t *testing.T) {
	p := loadedPredictor(t, &stubModel{price: 1.7e308}, Options{})

	res, err := p.Predict(context.Background(), Request{Year: 2018, KmDriven: 40000, ExShowroomPrice: 65000})
	require.NoError(t, err, "base price alone is finite")
	assert.Equal(t, 1.7e308, res.PredictedPrice)

	_, err = p.Predict(context.Background(), Request{
		Year:             2018,
		KmDriven:         10,
		ExShowroomPrice:  65000,
		Owner:            "1st owner",
		SellerType:       "Trustmark Dealer",
		ModelName:        "Royal Enfield Bullet",
		ApplyAdjustments: true,
	})
	require.ErrorIs(t, err, ErrNonFinitePrice)
	assert.False(t, errors.Is(err, ErrModelNotLoaded))
}
