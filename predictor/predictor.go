package predictor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"bikeprice/db"
	"bikeprice/ml"
	"bikeprice/monitoring"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var (
	ErrModelNotLoaded = errors.New("model not loaded")
	// ErrNonFinitePrice is returned when the model or the adjustments
	// overflow to Inf or produce NaN.
	ErrNonFinitePrice = errors.New("prediction is not a finite number")
)

// ModelNotLoadedError carries the reason the artifact is unavailable.
type ModelNotLoadedError struct {
	Reason string
}

func (e *ModelNotLoadedError) Error() string {
	return "Model not loaded: " + e.Reason
}

func (e *ModelNotLoadedError) Is(target error) bool {
	return target == ErrModelNotLoaded
}

// HistoryStore is the persistence the predictor records into.
type HistoryStore interface {
	SavePrediction(ctx context.Context, rec db.PredictionRecord) error
}

// Publisher receives every served prediction and model lifecycle event.
type Publisher interface {
	Publish(t monitoring.MessageType, data interface{}) error
}

type Request struct {
	Year             int
	KmDriven         float64
	ExShowroomPrice  float64
	Owner            string
	SellerType       string
	ModelName        string
	ApplyAdjustments bool
}

type Result struct {
	ID             string             `json:"id"`
	PredictedPrice float64            `json:"predicted_selling_price"`
	AdjustedPrice  float64            `json:"adjusted_prediction"`
	Breakdown      map[string]float64 `json:"breakdown"`
	ModelType      string             `json:"model_type"`
	Cached         bool               `json:"cached"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Status describes the serving model for health checks.
type Status struct {
	ModelLoaded  bool      `json:"model_loaded"`
	ModelPath    string    `json:"model_path"`
	ModelType    string    `json:"model_type,omitempty"`
	LoadError    *string   `json:"load_error"`
	FeatureNames []string  `json:"feature_names"`
	LoadedAt     time.Time `json:"loaded_at,omitempty"`

	// LastReloadError is set when a reload failed while an older model
	// kept serving; LoadError stays null in that case.
	LastReloadError *string `json:"last_reload_error,omitempty"`
}

type Options struct {
	ModelPath  string
	Heuristics *ml.Heuristics
	Store      HistoryStore
	Publisher  Publisher
	Logger     *zap.Logger
	CacheSize  int
	CacheTTL   time.Duration

	// Now defaults to time.Now; the current year bounds accepted inputs.
	Now func() time.Time
	// Loader defaults to ml.LoadModel.
	Loader func(path string) (ml.Model, error)
}

type servingModel struct {
	model    ml.Regressor
	typ      string
	names    []string
	loadedAt time.Time
}

// Predictor serves predictions from the currently loaded artifact. The
// artifact is swapped as a whole on reload; requests never see a partially
// loaded model.
type Predictor struct {
	current atomic.Pointer[servingModel]

	mu      sync.RWMutex
	loadErr error

	path       string
	heuristics *ml.Heuristics
	store      HistoryStore
	publisher  Publisher
	logger     *zap.Logger
	now        func() time.Time
	loader     func(string) (ml.Model, error)

	cache   *expirable.LRU[ml.BikeFeatures, float64]
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func New(opts Options) *Predictor {
	p := &Predictor{
		path:       opts.ModelPath,
		heuristics: opts.Heuristics,
		store:      opts.Store,
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		now:        opts.Now,
		loader:     opts.Loader,
	}
	if p.heuristics == nil {
		p.heuristics = ml.DefaultHeuristics()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("predictor")
	if p.now == nil {
		p.now = time.Now
	}
	if p.loader == nil {
		p.loader = ml.LoadModel
	}
	if opts.CacheSize > 0 {
		p.cache = expirable.NewLRU[ml.BikeFeatures, float64](opts.CacheSize, nil, opts.CacheTTL)
	}
	p.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "prediction-history",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("history circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return p
}

// ModelPath is the artifact location the predictor loads from.
func (p *Predictor) ModelPath() string { return p.path }

// Reload loads the artifact from disk. On failure the previously loaded
// model, if any, keeps serving and the error is reported by Status.
func (p *Predictor) Reload() error {
	model, err := p.loader(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("model file not found at %s, run train_model to create it: %w", p.path, err)
		} else {
			err = fmt.Errorf("load model %s: %w", p.path, err)
		}
		p.mu.Lock()
		p.loadErr = err
		p.mu.Unlock()
		monitoring.RecordModelReload(false)
		if p.current.Load() == nil {
			monitoring.ModelLoaded.Set(0)
		}
		p.logger.Error("model load failed", zap.String("path", p.path), zap.Error(err))
		p.publish(monitoring.ModelEvent, p.Status())
		return err
	}

	p.Swap(model)
	return nil
}

// Swap installs model as the serving model and drops cached predictions
// made by the previous one.
func (p *Predictor) Swap(model ml.Model) {
	sm := &servingModel{
		model:    model,
		typ:      model.Type(),
		names:    model.FeatureNames(),
		loadedAt: p.now(),
	}
	p.current.Store(sm)
	p.mu.Lock()
	p.loadErr = nil
	p.mu.Unlock()
	if p.cache != nil {
		p.cache.Purge()
	}
	monitoring.RecordModelReload(true)
	p.logger.Info("model loaded",
		zap.String("path", p.path),
		zap.String("type", sm.typ),
		zap.Strings("features", sm.names))
	p.publish(monitoring.ModelEvent, p.Status())
}

func (p *Predictor) Status() Status {
	st := Status{
		ModelPath:    p.path,
		FeatureNames: ml.FeatureNames(),
	}
	if sm := p.current.Load(); sm != nil {
		st.ModelLoaded = true
		st.ModelType = sm.typ
		st.LoadedAt = sm.loadedAt
		if len(sm.names) > 0 {
			st.FeatureNames = sm.names
		}
	}
	p.mu.RLock()
	if p.loadErr != nil {
		msg := p.loadErr.Error()
		if st.ModelLoaded {
			st.LastReloadError = &msg
		} else {
			st.LoadError = &msg
		}
	}
	p.mu.RUnlock()
	return st
}

// Ready returns nil when a model is serving, otherwise a
// *ModelNotLoadedError.
func (p *Predictor) Ready() error {
	if p.current.Load() != nil {
		return nil
	}
	return p.notLoaded()
}

func (p *Predictor) notLoaded() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	reason := "no model artifact"
	if p.loadErr != nil {
		reason = p.loadErr.Error()
	}
	return &ModelNotLoadedError{Reason: reason}
}

// CurrentYear is the upper bound for an accepted manufacturing year.
func (p *Predictor) CurrentYear() int { return p.now().Year() }

// Predict validates req, runs the model and applies heuristics when asked.
// Errors match ml.ErrInvalidInput for bad input and ErrModelNotLoaded when
// no artifact is serving.
func (p *Predictor) Predict(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	features, err := ml.NewBikeFeatures(req.Year, req.KmDriven, req.ExShowroomPrice, p.CurrentYear())
	if err != nil {
		monitoring.RecordPrediction("invalid", 0, 0)
		return nil, err
	}

	sm := p.current.Load()
	if sm == nil {
		monitoring.RecordPrediction("model_unavailable", 0, 0)
		return nil, p.notLoaded()
	}

	base, cached, err := p.basePrice(sm, features)
	if err != nil {
		monitoring.RecordPrediction("error", 0, 0)
		p.logger.Error("model prediction failed", zap.Error(err))
		return nil, fmt.Errorf("predict: %w", err)
	}

	km := features.KmDriven
	adjusted, breakdown := p.heuristics.Apply(base, ml.AdjustInput{
		Owner:      req.Owner,
		SellerType: req.SellerType,
		ModelName:  req.ModelName,
		KmDriven:   &km,
	}, req.ApplyAdjustments)
	if !finite(base) || !finite(adjusted) {
		monitoring.RecordPrediction("error", 0, 0)
		p.logger.Error("non-finite prediction",
			zap.Float64("base", base),
			zap.Float64("adjusted", adjusted))
		return nil, ErrNonFinitePrice
	}

	res := &Result{
		ID:             uuid.NewString(),
		PredictedPrice: base,
		AdjustedPrice:  adjusted,
		Breakdown:      breakdown,
		ModelType:      sm.typ,
		Cached:         cached,
		CreatedAt:      p.now().UTC(),
	}
	monitoring.RecordPrediction("ok", time.Since(start), base)

	p.record(ctx, req, res)
	p.publish(monitoring.PredictionEvent, res)
	return res, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func (p *Predictor) basePrice(sm *servingModel, features ml.BikeFeatures) (float64, bool, error) {
	if p.cache != nil {
		if v, ok := p.cache.Get(features); ok {
			monitoring.CacheHits.Inc()
			return v, true, nil
		}
		monitoring.CacheMisses.Inc()
	}
	v, err := sm.model.Predict(ml.FeatureVector(features))
	if err != nil {
		return 0, false, err
	}
	// a reload may have happened while predicting
	if p.cache != nil && p.current.Load() == sm {
		p.cache.Add(features, v)
	}
	return v, false, nil
}

// record persists the prediction. History is best effort: failures are
// logged and counted but never returned.
func (p *Predictor) record(ctx context.Context, req Request, res *Result) {
	if p.store == nil {
		return
	}
	rec := db.PredictionRecord{
		ID:                 res.ID,
		Year:               req.Year,
		KmDriven:           req.KmDriven,
		ExShowroomPrice:    req.ExShowroomPrice,
		Owner:              req.Owner,
		SellerType:         req.SellerType,
		ModelName:          req.ModelName,
		AppliedAdjustments: req.ApplyAdjustments,
		PredictedPrice:     res.PredictedPrice,
		AdjustedPrice:      res.AdjustedPrice,
		Breakdown:          res.Breakdown,
		ModelType:          res.ModelType,
		CreatedAt:          res.CreatedAt,
	}
	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.store.SavePrediction(context.WithoutCancel(ctx), rec)
	})
	if err != nil {
		monitoring.HistoryWriteErrors.Inc()
		p.logger.Warn("failed to record prediction", zap.String("id", res.ID), zap.Error(err))
	}
}

func (p *Predictor) publish(t monitoring.MessageType, data interface{}) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(t, data); err != nil {
		p.logger.Debug("publish failed", zap.String("type", string(t)), zap.Error(err))
	}
}

// BreakerState reports the history circuit breaker state.
func (p *Predictor) BreakerState() gobreaker.State {
	return p.breaker.State()
}
