package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bikeprice_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bikeprice_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bikeprice_http_active_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	// Predictions
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bikeprice_predictions_total",
			Help: "Predictions served, by outcome",
		},
		[]string{"outcome"}, // "ok", "invalid", "model_unavailable", "error"
	)

	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bikeprice_prediction_duration_seconds",
			Help:    "Model inference latency in seconds",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	PredictedPrice = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bikeprice_predicted_price",
			Help:    "Distribution of base predicted prices",
			Buckets: prometheus.ExponentialBuckets(5000, 2, 10),
		},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bikeprice_prediction_cache_hits_total",
			Help: "Prediction cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bikeprice_prediction_cache_misses_total",
			Help: "Prediction cache misses",
		},
	)

	// Model lifecycle
	ModelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bikeprice_model_loaded",
			Help: "1 when a model is loaded and serving",
		},
	)

	ModelReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bikeprice_model_reloads_total",
			Help: "Model reload attempts, by result",
		},
		[]string{"result"},
	)

	HistoryWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bikeprice_history_write_errors_total",
			Help: "Prediction history writes that failed or were short-circuited",
		},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bikeprice_websocket_clients",
			Help: "Connected live-feed websocket clients",
		},
	)
)

func RecordAPIRequest(method, route string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

func RecordPrediction(outcome string, duration time.Duration, price float64) {
	PredictionsTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		PredictionDuration.Observe(duration.Seconds())
		PredictedPrice.Observe(price)
	}
}

func RecordModelReload(ok bool) {
	if ok {
		ModelReloadsTotal.WithLabelValues("success").Inc()
		ModelLoaded.Set(1)
		return
	}
	ModelReloadsTotal.WithLabelValues("failure").Inc()
}
