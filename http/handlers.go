package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"bikeprice/db"
	"bikeprice/ml"
	"bikeprice/predictor"
	"bikeprice/validation"
)

// PredictionService is the part of *predictor.Predictor the handlers use.
type PredictionService interface {
	Predict(ctx context.Context, req predictor.Request) (*predictor.Result, error)
	Status() predictor.Status
	Ready() error
	CurrentYear() int
}

type HistoryReader interface {
	RecentPredictions(ctx context.Context, limit int) ([]db.PredictionRecord, error)
}

var requiredFields = []string{"year", "km_driven", "ex_showroom_price"}

type Handlers struct {
	predictor     PredictionService
	history       HistoryReader
	prices        *PriceFormatter
	corsAvailable bool
	logger        *zap.Logger
}

func NewHandlers(svc PredictionService, history HistoryReader, prices *PriceFormatter, corsAvailable bool, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prices == nil {
		prices = NewPriceFormatter("en-IN", "₹")
	}
	return &Handlers{
		predictor:     svc,
		history:       history,
		prices:        prices,
		corsAvailable: corsAvailable,
		logger:        logger,
	}
}

func RegisterHandlers(mux *http.ServeMux, h *Handlers) {
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("POST /{$}", h.handleIndexSubmit)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/predictions", h.handlePredictions)
}

type healthResponse struct {
	predictor.Status
	CORSAvailable bool `json:"cors_available"`
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        h.predictor.Status(),
		CORSAvailable: h.corsAvailable,
	})
}

type predictResponse struct {
	ID                    string             `json:"id"`
	PredictedSellingPrice float64            `json:"predicted_selling_price"`
	AdjustedPrediction    float64            `json:"adjusted_prediction"`
	Breakdown             map[string]float64 `json:"breakdown"`
	ModelType             string             `json:"model_type"`
}

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, "No JSON payload provided")
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "No JSON payload provided")
		return
	}

	req, err := parseJSONRequest(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.predictor.Predict(r.Context(), req)
	if err != nil {
		var fe *ml.FieldError
		switch {
		case errors.As(err, &fe):
			writeError(w, http.StatusBadRequest, "Invalid "+fe.Field)
		case errors.Is(err, predictor.ErrModelNotLoaded):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			h.logger.Error("prediction failed",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "prediction failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, predictResponse{
		ID:                    res.ID,
		PredictedSellingPrice: res.PredictedPrice,
		AdjustedPrediction:    res.AdjustedPrice,
		Breakdown:             res.Breakdown,
		ModelType:             res.ModelType,
	})
}

// parseJSONRequest accepts numbers or numeric strings for the required
// fields. Optional fields of the wrong type are ignored.
func parseJSONRequest(payload map[string]interface{}) (predictor.Request, error) {
	var missing []string
	for _, key := range requiredFields {
		if _, ok := payload[key]; !ok {
			missing = append(missing, "'"+key+"'")
		}
	}
	if len(missing) > 0 {
		return predictor.Request{}, fmt.Errorf("Missing fields: [%s]", strings.Join(missing, ", "))
	}

	year, ok := toNumber(payload["year"])
	if !ok {
		return predictor.Request{}, errors.New("Invalid year")
	}
	km, ok := toNumber(payload["km_driven"])
	if !ok {
		return predictor.Request{}, errors.New("Invalid km_driven")
	}
	price, ok := toNumber(payload["ex_showroom_price"])
	if !ok {
		return predictor.Request{}, errors.New("Invalid ex_showroom_price")
	}

	req := predictor.Request{
		Year:             int(year),
		KmDriven:         km,
		ExShowroomPrice:  price,
		ApplyAdjustments: truthy(payload["apply_adjustments"]),
	}
	req.Owner, _ = payload["owner"].(string)
	req.SellerType, _ = payload["seller_type"].(string)
	req.ModelName, _ = payload["model_name"].(string)
	return req, nil
}

func toNumber(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b != ""
	case float64:
		return b != 0
	case nil:
		return false
	default:
		return true
	}
}

type predictionsQuery struct {
	Limit int `json:"limit" validate:"min=1,max=500"`
}

func (h *Handlers) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "prediction history is disabled")
		return
	}

	q := predictionsQuery{Limit: 50}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		q.Limit = limit
	}
	if err := validation.ValidateStruct(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.history.RecentPredictions(r.Context(), q.Limit)
	if err != nil {
		h.logger.Error("query prediction history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load prediction history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"predictions": records,
		"count":       len(records),
	})
}

// writeJSON encodes before touching the response so an unencodable value
// becomes a 500 instead of a 200 with an empty body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
		buf.Reset()
		buf.WriteString(`{"error":"internal server error"}` + "\n")
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
