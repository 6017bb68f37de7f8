package http

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"bikeprice/ml"
	"bikeprice/predictor"
)

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// PriceFormatter renders amounts with locale digit grouping.
type PriceFormatter struct {
	tag      language.Tag
	currency string
}

func NewPriceFormatter(locale, currency string) *PriceFormatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &PriceFormatter{tag: tag, currency: currency}
}

func (f *PriceFormatter) Format(amount float64) string {
	// printers keep per-call state, so one per call
	return f.currency + message.NewPrinter(f.tag).Sprintf("%.2f", amount)
}

type formValues struct {
	Year             string
	KmDriven         string
	ExShowroomPrice  string
	Owner            string
	SellerType       string
	ModelName        string
	ApplyAdjustments bool
}

type breakdownRow struct {
	Label string
	Value string
}

type pageData struct {
	Form        formValues
	CurrentYear int
	MinYear     int
	Prediction  string
	Adjusted    string
	Breakdown   []breakdownRow
	Error       string
	Owners      []string
	SellerTypes []string
}

var breakdownLabels = []struct {
	key   string
	label string
	price bool
}{
	{ml.BreakdownBase, "Model estimate", true},
	{ml.BreakdownOwner, "Ownership", false},
	{ml.BreakdownSeller, "Seller type", false},
	{ml.BreakdownKm, "Kilometers driven", false},
	{ml.BreakdownModel, "Brand", false},
	{ml.BreakdownTotalMultiplier, "Total multiplier", false},
	{ml.BreakdownAdjusted, "Adjusted estimate", true},
}

func (h *Handlers) newPage() pageData {
	return pageData{
		CurrentYear: h.predictor.CurrentYear(),
		MinYear:     ml.MinYear,
		Owners:      []string{"1st owner", "2nd owner", "3rd owner", "4th owner"},
		SellerTypes: []string{"Individual", "Dealer", "Trustmark Dealer"},
	}
}

func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, h.newPage())
}

// handleIndexSubmit always answers 200; problems are shown on the page.
func (h *Handlers) handleIndexSubmit(w http.ResponseWriter, r *http.Request) {
	page := h.newPage()

	if err := r.ParseForm(); err != nil {
		page.Error = "Could not read the submitted form."
		h.renderPage(w, page)
		return
	}
	page.Form = readFormValues(r.PostForm)

	if err := h.predictor.Ready(); err != nil {
		page.Error = err.Error()
		h.renderPage(w, page)
		return
	}

	req, err := parseFormRequest(page.Form)
	if err != nil {
		page.Error = err.Error()
		h.renderPage(w, page)
		return
	}

	res, err := h.predictor.Predict(r.Context(), req)
	if err != nil {
		var fe *ml.FieldError
		switch {
		case errors.As(err, &fe), errors.Is(err, predictor.ErrModelNotLoaded):
			page.Error = err.Error()
		default:
			h.logger.Error("form prediction failed",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err))
			page.Error = "Prediction failed. Please try again."
		}
		h.renderPage(w, page)
		return
	}

	page.Prediction = h.prices.Format(res.PredictedPrice)
	page.Adjusted = h.prices.Format(res.AdjustedPrice)
	page.Breakdown = h.breakdownRows(res.Breakdown)
	h.renderPage(w, page)
}

func readFormValues(form url.Values) formValues {
	return formValues{
		Year:             strings.TrimSpace(form.Get("year")),
		KmDriven:         strings.TrimSpace(form.Get("km_driven")),
		ExShowroomPrice:  strings.TrimSpace(form.Get("ex_showroom_price")),
		Owner:            strings.TrimSpace(form.Get("owner")),
		SellerType:       strings.TrimSpace(form.Get("seller_type")),
		ModelName:        strings.TrimSpace(form.Get("model_name")),
		ApplyAdjustments: form.Get("apply_adjustments") == "on",
	}
}

func parseFormRequest(f formValues) (predictor.Request, error) {
	year, err := strconv.Atoi(f.Year)
	if err != nil {
		return predictor.Request{}, errors.New("Please enter a valid manufacturing year.")
	}
	km, err := strconv.ParseFloat(f.KmDriven, 64)
	if err != nil {
		return predictor.Request{}, errors.New("Please enter kilometers driven as a number.")
	}
	price, err := strconv.ParseFloat(f.ExShowroomPrice, 64)
	if err != nil {
		return predictor.Request{}, errors.New("Please enter the ex-showroom price as a number.")
	}
	return predictor.Request{
		Year:             year,
		KmDriven:         km,
		ExShowroomPrice:  price,
		Owner:            f.Owner,
		SellerType:       f.SellerType,
		ModelName:        f.ModelName,
		ApplyAdjustments: f.ApplyAdjustments,
	}, nil
}

func (h *Handlers) breakdownRows(breakdown map[string]float64) []breakdownRow {
	rows := make([]breakdownRow, 0, len(breakdown))
	for _, l := range breakdownLabels {
		v, ok := breakdown[l.key]
		if !ok {
			continue
		}
		value := "×" + strconv.FormatFloat(v, 'f', 2, 64)
		if l.price {
			value = h.prices.Format(v)
		}
		rows = append(rows, breakdownRow{Label: l.label, Value: value})
	}
	return rows
}

func (h *Handlers) renderPage(w http.ResponseWriter, page pageData) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, page); err != nil {
		h.logger.Error("render page", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
