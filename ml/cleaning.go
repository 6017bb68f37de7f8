package ml

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// CleaningRule rejects a single training row. Rules may keep state across
// rows (duplicate detection) so a Cleaner should not be reused across sets.
type CleaningRule interface {
	Name() string
	Check(features []float64, target float64) error
}

// CleaningIssue records why a row was rejected.
type CleaningIssue struct {
	Row     int    `json:"row"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// CleaningStats summarises a Clean run.
type CleaningStats struct {
	Processed int            `json:"processed"`
	Passed    int            `json:"passed"`
	Rejected  int            `json:"rejected"`
	ByRule    map[string]int `json:"by_rule"`
}

// Cleaner applies rules in order; a row is rejected by the first rule
// that fails.
type Cleaner struct {
	rules []CleaningRule
}

// NewCleaner builds a cleaner. With no rules it uses the defaults:
// duplicate listings and selling prices far above the showroom price.
func NewCleaner(rules ...CleaningRule) *Cleaner {
	if len(rules) == 0 {
		rules = []CleaningRule{
			NewDuplicateRule(),
			&PriceRatioRule{MaxRatio: 2},
		}
	}
	return &Cleaner{rules: rules}
}

func (c *Cleaner) Clean(set *TrainingSet) (*TrainingSet, CleaningStats, []CleaningIssue) {
	stats := CleaningStats{ByRule: make(map[string]int)}
	var issues []CleaningIssue
	out := &TrainingSet{Dropped: set.Dropped}

	for i, features := range set.Features {
		stats.Processed++
		target := set.Targets[i]

		var failed error
		var rule string
		for _, r := range c.rules {
			if err := r.Check(features, target); err != nil {
				failed, rule = err, r.Name()
				break
			}
		}
		if failed != nil {
			stats.Rejected++
			stats.ByRule[rule]++
			issues = append(issues, CleaningIssue{Row: i, Rule: rule, Message: failed.Error()})
			out.Dropped++
			continue
		}
		stats.Passed++
		out.Features = append(out.Features, features)
		out.Targets = append(out.Targets, target)
	}
	return out, stats, issues
}

// DuplicateRule drops rows whose features and price repeat an earlier row.
type DuplicateRule struct {
	seen map[string]struct{}
}

func NewDuplicateRule() *DuplicateRule {
	return &DuplicateRule{seen: make(map[string]struct{})}
}

func (r *DuplicateRule) Name() string { return "duplicate" }

func (r *DuplicateRule) Check(features []float64, target float64) error {
	parts := make([]string, 0, len(features)+1)
	for _, v := range features {
		parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
	}
	parts = append(parts, strconv.FormatFloat(target, 'g', -1, 64))
	key := strings.Join(parts, "|")

	if _, ok := r.seen[key]; ok {
		return fmt.Errorf("duplicate listing %s", key)
	}
	r.seen[key] = struct{}{}
	return nil
}

// PriceRatioRule drops listings whose selling price exceeds MaxRatio times
// the ex-showroom price, which are almost always data entry errors.
type PriceRatioRule struct {
	MaxRatio float64
}

func (r *PriceRatioRule) Name() string { return "price_ratio" }

func (r *PriceRatioRule) Check(features []float64, target float64) error {
	if r.MaxRatio <= 0 || len(features) < 3 {
		return nil
	}
	showroom := features[2]
	if showroom <= 0 {
		return nil
	}
	if ratio := target / showroom; ratio > r.MaxRatio {
		return fmt.Errorf("selling price is %.1fx the ex-showroom price", ratio)
	}
	return nil
}

// IQRRule drops targets outside [Q1-k*IQR, Q3+k*IQR]. Bounds are computed
// up front from the full set with Fit.
type IQRRule struct {
	K     float64
	lower float64
	upper float64
	fit   bool
}

func (r *IQRRule) Name() string { return "price_outlier" }

func (r *IQRRule) Fit(targets []float64) {
	if len(targets) < 4 {
		return
	}
	sorted := append([]float64(nil), targets...)
	sort.Float64s(sorted)
	q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	iqr := q3 - q1
	k := r.K
	if k <= 0 {
		k = 1.5
	}
	r.lower, r.upper, r.fit = q1-k*iqr, q3+k*iqr, true
}

func (r *IQRRule) Check(features []float64, target float64) error {
	if !r.fit {
		return nil
	}
	if target < r.lower || target > r.upper {
		return fmt.Errorf("price %.0f outside [%.0f, %.0f]", target, r.lower, r.upper)
	}
	return nil
}
