package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// TrainingSet is a cleaned, model-ready view of a listings file.
type TrainingSet struct {
	Features [][]float64
	Targets  []float64
	Dropped  int
}

var requiredColumns = []string{"selling_price", "year", "km_driven", "ex_showroom_price"}

func LoadTrainingCSV(path string, currentYear int) (*TrainingSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadTrainingCSV(file, currentYear)
}

// ReadTrainingCSV parses a used-bike listings CSV. Rows with blank or
// malformed numerics, or that fail feature validation, are dropped and
// counted rather than failing the whole load.
func ReadTrainingCSV(r io.Reader, currentYear int) (*TrainingSet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("training file is empty")
		}
		return nil, err
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("training file is missing column %q", name)
		}
	}

	set := &TrainingSet{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		features, target, ok := parseListing(record, columns, currentYear)
		if !ok {
			set.Dropped++
			continue
		}
		set.Features = append(set.Features, FeatureVector(features))
		set.Targets = append(set.Targets, target)
	}

	if len(set.Features) == 0 {
		return nil, errors.New("no usable rows in training file")
	}
	return set, nil
}

func parseListing(record []string, columns map[string]int, currentYear int) (BikeFeatures, float64, bool) {
	field := func(name string) string {
		idx := columns[name]
		if idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	price, err := strconv.ParseFloat(field("selling_price"), 64)
	if err != nil || price <= 0 {
		return BikeFeatures{}, 0, false
	}
	year, err := strconv.Atoi(field("year"))
	if err != nil {
		return BikeFeatures{}, 0, false
	}
	km, err := strconv.ParseFloat(field("km_driven"), 64)
	if err != nil {
		return BikeFeatures{}, 0, false
	}
	showroom, err := strconv.ParseFloat(field("ex_showroom_price"), 64)
	if err != nil {
		return BikeFeatures{}, 0, false
	}
	features, err := NewBikeFeatures(year, km, showroom, currentYear)
	if err != nil {
		return BikeFeatures{}, 0, false
	}
	return features, price, true
}
