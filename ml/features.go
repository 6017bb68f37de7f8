package ml

import (
	"errors"
	"fmt"
)

// MinYear is the oldest manufacturing year accepted for a listing.
const MinYear = 1900

// BikeFeatures is the request-scoped input to a price model.
type BikeFeatures struct {
	Year            int
	KmDriven        float64
	ExShowroomPrice float64
	Age             int
}

// FieldError reports a single invalid input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

// ErrInvalidInput is matched by every FieldError.
var ErrInvalidInput = errors.New("invalid input")

func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewBikeFeatures validates raw listing attributes and derives the age
// feature relative to currentYear.
func NewBikeFeatures(year int, kmDriven, exShowroomPrice float64, currentYear int) (BikeFeatures, error) {
	if year < MinYear || year > currentYear {
		return BikeFeatures{}, &FieldError{Field: "year", Message: "Please enter a valid manufacturing year."}
	}
	if kmDriven < 0 {
		return BikeFeatures{}, &FieldError{Field: "km_driven", Message: "Kilometers driven cannot be negative."}
	}
	if exShowroomPrice <= 0 {
		return BikeFeatures{}, &FieldError{Field: "ex_showroom_price", Message: "Ex-showroom price must be positive."}
	}
	return BikeFeatures{
		Year:            year,
		KmDriven:        kmDriven,
		ExShowroomPrice: exShowroomPrice,
		Age:             currentYear - year,
	}, nil
}

// FeatureVector lays the features out in the order models are trained on.
func FeatureVector(f BikeFeatures) []float64 {
	return []float64{
		float64(f.Year),
		f.KmDriven,
		f.ExShowroomPrice,
		float64(f.Age),
	}
}

func FeatureNames() []string {
	return []string{
		"year",
		"km_driven",
		"ex_showroom_price",
		"age",
	}
}

func checkFeatureCount(features []float64, want int) error {
	if len(features) != want {
		return fmt.Errorf("expected %d features, got %d", want, len(features))
	}
	return nil
}
