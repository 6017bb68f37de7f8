package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listing struct {
	Owner string `json:"owner" validate:"omitempty,max=8"`
	Limit int    `json:"limit" validate:"min=1,max=100"`
	Inner struct {
		Level string `koanf:"level" validate:"oneof=debug info"`
	} `json:"inner"`
}

func TestValidateStructOK(t *testing.T) {
	var l listing
	l.Limit = 10
	l.Inner.Level = "info"
	assert.NoError(t, ValidateStruct(&l))
}

func TestValidateStructErrors(t *testing.T) {
	l := listing{Owner: "much too long", Limit: 0}
	l.Inner.Level = "trace"

	err := ValidateStruct(&l)
	require.Error(t, err)

	var verrs Errors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, []string{"owner", "limit", "inner.level"}, verrs.Fields())
	assert.Contains(t, err.Error(), "owner must be at most 8")
	assert.Contains(t, err.Error(), "limit must be at least 1")
	assert.Contains(t, err.Error(), "inner.level must be one of [debug info]")
}

func TestGetValidatorSingleton(t *testing.T) {
	assert.Same(t, GetValidator(), GetValidator())
}
