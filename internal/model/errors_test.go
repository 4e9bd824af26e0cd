package model

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestNotFoundError_Is(t *testing.T) {
	err := NewNotFound("company", "INFY")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, `company "INFY" not found`, err.Error())

	wrapped := eris.Wrap(err, "valuation: resolve company")
	assert.True(t, errors.Is(wrapped, ErrNotFound))

	var nf *NotFoundError
	assert.True(t, errors.As(wrapped, &nf))
	assert.Equal(t, "company", nf.Entity)
}

func TestTransactionError_Is(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := NewTransactionError("promote group", cause)

	assert.True(t, errors.Is(err, ErrTransactionFailure))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "promote group")
}

func TestRawStatusValues(t *testing.T) {
	assert.Equal(t, "INGESTED", string(RawStatusIngested))
	assert.Equal(t, "VALIDATED", string(RawStatusValidated))
	assert.Equal(t, "FAILED", string(RawStatusFailed))
}
