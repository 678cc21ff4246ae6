package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTaxonomyErrorKnownCode(t *testing.T) {
	err := NewTaxonomyError("E-2001", "")
	assert.Equal(t, "E-2001", err.Code)
	assert.Equal(t, CategoryValidation, err.Category)
	assert.Equal(t, "Invalid ZIP Code", err.Message)
	assert.False(t, err.Retryable)
}

func TestNewTaxonomyErrorCustomMessage(t *testing.T) {
	err := NewTaxonomyError("E-2001", "ZIP 00000 is not assigned")
	assert.Equal(t, "ZIP 00000 is not assigned", err.Message)
	assert.Equal(t, "E-2001", err.Code)
}

func TestNewTaxonomyErrorUnknownCodeFallsBack(t *testing.T) {
	err := NewTaxonomyError("E-9999", "")
	assert.Equal(t, "E-4001", err.Code)
	assert.Equal(t, CategorySystem, err.Category)
}

func TestTaxonomyErrorRetryableCodes(t *testing.T) {
	assert.True(t, NewTaxonomyError("E-3001", "").Retryable)
	assert.True(t, NewTaxonomyError("E-3002", "").Retryable)
	assert.False(t, NewTaxonomyError("E-3003", "").Retryable)
}

func TestTaxonomyErrorImplementsError(t *testing.T) {
	var err error = NewTaxonomyError("E-1002", "")
	assert.Contains(t, err.Error(), "E-1002")
}
