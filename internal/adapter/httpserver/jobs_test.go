package httpserver

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

func TestStatusForMapsDomainSentinels(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(domain.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrConflict))
	assert.Equal(t, http.StatusConflict, statusFor(domain.ErrInvalidState))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrInvalidArgument))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}

func TestStatusForUnwrapsWrappedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("op=jobs.GetJob job_id=1: %w", domain.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, statusFor(wrapped))
}

func TestCSVEscape(t *testing.T) {
	assert.Equal(t, "plain", csvEscape("plain"))
	assert.Equal(t, `"has,comma"`, csvEscape("has,comma"))
	assert.Equal(t, `"has ""quote"""`, csvEscape(`has "quote"`))
}

func TestAtoiDefault(t *testing.T) {
	assert.Equal(t, 50, atoiDefault("", 50))
	assert.Equal(t, 7, atoiDefault("7", 50))
	assert.Equal(t, 50, atoiDefault("not-a-number", 50))
}
