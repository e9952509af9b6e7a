package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Date    string `json:"date" validate:"required,date"`
	Session string `json:"session" validate:"required,session"`
	Start   string `json:"start" validate:"omitempty,clock"`
}

func TestCustomValidator_DomainTags(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.Validate(sample{Date: "2026-03-02", Session: "evening", Start: "2:30 PM"}))

	err := v.Validate(sample{Date: "02/03/2026", Session: "night", Start: "25:00"})
	require.Error(t, err)

	msgs := v.FormatValidationErrors(err)
	assert.Equal(t, "Date must be a date in YYYY-MM-DD format", msgs["Date"])
	assert.Equal(t, "Session must be morning or evening", msgs["Session"])
	assert.Equal(t, "Start must be a time of day such as 09:30", msgs["Start"])
}
