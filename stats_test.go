package dualq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSojournSummary(t *testing.T) {
	qs := CreateQdiscStats()
	for _, sojourn := range []float64{0.03, 0.01, 0.05, 0.02, 0.04} {
		qs.AddSojourn("Classic", sojourn)
	}

	summary := qs.Summarize("Classic")
	assert.Equal(t, 5, summary.Count)
	assert.InDelta(t, 0.03, summary.Mean, 1e-12)
	assert.Equal(t, 0.05, summary.Max)
	assert.Equal(t, 0.05, summary.P95)
}

func TestSojournSummaryEmpty(t *testing.T) {
	qs := CreateQdiscStats()
	summary := qs.Summarize("L4S")
	assert.Equal(t, 0, summary.Count)
	assert.Equal(t, 0.0, summary.Mean)
}

func TestSojournUnknownClassPanics(t *testing.T) {
	qs := CreateQdiscStats()
	assert.Panics(t, func() { qs.AddSojourn("Turbo", 0.01) })
	assert.Panics(t, func() { qs.Summarize("Turbo") })
}
