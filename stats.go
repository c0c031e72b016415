package dualq

// stats.go holds the statistics gathered by a queue disc instance for
// post-run analysis: the four drop/mark categories and the per-class
// sojourn time samples, with summary reductions for reporting.

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// QdiscStats counts the observable outcomes of queue disc decisions.
// Forced drops happen at enqueue when capacity is exceeded; the
// unforced categories are the AQM's own probabilistic decisions.
type QdiscStats struct {
	ForcedDrops          int `json:"forceddrops" yaml:"forceddrops"`
	UnforcedClassicDrops int `json:"unforcedclassicdrops" yaml:"unforcedclassicdrops"`
	UnforcedClassicMarks int `json:"unforcedclassicmarks" yaml:"unforcedclassicmarks"`
	UnforcedL4sMarks     int `json:"unforcedl4smarks" yaml:"unforcedl4smarks"`

	// sojourn samples (seconds) taken as items leave the queue disc
	ClassicSojourns []float64 `json:"classicsojourns" yaml:"classicsojourns"`
	L4sSojourns     []float64 `json:"l4ssojourns" yaml:"l4ssojourns"`
}

// CreateQdiscStats is a constructor
func CreateQdiscStats() *QdiscStats {
	qs := new(QdiscStats)
	qs.ClassicSojourns = make([]float64, 0)
	qs.L4sSojourns = make([]float64, 0)
	return qs
}

// AddSojourn records a sojourn sample under its class label
func (qs *QdiscStats) AddSojourn(class string, sojourn float64) {
	switch class {
	case "Classic":
		qs.ClassicSojourns = append(qs.ClassicSojourns, sojourn)
	case "L4S":
		qs.L4sSojourns = append(qs.L4sSojourns, sojourn)
	default:
		panic(fmt.Errorf("sojourn sample for unknown class %s", class))
	}
}

// A SojournSummary reduces a class's sojourn samples for reporting
type SojournSummary struct {
	Count int     `json:"count" yaml:"count"`
	Mean  float64 `json:"mean" yaml:"mean"`
	P95   float64 `json:"p95" yaml:"p95"`
	Max   float64 `json:"max" yaml:"max"`
}

// Summarize computes the summary of the named class's sojourn samples.
// An empty sample set yields a zero summary.
func (qs *QdiscStats) Summarize(class string) SojournSummary {
	var samples []float64
	switch class {
	case "Classic":
		samples = qs.ClassicSojourns
	case "L4S":
		samples = qs.L4sSojourns
	default:
		panic(fmt.Errorf("sojourn summary for unknown class %s", class))
	}

	summary := SojournSummary{Count: len(samples)}
	if len(samples) == 0 {
		return summary
	}

	// stat.Quantile requires sorted input
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	summary.Mean = stat.Mean(sorted, nil)
	summary.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	summary.Max = sorted[len(sorted)-1]
	return summary
}
