package stability

import "math"

// Band grades one metric against its thresholds.
type Band string

const (
	BandOK       Band = "ok"
	BandWarn     Band = "warn"
	BandCritical Band = "critical"
	// BandUnknown marks a metric whose denominator was empty (NaN).
	BandUnknown Band = "unknown"
)

// Threshold holds the warn and critical boundaries for one metric, with an
// optional clamp range applied before grading.
type Threshold struct {
	Warn     float64 `yaml:"warn"`
	Critical float64 `yaml:"critical"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
}

// Classify grades a metric value. Values are clamped into [Min, Max] when a
// clamp range is configured, so a pathological input cannot skip a band.
func (t Threshold) Classify(value float64) Band {
	if math.IsNaN(value) {
		return BandUnknown
	}
	if t.Max > t.Min {
		value = math.Min(math.Max(value, t.Min), t.Max)
	}
	switch {
	case value >= t.Critical:
		return BandCritical
	case value >= t.Warn:
		return BandWarn
	default:
		return BandOK
	}
}

// Thresholds grades a full report.
type Thresholds struct {
	PRDR Threshold `yaml:"prdr"`
	VRL  Threshold `yaml:"vrl"`
	FR   Threshold `yaml:"fr"`
}

// DefaultThresholds carries the operational defaults: PRDR warns at 30% and
// criticals at 50%, VRL at 10s/30s, FR at 0.10/0.25.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PRDR: Threshold{Warn: 30, Critical: 50, Min: 0, Max: 100},
		VRL:  Threshold{Warn: 10, Critical: 30},
		FR:   Threshold{Warn: 0.10, Critical: 0.25, Min: 0, Max: 1},
	}
}

// Assessment is a graded report.
type Assessment struct {
	PRDR    Band `json:"prdr"`
	VRL     Band `json:"vrl"`
	FR      Band `json:"fr"`
	Overall Band `json:"overall"`
}

// Evaluate grades each metric and rolls up the worst band as Overall.
// Unknown metrics do not degrade the rollup.
func (t Thresholds) Evaluate(report Report) Assessment {
	a := Assessment{
		PRDR: t.PRDR.Classify(report.PRDR),
		VRL:  t.VRL.Classify(report.VRL),
		FR:   t.FR.Classify(report.FR),
	}
	a.Overall = worst(a.PRDR, a.VRL, a.FR)
	return a
}

func worst(bands ...Band) Band {
	overall := BandUnknown
	for _, b := range bands {
		if rank(b) > rank(overall) {
			overall = b
		}
	}
	return overall
}

func rank(b Band) int {
	switch b {
	case BandCritical:
		return 3
	case BandWarn:
		return 2
	case BandOK:
		return 1
	default:
		return 0
	}
}
