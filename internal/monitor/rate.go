package monitor

import (
	"time"

	"viewpulse/internal/model"
)

// Rate returns the delta between the two most recent samples. Samples must be
// ordered newest first, as returned by the sample store. With fewer than two
// samples the rate is 0. The result is a delta per tick; it only reads as
// "per minute" when the poll interval is one minute.
func Rate(samples []model.Sample) int64 {
	if len(samples) < 2 {
		return 0
	}
	return samples[0].Measurement - samples[1].Measurement
}

type Snapshot struct {
	Rate    int64         `json:"rate"`
	Tier    model.Tier    `json:"tier"`
	Anomaly bool          `json:"anomaly"`
	Latest  *model.Sample `json:"latest,omitempty"`
}

// Evaluate derives the live rate and tier for an item from its most recent
// samples (newest first). A negative rate is kept as-is and flagged as an
// anomaly; it always classifies as normal.
func Evaluate(samples []model.Sample, item model.TrackedItem) Snapshot {
	rate := Rate(samples)
	snap := Snapshot{
		Rate:    rate,
		Tier:    Classify(rate, item.WarningThreshold, item.EmergencyThreshold),
		Anomaly: rate < 0,
	}
	if len(samples) > 0 {
		latest := samples[0]
		snap.Latest = &latest
	}
	return snap
}

type RatePoint struct {
	Measurement int64     `json:"measurement"`
	ObservedAt  time.Time `json:"observedAt"`
	Rate        int64     `json:"rate"`
}

// HistoryRates computes a rate for every sample against its immediate
// predecessor. samples must be ordered oldest first. predecessor is the sample
// just before the window, if any; without it the first point has rate 0.
func HistoryRates(predecessor *model.Sample, samples []model.Sample) []RatePoint {
	points := make([]RatePoint, 0, len(samples))
	prev := predecessor
	for i := range samples {
		point := RatePoint{Measurement: samples[i].Measurement, ObservedAt: samples[i].ObservedAt}
		if prev != nil {
			point.Rate = samples[i].Measurement - prev.Measurement
		}
		points = append(points, point)
		prev = &samples[i]
	}
	return points
}
