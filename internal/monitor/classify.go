package monitor

import "viewpulse/internal/model"

// Classify maps a rate onto a tier. Ties go to the higher tier.
func Classify(rate, warningThreshold, emergencyThreshold int64) model.Tier {
	switch {
	case rate >= emergencyThreshold:
		return model.TierEmergency
	case rate >= warningThreshold:
		return model.TierWarning
	default:
		return model.TierNormal
	}
}
