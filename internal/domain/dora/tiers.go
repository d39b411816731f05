package dora

import "github.com/okian/devpulse/internal/domain/model"

// Tier boundaries. Lower is better for every metric except frequency.
const (
	leadTimeEliteHours  = 24.0
	leadTimeHighHours   = 168.0
	leadTimeMediumHours = 720.0

	frequencyElitePerWeek  = 10.0 // strictly more than
	frequencyHighPerWeek   = 3.0
	frequencyMediumPerWeek = 1.0

	failureEliteRate  = 5.0
	failureHighRate   = 10.0
	failureMediumRate = 15.0

	mttrEliteHours  = 1.0
	mttrHighHours   = 24.0
	mttrMediumHours = 168.0
)

func lowerIsBetter(v, elite, high, medium float64) model.Tier {
	switch {
	case v <= elite:
		return model.TierElite
	case v <= high:
		return model.TierHigh
	case v <= medium:
		return model.TierMedium
	}
	return model.TierLow
}

func leadTimeTier(h float64) model.Tier {
	return lowerIsBetter(h, leadTimeEliteHours, leadTimeHighHours, leadTimeMediumHours)
}

func failureRateTier(pct float64) model.Tier {
	return lowerIsBetter(pct, failureEliteRate, failureHighRate, failureMediumRate)
}

func mttrTier(h float64) model.Tier {
	return lowerIsBetter(h, mttrEliteHours, mttrHighHours, mttrMediumHours)
}

// frequencyTier bands deploys per week: elite >10, high 3-10, medium 1-<3, low <1.
func frequencyTier(perWeek float64) model.Tier {
	switch {
	case perWeek > frequencyElitePerWeek:
		return model.TierElite
	case perWeek >= frequencyHighPerWeek:
		return model.TierHigh
	case perWeek >= frequencyMediumPerWeek:
		return model.TierMedium
	}
	return model.TierLow
}
