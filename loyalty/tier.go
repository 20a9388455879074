package loyalty

import "cantina/models"

// Balance thresholds for each tier. Non-overlapping; the highest satisfied
// threshold wins.
const (
	silverThreshold   = 100
	goldThreshold     = 500
	platinumThreshold = 1000
)

// TierFor maps a points balance to the highest tier whose threshold it
// satisfies. Pure and total: any balance, including a negative one that
// should never occur, maps to a tier.
func TierFor(balance int64) models.Tier {
	switch {
	case balance >= platinumThreshold:
		return models.TierPlatinum
	case balance >= goldThreshold:
		return models.TierGold
	case balance >= silverThreshold:
		return models.TierSilver
	default:
		return models.TierBronze
	}
}
