package domain

import "strings"

// KYCTier is a verification level with its daily and monthly movement limits.
type KYCTier struct {
	Name         string
	DailyLimit   Money
	MonthlyLimit Money
}

var kycTiers = map[string]KYCTier{
	"basic":    {Name: "basic", DailyLimit: Dollars(1_000), MonthlyLimit: Dollars(5_000)},
	"enhanced": {Name: "enhanced", DailyLimit: Dollars(5_000), MonthlyLimit: Dollars(25_000)},
	"premium":  {Name: "premium", DailyLimit: Dollars(25_000), MonthlyLimit: Dollars(100_000)},
}

// TierFor returns the limits of a KYC level. Unknown or empty levels get no allowance.
func TierFor(level string) KYCTier {
	if tier, ok := kycTiers[strings.ToLower(strings.TrimSpace(level))]; ok {
		return tier
	}
	return KYCTier{Name: "none"}
}
