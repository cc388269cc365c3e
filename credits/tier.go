/*
tier.go - Loyalty tiers and referral links

PURPOSE:
  Presentation-level derivations from a credit record: the loyalty tier
  bucket computed from lifetime earnings, and the shareable referral
  link. No state, no store access.
*/
package credits

import "strings"

// Tier is a loyalty level derived from LifetimeEarned.
type Tier string

const (
	TierStarter  Tier = "Starter"
	TierBronze   Tier = "Bronze"
	TierSilver   Tier = "Silver"
	TierGold     Tier = "Gold"
	TierPlatinum Tier = "Platinum"
)

// Bucket thresholds on lifetime earned credits.
const (
	bronzeAt   int64 = 5000
	silverAt   int64 = 10000
	goldAt     int64 = 25000
	platinumAt int64 = 50000
)

// CreditTier returns the tier for a lifetime-earned total.
func CreditTier(lifetimeEarned int64) Tier {
	switch {
	case lifetimeEarned >= platinumAt:
		return TierPlatinum
	case lifetimeEarned >= goldAt:
		return TierGold
	case lifetimeEarned >= silverAt:
		return TierSilver
	case lifetimeEarned >= bronzeAt:
		return TierBronze
	default:
		return TierStarter
	}
}

// NextTier returns the next tier up and the credits still needed to
// reach it. At Platinum it returns ("", 0).
func NextTier(lifetimeEarned int64) (Tier, int64) {
	switch {
	case lifetimeEarned >= platinumAt:
		return "", 0
	case lifetimeEarned >= goldAt:
		return TierPlatinum, platinumAt - lifetimeEarned
	case lifetimeEarned >= silverAt:
		return TierGold, goldAt - lifetimeEarned
	case lifetimeEarned >= bronzeAt:
		return TierSilver, silverAt - lifetimeEarned
	default:
		return TierBronze, bronzeAt - lifetimeEarned
	}
}

// ReferralLink builds the shareable signup URL for a referral code.
func ReferralLink(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/register?ref=" + code
}
