package sessionpool

import (
	"time"

	"github.com/justapithecus/ferret/types"
)

// Trust adjustment weights. Trust starts at 100 and is recomputed on
// demand; it is never stored.
const (
	baseTrust = 100.0

	ageGraceMinutes  = 60.0
	agePenaltyPerMin = 0.5

	failurePenalty = 15.0

	recentSuccessWindow = 5 * time.Minute
	recentSuccessBonus  = 20.0

	useGrace      = 50
	usePenaltyPer = 0.25
)

// Trust computes a session's health scalar in [0, 100].
//
// Additive model: age beyond one hour decays half a point per minute,
// each consecutive failure costs 15, a success within the last five
// minutes earns 20 back, and every use past the fiftieth costs a
// quarter point. The use penalty is deliberately gentler than the
// 200-use hard cap: wear alone retires a session through the cap, not
// through trust.
func Trust(s *types.BrowserSession, now time.Time) float64 {
	score := baseTrust

	if ageMin := now.Sub(s.CreatedAt).Minutes(); ageMin > ageGraceMinutes {
		score -= (ageMin - ageGraceMinutes) * agePenaltyPerMin
	}

	score -= float64(s.FailureStreak) * failurePenalty

	if s.LastSuccessAt != nil && now.Sub(*s.LastSuccessAt) <= recentSuccessWindow {
		score += recentSuccessBonus
	}

	if s.UseCount > useGrace {
		score -= float64(s.UseCount-useGrace) * usePenaltyPer
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
