// README: Pure scoring functions for donors and volunteers.
package matching

import (
	"math"
	"sort"
	"time"

	"lifeline/internal/geo"
)

// Scoring weights. The response-rate term is reserved: no responsiveness
// signal is collected yet, so every donor receives the full weight.
const (
	donorDistanceWeight  = 40.0
	donorDistanceCapKm   = 20.0
	donorExactMatchScore = 30.0
	donorCompatScore     = 20.0
	donorAvailableScore  = 10.0
	donorHistoryWeight   = 2.0
	donorHistoryCap      = 10.0
	donorEligibleScore   = 5.0
	donorResponseScore   = 5.0

	volunteerDistanceWeight = 50.0
	volunteerDistanceCapKm  = 30.0
	volunteerActiveScore    = 20.0
	volunteerSuccessWeight  = 0.20
	volunteerExpWeight      = 0.5
	volunteerExpCap         = 10.0

	nearbyKm = 5.0

	DefaultDonorLimit     = 10
	DefaultVolunteerLimit = 5

	// scoreEpsilon treats scores within a twentieth of a point as tied so
	// that tie-breaking does not depend on float noise in the distance term.
	scoreEpsilon = 0.05
)

// DonorEligible reports whether the donor's post-donation cooldown has
// elapsed. The stored next-eligible date is the source of truth; the cooldown
// arithmetic from the last donation is only a fallback when that field is
// absent.
func DonorEligible(d Donor, now time.Time, cooldown time.Duration) bool {
	if d.NextEligible != nil {
		return !now.Before(*d.NextEligible)
	}
	if d.LastDonation != nil {
		return now.Sub(*d.LastDonation) >= cooldown
	}
	return true
}

// ScoreDonor computes the 0–100 rank score for a donor against a need. The
// caller must have filtered incompatible donors already; this function only
// distinguishes exact versus merely compatible groups.
func ScoreDonor(d Donor, need Need, now time.Time, cooldown time.Duration) ScoredDonor {
	km := geo.HaversineKm(d.Position.Lat, d.Position.Lng, need.Location.Lat, need.Location.Lng)

	score := donorDistanceWeight * math.Max(0, 1-km/donorDistanceCapKm)

	var reasons []string
	if d.Group == need.Group {
		score += donorExactMatchScore
		reasons = append(reasons, "exact blood match")
	} else {
		score += donorCompatScore
		reasons = append(reasons, "compatible blood type")
	}

	if d.Available {
		score += donorAvailableScore
		reasons = append(reasons, "available now")
	}

	score += math.Min(donorHistoryCap, float64(d.DonationCount)*donorHistoryWeight)
	if d.DonationCount >= 5 {
		reasons = append(reasons, "experienced donor")
	}

	eligible := DonorEligible(d, now, cooldown)
	if eligible {
		score += donorEligibleScore
	} else {
		reasons = append(reasons, "not yet eligible")
	}

	score += donorResponseScore

	if km <= nearbyKm {
		reasons = append(reasons, "nearby")
	}

	return ScoredDonor{
		Donor:      d,
		Score:      score,
		DistanceKm: round1(km),
		Eligible:   eligible,
		Reasons:    reasons,
	}
}

// ScoreVolunteer computes the 0–100 rank score for a volunteer against a need.
func ScoreVolunteer(v Volunteer, need Need) ScoredVolunteer {
	km := geo.HaversineKm(v.Position.Lat, v.Position.Lng, need.Location.Lat, need.Location.Lng)

	score := volunteerDistanceWeight * math.Max(0, 1-km/volunteerDistanceCapKm)

	var reasons []string
	if v.Active {
		score += volunteerActiveScore
	}
	score += v.SuccessRatePct * volunteerSuccessWeight
	if v.SuccessRatePct >= 90 {
		reasons = append(reasons, "high success rate")
	}
	score += math.Min(volunteerExpCap, float64(v.RequestsHandled)*volunteerExpWeight)
	if v.RequestsHandled >= 20 {
		reasons = append(reasons, "experienced volunteer")
	}
	if km <= nearbyKm {
		reasons = append(reasons, "nearby")
	}

	return ScoredVolunteer{
		Volunteer:  v,
		Score:      score,
		DistanceKm: round1(km),
		Reasons:    reasons,
	}
}

// RankDonors filters the pool down to compatible, available donors, scores
// the remainder, and returns the top limit sorted by score. Ties break by
// eligibility, then ascending distance, then descending donation history.
func RankDonors(need Need, pool []Donor, limit int, now time.Time, cooldown time.Duration) []ScoredDonor {
	if limit <= 0 {
		limit = DefaultDonorLimit
	}

	scored := make([]ScoredDonor, 0, len(pool))
	for _, d := range pool {
		if !Compatible(need.Group, d.Group) {
			continue
		}
		if !d.Available {
			continue
		}
		scored = append(scored, ScoreDonor(d, need, now, cooldown))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if math.Abs(a.Score-b.Score) > scoreEpsilon {
			return a.Score > b.Score
		}
		if a.Eligible != b.Eligible {
			return a.Eligible
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.Donor.DonationCount > b.Donor.DonationCount
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// RankVolunteers filters the pool down to active volunteers, scores the
// remainder, and returns the top limit sorted by score. Ties break by
// ascending distance, then descending experience.
func RankVolunteers(need Need, pool []Volunteer, limit int) []ScoredVolunteer {
	if limit <= 0 {
		limit = DefaultVolunteerLimit
	}

	scored := make([]ScoredVolunteer, 0, len(pool))
	for _, v := range pool {
		if !v.Active {
			continue
		}
		scored = append(scored, ScoreVolunteer(v, need))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if math.Abs(a.Score-b.Score) > scoreEpsilon {
			return a.Score > b.Score
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.Volunteer.RequestsHandled > b.Volunteer.RequestsHandled
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
