// README: Scoring engine unit tests (pure functions, no external dependencies).
package matching

import (
	"math"
	"testing"
	"time"

	"lifeline/internal/types"
)

var (
	hospital = types.Point{Lat: 25.0400, Lng: 121.5100}
	cooldown = 90 * 24 * time.Hour
	now      = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
)

// pointAtKm returns a point roughly km kilometres east of the hospital.
func pointAtKm(km float64) types.Point {
	// One degree of longitude at this latitude is ~100.75km.
	return types.Point{Lat: hospital.Lat, Lng: hospital.Lng + km/100.75}
}

func donor(id string, group BloodGroup, km float64) Donor {
	return Donor{
		ID:        types.ID(id),
		Group:     group,
		Position:  pointAtKm(km),
		Available: true,
	}
}

func TestCompatible_Table(t *testing.T) {
	cases := []struct {
		required BloodGroup
		donor    BloodGroup
		want     bool
	}{
		{APos, APos, true},
		{APos, ANeg, true},
		{APos, OPos, true},
		{APos, ONeg, true},
		{APos, BPos, false},
		{APos, ABPos, false},
		{ONeg, ONeg, true},
		{ONeg, OPos, false},
		{ONeg, ANeg, false},
		{ABPos, BNeg, true},
		{ABPos, OPos, true},
		{ABNeg, ANeg, true},
		{ABNeg, APos, false},
		{BNeg, ONeg, true},
		{BNeg, OPos, false},
	}
	for _, tc := range cases {
		if got := Compatible(tc.required, tc.donor); got != tc.want {
			t.Errorf("Compatible(%s, %s) = %v, want %v", tc.required, tc.donor, got, tc.want)
		}
	}
	if got := len(CompatibleDonorGroups(ABPos)); got != 8 {
		t.Errorf("AB+ should accept all 8 groups, got %d", got)
	}
}

func TestRankDonors_FiltersIncompatible(t *testing.T) {
	// O- requirement: the nearer O+ donor must be excluded outright, not
	// merely scored low.
	need := Need{Group: ONeg, Location: hospital}
	pool := []Donor{
		donor("d_oneg", ONeg, 3),
		donor("d_opos", OPos, 1),
	}

	ranked := RankDonors(need, pool, 0, now, cooldown)
	if len(ranked) != 1 {
		t.Fatalf("expected 1 ranked donor, got %d", len(ranked))
	}
	if ranked[0].Donor.ID != "d_oneg" {
		t.Errorf("expected O- donor, got %s", ranked[0].Donor.ID)
	}
}

func TestRankDonors_FiltersUnavailable(t *testing.T) {
	need := Need{Group: APos, Location: hospital}
	unavailable := donor("d_off", APos, 1)
	unavailable.Available = false
	pool := []Donor{unavailable, donor("d_on", APos, 5)}

	ranked := RankDonors(need, pool, 0, now, cooldown)
	if len(ranked) != 1 || ranked[0].Donor.ID != "d_on" {
		t.Fatalf("unavailable donor should be filtered, got %+v", ranked)
	}
}

func TestScoreDonor_DistanceMonotonic(t *testing.T) {
	need := Need{Group: APos, Location: hospital}
	prev := math.MaxFloat64
	for _, km := range []float64{0, 1, 5, 10, 19, 20, 25, 40} {
		sd := ScoreDonor(donor("d", APos, km), need, now, cooldown)
		if sd.Score > prev {
			t.Errorf("score increased with distance at %.0fkm: %f > %f", km, sd.Score, prev)
		}
		prev = sd.Score
	}
}

func TestScoreDonor_TermBreakdown(t *testing.T) {
	need := Need{Group: APos, Location: hospital}

	// Exact match at zero distance, available, fresh eligible donor with no
	// history: 40 + 30 + 10 + 0 + 5 + 5.
	sd := ScoreDonor(donor("d", APos, 0), need, now, cooldown)
	if math.Abs(sd.Score-90) > 0.01 {
		t.Errorf("exact-match score = %f, want 90", sd.Score)
	}
	if !sd.Eligible {
		t.Error("donor with no history should be eligible")
	}

	// Compatible (not exact) drops the blood term to 20.
	sd = ScoreDonor(donor("d", ONeg, 0), need, now, cooldown)
	if math.Abs(sd.Score-80) > 0.01 {
		t.Errorf("compatible score = %f, want 80", sd.Score)
	}

	// Beyond 20km the distance term bottoms out at zero.
	sd = ScoreDonor(donor("d", APos, 30), need, now, cooldown)
	if math.Abs(sd.Score-50) > 0.01 {
		t.Errorf("far-away score = %f, want 50", sd.Score)
	}
}

func TestScoreDonor_HistorySaturation(t *testing.T) {
	need := Need{Group: APos, Location: hospital}

	five := donor("d5", APos, 0)
	five.DonationCount = 5
	ten := donor("d10", APos, 0)
	ten.DonationCount = 10

	s5 := ScoreDonor(five, need, now, cooldown)
	s10 := ScoreDonor(ten, need, now, cooldown)
	if s5.Score != s10.Score {
		t.Errorf("history term should saturate at 5 donations: %f vs %f", s5.Score, s10.Score)
	}
	if math.Abs(s10.Score-100) > 0.01 {
		t.Errorf("max score = %f, want 100", s10.Score)
	}
}

func TestScoreDonor_Eligibility(t *testing.T) {
	need := Need{Group: APos, Location: hospital}

	// Stored next-eligible date wins over the cooldown arithmetic.
	future := now.Add(24 * time.Hour)
	longAgo := now.Add(-200 * 24 * time.Hour)
	d := donor("d", APos, 0)
	d.LastDonation = &longAgo
	d.NextEligible = &future

	sd := ScoreDonor(d, need, now, cooldown)
	if sd.Eligible {
		t.Error("donor with future next_eligible_at must be ineligible")
	}
	if math.Abs(sd.Score-85) > 0.01 {
		t.Errorf("ineligible score = %f, want 85", sd.Score)
	}
	if !containsReason(sd.Reasons, "not yet eligible") {
		t.Errorf("missing 'not yet eligible' reason: %v", sd.Reasons)
	}

	// Fallback: no stored date, recent donation inside the cooldown.
	recent := now.Add(-30 * 24 * time.Hour)
	d = donor("d", APos, 0)
	d.LastDonation = &recent
	if DonorEligible(d, now, cooldown) {
		t.Error("donor 30 days after donation must be ineligible under 90-day cooldown")
	}
}

func TestRankDonors_SortOrder(t *testing.T) {
	need := Need{Group: APos, Location: hospital}

	// Two donors with identical scores except distance, plus one ineligible
	// donor engineered to the same score as a lower-ranked eligible one.
	near := donor("near", APos, 1)
	far := donor("far", APos, 3)

	ranked := RankDonors(need, []Donor{far, near}, 0, now, cooldown)
	if len(ranked) != 2 || ranked[0].Donor.ID != "near" {
		t.Fatalf("equal-term donors must sort by ascending distance: %+v", rankedIDs(ranked))
	}
	if ranked[0].Score < ranked[1].Score {
		t.Error("output not sorted descending by score")
	}
}

func TestRankDonors_EligibleBeforeIneligibleAtEqualScore(t *testing.T) {
	need := Need{Group: APos, Location: hospital}

	// Ineligible exact-match donor: 40+30+10+0+0+5 = 85.
	blocked := donor("blocked", APos, 0)
	nextWeek := now.Add(7 * 24 * time.Hour)
	blocked.NextEligible = &nextWeek

	// Eligible exact-match donor 2.5km out scores the same:
	// 40×(1−2.5/20)=35 → 35+30+10+0+5+5 = 85.
	open := donor("open", APos, 2.5)

	ranked := RankDonors(need, []Donor{blocked, open}, 0, now, cooldown)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 donors, got %d", len(ranked))
	}
	if math.Abs(ranked[0].Score-ranked[1].Score) > 0.04 {
		t.Fatalf("test setup broken, scores differ: %f vs %f", ranked[0].Score, ranked[1].Score)
	}
	if ranked[0].Donor.ID != "open" {
		t.Errorf("eligible donor must rank above ineligible at equal score: %v", rankedIDs(ranked))
	}
}

func TestRankDonors_Limit(t *testing.T) {
	need := Need{Group: APos, Location: hospital}
	var pool []Donor
	for i := 0; i < 15; i++ {
		pool = append(pool, donor(string(rune('a'+i)), APos, float64(i)))
	}
	if got := len(RankDonors(need, pool, 0, now, cooldown)); got != DefaultDonorLimit {
		t.Errorf("default limit = %d, want %d", got, DefaultDonorLimit)
	}
	if got := len(RankDonors(need, pool, 3, now, cooldown)); got != 3 {
		t.Errorf("explicit limit = %d, want 3", got)
	}
}

func TestScoreDonor_Reasons(t *testing.T) {
	need := Need{Group: APos, Location: hospital}
	d := donor("d", APos, 2)
	d.DonationCount = 6

	sd := ScoreDonor(d, need, now, cooldown)
	for _, want := range []string{"exact blood match", "nearby", "experienced donor", "available now"} {
		if !containsReason(sd.Reasons, want) {
			t.Errorf("missing reason %q in %v", want, sd.Reasons)
		}
	}
	if sd.DistanceKm != 2.0 {
		t.Errorf("DistanceKm = %f, want 2.0", sd.DistanceKm)
	}
}

func TestScoreVolunteer_TermBreakdown(t *testing.T) {
	need := Need{Location: hospital}
	v := Volunteer{
		ID:              "v",
		Position:        hospital,
		Active:          true,
		SuccessRatePct:  100,
		RequestsHandled: 20,
	}
	// 50 + 20 + 20 + 10.
	sv := ScoreVolunteer(v, need)
	if math.Abs(sv.Score-100) > 0.01 {
		t.Errorf("max volunteer score = %f, want 100", sv.Score)
	}

	// Experience saturates at 20 requests.
	v.RequestsHandled = 50
	if got := ScoreVolunteer(v, need).Score; math.Abs(got-100) > 0.01 {
		t.Errorf("experience term should saturate: %f", got)
	}

	v = Volunteer{ID: "v2", Position: pointAtKm(15), Active: true, SuccessRatePct: 50}
	// 50×(1−15/30) + 20 + 10 + 0 = 55.
	if got := ScoreVolunteer(v, need).Score; math.Abs(got-55) > 0.5 {
		t.Errorf("volunteer score = %f, want ~55", got)
	}
}

func TestRankVolunteers_FiltersInactiveAndSorts(t *testing.T) {
	need := Need{Location: hospital}
	pool := []Volunteer{
		{ID: "inactive", Position: hospital, Active: false, SuccessRatePct: 100},
		{ID: "far", Position: pointAtKm(10), Active: true, SuccessRatePct: 80},
		{ID: "near", Position: pointAtKm(1), Active: true, SuccessRatePct: 80},
	}

	ranked := RankVolunteers(need, pool, 0)
	if len(ranked) != 2 {
		t.Fatalf("inactive volunteer should be filtered, got %d", len(ranked))
	}
	if ranked[0].Volunteer.ID != "near" || ranked[1].Volunteer.ID != "far" {
		t.Errorf("unexpected order: %s, %s", ranked[0].Volunteer.ID, ranked[1].Volunteer.ID)
	}
}

func containsReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func rankedIDs(ranked []ScoredDonor) []types.ID {
	ids := make([]types.ID, len(ranked))
	for i, r := range ranked {
		ids[i] = r.Donor.ID
	}
	return ids
}
