// README: Candidate models and the blood-group compatibility table.
package matching

import (
	"time"

	"lifeline/internal/types"
)

// BloodGroup is one of the eight ABO/Rh groups.
type BloodGroup string

const (
	APos  BloodGroup = "A+"
	ANeg  BloodGroup = "A-"
	BPos  BloodGroup = "B+"
	BNeg  BloodGroup = "B-"
	ABPos BloodGroup = "AB+"
	ABNeg BloodGroup = "AB-"
	OPos  BloodGroup = "O+"
	ONeg  BloodGroup = "O-"
)

// compatibleDonors maps a recipient's required group to the donor groups that
// may satisfy it. This is transfusion medicine, not configuration.
var compatibleDonors = map[BloodGroup][]BloodGroup{
	APos:  {APos, ANeg, OPos, ONeg},
	ANeg:  {ANeg, ONeg},
	BPos:  {BPos, BNeg, OPos, ONeg},
	BNeg:  {BNeg, ONeg},
	ABPos: {ABPos, ABNeg, APos, ANeg, BPos, BNeg, OPos, ONeg},
	ABNeg: {ABNeg, ANeg, BNeg, ONeg},
	OPos:  {OPos, ONeg},
	ONeg:  {ONeg},
}

// ValidGroup reports whether g is one of the eight blood groups.
func ValidGroup(g BloodGroup) bool {
	_, ok := compatibleDonors[g]
	return ok
}

// Compatible reports whether blood of the donor group may be given to a
// recipient requiring the required group.
func Compatible(required, donor BloodGroup) bool {
	for _, g := range compatibleDonors[required] {
		if g == donor {
			return true
		}
	}
	return false
}

// CompatibleDonorGroups returns the set of donor groups acceptable for the
// required group. The returned slice must not be mutated.
func CompatibleDonorGroups(required BloodGroup) []BloodGroup {
	return compatibleDonors[required]
}

// Donor is a read-only snapshot of a registered donor at scoring time.
type Donor struct {
	ID            types.ID
	Name          string
	Group         BloodGroup
	Position      types.Point
	Available     bool
	DonationCount int
	LastDonation  *time.Time
	NextEligible  *time.Time
}

// Volunteer is a read-only snapshot of a transport/logistics volunteer.
type Volunteer struct {
	ID              types.ID
	Name            string
	Position        types.Point
	Active          bool
	SuccessRatePct  float64
	RequestsHandled int
}

// Need describes the request being matched: what blood is required and where
// it must arrive.
type Need struct {
	Group    BloodGroup
	Location types.Point
	Units    int
}

// ScoredDonor is a donor plus its computed rank data for one need.
type ScoredDonor struct {
	Donor      Donor
	Score      float64
	DistanceKm float64
	Eligible   bool
	Reasons    []string
}

// ScoredVolunteer is a volunteer plus its computed rank data for one need.
type ScoredVolunteer struct {
	Volunteer  Volunteer
	Score      float64
	DistanceKm float64
	Reasons    []string
}
