package models

// StageStatus is the resumable state of one pipeline stage
type StageStatus string

const (
	StageNotStarted StageStatus = "NOT_STARTED" // No checkpoint recorded
	StageInProgress StageStatus = "IN_PROGRESS" // Checkpoint recorded, work remaining
	StageComplete   StageStatus = "COMPLETE"    // Exhausted
)

// String implements fmt.Stringer for logging
func (s StageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known value
func (s StageStatus) IsValid() bool {
	switch s {
	case StageNotStarted, StageInProgress, StageComplete:
		return true
	}
	return false
}

// StageName identifies a pipeline stage
type StageName string

const (
	StageBrands   StageName = "brands"
	StageProducts StageName = "products"
	StageDetails  StageName = "details"
)

// AllStages lists the stages in execution order
var AllStages = []StageName{StageBrands, StageProducts, StageDetails}

// ParseStageName accepts a stage name or "all" (returning every stage).
func ParseStageName(s string) ([]StageName, bool) {
	switch StageName(s) {
	case "", "all":
		return AllStages, true
	case StageBrands, StageProducts, StageDetails:
		return []StageName{StageName(s)}, true
	}
	return nil, false
}
