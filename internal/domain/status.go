package domain

// Migration phases.
const (
	PhaseIdle       = "idle"
	PhaseInProgress = "in_progress"
	PhaseCompleted  = "completed"
	PhaseFailed     = "failed"
)

// Migration directions.
const (
	DirectionToCustom = "to_custom"
	DirectionToShared = "to_shared"
)

// MigrationStatus is the per-post-type progress record polled by the admin
// UI. It lives in the TTL key/value store and is always written as a whole
// record, never patched field by field, so a concurrent reader can never
// observe a torn state.
type MigrationStatus struct {
	RunID     string `json:"run_id,omitempty"`
	PostType  string `json:"post_type"`
	Phase     string `json:"phase"`
	Direction string `json:"direction"`
	Progress  int64  `json:"progress"`
	Total     int64  `json:"total"`
	Message   string `json:"message"`
}

// IdleStatus is what a poller sees when no migration has ever run for the
// type (or the record expired). Missing is not an error.
func IdleStatus(postType string) *MigrationStatus {
	return &MigrationStatus{PostType: postType, Phase: PhaseIdle}
}
