package core

// SubjectTypeStudent is the default subject type reported for dashboard users.
const SubjectTypeStudent = "Student"

// TrackedSubject is one entity currently displayed on the map.
type TrackedSubject struct {
	SubjectID      string   `json:"subjectId"`
	SubjectType    string   `json:"subjectType"`
	LatestPosition Position `json:"latestPosition"`
	IsCurrentUser  bool     `json:"isCurrentUser"`
	// Degraded is set on the current user when the latest fix is less accurate
	// than the configured threshold.
	Degraded bool `json:"degraded,omitempty"`
}

// SessionState is the lifecycle state of a tracking session.
type SessionState string

const (
	SessionStopped SessionState = "stopped"
	SessionActive  SessionState = "active"
)

// SessionInfo is a read-only snapshot of the tracking session.
type SessionInfo struct {
	State     SessionState `json:"state"`
	SessionID string       `json:"sessionId,omitempty"`
	LastError ErrorKind    `json:"lastError,omitempty"`
}

// IsActive reports whether the session is tracking.
func (s SessionInfo) IsActive() bool {
	return s.State == SessionActive
}
