package launcher

// Status is the lifecycle state of one test launch.
// Transitions: pending -> running -> {passed | failed | errored | stopped}.
// The four right-hand states are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusErrored Status = "errored"
	StatusStopped Status = "stopped"
)

// Terminal reports whether no further transitions can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusStopped:
		return true
	}
	return false
}
