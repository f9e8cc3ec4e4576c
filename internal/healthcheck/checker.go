package healthcheck

// Probe verdicts.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusUnknown = "unknown"
)

// CheckResult is the outcome of one keep-alive probe. Status stays
// StatusUnknown when the probe had nothing to check.
type CheckResult struct {
	ID       string
	Status   string
	Summary  string
	Detail   string
	Metadata map[string]any
}

func (r CheckResult) Passed() bool {
	return r.Status == StatusOK
}
