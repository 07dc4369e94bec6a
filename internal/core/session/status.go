package session

import "time"

// UsageLevel grades workspace usage against the quota.
type UsageLevel string

const (
	UsageOK       UsageLevel = "OK"
	UsageWarning  UsageLevel = "WARNING"
	UsageCritical UsageLevel = "CRITICAL"
)

// Status is a session's accounting plus its workspace usage.
type Status struct {
	Info
	WorkspaceSize int64         `json:"workspace_size"`
	FileCount     int           `json:"file_count"`
	Quota         int64         `json:"quota"`
	ExpiresIn     time.Duration `json:"expires_in"`
}

// UsagePercent returns the share of the quota in use. It is zero without a quota.
func (s Status) UsagePercent() float64 {
	if s.Quota <= 0 {
		return 0
	}
	return float64(s.WorkspaceSize) / float64(s.Quota) * 100
}

// Level returns CRITICAL from 90% of the quota and WARNING from 70%.
func (s Status) Level() UsageLevel {
	switch p := s.UsagePercent(); {
	case p >= 90:
		return UsageCritical
	case p >= 70:
		return UsageWarning
	default:
		return UsageOK
	}
}
