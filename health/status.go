package health

import (
	"fmt"
	"regexp"
	"time"
)

// Level is the coarse health state
type Level string

const (
	LevelHealthy   Level = "healthy"
	LevelDegraded  Level = "degraded"
	LevelUnhealthy Level = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`[a-z][a-z0-9+.-]*://[^\s]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(:\d{1,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of a component or one of its workers
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Status  `json:"checks,omitempty"`
}

// IsHealthy reports whether the level is healthy
func (s Status) IsHealthy() bool { return s.Level == LevelHealthy }

// IsDegraded reports whether the level is degraded
func (s Status) IsDegraded() bool { return s.Level == LevelDegraded }

// IsUnhealthy reports whether the level is unhealthy
func (s Status) IsUnhealthy() bool { return s.Level == LevelUnhealthy }

func newStatus(name string, level Level, message string) Status {
	return Status{
		Name:      name,
		Healthy:   level == LevelHealthy,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status
func NewHealthy(name, message string) Status { return newStatus(name, LevelHealthy, message) }

// NewDegraded creates a degraded status
func NewDegraded(name, message string) Status { return newStatus(name, LevelDegraded, message) }

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(name, message string) Status { return newStatus(name, LevelUnhealthy, message) }

// Aggregate builds the parent status for a set of checks
func Aggregate(name string, checks []Status) Status {
	if len(checks) == 0 {
		return NewHealthy(name, "no workers registered")
	}

	unhealthy, degraded := 0, 0
	for _, c := range checks {
		switch c.Level {
		case LevelUnhealthy:
			unhealthy++
		case LevelDegraded:
			degraded++
		}
	}

	var s Status
	switch {
	case unhealthy > 0:
		s = NewUnhealthy(name, fmt.Sprintf("%d of %d workers unhealthy", unhealthy, len(checks)))
	case degraded > 0:
		s = NewDegraded(name, fmt.Sprintf("%d of %d workers degraded", degraded, len(checks)))
	default:
		s = NewHealthy(name, "all workers healthy")
	}

	s.Checks = make([]Status, len(checks))
	copy(s.Checks, checks)
	return s
}

// WorkerFacts is what a component knows about one of its workers
type WorkerFacts struct {
	Running    bool  // inside its loop right now
	Expected   bool  // the component is running, so the worker should be too
	Err        error // terminal error reported by Join, if any
	Iterations int64
	Errors     int64
}

// ForWorker derives a worker status. A terminal error or an unexpected exit
// is unhealthy; more than half of the iterations failing is degraded.
func ForWorker(name string, f WorkerFacts) Status {
	switch {
	case f.Err != nil:
		return NewUnhealthy(name, Sanitize(f.Err.Error()))
	case f.Expected && !f.Running:
		return NewUnhealthy(name, "worker is not running")
	case f.Iterations > 0 && f.Errors*2 > f.Iterations:
		return NewDegraded(name, fmt.Sprintf("%d of %d iterations failed", f.Errors, f.Iterations))
	case f.Running:
		return NewHealthy(name, "running")
	default:
		return NewHealthy(name, "idle")
	}
}

// Sanitize strips URLs, IP addresses and credentials from an error message
func Sanitize(msg string) string {
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	return credentialRegex.ReplaceAllString(msg, "[REDACTED]")
}
