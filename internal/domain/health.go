package domain

import "time"

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck is the outcome of one dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates probe results and build metadata for the readiness endpoint.
type SystemHealthReport struct {
	Status      string
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
