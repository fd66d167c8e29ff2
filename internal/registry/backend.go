// Package registry maintains the authoritative set of reachable backend
// instances per application hostname. Membership is driven by container
// lifecycle events, status by TCP probes. Watchers observe changes through
// an opaque monotonic version counter.
package registry

import "time"

// Health is a backend probe status. Anything other than passing excludes
// the backend from query results.
type Health string

const (
	HealthPassing  Health = "passing"
	HealthWarning  Health = "warning"
	HealthCritical Health = "critical"
)

// Backend is one running container instance, the unit of load-balanced
// traffic.
type Backend struct {
	ContainerID  string `json:"container_id"`
	Address      string `json:"address"`       // container host address
	InternalPort int    `json:"internal_port"` // advertised service port
	ExternalPort int    `json:"external_port"` // published port, used for probing and routing
	ImageID      string `json:"image_id"`
	UserID       string `json:"user_id"`
	AppHostname  string `json:"app_hostname"`
	Health       Health `json:"health"`

	criticalSince time.Time
}

// Check describes the TCP health probe attached to a registration.
type Check struct {
	TCP                     string        // host:port dial target
	Interval                time.Duration // 0 disables probing
	Timeout                 time.Duration
	DeregisterCriticalAfter time.Duration
}
