package application

import (
	"encoding/json"
	"sync"
	"time"
)

// ServiceStatus represents the lifecycle state of a service.
type ServiceStatus string

const (
	// ServiceStatusNotStarted indicates service has not started yet.
	ServiceStatusNotStarted ServiceStatus = "NOT_STARTED"
	// ServiceStatusStarted indicates service is currently running.
	ServiceStatusStarted ServiceStatus = "STARTED"
	// ServiceStatusStopped indicates service returned after shutdown was requested.
	ServiceStatusStopped ServiceStatus = "STOPPED"
	// ServiceStatusError indicates service finished with an error.
	ServiceStatusError ServiceStatus = "ERROR"
)

// ServiceHealth contains health information for a single service.
type ServiceHealth struct {
	Status    ServiceStatus `json:"status"`
	StartedAt *time.Time    `json:"startedAt"`
	StoppedAt *time.Time    `json:"stoppedAt,omitempty"`
	Error     string        `json:"error,omitempty"`
	Data      any           `json:"data,omitempty"`
}

// Health contains the state of the services started by the watch command.
// It is safe for concurrent use.
type Health struct {
	mu        sync.Mutex
	StartedAt time.Time                 `json:"startedAt"`
	Services  map[string]*ServiceHealth `json:"services"`
}

// NewHealth creates a Health with initialized storage.
func NewHealth() *Health {
	return &Health{Services: make(map[string]*ServiceHealth)}
}

// AddService tracks a service that has not started yet.
func (h *Health) AddService(serviceName string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Services[serviceName] = &ServiceHealth{Status: ServiceStatusNotStarted}
}

// StartService marks the given service as started and stores start time.
func (h *Health) StartService(serviceName string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if service, ok := h.Services[serviceName]; ok {
		service.Status = ServiceStatusStarted

		st := time.Now()
		service.StartedAt = &st
	}
}

// StopService marks the given service as stopped without error.
func (h *Health) StopService(serviceName string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if service, ok := h.Services[serviceName]; ok {
		service.Status = ServiceStatusStopped

		st := time.Now()
		service.StoppedAt = &st
	}
}

// FailService marks the given service as failed and stores the error.
func (h *Health) FailService(serviceName string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if service, ok := h.Services[serviceName]; ok {
		service.Status = ServiceStatusError

		st := time.Now()
		service.StoppedAt = &st

		service.Error = err.Error()
	}
}

// SetServiceData stores additional health payload for the given service.
func (h *Health) SetServiceData(serviceName string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if service, ok := h.Services[serviceName]; ok {
		service.Data = data
	}
}

func (h *Health) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, _ := json.Marshal(h)
	return string(b)
}

// StartApplication marks the start time of the watch command.
func (h *Health) StartApplication() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.StartedAt = time.Now()
}
