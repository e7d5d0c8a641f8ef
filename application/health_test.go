package application_test

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/platforma-dev/clinicdb/application"
)

func TestNewHealth(t *testing.T) {
	t.Parallel()

	health := application.NewHealth()

	if health.Services == nil {
		t.Error("expected non-nil services map")
	}

	if !health.StartedAt.IsZero() {
		t.Error("expected zero StartedAt time")
	}
}

func TestHealth_ServiceLifecycle(t *testing.T) {
	t.Parallel()

	health := application.NewHealth()
	health.AddService("drift-watcher")

	if health.Services["drift-watcher"].Status != application.ServiceStatusNotStarted {
		t.Fatal("service should not be started")
	}

	beforeStart := time.Now()
	health.StartService("drift-watcher")

	service := health.Services["drift-watcher"]
	if service.Status != application.ServiceStatusStarted {
		t.Errorf("expected status %v, got %v", application.ServiceStatusStarted, service.Status)
	}
	if service.StartedAt == nil || service.StartedAt.Before(beforeStart) {
		t.Error("expected StartedAt after the start call")
	}

	health.SetServiceData("drift-watcher", map[string]int{"runs": 3})
	if service.Data == nil {
		t.Error("service should have data")
	}

	health.StopService("drift-watcher")
	if service.Status != application.ServiceStatusStopped || service.StoppedAt == nil {
		t.Errorf("expected stopped service, got %+v", service)
	}
}

func TestFailService(t *testing.T) {
	t.Parallel()

	health := application.NewHealth()
	health.AddService("drift-watcher")
	health.StartService("drift-watcher")

	health.FailService("drift-watcher", errors.New("scheduler crashed"))

	service := health.Services["drift-watcher"]
	if service.Status != application.ServiceStatusError {
		t.Errorf("expected status %v, got %v", application.ServiceStatusError, service.Status)
	}
	if service.Error != "scheduler crashed" {
		t.Errorf("expected error message %q, got %q", "scheduler crashed", service.Error)
	}
	if service.StoppedAt == nil {
		t.Fatal("expected non-nil StoppedAt")
	}
}

func TestUnknownServiceIsIgnored(t *testing.T) {
	t.Parallel()

	health := application.NewHealth()

	health.StartService("nonexistent")
	health.StopService("nonexistent")
	health.FailService("nonexistent", errors.New("test error"))
	health.SetServiceData("nonexistent", "some data")

	if len(health.Services) != 0 {
		t.Error("expected no services to be added")
	}
}

func TestHealthString(t *testing.T) {
	t.Parallel()

	health := application.NewHealth()
	health.StartApplication()
	health.AddService("drift-watcher")
	health.StartService("drift-watcher")

	jsonStr := health.String()

	var unmarshaled struct {
		StartedAt time.Time                             `json:"startedAt"`
		Services  map[string]application.ServiceHealth `json:"services"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &unmarshaled); err != nil {
		t.Fatalf("expected valid JSON, got error: %v", err)
	}

	if unmarshaled.Services["drift-watcher"].Status != application.ServiceStatusStarted {
		t.Errorf("unexpected services in %s", jsonStr)
	}

	if strings.Contains(jsonStr, "stoppedAt") || strings.Contains(jsonStr, `"error"`) {
		t.Errorf("expected empty fields to be omitted, got %s", jsonStr)
	}
}

func TestHealth_ConcurrentModifications(t *testing.T) {
	t.Parallel()

	health := application.NewHealth()

	names := []string{"a", "b", "c", "d", "e"}
	for _, name := range names {
		health.AddService(name)
	}

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			health.StartService(name)
			health.SetServiceData(name, map[string]string{"test": "data"})
			_ = health.String()
		}()
	}
	wg.Wait()

	for _, name := range names {
		if health.Services[name].Status != application.ServiceStatusStarted {
			t.Errorf("service %s should be started", name)
		}
	}
}
