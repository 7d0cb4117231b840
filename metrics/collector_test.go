package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("worker-1")

	c.IncRunStarted()
	c.IncRunCompleted()
	c.IncRunFailed()
	c.IncRunFailed()
	c.IncRunPaused()
	c.IncAttempt("http", 1.0)
	c.IncAttempt("http", 1.0)
	c.IncAttempt("browser", 3.0)
	c.IncEscalation()
	c.AddRecordsCommitted(12)
	c.IncSessionCreated()
	c.IncSessionReused()
	c.IncSessionRetired()
	c.IncProviderCall()
	c.IncProviderKeyDepleted()
	c.IncInterventionCreated()
	c.IncInterventionResolved()
	c.AddInterventionsExpired(4)

	s := c.Snapshot()

	if s.RunsStarted != 1 {
		t.Errorf("RunsStarted = %d, want 1", s.RunsStarted)
	}
	if s.RunsCompleted != 1 {
		t.Errorf("RunsCompleted = %d, want 1", s.RunsCompleted)
	}
	if s.RunsFailed != 2 {
		t.Errorf("RunsFailed = %d, want 2", s.RunsFailed)
	}
	if s.RunsPaused != 1 {
		t.Errorf("RunsPaused = %d, want 1", s.RunsPaused)
	}
	if s.AttemptsByEngine["http"] != 2 {
		t.Errorf("AttemptsByEngine[http] = %d, want 2", s.AttemptsByEngine["http"])
	}
	if s.AttemptsByEngine["browser"] != 1 {
		t.Errorf("AttemptsByEngine[browser] = %d, want 1", s.AttemptsByEngine["browser"])
	}
	if s.CostUnits != 5.0 {
		t.Errorf("CostUnits = %v, want 5.0", s.CostUnits)
	}
	if s.Escalations != 1 {
		t.Errorf("Escalations = %d, want 1", s.Escalations)
	}
	if s.RecordsCommitted != 12 {
		t.Errorf("RecordsCommitted = %d, want 12", s.RecordsCommitted)
	}
	if s.SessionsCreated != 1 || s.SessionsReused != 1 || s.SessionsRetired != 1 {
		t.Errorf("session counters = %d/%d/%d, want 1/1/1",
			s.SessionsCreated, s.SessionsReused, s.SessionsRetired)
	}
	if s.ProviderCalls != 1 || s.ProviderKeysDepleted != 1 {
		t.Errorf("provider counters = %d/%d, want 1/1", s.ProviderCalls, s.ProviderKeysDepleted)
	}
	if s.InterventionsCreated != 1 || s.InterventionsResolved != 1 || s.InterventionsExpired != 4 {
		t.Errorf("intervention counters = %d/%d/%d",
			s.InterventionsCreated, s.InterventionsResolved, s.InterventionsExpired)
	}
	if s.Owner != "worker-1" {
		t.Errorf("Owner = %q, want worker-1", s.Owner)
	}
}

func TestCollector_NilReceiverSafe(t *testing.T) {
	var c *Collector
	c.IncRunStarted()
	c.IncRunCompleted()
	c.IncAttempt("http", 1.0)
	c.IncEscalation()
	c.AddRecordsCommitted(3)
	c.IncSessionCreated()
	c.IncProviderCall()
	c.IncInterventionCreated()

	s := c.Snapshot()
	if s.RunsStarted != 0 {
		t.Errorf("nil collector snapshot should be zero, got %+v", s)
	}
}

func TestCollector_SnapshotIsIsolated(t *testing.T) {
	c := NewCollector("worker-1")
	c.IncAttempt("http", 1.0)

	s := c.Snapshot()
	s.AttemptsByEngine["http"] = 99

	if got := c.Snapshot().AttemptsByEngine["http"]; got != 1 {
		t.Errorf("mutating a snapshot leaked into the collector: %d", got)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("worker-1")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.IncAttempt("http", 1.0)
				c.IncRunStarted()
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.AttemptsByEngine["http"] != 1000 {
		t.Errorf("AttemptsByEngine[http] = %d, want 1000", s.AttemptsByEngine["http"])
	}
	if s.RunsStarted != 1000 {
		t.Errorf("RunsStarted = %d, want 1000", s.RunsStarted)
	}
}
