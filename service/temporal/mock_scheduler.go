package temporal

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]bool // map[scheduleID]paused
	createErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]bool),
	}
}

// CreateAccountSchedules records that both schedules were created.
func (m *MockScheduler) CreateAccountSchedules(ctx context.Context, account string) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[IngestScheduleID(account)] = false
	m.schedules[DispatchScheduleID(account)] = false
	return nil
}

// DeleteAccountSchedules records that both schedules were deleted.
func (m *MockScheduler) DeleteAccountSchedules(ctx context.Context, account string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.schedules, IngestScheduleID(account))
	delete(m.schedules, DispatchScheduleID(account))
	return nil
}

// PauseSchedule marks a schedule as paused.
func (m *MockScheduler) PauseSchedule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[id]; !ok {
		return fmt.Errorf("schedule %q not found", id)
	}
	m.schedules[id] = true
	return nil
}

// ResumeSchedule clears a schedule's paused mark.
func (m *MockScheduler) ResumeSchedule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[id]; !ok {
		return fmt.Errorf("schedule %q not found", id)
	}
	m.schedules[id] = false
	return nil
}

// ListSchedules returns the recorded schedule IDs, sorted for determinism.
func (m *MockScheduler) ListSchedules(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.schedules))
	for id := range m.schedules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// HasSchedule reports whether a schedule exists (for testing).
func (m *MockScheduler) HasSchedule(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.schedules[id]
	return ok
}

// IsPaused reports whether a schedule is paused (for testing).
func (m *MockScheduler) IsPaused(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules[id]
}

// SetCreateError configures the mock to fail schedule creation.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// SetDeleteError configures the mock to fail schedule deletion.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}
