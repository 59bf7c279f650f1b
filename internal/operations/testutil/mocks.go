// Package testutil holds test doubles for the operations package.
package testutil

import (
	"context"
	"sync"
	"time"

	"eduetl/internal/config"
	"eduetl/internal/dataprocessing"
	"eduetl/internal/operations"
	"eduetl/pkg/contracts/domain"
)

// MockStep is a configurable implementation of operations.Step
type MockStep struct {
	IDValue           string
	NameValue         string
	DependenciesValue []string

	ExecuteFunc  func(ctx context.Context, state *operations.RunState) error
	ValidateFunc func(state *operations.RunState) error

	mu           sync.Mutex
	executeCalls int
	startedAt    []time.Time
}

// NewMockStep returns a step that succeeds
func NewMockStep(id string, deps ...string) *MockStep {
	return &MockStep{IDValue: id, NameValue: id, DependenciesValue: deps}
}

// FailingStep returns a step that always fails with err
func FailingStep(id string, err error, deps ...string) *MockStep {
	s := NewMockStep(id, deps...)
	s.ExecuteFunc = func(context.Context, *operations.RunState) error { return err }
	return s
}

// ID returns the step ID
func (m *MockStep) ID() string { return m.IDValue }

// Name returns the step name
func (m *MockStep) Name() string { return m.NameValue }

// GetDependencies returns the step dependencies
func (m *MockStep) GetDependencies() []string { return m.DependenciesValue }

// Execute records the call and runs ExecuteFunc
func (m *MockStep) Execute(ctx context.Context, state *operations.RunState) error {
	m.mu.Lock()
	m.executeCalls++
	m.startedAt = append(m.startedAt, time.Now())
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, state)
	}
	return nil
}

// Validate runs ValidateFunc
func (m *MockStep) Validate(state *operations.RunState) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(state)
	}
	return nil
}

// ExecuteCalls returns the number of Execute calls
func (m *MockStep) ExecuteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executeCalls
}

// FirstStart returns when Execute was first called
func (m *MockStep) FirstStart() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.startedAt) == 0 {
		return time.Time{}
	}
	return m.startedAt[0]
}

// MockWebSocketHub captures broadcast messages
type MockWebSocketHub struct {
	mu       sync.Mutex
	Messages []WebSocketMessage
}

// WebSocketMessage is a captured broadcast
type WebSocketMessage struct {
	EventType string
	Step      string
	Status    string
	Metadata  interface{}
}

// BroadcastUpdate captures a message
func (m *MockWebSocketHub) BroadcastUpdate(eventType, step, status string, metadata interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, WebSocketMessage{
		EventType: eventType,
		Step:      step,
		Status:    status,
		Metadata:  metadata,
	})
}

// GetMessages returns a copy of the captured messages
func (m *MockWebSocketHub) GetMessages() []WebSocketMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WebSocketMessage(nil), m.Messages...)
}

// LastStatus returns the status of the last message, or "" when none
func (m *MockWebSocketHub) LastStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Status
}

// FakeExtractor returns canned subject tables per year
type FakeExtractor struct {
	Tables map[int][]dataprocessing.SubjectTable
	Err    error

	mu    sync.Mutex
	calls int
}

// Extract returns the canned tables of year
func (f *FakeExtractor) Extract(_ context.Context, year int, yp config.YearPaths) ([]dataprocessing.SubjectTable, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := yp.Ensure(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Tables[year], nil
}

// Calls returns the number of Extract calls
func (f *FakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// MemoryStore keeps staged tables in memory
type MemoryStore struct {
	mu     sync.Mutex
	Tables map[int]domain.LongTable
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Tables: make(map[int]domain.LongTable)}
}

// Write stores table under year
func (s *MemoryStore) Write(_ context.Context, year int, table domain.LongTable) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tables[year] = table
	return config.ArtifactName(year) + ".parquet", nil
}

// ReadAll concatenates the stored years in the given order
func (s *MemoryStore) ReadAll(_ context.Context, years []int) (domain.LongTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out domain.LongTable
	for _, y := range years {
		out = out.Append(s.Tables[y])
	}
	return out, nil
}

// RecordingLoader remembers the last relations it was given
type RecordingLoader struct {
	mu    sync.Mutex
	Last  *domain.Relations
	Err   error
	Loads int
}

// Load records rel
func (l *RecordingLoader) Load(_ context.Context, rel domain.Relations) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Loads++
	if l.Err != nil {
		return l.Err
	}
	l.Last = &rel
	return nil
}
