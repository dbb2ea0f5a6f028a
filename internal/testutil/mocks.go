// Package testutil provides shared test utilities and mocks for unit testing.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrMockServiceUnavailable is returned by MockTransport when no response is queued
var ErrMockServiceUnavailable = errors.New("service unavailable")

// TransportCall records one call made through MockTransport
type TransportCall struct {
	Service string
	Payload []byte
}

// Request decodes the recorded payload into a generic map
func (c TransportCall) Request() map[string]any {
	var req map[string]any
	_ = json.Unmarshal(c.Payload, &req)
	return req
}

// MockTransport implements webpack.Transport for testing
type MockTransport struct {
	mu       sync.Mutex
	calls    []TransportCall
	response []byte
	err      error

	// OnCall overrides the canned response when set
	OnCall func(ctx context.Context, service string, payload []byte) ([]byte, error)
}

// NewMockTransport creates a transport that answers every call with response
func NewMockTransport(response []byte) *MockTransport {
	return &MockTransport{response: response}
}

// NewFailingTransport creates a transport that fails every call with err
func NewFailingTransport(err error) *MockTransport {
	return &MockTransport{err: err}
}

func (m *MockTransport) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, TransportCall{Service: service, Payload: append([]byte(nil), payload...)})
	m.mu.Unlock()

	if m.OnCall != nil {
		return m.OnCall(ctx, service, payload)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.response == nil {
		return nil, ErrMockServiceUnavailable
	}
	return m.response, nil
}

// Calls returns the calls recorded so far
func (m *MockTransport) Calls() []TransportCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TransportCall(nil), m.calls...)
}

// MockFinder implements webpack.Finder over a fixed name -> path map
type MockFinder struct {
	Files map[string]string
}

func (m *MockFinder) Find(name string) (string, bool) {
	path, ok := m.Files[name]
	return path, ok
}

// BundleObservation is one RecordBundle call seen by MockMetrics
type BundleObservation struct {
	Outcome  string
	Warnings int
	Duration time.Duration
}

// MockMetrics implements webpack.MetricsRecorder
type MockMetrics struct {
	mu           sync.Mutex
	Observations []BundleObservation
}

func (m *MockMetrics) RecordBundle(outcome string, warnings int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Observations = append(m.Observations, BundleObservation{Outcome: outcome, Warnings: warnings, Duration: duration})
}

// StatsJSON marshals a stats document for use as a canned response
func StatsJSON(stats map[string]any) []byte {
	if stats == nil {
		stats = map[string]any{}
	}
	for _, key := range []string{"errors", "warnings"} {
		if _, ok := stats[key]; !ok {
			stats[key] = []string{}
		}
	}
	data, err := json.Marshal(stats)
	if err != nil {
		panic(err)
	}
	return data
}

// MockService implements a host service for testing
type MockService struct {
	ServiceName string
	Watchers    int

	mu     sync.Mutex
	closed bool

	// OnHandle answers requests; without it every request echoes its payload
	OnHandle func(ctx context.Context, payload []byte) ([]byte, error)
	// OnClose runs inside Close
	OnClose func()
}

func (m *MockService) Name() string {
	return m.ServiceName
}

func (m *MockService) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	if m.OnHandle != nil {
		return m.OnHandle(ctx, payload)
	}
	return append([]byte(nil), payload...), nil
}

func (m *MockService) ActiveWatchers() int {
	return m.Watchers
}

func (m *MockService) Close() {
	if m.OnClose != nil {
		m.OnClose()
	}
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Closed reports whether Close was called
func (m *MockService) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
