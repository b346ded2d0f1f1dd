package arrow_client

import (
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
)

// MockFlightClient keeps records in memory. It satisfies Exporter.
type MockFlightClient struct {
	mu        sync.RWMutex
	connected bool
	records   []arrow.Record
}

// NewMockFlightClient creates a new mock client
func NewMockFlightClient() *MockFlightClient {
	return &MockFlightClient{}
}

// Connect simulates connection
func (m *MockFlightClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close releases stored records and disconnects.
func (m *MockFlightClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	for _, rec := range m.records {
		rec.Release()
	}
	m.records = nil
	return nil
}

// DoPut retains rec in memory
func (m *MockFlightClient) DoPut(ctx context.Context, rec arrow.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("client not connected")
	}
	rec.Retain()
	m.records = append(m.records, rec)
	return nil
}

// Records returns the stored records; they stay owned by the mock.
func (m *MockFlightClient) Records() []arrow.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]arrow.Record(nil), m.records...)
}
