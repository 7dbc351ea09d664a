package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Chichichkin/forgelog/internal/logging"
)

// MockBatchSender records every batch it accepts. FailNext makes the next N
// calls fail; ShouldFail makes all of them fail.
type MockBatchSender struct {
	SentBatches [][]logging.LogRecord
	Calls       int
	mu          sync.Mutex
	ShouldFail  bool
	FailNext    int
	Delay       time.Duration
}

func (m *MockBatchSender) SendBatch(_ context.Context, records []logging.LogRecord) error {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.ShouldFail {
		return fmt.Errorf("mock send failed")
	}
	if m.FailNext > 0 {
		m.FailNext--
		return fmt.Errorf("mock send failed")
	}

	batch := make([]logging.LogRecord, len(records))
	copy(batch, records)
	m.SentBatches = append(m.SentBatches, batch)
	return nil
}

func (m *MockBatchSender) SetShouldFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = fail
}

func (m *MockBatchSender) GetSentBatches() [][]logging.LogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]logging.LogRecord, len(m.SentBatches))
	copy(out, m.SentBatches)
	return out
}

func (m *MockBatchSender) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// Messages flattens every sent batch into the ordered list of messages.
func (m *MockBatchSender) Messages() []string {
	var out []string
	for _, b := range m.GetSentBatches() {
		for _, r := range b {
			out = append(out, r.Message)
		}
	}
	return out
}

// MockStore is a securestore.Store that counts calls and can be told to fail.
type MockStore struct {
	mu        sync.Mutex
	items     map[string][]byte
	GetCalls  int
	SetCalls  int
	DelCalls  int
	FailGet   bool
	FailWrite bool
}

func NewMockStore() *MockStore {
	return &MockStore{items: make(map[string][]byte)}
}

func (m *MockStore) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.FailGet {
		return nil, false, fmt.Errorf("mock store get failed")
	}
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MockStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls++
	if m.FailWrite {
		return fmt.Errorf("mock store set failed")
	}
	m.items[key] = value
	return nil
}

func (m *MockStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DelCalls++
	if m.FailWrite {
		return fmt.Errorf("mock store delete failed")
	}
	delete(m.items, key)
	return nil
}

func (m *MockStore) Put(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = []byte(value)
}

func (m *MockStore) Value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return string(v), ok
}

func (m *MockStore) SetFailGet(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailGet = fail
}

func (m *MockStore) Stats() (gets, sets, deletes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GetCalls, m.SetCalls, m.DelCalls
}

type LoggedRecord struct {
	Level   logging.Level
	Message string
	Record  logging.LogRecord
}

// MockProducer collects everything passed to Log.
type MockProducer struct {
	mu      sync.Mutex
	Records []LoggedRecord
}

func (m *MockProducer) Log(level logging.Level, message string, opts ...logging.RecordOption) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, LoggedRecord{
		Level:   level,
		Message: message,
		Record:  logging.NewLogRecord(level, message, time.Now(), opts...),
	})
}

func (m *MockProducer) GetRecords() []LoggedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LoggedRecord, len(m.Records))
	copy(out, m.Records)
	return out
}

func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"checkout/app.log":        "",
		"checkout/worker.log":     "",
		"billing/app.log":         "",
		"billing/notes.txt":       "not a log\n",
		"ios/crash/reporter.log":  "",
		"ios/crash/symbolized.gz": "binary",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}
