package daemon

import (
	"sync"
)

type TailMetrics struct {
	FilesDiscovered int
	FilesActive     int
	FilesFailed     int
	LinesRead       int
	MaxFiles        int
	mu              sync.RWMutex
}

func (m *TailMetrics) IncFilesDiscovered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesDiscovered++
}

func (m *TailMetrics) IncFilesActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesActive++
}

func (m *TailMetrics) DecFilesActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesActive--
}

func (m *TailMetrics) IncFilesFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesFailed++
}

func (m *TailMetrics) IncLinesRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LinesRead++
}

func (m *TailMetrics) GetMetricsStamp() TailMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return TailMetrics{
		FilesDiscovered: m.FilesDiscovered,
		FilesActive:     m.FilesActive,
		FilesFailed:     m.FilesFailed,
		LinesRead:       m.LinesRead,
		MaxFiles:        m.MaxFiles,
	}
}

// GetUsage reports the share of the file budget in use, 0 when unbounded.
func (m *TailMetrics) GetUsage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.MaxFiles == 0 {
		return 0
	}
	return float64(m.FilesActive) / float64(m.MaxFiles)
}
