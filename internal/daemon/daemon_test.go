package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/forgelog/internal/logging"
	"github.com/Chichichkin/forgelog/internal/testutils"
)

const defaultScanInterval = 10 * time.Millisecond

func makeTestConfig(root string) Config {
	return Config{
		LogRootPath:  root,
		ScanInterval: defaultScanInterval,
		MaxFiles:     10,
		NodeName:     "node-1",
	}
}

func TestTailService_ContextCancellation(t *testing.T) {
	producer := &testutils.MockProducer{}
	config := makeTestConfig(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	s := NewTailService(ctx, config, producer)
	s.Start()

	cancel()
	time.Sleep(20 * time.Millisecond)

	select {
	case <-s.ctx.Done():
	default:
		t.Fatalf("service context not cancelled")
	}

	s.Stop()
}

func TestNewTailService_Defaults(t *testing.T) {
	s := NewTailService(context.Background(), Config{LogRootPath: "/tmp"}, &testutils.MockProducer{})
	defer s.cancel()

	assert.Equal(t, logging.LevelInfo, s.config.DefaultLevel)
	assert.Equal(t, 30*time.Second, s.config.ScanInterval)
}

func TestExtractLabels(t *testing.T) {
	config := makeTestConfig("/var/log/apps")
	s := NewTailService(context.Background(), config, &testutils.MockProducer{})
	defer s.cancel()

	labels := s.extractLabels("/var/log/apps/checkout/api/app.log")
	assert.Equal(t, "node-1", labels["node"])
	assert.Equal(t, "app.log", labels["log_file"])
	assert.Equal(t, "checkout/api", labels["log_dir"])

	labels = s.extractLabels("/var/log/apps/top.log")
	assert.Equal(t, "top.log", labels["log_file"])
	_, hasDir := labels["log_dir"]
	assert.False(t, hasDir)
}

func TestDiscoverLogFiles_UsesTempStructure(t *testing.T) {
	root := testutils.CreateTempLogStructure(t)
	s := NewTailService(context.Background(), makeTestConfig(root), &testutils.MockProducer{})
	defer s.cancel()

	files, err := s.discoverLogFiles()
	require.NoError(t, err)
	assert.Len(t, files, 4)
	for _, f := range files {
		assert.Equal(t, ".log", filepath.Ext(f))
	}
}

func TestScanFiles_RespectsMaxFiles(t *testing.T) {
	root := testutils.CreateTempLogStructure(t)
	config := makeTestConfig(root)
	config.MaxFiles = 2

	s := NewTailService(context.Background(), config, &testutils.MockProducer{})
	s.scanFiles()

	m := s.Metrics()
	assert.Equal(t, 4, m.FilesDiscovered)
	assert.Equal(t, 2, m.FilesActive)

	// already tailed and already seen files are not counted twice
	s.scanFiles()
	m = s.Metrics()
	assert.Equal(t, 4, m.FilesDiscovered)
	assert.Equal(t, 2, m.FilesActive)

	s.Stop()
	assert.Equal(t, 0, s.Metrics().FilesActive)
}

func TestTailFile_ShipsExistingAndAppendedLines(t *testing.T) {
	producer := &testutils.MockProducer{}
	dir := t.TempDir()
	file := filepath.Join(dir, "tailme.log")
	require.NoError(t, os.WriteFile(file, []byte("start\n"), 0644))

	config := makeTestConfig(dir)
	config.FromStart = true
	s := NewTailService(context.Background(), config, producer)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return len(producer.GetRecords()) >= 1 }, 3*time.Second, 20*time.Millisecond)

	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, _ = f.WriteString("\n")
	_, _ = f.WriteString("[ERROR] payment failed\n")
	_ = f.Close()

	assert.Eventually(t, func() bool { return len(producer.GetRecords()) >= 2 }, 3*time.Second, 20*time.Millisecond)

	records := producer.GetRecords()
	require.Len(t, records, 2)
	assert.Equal(t, "start", records[0].Message)
	assert.Equal(t, logging.LevelInfo, records[0].Level)
	assert.Equal(t, logging.LevelError, records[1].Level)
	assert.Equal(t, file, records[1].Record.Source)
	assert.Equal(t, "tailme.log", records[1].Record.Context["log_file"])
	assert.Equal(t, "node-1", records[1].Record.Context["node"])
	assert.GreaterOrEqual(t, s.Metrics().LinesRead, 2)
}

func TestTailFile_IdleTimeoutReleasesSlot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quiet.log"), nil, 0644))

	config := makeTestConfig(dir)
	config.ScanInterval = time.Hour
	config.FileIdleTimeout = 10 * time.Millisecond
	s := NewTailService(context.Background(), config, &testutils.MockProducer{})
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return s.Metrics().FilesActive == 0 }, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 1, s.Metrics().FilesDiscovered)
}

func messagesOf(records []testutils.LoggedRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Message)
	}
	return out
}

func appendLines(t *testing.T, path string, lines ...string) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err = f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

func TestTailFile_ResumesAfterIdleRelease(t *testing.T) {
	producer := &testutils.MockProducer{}
	dir := t.TempDir()
	file := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(file, []byte("one\ntwo\n"), 0644))

	config := makeTestConfig(dir)
	config.FromStart = true
	config.ScanInterval = 300 * time.Millisecond
	config.FileIdleTimeout = 100 * time.Millisecond
	s := NewTailService(context.Background(), config, producer)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return len(producer.GetRecords()) == 2 }, 3*time.Second, 20*time.Millisecond)

	// released after the idle timeout, then picked up again by a rescan
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, released := s.offsets[file]
		return released
	}, 5*time.Second, 10*time.Millisecond)
	appendLines(t, file, "three")

	assert.Eventually(t, func() bool { return len(producer.GetRecords()) >= 3 }, 5*time.Second, 20*time.Millisecond)
	// let a few more release/rescan cycles pass
	time.Sleep(2500 * time.Millisecond)

	assert.Equal(t, []string{"one", "two", "three"}, messagesOf(producer.GetRecords()))
}

func TestTailFile_KeepsLinesWrittenWhileReleased(t *testing.T) {
	producer := &testutils.MockProducer{}
	dir := t.TempDir()
	file := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(file, []byte("old\n"), 0644))

	config := makeTestConfig(dir)
	config.ScanInterval = 2 * time.Second
	config.FileIdleTimeout = 10 * time.Millisecond
	s := NewTailService(context.Background(), config, producer)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return s.Metrics().FilesActive == 0 }, 5*time.Second, 10*time.Millisecond)
	appendLines(t, file, "while released")

	assert.Eventually(t, func() bool { return len(producer.GetRecords()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"while released"}, messagesOf(producer.GetRecords()))
}

func TestStartOffset(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(file, []byte("0123456789\n"), 0644))

	s := NewTailService(context.Background(), makeTestConfig(dir), &testutils.MockProducer{})
	defer s.cancel()

	assert.Equal(t, int64(11), s.startOffset(file))

	s.config.FromStart = true
	assert.Equal(t, int64(0), s.startOffset(file))

	s.offsets[file] = 5
	assert.Equal(t, int64(5), s.startOffset(file))

	// truncated below the recorded offset
	s.offsets[file] = 50
	assert.Equal(t, int64(0), s.startOffset(file))
}

func TestDetectLevel(t *testing.T) {
	for line, want := range map[string]logging.Level{
		"2025-11-07 ERROR something broke":       logging.LevelError,
		"level=warn msg=slow":                    logging.LevelWarn,
		"[debug] cache miss":                     logging.LevelDebug,
		"panic: runtime error":                   logging.LevelFatal,
		"INFO then ERROR later":                  logging.LevelInfo,
		"plain line":                             logging.LevelWarn,
		string(make([]byte, 70)) + "ERROR late":  logging.LevelWarn,
		"WARNING: disk almost full":              logging.LevelWarn,
		"fatal error: all goroutines are asleep": logging.LevelFatal,
	} {
		assert.Equal(t, want, DetectLevel(line, logging.LevelWarn), line)
	}
}
