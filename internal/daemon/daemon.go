package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"github.com/sirupsen/logrus"

	"github.com/Chichichkin/forgelog/internal/logging"
)

type Config struct {
	LogRootPath  string
	ScanInterval time.Duration
	// MaxFiles bounds how many files are tailed at once.
	MaxFiles int
	NodeName string
	// FromStart ships existing file content instead of only new lines.
	FromStart bool
	// If > 0, stop tailing a file after this period without new lines
	FileIdleTimeout time.Duration
	// DefaultLevel applies to lines without a recognizable level marker.
	DefaultLevel logging.Level
}

// TailService discovers *.log files under a root directory and feeds every
// new line into a Producer.
type TailService struct {
	config   Config
	producer logging.Producer
	metrics  *TailMetrics
	log      *logrus.Entry

	ctx           context.Context
	cancel        context.CancelFunc
	tailersWg     sync.WaitGroup
	subServicesWg sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
	seen   map[string]struct{}

	// offsets holds how far each released file was shipped.
	offsets map[string]int64
}

func NewTailService(ctx context.Context, config Config, producer logging.Producer) *TailService {
	nCtx, cancel := context.WithCancel(ctx)
	if config.DefaultLevel == "" {
		config.DefaultLevel = logging.LevelInfo
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = 30 * time.Second
	}

	return &TailService{
		config:   config,
		producer: producer,
		metrics:  &TailMetrics{MaxFiles: config.MaxFiles},
		log:      logrus.WithField("component", "daemon"),
		ctx:      nCtx,
		cancel:   cancel,
		active:   make(map[string]struct{}),
		seen:     make(map[string]struct{}),
		offsets:  make(map[string]int64),
	}
}

func (s *TailService) Start() {
	s.log.Infof("Starting tail service: root=%s, max files=%d", s.config.LogRootPath, s.config.MaxFiles)

	s.scanFiles()

	s.subServicesWg.Add(2)
	go s.scanner()
	go s.metricsReporter()
}

func (s *TailService) Stop() {
	s.log.Info("Stopping tail service...")
	s.cancel()

	s.subServicesWg.Wait()
	s.tailersWg.Wait()

	s.log.Info("Tail service stopped")
}

func (s *TailService) Metrics() TailMetrics {
	return s.metrics.GetMetricsStamp()
}

func (s *TailService) scanner() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		s.log.WithError(err).Error("Error discovering log files")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, file := range files {
		if _, ok := s.seen[file]; !ok {
			s.metrics.IncFilesDiscovered()
			s.seen[file] = struct{}{}
		}
		if _, ok := s.active[file]; ok {
			continue
		}
		if s.config.MaxFiles > 0 && len(s.active) >= s.config.MaxFiles {
			s.log.Warnf("Tailing %d files already, skipping %s", len(s.active), file)
			continue
		}
		if s.ctx.Err() != nil {
			return
		}

		s.active[file] = struct{}{}
		s.metrics.IncFilesActive()
		s.tailersWg.Add(1)
		go s.tailFile(file, s.startOffset(file))
	}
}

// startOffset resumes a released file where it was left. A file seen for the
// first time starts at its beginning or its current end, per FromStart. Must
// be called with s.mu held.
func (s *TailService) startOffset(filePath string) int64 {
	var size int64
	if info, err := os.Stat(filePath); err == nil {
		size = info.Size()
	}

	if off, ok := s.offsets[filePath]; ok {
		if off > size {
			// truncated since it was released
			return 0
		}
		return off
	}
	if s.config.FromStart {
		return 0
	}
	return size
}

func (s *TailService) tailFile(filePath string, offset int64) {
	defer s.tailersWg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.active, filePath)
		s.offsets[filePath] = offset
		s.mu.Unlock()
		s.metrics.DecFilesActive()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Tailing %s panicked: %v", filePath, r)
			s.metrics.IncFilesFailed()
		}
	}()

	cfg := tail.Config{
		Follow: true,
		ReOpen: true,
		Poll:   true,
		Logger: tail.DiscardingLogger,
	}
	// Partial trailing lines are held back until their newline arrives, so
	// every delivered line accounts for len(Text)+1 bytes.
	cfg.Location = &tail.SeekInfo{Offset: offset, Whence: io.SeekStart}

	t, err := tail.TailFile(filePath, cfg)
	if err != nil {
		s.log.WithError(err).Errorf("Failed to tail file %s", filePath)
		s.metrics.IncFilesFailed()
		return
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	checkTicker := time.NewTicker(time.Second)
	defer checkTicker.Stop()

	labels := s.extractLabels(filePath)
	lastActivity := time.Now()

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				s.log.WithError(line.Err).Warnf("Error reading from %s", filePath)
				continue
			}
			offset += int64(len(line.Text)) + 1
			if strings.TrimSpace(line.Text) == "" {
				continue
			}

			s.producer.Log(DetectLevel(line.Text, s.config.DefaultLevel), line.Text,
				logging.WithContext(labels),
				logging.WithSource(filePath),
			)
			s.metrics.IncLinesRead()
			lastActivity = time.Now()

		case <-checkTicker.C:
			// waking up from blocking line reading to check the idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				s.log.Debugf("Stopped tailing idle file %s", filePath)
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailService) metricsReporter() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m := s.metrics.GetMetricsStamp()
			s.log.Infof("Metrics: files active=%d/%d (%d%%), discovered=%d, failed=%d, lines=%d",
				m.FilesActive, s.config.MaxFiles, int(s.metrics.GetUsage()*100),
				m.FilesDiscovered, m.FilesFailed, m.LinesRead)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailService) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.LogRootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			s.log.WithError(err).Warnf("Error accessing path %s", path)
			return nil
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}

func (s *TailService) extractLabels(filePath string) map[string]any {
	labels := map[string]any{
		"node": s.config.NodeName,
		"log_file": filepath.Base(filePath),
	}

	if rel, err := filepath.Rel(s.config.LogRootPath, filepath.Dir(filePath)); err == nil && rel != "." {
		labels["log_dir"] = filepath.ToSlash(rel)
	}

	return labels
}

var levelMarkers = []struct {
	marker string
	level  logging.Level
}{
	{"FATAL", logging.LevelFatal},
	{"PANIC", logging.LevelFatal},
	{"ERROR", logging.LevelError},
	{"WARN", logging.LevelWarn},
	{"DEBUG", logging.LevelDebug},
	{"INFO", logging.LevelInfo},
}

// DetectLevel picks the first well-known level marker in the line, looking
// only at its first 64 bytes.
func DetectLevel(line string, fallback logging.Level) logging.Level {
	head := line
	if len(head) > 64 {
		head = head[:64]
	}
	head = strings.ToUpper(head)

	best, bestIdx := fallback, -1
	for _, m := range levelMarkers {
		if idx := strings.Index(head, m.marker); idx >= 0 && (bestIdx < 0 || idx < bestIdx) {
			best, bestIdx = m.level, idx
		}
	}
	return best
}
