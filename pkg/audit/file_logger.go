package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	currentLogName  = "audit.log"
	rotatedLogGlob  = "audit-*.log"
	rotatedLogStamp = "20060102-150405.000000000"
)

// FileLogger appends audit events as JSON lines to <BasePath>/audit.log and
// optionally rotates it by size.
type FileLogger struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	rotate   bool
	maxSize  int64 // Max file size in bytes before rotation
	maxFiles int   // Max number of rotated files to keep
}

var (
	_ Logger   = (*FileLogger)(nil)
	_ Searcher = (*FileLogger)(nil)
)

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string // Base directory for audit logs
	Rotate   bool   // Enable log rotation
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Max number of files to keep (default: 10)
}

// DefaultFileLoggerConfig returns default configuration
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		BasePath: "/var/log/drivewatch/audit",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024, // 100MB
		MaxFiles: 10,
	}
}

// NewFileLogger creates a new file-based audit logger
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	logger := &FileLogger{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}
	if logger.maxSize <= 0 {
		logger.maxSize = 100 * 1024 * 1024
	}
	if logger.maxFiles <= 0 {
		logger.maxFiles = 10
	}

	if err := logger.openLogFile(); err != nil {
		return nil, err
	}
	return logger, nil
}

func (l *FileLogger) currentPath() string {
	return filepath.Join(l.basePath, currentLogName)
}

// openLogFile opens or creates the current log file, rotating first if it is full
func (l *FileLogger) openLogFile() error {
	if l.rotate {
		if info, err := os.Stat(l.currentPath()); err == nil && info.Size() >= l.maxSize {
			if err := l.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	file, err := os.OpenFile(l.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}

	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

func (l *FileLogger) rotateFile() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	rotated := filepath.Join(l.basePath, fmt.Sprintf("audit-%s.log", time.Now().UTC().Format(rotatedLogStamp)))
	if err := os.Rename(l.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if err := l.cleanupOldFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to cleanup old audit logs: %v\n", err)
	}
	return nil
}

// rotatedFiles lists rotated logs oldest first. The timestamp in the name sorts lexically.
func (l *FileLogger) rotatedFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.basePath, rotatedLogGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (l *FileLogger) cleanupOldFiles() error {
	files, err := l.rotatedFiles()
	if err != nil {
		return err
	}
	if len(files) <= l.maxFiles {
		return nil
	}
	for _, file := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(file); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove old audit log %s: %v\n", file, err)
		}
	}
	return nil
}

// Log appends event to the current file
func (l *FileLogger) Log(ctx context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit file logger is closed")
	}

	if l.rotate {
		if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
			if err := l.openLogFile(); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Search scans the current and rotated files and returns matching events newest first
func (l *FileLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	l.mu.Lock()
	rotated, err := l.rotatedFiles()
	l.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	var events []*AuditEvent
	for _, path := range append(rotated, l.currentPath()) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := readEvents(path, filter)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return paginate(events, filter.Limit, filter.Offset), nil
}

func readEvents(path string, filter SearchFilter) ([]*AuditEvent, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*AuditEvent
	decoder := json.NewDecoder(file)
	for {
		var event AuditEvent
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry in %s: %w", filepath.Base(path), err)
		}
		if filter.Matches(&event) {
			events = append(events, &event)
		}
	}
	return events, nil
}

func paginate(events []*AuditEvent, limit, offset int) []*AuditEvent {
	if offset > 0 {
		if offset >= len(events) {
			return []*AuditEvent{}
		}
		events = events[offset:]
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	if events == nil {
		return []*AuditEvent{}
	}
	return events
}

// Close closes the current file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
