package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/devrev/treasury/internal/errors"
	"github.com/devrev/treasury/internal/metrics"
	"github.com/devrev/treasury/internal/model"
	"github.com/devrev/treasury/internal/storage/diskmanager"
	"go.uber.org/zap"
)

const segmentPattern = "commitlog-*.log"

// CommitLog is the write-ahead log of committed ledger transactions.
// Each entry is one JSON line carrying a CRC32 of its own contents.
type CommitLog struct {
	config      *CommitLogConfig
	dataDir     string
	disk        *diskmanager.DiskManager
	metrics     *metrics.Metrics
	logger      *zap.Logger
	mu          sync.Mutex
	currentFile *os.File
	currentSize int64
	segments    int
	sync        func(*os.File) error
	// failed is set once the segment tail can no longer be trusted; every
	// later Append is refused
	failed error
}

// CommitLogConfig holds commit log configuration
type CommitLogConfig struct {
	SegmentSize int64
	SyncWrites  bool
}

// NewCommitLog opens the commit log directory. disk may be nil to skip the
// free space guard. No segment is opened until the first Append.
func NewCommitLog(
	cfg *CommitLogConfig,
	dataDir string,
	disk *diskmanager.DiskManager,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*CommitLog, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create commit log directory: %w", err)
	}

	files, err := listSegments(dataDir)
	if err != nil {
		return nil, err
	}

	cl := &CommitLog{
		config:   cfg,
		dataDir:  dataDir,
		disk:     disk,
		metrics:  m,
		logger:   logger,
		segments: len(files),
		sync:     (*os.File).Sync,
	}
	m.UpdateCommitLogSegments(cl.segments)

	return cl, nil
}

// Append writes entry to the current segment, rotating first if the segment
// has reached its size limit. The entry checksum is filled in here.
func (c *CommitLog) Append(ctx context.Context, entry *model.CommitLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed != nil {
		return errors.CommitLogFailed("commit log is failed, restart required", c.failed)
	}

	start := time.Now()

	sum, err := entryChecksum(entry)
	if err != nil {
		return errors.CommitLogFailed("failed to checksum entry", err)
	}
	entry.Checksum = sum

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.CommitLogFailed("failed to marshal entry", err)
	}
	data = append(data, '\n')

	if c.disk != nil {
		if err := c.disk.CheckBeforeAppend(uint64(len(data))); err != nil {
			return err
		}
	}

	if c.currentFile == nil || c.currentSize >= c.config.SegmentSize {
		if err := c.openSegment(entry.SequenceNumber); err != nil {
			return errors.CommitLogFailed("failed to open commit log segment", err)
		}
	}

	if _, err := c.currentFile.Write(data); err != nil {
		c.rollbackTail()
		return errors.CommitLogFailed("failed to write to commit log", err)
	}

	if c.config.SyncWrites {
		if err := c.sync(c.currentFile); err != nil {
			// the line must not survive a restart once the caller sees a failure
			c.rollbackTail()
			return errors.CommitLogFailed("failed to sync commit log", err)
		}
	}

	c.currentSize += int64(len(data))
	c.metrics.RecordCommitLogAppend(time.Since(start).Seconds())

	return nil
}

// rollbackTail cuts the segment back to the last acknowledged entry. If that
// fails the log is marked failed.
func (c *CommitLog) rollbackTail() {
	if err := c.currentFile.Truncate(c.currentSize); err != nil {
		c.failed = err
		c.logger.Error("Failed to truncate unacknowledged commit log write, refusing further appends",
			zap.Int64("size", c.currentSize),
			zap.Error(err))
	}
}

// openSegment starts a segment named after the first sequence it holds
func (c *CommitLog) openSegment(firstSeq uint64) error {
	if c.currentFile != nil {
		if err := c.currentFile.Close(); err != nil {
			c.logger.Warn("Failed to close commit log segment", zap.Error(err))
		}
		c.currentFile = nil
	}

	segmentPath := filepath.Join(c.dataDir, fmt.Sprintf("commitlog-%020d.log", firstSeq))
	file, err := os.OpenFile(segmentPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open commit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat commit log file: %w", err)
	}

	c.currentFile = file
	c.currentSize = info.Size()
	c.segments++
	c.metrics.UpdateCommitLogSegments(c.segments)

	c.logger.Info("Opened new commit log segment",
		zap.String("path", segmentPath),
		zap.Uint64("first_sequence", firstSeq))

	return nil
}

// Recover replays every entry in sequence order through apply. A damaged
// line is fatal unless it is the unterminated last line of the newest
// segment, in which case it is a torn write: the segment is truncated before
// it and recovery succeeds. Returns the number of replayed entries.
func (c *CommitLog) Recover(ctx context.Context, apply func(*model.CommitLogEntry) error) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Starting commit log recovery", zap.String("dir", c.dataDir))

	files, err := listSegments(c.dataDir)
	if err != nil {
		return 0, err
	}

	var lastSeq uint64
	recovered := 0
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}
		count, err := c.recoverSegment(path, i == len(files)-1, &lastSeq, apply)
		recovered += count
		if err != nil {
			return recovered, err
		}
	}

	c.logger.Info("Commit log recovery completed",
		zap.Int("entries", recovered),
		zap.Int("segments", len(files)),
		zap.Uint64("last_sequence", lastSeq))

	return recovered, nil
}

func (c *CommitLog) recoverSegment(
	path string,
	newest bool,
	lastSeq *uint64,
	apply func(*model.CommitLogEntry) error,
) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.CommitLogFailed("failed to read commit log segment", err)
	}
	if len(data) == 0 {
		return 0, nil
	}

	lines := bytes.Split(data, []byte{'\n'})
	terminated := len(data) > 0 && data[len(data)-1] == '\n'
	if terminated {
		lines = lines[:len(lines)-1]
	}

	count := 0
	offset := int64(0)
	for i, line := range lines {
		final := i == len(lines)-1
		torn := final && !terminated

		entry, decodeErr := decodeEntry(line)
		if decodeErr == nil && !torn && entry.SequenceNumber != *lastSeq+1 {
			decodeErr = fmt.Errorf("sequence %d follows %d", entry.SequenceNumber, *lastSeq)
		}
		if torn && decodeErr == nil {
			decodeErr = fmt.Errorf("line is not newline terminated")
		}

		if decodeErr != nil {
			if newest && torn {
				c.logger.Warn("Truncating torn commit log tail",
					zap.String("file", path),
					zap.Int64("offset", offset),
					zap.Error(decodeErr))
				if err := os.Truncate(path, offset); err != nil {
					return count, errors.CommitLogFailed("failed to truncate torn commit log tail", err)
				}
				return count, nil
			}
			return count, errors.CorruptedData(
				fmt.Sprintf("corrupted commit log entry in %s at offset %d", filepath.Base(path), offset), decodeErr)
		}

		if err := apply(entry); err != nil {
			return count, fmt.Errorf("failed to replay entry %d: %w", entry.SequenceNumber, err)
		}
		*lastSeq = entry.SequenceNumber
		offset += int64(len(line)) + 1
		count++
	}

	return count, nil
}

// Segments returns the number of segment files
func (c *CommitLog) Segments() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.segments
}

// Close closes the commit log
func (c *CommitLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentFile != nil {
		err := c.currentFile.Close()
		c.currentFile = nil
		return err
	}
	return nil
}

func listSegments(dataDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dataDir, segmentPattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list commit log files: %w", err)
	}
	// zero padded names sort in sequence order
	sort.Strings(files)
	return files, nil
}

func decodeEntry(line []byte) (*model.CommitLogEntry, error) {
	var entry model.CommitLogEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	sum, err := entryChecksum(&entry)
	if err != nil {
		return nil, err
	}
	if sum != entry.Checksum {
		return nil, fmt.Errorf("checksum mismatch: stored %08x, computed %08x", entry.Checksum, sum)
	}
	return &entry, nil
}

// entryChecksum is the CRC32 of the entry encoded with a zero checksum field
func entryChecksum(entry *model.CommitLogEntry) (uint32, error) {
	unsummed := *entry
	unsummed.Checksum = 0
	data, err := json.Marshal(&unsummed)
	if err != nil {
		return 0, fmt.Errorf("failed to encode entry for checksum: %w", err)
	}
	return crc32.ChecksumIEEE(data), nil
}
