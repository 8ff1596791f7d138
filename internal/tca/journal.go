package tca

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

var (
	ErrJournalQueueFull  = errors.New("tca: journal queue full")
	ErrJournalClosed     = errors.New("tca: journal closed")
	ErrJournalNotStarted = errors.New("tca: journal not started")
)

// JournalConfig controls rotation and retention of report segments.
type JournalConfig struct {
	Dir                string        `mapstructure:"dir"`
	FilePrefix         string        `mapstructure:"filePrefix"`
	QueueSize          int           `mapstructure:"queueSize"`
	BufferSize         int           `mapstructure:"bufferSize"`
	FlushInterval      time.Duration `mapstructure:"flushInterval"`
	SegmentMaxBytes    int64         `mapstructure:"segmentMaxBytes"`
	SegmentMaxDuration time.Duration `mapstructure:"segmentMaxDuration"`
	Retention          time.Duration `mapstructure:"retention"`
}

func (c JournalConfig) withDefaults() JournalConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = "tca"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64 * 1024
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.SegmentMaxBytes <= 0 {
		c.SegmentMaxBytes = 64 * 1024 * 1024
	}
	if c.SegmentMaxDuration <= 0 {
		c.SegmentMaxDuration = 24 * time.Hour
	}
	return c
}

// Journal appends TCA reports as line-delimited JSON segments. Segments
// rotate by size and age; segments older than the retention window are
// purged on rotation.
type Journal struct {
	cfg JournalConfig
	ch  chan Report
	wg  sync.WaitGroup
	err atomic.Value

	started uint32
	closed  uint32
}

// NewJournal creates the journal and its directory.
func NewJournal(cfg JournalConfig) (*Journal, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("tca: journal dir is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}
	return &Journal{cfg: cfg, ch: make(chan Report, cfg.QueueSize)}, nil
}

// Start runs the writer loop in a new goroutine.
func (j *Journal) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&j.started, 0, 1) {
		return errors.New("tca: journal already started")
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run(ctx)
	}()
	return nil
}

// Close stops the journal and flushes buffered reports.
func (j *Journal) Close() error {
	if atomic.CompareAndSwapUint32(&j.closed, 0, 1) {
		close(j.ch)
	}
	j.wg.Wait()
	return j.Err()
}

// Err returns the first write error observed, if any.
func (j *Journal) Err() error {
	if v := j.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// TryAppend enqueues a report without blocking.
func (j *Journal) TryAppend(report Report) error {
	if atomic.LoadUint32(&j.closed) != 0 {
		return ErrJournalClosed
	}
	if atomic.LoadUint32(&j.started) == 0 {
		return ErrJournalNotStarted
	}
	if err := j.Err(); err != nil {
		return err
	}
	select {
	case j.ch <- report:
		return nil
	default:
		return ErrJournalQueueFull
	}
}

func (j *Journal) run(ctx context.Context) {
	var seg *segment
	flush := time.NewTicker(j.cfg.FlushInterval)
	defer flush.Stop()
	defer func() {
		if err := closeSegment(seg); err != nil && j.Err() == nil {
			j.setErr(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			j.drain(&seg)
			return
		case report, ok := <-j.ch:
			if !ok {
				return
			}
			if err := j.write(&seg, report); err != nil {
				j.setErr(err)
				return
			}
		case <-flush.C:
			if seg != nil {
				if err := seg.buf.Flush(); err != nil {
					j.setErr(err)
					return
				}
			}
		}
	}
}

func (j *Journal) drain(seg **segment) {
	for {
		select {
		case report, ok := <-j.ch:
			if !ok {
				return
			}
			if err := j.write(seg, report); err != nil {
				j.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (j *Journal) write(seg **segment, report Report) error {
	line, err := sonic.ConfigFastest.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	now := time.Now().UTC()
	if j.shouldRotate(*seg, now, int64(len(line))+1) {
		if err := closeSegment(*seg); err != nil {
			return err
		}
		opened, err := j.openSegment(now)
		if err != nil {
			return err
		}
		*seg = opened
		j.purge(now)
	}
	if _, err := (*seg).buf.Write(line); err != nil {
		return err
	}
	if err := (*seg).buf.WriteByte('\n'); err != nil {
		return err
	}
	(*seg).size += int64(len(line)) + 1
	return nil
}

func (j *Journal) shouldRotate(seg *segment, now time.Time, nextSize int64) bool {
	if seg == nil {
		return true
	}
	if seg.size+nextSize > j.cfg.SegmentMaxBytes {
		return true
	}
	return now.Sub(seg.openedAt) >= j.cfg.SegmentMaxDuration
}

func (j *Journal) openSegment(now time.Time) (*segment, error) {
	ts := now.Format("20060102-150405")
	for id := 1; ; id++ {
		name := fmt.Sprintf("%s-%s-%04d.jsonl", j.cfg.FilePrefix, ts, id)
		path := filepath.Join(j.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, err
		}
		return &segment{
			file:     file,
			buf:      bufio.NewWriterSize(file, j.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

// purge removes segments older than the retention window. Retention zero
// keeps everything.
func (j *Journal) purge(now time.Time) {
	if j.cfg.Retention <= 0 {
		return
	}
	entries, err := os.ReadDir(j.cfg.Dir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), j.cfg.FilePrefix+"-") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	cutoff := now.Add(-j.cfg.Retention)
	for _, name := range names {
		info, err := os.Stat(filepath.Join(j.cfg.Dir, name))
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(j.cfg.Dir, name))
	}
}

func (j *Journal) setErr(err error) {
	if err == nil || j.err.Load() != nil {
		return
	}
	j.err.Store(err)
}

func closeSegment(seg *segment) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

type segment struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}
