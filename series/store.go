// Package series stores the history of item values and answers range queries
// over it.
//
// Each tracked item has a gapless sequence of records: a record opens when the
// value changes and is closed by the next one. Records are appended to a
// framed log (series.log) and kept in memory; an index (series.idx) maps each
// (item, bucket) to the first record starting in that bucket.
package series

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/util"
)

const (
	LogFile   = "series.log"
	IndexFile = "series.idx"
)

var ErrOutOfOrder = errors.New("timestamp before the open record")

var ErrClosed = errors.New("series store closed")

type Options struct {
	// Bucket is the index granularity. Defaults to an hour.
	Bucket time.Duration
	// Now is the clock used to end open records and resolve relative times.
	Now func() time.Time
}

type itemSeries struct {
	records []Record
	// buckets holds the index buckets in ascending order; first[i] is the
	// position of the first record starting in buckets[i].
	buckets []int64
	first   []int
}

func (s *itemSeries) open() *Record {
	if n := len(s.records); n > 0 && s.records[n-1].Open() {
		return &s.records[n-1]
	}
	return nil
}

func (s *itemSeries) indexRecord(pos int, bucket int64) {
	ts := s.records[pos].Time
	b := ts - mod(ts, bucket)
	if n := len(s.buckets); n == 0 || s.buckets[n-1] < b {
		s.buckets = append(s.buckets, b)
		s.first = append(s.first, pos)
	}
}

// locate returns the position of the record covering ts, or the first record
// if ts is before it, or -1 if there are no records.
func (s *itemSeries) locate(ts int64) int {
	if len(s.records) == 0 {
		return -1
	}
	n := sort.Search(len(s.buckets), func(i int) bool { return s.buckets[i] > ts })
	if n == 0 {
		return 0
	}
	pos := s.first[n-1]
	if s.records[pos].Time > ts {
		if pos > 0 {
			pos--
		}
		return pos
	}
	for pos+1 < len(s.records) && s.records[pos+1].Time <= ts {
		pos++
	}
	return pos
}

type Store struct {
	log *zap.SugaredLogger

	mu     sync.RWMutex
	dir    string
	file   *os.File
	writer *bufio.Writer
	seq    uint64
	size   int64
	bucket int64
	series map[string]*itemSeries
	dirty  bool
	closed bool
	now    func() time.Time
}

// Open the store in dir, creating it if needed. The log is replayed; a torn
// frame at its tail is truncated. The index is loaded, or rebuilt when missing
// or out of date.
func Open(dir string, opts Options, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.Bucket <= 0 {
		opts.Bucket = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	dir, err := util.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	s := &Store{
		log:    log,
		dir:    dir,
		bucket: opts.Bucket.Milliseconds(),
		series: map[string]*itemSeries{},
		now:    opts.Now,
	}

	path := filepath.Join(dir, LogFile)
	good, err := replay(path, s.applyFrame)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if stat.Size() > good {
		log.Warnw("Truncating torn series log tail", "path", path, "bytes", stat.Size()-good)
		if err := f.Truncate(good); err != nil {
			f.Close()
			return nil, err
		}
	}
	s.file = f
	s.writer = bufio.NewWriterSize(f, 64<<10)
	s.size = good

	if !s.loadIndex() {
		s.rebuildIndex()
		s.dirty = true
	}
	log.Infow("Series store opened", "path", path, "items", len(s.series), "frames", s.seq)
	return s, nil
}

func (s *Store) applyFrame(kind byte, seq uint64, body []byte) error {
	switch kind {
	case frameOpen:
		var r Record
		if err := json.Unmarshal(body, &r); err != nil {
			return err
		}
		s.applyOpen(r, false)
	case frameExtend:
		var e extend
		if err := json.Unmarshal(body, &e); err != nil {
			return err
		}
		s.applyExtend(e)
	}
	s.seq = seq
	return nil
}

func (s *Store) itemSeries(item string) *itemSeries {
	is := s.series[item]
	if is == nil {
		is = &itemSeries{}
		s.series[item] = is
	}
	return is
}

// applyOpen closes the item's open record and appends r. A record at the same
// time as the open one replaces it.
func (s *Store) applyOpen(r Record, index bool) {
	is := s.itemSeries(r.Item)
	r.Duration = -1
	if open := is.open(); open != nil {
		if open.Time == r.Time {
			*open = r
			return
		}
		open.Duration = r.Time - open.Time
	}
	is.records = append(is.records, r)
	if index {
		is.indexRecord(len(is.records)-1, s.bucket)
	}
}

func (s *Store) applyExtend(e extend) {
	if is := s.series[e.Item]; is != nil {
		if open := is.open(); open != nil && e.Changed > open.Changed {
			open.Changed = e.Changed
		}
	}
}

// Append records the value of an item at ts. Setting the same value again
// extends the open record; a different value closes it and opens a new one.
// A timestamp before the start of the open record is rejected.
func (s *Store) Append(item string, ts time.Time, value interface{}) error {
	ms := ts.UnixMilli()
	r, err := newRecord(item, ms, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if is := s.series[item]; is != nil {
		if open := is.open(); open != nil {
			if ms < open.Time {
				return errors.Wrapf(ErrOutOfOrder, "%s at %d", item, ms)
			}
			if open.sameValue(r) {
				if ms <= open.Changed {
					return nil
				}
				e := extend{Item: item, Changed: ms}
				if err := s.write(frameExtend, e); err != nil {
					return err
				}
				s.applyExtend(e)
				return nil
			}
		}
	}
	if err := s.write(frameOpen, r); err != nil {
		return err
	}
	s.applyOpen(r, true)
	return nil
}

func (s *Store) write(kind byte, v interface{}) error {
	n, err := writeFrame(s.writer, kind, s.seq+1, v)
	if err != nil {
		return errors.Wrap(err, "series log write")
	}
	s.seq++
	s.size += int64(n)
	s.dirty = true
	return nil
}

// Sync flushes the log to disk and writes the index. Records appended before
// a successful Sync survive a restart.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.syncLocked()
}

func (s *Store) syncLocked() error {
	if err := s.writer.Flush(); err != nil {
		return errors.Wrap(err, "series log flush")
	}
	if err := s.file.Sync(); err != nil {
		return errors.Wrap(err, "series log sync")
	}
	return s.writeIndex()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.syncLocked()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.closed = true
	return err
}

// Items with records, sorted.
func (s *Store) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return util.SortedKeys(s.series)
}

// Records of an item, oldest first.
func (s *Store) Records(item string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if is := s.series[item]; is != nil {
		return append([]Record(nil), is.records...)
	}
	return nil
}

type indexFile struct {
	LogSize int64                `json:"log_size"`
	Seq     uint64               `json:"seq"`
	Bucket  int64                `json:"bucket_ms"`
	Items   map[string][][2]int64 `json:"items"`
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, IndexFile)
}

func (s *Store) loadIndex() bool {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return false
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		s.log.Warnw("Series index unreadable, rebuilding", "error", err)
		return false
	}
	if idx.LogSize != s.size || idx.Seq != s.seq || idx.Bucket != s.bucket || len(idx.Items) != len(s.series) {
		s.log.Infow("Series index out of date, rebuilding")
		return false
	}
	for item, entries := range idx.Items {
		is := s.series[item]
		if is == nil {
			return false
		}
		buckets := make([]int64, len(entries))
		first := make([]int, len(entries))
		for i, e := range entries {
			if e[1] < 0 || int(e[1]) >= len(is.records) {
				return false
			}
			buckets[i], first[i] = e[0], int(e[1])
		}
		is.buckets, is.first = buckets, first
	}
	return true
}

func (s *Store) rebuildIndex() {
	for _, is := range s.series {
		is.buckets, is.first = nil, nil
		for pos := range is.records {
			is.indexRecord(pos, s.bucket)
		}
	}
}

// writeIndex replaces the index file. It is written after the log is flushed
// so that log_size always refers to synced data.
func (s *Store) writeIndex() error {
	if !s.dirty {
		return nil
	}
	idx := indexFile{LogSize: s.size, Seq: s.seq, Bucket: s.bucket, Items: map[string][][2]int64{}}
	for item, is := range s.series {
		entries := make([][2]int64, len(is.buckets))
		for i := range is.buckets {
			entries[i] = [2]int64{is.buckets[i], int64(is.first[i])}
		}
		idx.Items[item] = entries
	}
	data, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "series index write")
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		return errors.Wrap(err, "series index rename")
	}
	s.dirty = false
	return nil
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
