// Package ledger is the durable, ordered, append-only sink for chain
// entries. One framed log file per stream; a single writer lock per stream;
// readers never block writers. Chain linkage is computed here via Link so a
// record is hashed, linked, and committed as one atomic step.
package ledger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"xdao.co/vault/canonical"
	"xdao.co/vault/digest"
	"xdao.co/vault/model"
)

// Options configure a Log.
type Options struct {
	// Durable streams fsync every append before acknowledgement.
	Durable bool
	// Logger defaults to a nop logger.
	Logger *zap.Logger
	// Now overrides the ingestion clock. Tests only; ts_ingested never
	// participates in hashing.
	Now func() time.Time
}

// DefaultOptions match the anchor.stream_durable=true profile.
func DefaultOptions() Options {
	return Options{Durable: true}
}

// Log owns a directory of streams. Streams are opened lazily on first use
// and resumed from their committed tail.
type Log struct {
	dir     string
	durable bool
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

type stream struct {
	name string
	path string

	// wl serializes appends; held as a token so lock acquisition can race a
	// caller deadline.
	wl chan struct{}

	// stateMu guards the fields below. The writer is their only mutator.
	stateMu   sync.RWMutex
	f         *os.File
	committed int64
	tip       *model.ChainEntry
	broken    bool
	// corruptTail marks an unrecoverable suffix found at open; ResetBroken
	// discards it before re-enabling writers.
	corruptTail bool
}

// Open opens (or creates) a log directory.
func Open(dir string, opts Options) (*Log, error) {
	if dir == "" {
		return nil, model.NewError(model.KindStorageError, "ledger: directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, "streams"), 0o755); err != nil {
		return nil, model.WrapError(model.KindStorageError, "ledger: create directory", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Log{
		dir:     dir,
		durable: opts.Durable,
		logger:  logger,
		now:     now,
		streams: make(map[string]*stream),
	}, nil
}

func validStreamName(name string) bool {
	if name == "" || len(name) > 200 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func (l *Log) openStream(name string) (*stream, error) {
	if !validStreamName(name) {
		return nil, model.NewError(model.KindStorageError, fmt.Sprintf("ledger: invalid stream name %q", name))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, model.NewError(model.KindStorageError, "ledger: log is closed")
	}
	if s, ok := l.streams[name]; ok {
		return s, nil
	}

	s := &stream{
		name: name,
		path: filepath.Join(l.dir, "streams", name+".log"),
		wl:   make(chan struct{}, 1),
	}
	if err := s.recover(l.logger); err != nil {
		return nil, err
	}
	l.streams[name] = s
	return s, nil
}

// recover replays the stream file, truncating a torn tail so the tip is
// always a fully committed entry. Interior corruption marks the stream
// broken instead of truncating history.
func (s *stream) recover(logger *zap.Logger) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return model.WrapError(model.KindStorageError, "ledger: open stream file", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return model.WrapError(model.KindStorageError, "ledger: stat stream file", err)
	}
	size := info.Size()

	var (
		offset int64
		tip    *model.ChainEntry
	)
	r := io.NewSectionReader(f, 0, size)
	for {
		frame, n, err := readFrame(r)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			logger.Warn("truncating torn tail",
				zap.String("stream", s.name), zap.Int64("offset", offset))
			if terr := f.Truncate(offset); terr != nil {
				_ = f.Close()
				return model.WrapError(model.KindStorageError, "ledger: truncate torn tail", terr)
			}
			break
		}
		if err != nil {
			// A checksum failure on the final frame is a torn write; anywhere
			// else it is corruption the operator must acknowledge.
			if pos, serr := r.Seek(0, io.SeekCurrent); serr == nil && pos >= size {
				logger.Warn("truncating checksum-failed tail",
					zap.String("stream", s.name), zap.Int64("offset", offset))
				if terr := f.Truncate(offset); terr != nil {
					_ = f.Close()
					return model.WrapError(model.KindStorageError, "ledger: truncate torn tail", terr)
				}
				break
			}
			logger.Error("interior corruption; stream halted",
				zap.String("stream", s.name), zap.Int64("offset", offset), zap.Error(err))
			s.broken = true
			s.corruptTail = true
			break
		}

		wantSeq := int64(0)
		if tip != nil {
			wantSeq = tip.Seq + 1
		}
		if frame.Entry.Seq != wantSeq {
			logger.Error("sequence discontinuity; stream halted",
				zap.String("stream", s.name), zap.Int64("seq", frame.Entry.Seq))
			s.broken = true
			s.corruptTail = true
			break
		}

		offset += n
		e := frame.Entry
		tip = &e
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		return model.WrapError(model.KindStorageError, "ledger: seek stream tail", err)
	}
	s.f = f
	s.committed = offset
	s.tip = tip
	return nil
}

// acquire takes the stream writer lock, racing the caller's deadline.
// Cancellation is honored only before the lock is held.
func (s *stream) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return model.WrapError(model.KindTimeout, "ledger: deadline before write lock", err)
	}
	select {
	case s.wl <- struct{}{}:
		return nil
	case <-ctx.Done():
		return model.WrapError(model.KindTimeout, "ledger: deadline before write lock", ctx.Err())
	}
}

func (s *stream) release() { <-s.wl }

// Append assigns the next seq, links the record to the stream tip, and
// commits entry plus record atomically. Durable streams fsync before
// acknowledgement. A returned entry implies the frame is fully committed.
func (l *Log) Append(ctx context.Context, name string, record model.Record, payloadCID string) (model.ChainEntry, error) {
	s, err := l.openStream(name)
	if err != nil {
		return model.ChainEntry{}, err
	}

	// The record is canonicalized before taking the lock: validation
	// failures must leave no state change and hold up no other writer.
	recordBytes, err := canonical.Encode(record)
	if err != nil {
		return model.ChainEntry{}, err
	}
	recordDigest := digest.SHA256Hex(recordBytes)

	if err := s.acquire(ctx); err != nil {
		return model.ChainEntry{}, err
	}
	defer s.release()

	s.stateMu.RLock()
	broken := s.broken
	tip := s.tip
	committed := s.committed
	s.stateMu.RUnlock()
	if broken {
		return model.ChainEntry{}, model.NewError(model.KindStreamLocked,
			fmt.Sprintf("ledger: stream %q is halted pending operator reset", name))
	}

	var (
		seq      int64
		prevHash *string
	)
	if tip != nil {
		seq = tip.Seq + 1
		h := tip.Hash
		prevHash = &h
	}
	hash, err := Link(prevHash, recordDigest, payloadCID, seq)
	if err != nil {
		return model.ChainEntry{}, err
	}

	entry := model.ChainEntry{
		PrevHash:     prevHash,
		Hash:         hash,
		RecordDigest: recordDigest,
		PayloadCID:   payloadCID,
		Seq:          seq,
		TsIngested:   l.now().Unix(),
	}
	buf, err := encodeFrame(Frame{Entry: entry, Record: record})
	if err != nil {
		return model.ChainEntry{}, err
	}

	if _, err := s.f.Write(buf); err != nil {
		// Roll back the partial frame so the in-memory tail stays truthful.
		_ = s.f.Truncate(committed)
		_, _ = s.f.Seek(committed, io.SeekStart)
		return model.ChainEntry{}, model.WrapError(model.KindStorageError, "ledger: append write", err)
	}
	if l.durable {
		if err := s.f.Sync(); err != nil {
			_ = s.f.Truncate(committed)
			_, _ = s.f.Seek(committed, io.SeekStart)
			return model.ChainEntry{}, model.WrapError(model.KindStorageError, "ledger: append fsync", err)
		}
	}

	s.stateMu.Lock()
	s.committed = committed + int64(len(buf))
	e := entry
	s.tip = &e
	s.stateMu.Unlock()

	l.logger.Debug("appended entry",
		zap.String("stream", name),
		zap.Int64("seq", seq),
		zap.String("hash", hash))
	return entry, nil
}

// Tip returns the most recently committed entry, or nil for an empty stream.
func (l *Log) Tip(name string) (*model.ChainEntry, error) {
	s, err := l.openStream(name)
	if err != nil {
		return nil, err
	}
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.tip == nil {
		return nil, nil
	}
	e := *s.tip
	return &e, nil
}

// Broken reports whether the stream is halted pending operator reset.
func (l *Log) Broken(name string) (bool, error) {
	s, err := l.openStream(name)
	if err != nil {
		return false, err
	}
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.broken, nil
}

// MarkBroken halts writers on the stream until ResetBroken.
func (l *Log) MarkBroken(name string) error {
	s, err := l.openStream(name)
	if err != nil {
		return err
	}
	s.stateMu.Lock()
	s.broken = true
	s.stateMu.Unlock()
	l.logger.Warn("stream marked broken", zap.String("stream", name))
	return nil
}

// ResetBroken is the explicit operator acknowledgement that re-enables
// writers after an integrity failure. When the halt came from an
// unrecoverable suffix found at open, acknowledging discards that suffix so
// the next append continues from the last committed entry.
func (l *Log) ResetBroken(name string) error {
	s, err := l.openStream(name)
	if err != nil {
		return err
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.corruptTail {
		if err := s.f.Truncate(s.committed); err != nil {
			return model.WrapError(model.KindStorageError, "ledger: discard corrupt suffix", err)
		}
		if _, err := s.f.Seek(s.committed, io.SeekStart); err != nil {
			return model.WrapError(model.KindStorageError, "ledger: seek after discard", err)
		}
		s.corruptTail = false
	}
	s.broken = false
	l.logger.Warn("stream reset by operator", zap.String("stream", name))
	return nil
}

// Scan returns a reader over committed frames with seq >= fromSeq. The
// scanner sees a consistent snapshot: entries committed after Scan returns
// are not surfaced. Readers never block the writer.
func (l *Log) Scan(name string, fromSeq int64) (*Scanner, error) {
	s, err := l.openStream(name)
	if err != nil {
		return nil, err
	}
	s.stateMu.RLock()
	limit := s.committed
	s.stateMu.RUnlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, model.WrapError(model.KindStorageError, "ledger: open stream for scan", err)
	}
	return &Scanner{
		r:       io.NewSectionReader(f, 0, limit),
		f:       f,
		fromSeq: fromSeq,
	}, nil
}

// Scanner iterates committed frames in seq order.
type Scanner struct {
	r       *io.SectionReader
	f       *os.File
	fromSeq int64
	done    bool
}

// Next returns the next frame, io.EOF at the end of the snapshot, or a
// CorruptEntry error. After an error the scanner stops.
func (sc *Scanner) Next() (Frame, error) {
	if sc.done {
		return Frame{}, io.EOF
	}
	for {
		frame, _, err := readFrame(sc.r)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			sc.done = true
			return Frame{}, io.EOF
		}
		if err != nil {
			sc.done = true
			return Frame{}, err
		}
		if frame.Entry.Seq < sc.fromSeq {
			continue
		}
		return frame, nil
	}
}

// Close releases the scanner's file handle.
func (sc *Scanner) Close() error {
	return sc.f.Close()
}

// Record returns the record committed at seq.
func (l *Log) Record(name string, seq int64) (model.Record, error) {
	sc, err := l.Scan(name, seq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sc.Close() }()
	frame, err := sc.Next()
	if err == io.EOF {
		return nil, model.NewError(model.KindNotFound,
			fmt.Sprintf("ledger: stream %q has no entry seq=%d", name, seq))
	}
	if err != nil {
		return nil, err
	}
	if frame.Entry.Seq != seq {
		return nil, model.NewError(model.KindNotFound,
			fmt.Sprintf("ledger: stream %q has no entry seq=%d", name, seq))
	}
	return frame.Record, nil
}

// Streams lists stream names present on disk, sorted.
func (l *Log) Streams() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.dir, "streams"))
	if err != nil {
		return nil, model.WrapError(model.KindStorageError, "ledger: list streams", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".log"))
	}
	sort.Strings(out)
	return out, nil
}

// Close flushes and closes every open stream. The Log is unusable after.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	var err error
	for _, s := range l.streams {
		s.stateMu.Lock()
		if s.f != nil {
			err = multierr.Append(err, s.f.Close())
			s.f = nil
		}
		s.stateMu.Unlock()
	}
	return err
}
