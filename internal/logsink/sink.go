// Package logsink buffers the bot's plain-text daily logs in memory and
// writes them to dated files on Flush.
//
// Two streams exist: the main log and the direct-message log. Each stream has
// its own mutex; Flush takes the same mutex as Append, so a flush never
// interleaves with a writer.
package logsink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Stream selects one of the two buffers.
type Stream int

const (
	Main Stream = iota
	DM
)

func (s Stream) String() string {
	switch s {
	case Main:
		return "main"
	case DM:
		return "dm"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

const (
	timeFormat = "15:04:05"
	dateFormat = "2006-01-02"
)

var ErrClosed = errors.New("log sink closed")

type Config struct {
	MainDir string
	DMDir   string

	// MaxBufferBytes triggers an early flush of a stream once its buffer grows
	// past this size. 0 disables the cap.
	MaxBufferBytes int

	// OnWriteFailure is called (outside any lock) when a dated file cannot be
	// written. The app wires it to an emergency shutdown.
	OnWriteFailure func(error)

	// Now is the time source for line prefixes and file names.
	Now func() time.Time
}

type buffer struct {
	mu  sync.Mutex
	b   strings.Builder
	dir string
}

type Sink struct {
	cfg     Config
	streams [2]*buffer

	closeMu sync.RWMutex
	closed  bool

	// openFile is swapped by tests to simulate disk failures.
	openFile func(name string) (io.WriteCloser, error)
}

func New(cfg Config) *Sink {
	if strings.TrimSpace(cfg.MainDir) == "" {
		cfg.MainDir = "logs"
	}
	if strings.TrimSpace(cfg.DMDir) == "" {
		cfg.DMDir = "dms"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sink{
		cfg: cfg,
		streams: [2]*buffer{
			Main: {dir: cfg.MainDir},
			DM:   {dir: cfg.DMDir},
		},
		openFile: openAppend,
	}
}

func openAppend(name string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// Log appends one line to the main stream.
func (s *Sink) Log(values ...any) { s.Append(Main, values...) }

// DMLog appends one line to the direct-message stream.
func (s *Sink) DMLog(values ...any) { s.Append(DM, values...) }

// Append formats values into a single timestamped line and appends it to stream.
func (s *Sink) Append(stream Stream, values ...any) {
	var line strings.Builder
	line.WriteString(s.cfg.Now().Format(timeFormat))
	line.WriteByte('\t')
	for _, v := range values {
		writeValue(&line, v)
	}
	line.WriteByte('\n')
	s.appendRaw(stream, line.String())
}

// LogError appends a failure record: a timestamped line with the error text
// followed by one tab-indented line per stack frame.
func (s *Sink) LogError(err error) {
	if err == nil {
		return
	}
	var b strings.Builder
	b.WriteString(s.cfg.Now().Format(timeFormat))
	b.WriteByte('\t')
	b.WriteString(err.Error())
	b.WriteByte('\n')
	for _, fr := range framesOf(err, 3) {
		b.WriteByte('\t')
		b.WriteString(fr)
		b.WriteByte('\n')
	}
	s.appendRaw(Main, b.String())
}

// Writer returns an io.Writer that appends raw records to stream.
// Each Write is treated as one record; a trailing newline is added if missing.
func (s *Sink) Writer(stream Stream) io.Writer {
	return streamWriter{s: s, stream: stream}
}

type streamWriter struct {
	s      *Sink
	stream Stream
}

func (w streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	rec := string(p)
	if !strings.HasSuffix(rec, "\n") {
		rec += "\n"
	}
	if !w.s.appendRaw(w.stream, rec) {
		return 0, ErrClosed
	}
	return len(p), nil
}

func (s *Sink) appendRaw(stream Stream, rec string) bool {
	buf := s.buffer(stream)
	if buf == nil {
		return false
	}
	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return false
	}
	var err error
	buf.mu.Lock()
	buf.b.WriteString(rec)
	if max := s.cfg.MaxBufferBytes; max > 0 && buf.b.Len() > max {
		err = s.flushLocked(buf)
	}
	buf.mu.Unlock()
	s.closeMu.RUnlock()

	// The failure hook usually logs, which re-enters appendRaw.
	if err != nil {
		s.fail(err)
	}
	return true
}

// Len reports the number of buffered bytes for stream.
func (s *Sink) Len(stream Stream) int {
	buf := s.buffer(stream)
	if buf == nil {
		return 0
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return buf.b.Len()
}

// Flush writes every stream's buffer to today's dated file and empties it.
// Each stream is attempted even if another fails; the first failure is
// escalated through OnWriteFailure.
func (s *Sink) Flush() error {
	var errs []error
	for _, buf := range s.streams {
		buf.mu.Lock()
		err := s.flushLocked(buf)
		buf.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		s.fail(err)
	}
	return err
}

// Close performs a final flush and drops subsequent appends.
func (s *Sink) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()
	return s.Flush()
}

// flushLocked must be called with buf.mu held.
func (s *Sink) flushLocked(buf *buffer) error {
	if buf.b.Len() == 0 {
		return nil
	}
	name := filepath.Join(buf.dir, s.cfg.Now().Format(dateFormat))
	f, err := s.openFile(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	_, werr := io.WriteString(f, buf.b.String())
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("write %s: %w", name, werr)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", name, cerr)
	}
	buf.b.Reset()
	return nil
}

func (s *Sink) fail(err error) {
	fmt.Fprintf(os.Stderr, "logsink: %v\n", err)
	if s.cfg.OnWriteFailure != nil {
		s.cfg.OnWriteFailure(err)
	}
}

func (s *Sink) buffer(stream Stream) *buffer {
	if stream < 0 || int(stream) >= len(s.streams) {
		return nil
	}
	return s.streams[stream]
}
