package logsink

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// Char logs as the character it names. Plain runes are int32 and print as
// numbers.
type Char rune

func writeValue(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("<nil>")
	case string:
		b.WriteString(x)
	case Char:
		b.WriteRune(rune(x))
	case []byte:
		b.Write(x)
	case error:
		b.WriteString(x.Error())
	case fmt.Stringer:
		b.WriteString(x.String())
	default:
		fmt.Fprint(b, x)
	}
}

// StackTracer is implemented by errors that carry their own call stack.
type StackTracer interface {
	StackFrames() []string
}

// WithStack captures the caller's stack and attaches it to err.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stackError{err: err, frames: captureFrames(3)}
}

type stackError struct {
	err    error
	frames []string
}

func (e *stackError) Error() string         { return e.err.Error() }
func (e *stackError) Unwrap() error         { return e.err }
func (e *stackError) StackFrames() []string { return e.frames }

func framesOf(err error, skip int) []string {
	var st StackTracer
	if errors.As(err, &st) {
		return st.StackFrames()
	}
	return captureFrames(skip + 1)
}

func captureFrames(skip int) []string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	out := make([]string, 0, n)
	for {
		fr, more := frames.Next()
		if fr.File != "" {
			out = append(out, fr.Function+"("+fr.File+":"+strconv.Itoa(fr.Line)+")")
		}
		if !more {
			break
		}
	}
	return out
}
