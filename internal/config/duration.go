package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	errNegative = errors.New("must be >= 0")
	errNotPos   = errors.New("must be > 0")
)

// DurationError reports a config duration that failed to parse or is out of
// range. Path is the dotted config key.
type DurationError struct {
	Path string
	Raw  string
	Err  error
}

func (e *DurationError) Error() string {
	if errors.Is(e.Err, errNegative) || errors.Is(e.Err, errNotPos) {
		return fmt.Sprintf("%s: duration %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s: invalid duration %q: %v", e.Path, e.Raw, e.Err)
}

func (e *DurationError) Unwrap() error { return e.Err }

// parseDuration accepts time.ParseDuration syntax plus whole days ("2d").
func parseDuration(s string) (time.Duration, error) {
	if n, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("day count %q: %w", n, err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// ParseDurationField parses an optional, non-negative duration. Empty is 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := parseDuration(s)
	if err != nil {
		return 0, &DurationError{Path: path, Raw: raw, Err: err}
	}
	if d < 0 {
		return 0, &DurationError{Path: path, Raw: raw, Err: errNegative}
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// ParsePositiveDuration is for required durations such as idle thresholds.
func ParsePositiveDuration(path, raw string) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, &DurationError{Path: path, Raw: raw, Err: errNotPos}
	}
	return d, nil
}
