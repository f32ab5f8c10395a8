package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("snapshot not found")
	ErrClosed   = errors.New("storage closed")
	ErrBadName  = errors.New("invalid snapshot name")
)

// Config configures storage.
//
// Driver values:
//   - "file": Path is a directory; each snapshot is <Path>/<name>
//   - "sqlite": Path is the database file
//
// If Driver is empty, "file" is used. "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
