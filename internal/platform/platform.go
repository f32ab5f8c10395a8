// Package platform is the boundary between the bot and its chat service.
//
// The lifecycle code only needs three things from a chat service: resolve a
// configured resource to a live handle, send text to a handle, and terminate
// the connection. Inbound traffic arrives through Intake.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound    = errors.New("resource not found")
	ErrUnsupported = errors.New("resource kind not supported by platform")
)

type Kind string

const (
	KindServer  Kind = "server"
	KindChannel Kind = "channel"
	KindForum   Kind = "forum"
	KindRole    Kind = "role"
	KindTag     Kind = "tag"
	KindThread  Kind = "thread"
	KindUser    Kind = "user"
)

// Ref identifies a resource to resolve. Parent is set for resources that live
// inside another one (a tag inside a forum, a channel inside a server).
type Ref struct {
	Name   string
	Kind   Kind
	ID     string
	Parent *Handle
}

func (r Ref) String() string {
	return fmt.Sprintf("%s %q (id %s)", r.Kind, r.Name, r.ID)
}

// Handle is a resolved resource.
type Handle struct {
	Kind     Kind
	ID       string
	ParentID string
	Title    string
}

func (h Handle) IsZero() bool { return h.ID == "" }

// Thread is one post in a forum.
type Thread struct {
	ForumID      string
	ID           string
	Title        string
	LastActivity time.Time
	Archived     bool
}

// Handle returns the handle used to send into the thread.
func (t Thread) Handle() Handle {
	return Handle{Kind: KindThread, ID: t.ID, ParentID: t.ForumID, Title: t.Title}
}

// Message is an inbound message.
type Message struct {
	ChatID     string
	ThreadID   string
	AuthorID   string
	AuthorName string
	AuthorBot  bool
	Private    bool
	Text       string
	Time       time.Time
}

type Client interface {
	Lookup(ctx context.Context, ref Ref) (Handle, error)
	Send(ctx context.Context, to Handle, text string) error
	// Terminate closes the connection immediately. Safe to call more than once.
	Terminate()
}

// ThreadSource is implemented by clients that can enumerate forum threads.
type ThreadSource interface {
	Threads(ctx context.Context, forum Handle) ([]Thread, error)
}

// Intake delivers inbound messages to handle until ctx is done.
type Intake interface {
	Run(ctx context.Context, handle func(Message)) error
}
