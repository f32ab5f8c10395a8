// Package platformtest provides an in-memory platform client for tests and
// for running the bot without network access.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cartobot/internal/platform"
)

// Sent records one Send call.
type Sent struct {
	To   platform.Handle
	Text string
}

// Client is a fake platform.Client, platform.ThreadSource and platform.Intake.
//
// Resources are keyed by kind and ID; Lookup of anything not added returns
// platform.ErrNotFound.
type Client struct {
	mu         sync.Mutex
	resources  map[string]platform.Handle
	threads    map[string][]platform.Thread
	sent       []Sent
	sendErr    error
	terminated int
	inbox      chan platform.Message
}

func New() *Client {
	return &Client{
		resources: map[string]platform.Handle{},
		threads:   map[string][]platform.Thread{},
		inbox:     make(chan platform.Message, 64),
	}
}

func key(kind platform.Kind, id string) string { return string(kind) + "/" + id }

// Add makes a resource resolvable.
func (c *Client) Add(kind platform.Kind, id, title string) {
	c.mu.Lock()
	c.resources[key(kind, id)] = platform.Handle{Kind: kind, ID: id, Title: title}
	c.mu.Unlock()
}

// AddThread adds a thread to a forum's listing.
func (c *Client) AddThread(t platform.Thread) {
	c.mu.Lock()
	c.threads[t.ForumID] = append(c.threads[t.ForumID], t)
	c.mu.Unlock()
}

// FailSends makes every later Send return err (nil restores success).
func (c *Client) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Deliver queues an inbound message for Run.
func (c *Client) Deliver(m platform.Message) {
	c.inbox <- m
}

func (c *Client) Lookup(ctx context.Context, ref platform.Ref) (platform.Handle, error) {
	if err := ctx.Err(); err != nil {
		return platform.Handle{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.resources[key(ref.Kind, ref.ID)]
	if !ok {
		return platform.Handle{}, fmt.Errorf("%s: %w", ref, platform.ErrNotFound)
	}
	if ref.Parent != nil {
		h.ParentID = ref.Parent.ID
	}
	return h, nil
}

func (c *Client) Send(ctx context.Context, to platform.Handle, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, Sent{To: to, Text: text})
	return nil
}

func (c *Client) Terminate() {
	c.mu.Lock()
	c.terminated++
	c.mu.Unlock()
}

func (c *Client) Threads(ctx context.Context, forum platform.Handle) ([]platform.Thread, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]platform.Thread(nil), c.threads[forum.ID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Client) Run(ctx context.Context, handle func(platform.Message)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-c.inbox:
			handle(m)
		}
	}
}

// Sent returns a copy of every successful Send so far.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Terminated reports how many times Terminate was called.
func (c *Client) Terminated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}
