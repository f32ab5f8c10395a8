// Package telegram adapts gopkg.in/telebot.v4 to the platform interfaces.
//
// Telegram has no servers, roles or forum tags. A "server" or "forum"
// resource resolves to a supergroup chat, a "channel" to any chat, and forum
// threads are topics inside a forum supergroup. Roles and tags cannot be
// resolved.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"cartobot/internal/platform"
	rtsup "cartobot/internal/runtime/supervisor"
	logx "cartobot/pkg/logx"
)

const textLimit = 4096

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	handle atomic.Value // func(platform.Message)

	runMu   sync.Mutex
	running bool

	stopOnce sync.Once
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}
	c.handle.Store(func(platform.Message) {})
	c.bot.Handle(tele.OnText, c.onText)
	return c, nil
}

func (c *Client) onText(tc tele.Context) error {
	m := tc.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := platform.Message{
		ChatID:  strconv.FormatInt(m.Chat.ID, 10),
		Private: m.Chat.Type == tele.ChatPrivate,
		Text:    m.Text,
		Time:    m.Time(),
	}
	if m.ThreadID != 0 {
		msg.ThreadID = strconv.Itoa(m.ThreadID)
	}
	if m.Sender != nil {
		msg.AuthorID = strconv.FormatInt(m.Sender.ID, 10)
		msg.AuthorName = displayName(m.Sender)
		msg.AuthorBot = m.Sender.IsBot
	}
	if fn, ok := c.handle.Load().(func(platform.Message)); ok {
		fn(msg)
	}
	return nil
}

func displayName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (c *Client) Lookup(ctx context.Context, ref platform.Ref) (platform.Handle, error) {
	if err := ctx.Err(); err != nil {
		return platform.Handle{}, err
	}
	switch ref.Kind {
	case platform.KindServer, platform.KindChannel, platform.KindForum:
	default:
		return platform.Handle{}, fmt.Errorf("%s: %w", ref, platform.ErrUnsupported)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(ref.ID), 10, 64)
	if err != nil {
		return platform.Handle{}, fmt.Errorf("%s: chat id must be numeric: %w", ref, err)
	}
	chat, err := c.bot.ChatByID(id)
	if err != nil {
		return platform.Handle{}, fmt.Errorf("%s: %w: %v", ref, platform.ErrNotFound, err)
	}
	if ref.Kind != platform.KindChannel && chat.Type != tele.ChatSuperGroup {
		return platform.Handle{}, fmt.Errorf("%s: chat is %s, want supergroup: %w", ref, chat.Type, platform.ErrNotFound)
	}
	h := platform.Handle{Kind: ref.Kind, ID: strconv.FormatInt(chat.ID, 10), Title: chat.Title}
	if ref.Parent != nil {
		h.ParentID = ref.Parent.ID
	}
	return h, nil
}

// Send posts text, split into several messages if it exceeds Telegram's limit.
func (c *Client) Send(ctx context.Context, to platform.Handle, text string) error {
	chatID, threadID, err := target(to)
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: chatID}
	opt := &tele.SendOptions{ThreadID: threadID}
	for _, part := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.bot.Send(chat, part, opt); err != nil {
			return err
		}
	}
	return nil
}

func target(to platform.Handle) (chatID int64, threadID int, err error) {
	if to.Kind == platform.KindThread {
		chatID, err = strconv.ParseInt(to.ParentID, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("thread %s: bad forum id %q", to.ID, to.ParentID)
		}
		threadID, err = strconv.Atoi(to.ID)
		if err != nil {
			return 0, 0, fmt.Errorf("thread id %q is not numeric", to.ID)
		}
		return chatID, threadID, nil
	}
	chatID, err = strconv.ParseInt(to.ID, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("chat id %q is not numeric", to.ID)
	}
	return chatID, 0, nil
}

// Run long-polls for updates until ctx is done.
func (c *Client) Run(ctx context.Context, handle func(platform.Message)) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return errors.New("telegram intake already running")
	}
	c.running = true
	c.runMu.Unlock()
	if handle != nil {
		c.handle.Store(handle)
	}

	sup := rtsup.New(ctx, rtsup.WithLogger(c.log))
	sup.Go("telebot.stop_on_cancel", func(ctx context.Context) error {
		<-ctx.Done()
		c.bot.Stop()
		return nil
	})
	// telebot's Start returns only after Stop; anything else is restarted.
	sup.GoRestart("telebot.poll", func(ctx context.Context) error {
		c.log.Info("polling started")
		c.bot.Start()
		if ctx.Err() != nil {
			c.log.Info("polling stopped")
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	<-ctx.Done()
	wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil && errors.Is(err, context.DeadlineExceeded) {
		c.log.Warn("telegram stop grace elapsed; continuing shutdown")
	}
	return nil
}

// Terminate stops polling immediately.
func (c *Client) Terminate() {
	c.stopOnce.Do(func() {
		c.log.Warn("terminating telegram connection")
		go c.bot.Stop()
	})
}
