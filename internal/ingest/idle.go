package ingest

import (
	"context"
	"log"
	"net"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
)

// idleRetrySleep is the backoff after an IDLE error before reconnecting.
const idleRetrySleep = 10 * time.Second

// Watcher holds a dedicated IMAP connection in IDLE on the inbox and
// calls onUpdate whenever the mailbox changes.  Fetching happens on the
// syncer's connection, not this one.
type Watcher struct {
	addr     string
	username string
	password string
	useTLS   bool
}

// NewWatcher creates a watcher for one account.
func NewWatcher(addr, username, password string, useTLS bool) *Watcher {
	return &Watcher{addr: addr, username: username, password: password, useTLS: useTLS}
}

// Watch blocks until the context is canceled, reconnecting on errors.
func (w *Watcher) Watch(ctx context.Context, onUpdate func()) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.runOnce(ctx, onUpdate); err != nil {
			log.Printf("IMAP IDLE: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(idleRetrySleep):
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context, onUpdate func()) error {
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	var c *imapclient.Client
	var err error
	if w.useTLS {
		c, err = imapclient.DialWithDialerTLS(dialer, w.addr, nil)
	} else {
		c, err = imapclient.DialWithDialer(dialer, w.addr)
	}
	if err != nil {
		return err
	}
	defer c.Logout()

	if err := c.Login(w.username, w.password); err != nil {
		return err
	}
	if _, err := c.Select("INBOX", true); err != nil {
		return err
	}

	idleClient := idle.NewClient(c)
	updates := make(chan imapclient.Update, 10)
	c.Updates = updates

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, 5*time.Second)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			return nil
		case err := <-done:
			return err
		case update := <-updates:
			if mbox, ok := update.(*imapclient.MailboxUpdate); ok && mbox.Mailbox != nil {
				onUpdate()
			}
		}
	}
}
