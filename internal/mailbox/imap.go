package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog/log"
)

type connState int

const (
	stateDisconnected connState = iota
	stateAuthenticated
	stateSelected
)

const (
	dialTimeout    = 15 * time.Second
	commandTimeout = 45 * time.Second
	logoutTimeout  = 5 * time.Second
)

// IMAPInbox reads unread messages over IMAP. The connection moves through
// disconnected, authenticated and selected states; operations check the
// current state and reconnect when a previous failure left the connection
// unusable. Every operation runs under a connection deadline so a hung
// server fails the command instead of blocking the pipeline.
type IMAPInbox struct {
	host     string
	port     int
	username string
	password string

	conn   net.Conn
	client *imapclient.Client
	state  connState
}

// NewIMAPInbox creates an inbox for the given account. No connection is made
// until the first operation.
func NewIMAPInbox(host string, port int, username, password string) *IMAPInbox {
	return &IMAPInbox{
		host:     host,
		port:     port,
		username: username,
		password: password,
		state:    stateDisconnected,
	}
}

// opDeadline picks the sooner of the context deadline and the default
// command timeout, measured from now.
func opDeadline(ctx context.Context, now time.Time) time.Time {
	d := now.Add(commandTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	return d
}

// lease bounds every read and write on the connection until release is
// called.
func (i *IMAPInbox) lease(ctx context.Context) {
	if i.conn != nil {
		_ = i.conn.SetDeadline(opDeadline(ctx, time.Now()))
	}
}

// release clears the deadline so the idle connection is not killed between
// cycles.
func (i *IMAPInbox) release() {
	if i.conn != nil {
		_ = i.conn.SetDeadline(time.Time{})
	}
}

// ensureSelected drives the connection to the selected state, dialing and
// logging in as needed. Login rejection maps to ErrAuth.
func (i *IMAPInbox) ensureSelected(ctx context.Context) error {
	if i.state == stateDisconnected {
		addr := fmt.Sprintf("%s:%d", i.host, i.port)
		dialer := &net.Dialer{Timeout: dialTimeout}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, nil)
		if err != nil {
			return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
		}
		i.conn = conn
		i.client = imapclient.New(conn, nil)
		i.lease(ctx)
		if err := i.client.Login(i.username, i.password).Wait(); err != nil {
			i.drop()
			return fmt.Errorf("login rejected for %s: %w", i.username, ErrAuth)
		}
		i.state = stateAuthenticated
	}

	if i.state == stateAuthenticated {
		i.lease(ctx)
		if _, err := i.client.Select("INBOX", nil).Wait(); err != nil {
			i.drop()
			return fmt.Errorf("selecting INBOX: %w", err)
		}
		i.state = stateSelected
	}
	return nil
}

// drop discards the connection after a protocol failure so the next
// operation reconnects from scratch. The close is forceful; a graceful
// logout could itself hang on a broken connection.
func (i *IMAPInbox) drop() {
	if i.client != nil {
		_ = i.client.Close()
	}
	i.client = nil
	i.conn = nil
	i.state = stateDisconnected
}

// FetchUnread searches INBOX for unseen messages and fetches up to limit of
// them, oldest first. The body fetch uses a peeking section so the server
// never flags them seen implicitly.
func (i *IMAPInbox) FetchUnread(ctx context.Context, limit int) ([]RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := i.ensureSelected(ctx); err != nil {
		return nil, err
	}
	i.lease(ctx)
	defer i.release()

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	searchData, err := i.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		i.drop()
		return nil, fmt.Errorf("searching for unread messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := i.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	var messages []RawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			log.Warn().Err(err).Msg("skipping message that failed to collect")
			continue
		}
		raw := RawMessage{UID: uint32(buf.UID)}
		if buf.Envelope != nil {
			raw.MessageID = buf.Envelope.MessageID
		}
		if body := buf.FindBodySection(bodySection); body != nil {
			raw.Data = body
		}
		messages = append(messages, raw)
	}

	if err := fetchCmd.Close(); err != nil {
		i.drop()
		return messages, fmt.Errorf("fetching unread messages: %w", err)
	}

	log.Debug().Int("count", len(messages)).Msg("fetched unread messages")
	return messages, nil
}

// MarkRead sets the \Seen flag on the message. The connection must already
// have a mailbox selected; calling it cold is an ErrInvalidState.
func (i *IMAPInbox) MarkRead(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if i.state != stateSelected {
		return fmt.Errorf("mark read of UID %d: %w", uid, ErrInvalidState)
	}
	i.lease(ctx)
	defer i.release()

	storeCmd := i.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		i.drop()
		return fmt.Errorf("marking UID %d read: %w", uid, err)
	}
	return nil
}

// Reconnect drops the current connection and establishes a fresh selected
// session. Used after ErrInvalidState.
func (i *IMAPInbox) Reconnect() error {
	i.drop()
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return i.ensureSelected(ctx)
}

// Close logs out and drops the connection. The logout is bounded; a server
// that will not answer gets the connection torn down anyway.
func (i *IMAPInbox) Close() error {
	if i.client == nil {
		return nil
	}
	if i.conn != nil {
		_ = i.conn.SetDeadline(time.Now().Add(logoutTimeout))
	}
	err := i.client.Logout().Wait()
	i.client = nil
	i.conn = nil
	i.state = stateDisconnected
	if err != nil && !strings.Contains(err.Error(), "closed") {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}
