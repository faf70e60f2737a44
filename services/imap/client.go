package imap

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"

	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/enum"
	er "github.com/disqualifier/mailtime/internal/errors"
	"github.com/disqualifier/mailtime/internal/models"
)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = 30 * time.Second
	fetchTimeout   = 60 * time.Second
	logoutTimeout  = 5 * time.Second
)

// Client drives one IMAP session for one account. Not safe for concurrent
// use; each account worker owns exactly one client at a time.
type Client struct {
	account  *models.Account
	password string

	mu       sync.Mutex
	conn     *client.Client
	selected string
}

// NewClient is the interfaces.IMAPClientFactory for real IMAP sessions.
func NewClient(account *models.Account, password string) interfaces.IMAPClient {
	return &Client{
		account:  account,
		password: password,
	}
}

// Connect dials the server according to the account security mode and
// verifies the session with a CAPABILITY exchange. It does not log in.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	serverAddr := c.account.ServerAddr()

	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	var conn *client.Client
	var err error

	switch c.account.Security {
	case enum.EmailSecuritySSL:
		tlsConfig := &tls.Config{
			ServerName: c.account.ImapServer,
		}
		conn, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	case enum.EmailSecurityStartTLS:
		conn, err = client.DialWithDialer(dialer, serverAddr)
		if err == nil {
			conn.Timeout = commandTimeout
			err = conn.StartTLS(&tls.Config{
				ServerName: c.account.ImapServer,
			})
			if err != nil {
				conn.Close()
				conn = nil
			}
		}
	default:
		conn, err = client.DialWithDialer(dialer, serverAddr)
	}

	if err != nil {
		return classifyConnectError(serverAddr, err)
	}

	conn.Timeout = commandTimeout
	caps, err := conn.Capability()
	if err != nil {
		conn.Logout()
		return classifyConnectError(serverAddr, err)
	}
	conn.Timeout = 0

	log.Printf("[%s] Server capabilities: %v", c.account.ID, caps)

	c.conn = conn
	c.selected = ""
	return nil
}

// Authenticate logs in with the resolved credentials. The secret itself never
// reaches a log line or an error message.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return er.ErrSessionClosed
	}

	c.conn.Timeout = commandTimeout
	err := c.conn.Login(c.account.Username(), c.password)
	c.conn.Timeout = 0

	if err != nil {
		return er.NewAuthError(c.account.Username(), err)
	}

	log.Printf("[%s] Successfully logged in to %s", c.account.ID, c.account.ServerAddr())
	return nil
}

// Close logs out with a bounded wait and tears the connection down either
// way. Safe to call on any exit path, including before Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.selected = ""
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	conn.Timeout = logoutTimeout

	done := make(chan error, 1)
	go func() {
		done <- conn.Logout()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("[%s] Error during logout: %v", c.account.ID, err)
		}
		return nil
	case <-time.After(logoutTimeout):
		log.Printf("[%s] Logout timed out, closing connection", c.account.ID)
		conn.Close()
		return nil
	}
}

// session returns the live connection or ErrSessionClosed.
func (c *Client) session() (*client.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, er.ErrSessionClosed
	}
	return c.conn, nil
}

// classifyConnectError buckets a dial or handshake failure into the connect
// taxonomy so callers can pick a retry policy without string matching.
func classifyConnectError(addr string, err error) *er.ConnectError {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return er.NewConnectError(er.ConnectDNS, addr, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return er.NewConnectError(er.ConnectTimeout, addr, err)
	}

	var recordErr tls.RecordHeaderError
	var certErr x509.CertificateInvalidError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &recordErr) || errors.As(err, &certErr) || errors.As(err, &unknownAuthErr) || errors.As(err, &hostnameErr) {
		return er.NewConnectError(er.ConnectTLS, addr, err)
	}

	return er.NewConnectError(er.ConnectTCP, addr, err)
}
