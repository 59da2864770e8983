package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-memory IMAP server for ingest tests.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// NewTestIMAPServer starts an IMAP server with an in-memory backend on a
// random port.  The memory backend ships a default user with username
// "username" and password "password".
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := listener.Addr().String()

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server error: %v", err)
		}
	}()

	// Give the server time to start.
	time.Sleep(100 * time.Millisecond)

	srv := &TestIMAPServer{
		Server:   s,
		Address:  addr,
		Backend:  be,
		username: "username",
		password: "password",
	}
	srv.cleanup = func() { _ = s.Close() }
	t.Cleanup(srv.Close)
	return srv
}

// Close shuts the server down.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string { return s.username }

// Password returns the default test password.
func (s *TestIMAPServer) Password() string { return s.password }

// Connect creates a logged-in client connection to the test server.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		t.Fatalf("Failed to login: %v", err)
	}
	return c, func() { _ = c.Logout() }
}

// AddMessage appends a message to a folder on the test server.
func (s *TestIMAPServer) AddMessage(t *testing.T, folderName, messageID, subject string, refs ...string) {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := c.Select(folderName, false); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}

	var refHeader string
	if len(refs) > 0 {
		refHeader = "References: " + strings.Join(refs, " ") + "\r\n"
	}
	body := fmt.Sprintf(
		"Message-ID: %s\r\n%sDate: %s\r\nFrom: sender@example.com\r\nTo: recipient@example.com\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nTest message body.\r\n",
		messageID, refHeader, time.Now().Format(time.RFC1123Z), subject)

	flags := []string{imap.SeenFlag}
	if err := c.Append(folderName, flags, time.Now(), strings.NewReader(body)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
}
