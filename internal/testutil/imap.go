package testutil

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// IMAPServer is a scripted IMAP server speaking implicit TLS. It knows just
// enough of the protocol for login and mailbox selection.
type IMAPServer struct {
	Host string
	Port int

	// ClientTLS trusts the server certificate.
	ClientTLS *tls.Config

	username string
	password string
	messages int

	ln net.Listener
	wg sync.WaitGroup

	mu      sync.Mutex
	logins  int
	silence bool
}

// NewIMAPServer starts a server accepting username/password and reporting
// messages in INBOX. It stops when the test completes.
func NewIMAPServer(t *testing.T, username, password string, messages int) *IMAPServer {
	t.Helper()

	// Borrow httptest's self-signed certificate for 127.0.0.1.
	certSrv := httptest.NewTLSServer(http.NotFoundHandler())
	cert := certSrv.TLS.Certificates
	pool := x509.NewCertPool()
	pool.AddCert(certSrv.Certificate())
	certSrv.Close()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: cert})
	if err != nil {
		t.Fatalf("listening: %v", err)
	}

	addr := ln.Addr().(*net.TCPAddr)
	s := &IMAPServer{
		Host:      "127.0.0.1",
		Port:      addr.Port,
		ClientTLS: &tls.Config{RootCAs: pool},
		username:  username,
		password:  password,
		messages:  messages,
		ln:        ln,
	}

	s.wg.Add(1)
	go s.serve()

	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

// Silence makes the server accept connections without ever greeting.
func (s *IMAPServer) Silence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silence = true
}

// Logins returns the number of successful logins.
func (s *IMAPServer) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *IMAPServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handle(conn)
		}()
	}
}

func (s *IMAPServer) handle(conn net.Conn) {
	s.mu.Lock()
	silent := s.silence
	s.mu.Unlock()
	if silent {
		// Hold the connection until the client gives up.
		_, _ = bufio.NewReader(conn).ReadString('\n')
		return
	}

	w := bufio.NewWriter(conn)
	reply := func(lines ...string) bool {
		for _, l := range lines {
			_, _ = w.WriteString(l + "\r\n")
		}
		return w.Flush() == nil
	}

	if !reply("* OK [CAPABILITY IMAP4rev1 AUTH=PLAIN] test server ready") {
		return
	}

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimRight(line, "\r\n"))
		if len(fields) < 2 {
			continue
		}
		tag, cmd, args := fields[0], strings.ToUpper(fields[1]), fields[2:]

		switch cmd {
		case "CAPABILITY":
			reply("* CAPABILITY IMAP4rev1 AUTH=PLAIN", tag+" OK CAPABILITY completed")
		case "NOOP":
			reply(tag + " OK NOOP completed")
		case "LOGIN":
			if len(args) == 2 && unquote(args[0]) == s.username && unquote(args[1]) == s.password {
				s.mu.Lock()
				s.logins++
				s.mu.Unlock()
				reply(tag + " OK LOGIN completed")
			} else {
				reply(tag + " NO [AUTHENTICATIONFAILED] Invalid credentials")
			}
		case "SELECT", "EXAMINE":
			if len(args) == 1 && strings.EqualFold(unquote(args[0]), "INBOX") {
				reply(
					"* FLAGS (\\Seen \\Answered \\Flagged \\Deleted \\Draft)",
					"* "+strconv.Itoa(s.messages)+" EXISTS",
					"* 0 RECENT",
					"* OK [UIDVALIDITY 1] UIDs valid",
					"* OK [UIDNEXT "+strconv.Itoa(s.messages+1)+"] Predicted next UID",
					tag+" OK [READ-ONLY] "+cmd+" completed",
				)
			} else {
				reply(tag + " NO [NONEXISTENT] No such mailbox")
			}
		case "LOGOUT":
			reply("* BYE logging out", tag+" OK LOGOUT completed")
			return
		default:
			reply(fmt.Sprintf("%s BAD unknown command %s", tag, cmd))
		}
	}
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`)
	}
	return s
}
