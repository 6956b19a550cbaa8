// Package sshserver runs an in-process SSH server for tests: password and public key auth,
// direct-tcpip forwarding and scripted exec sessions.
package sshserver

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	gossh "golang.org/x/crypto/ssh"
)

// ExecHandler answers an exec request with stdout and an exit status.
type ExecHandler func(cmd string, stdin []byte) (stdout string, status uint32)

// Options configure the server.
type Options struct {
	User          string
	Password      string
	AuthorizedKey gossh.PublicKey
	Exec          ExecHandler
}

// Server is a running test SSH server.
type Server struct {
	Addr string
	Host string
	Port int

	listener net.Listener
	config   *gossh.ServerConfig
	opts     Options

	mu       sync.Mutex
	conns    []net.Conn
	forwards int
	commands []string
}

// Start listens on 127.0.0.1:0 and serves until t ends.
func Start(t *testing.T, opts Options) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}

	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("create host signer: %v", err)
	}

	cfg := &gossh.ServerConfig{
		PasswordCallback: func(c gossh.ConnMetadata, pass []byte) (*gossh.Permissions, error) {
			if opts.Password != "" && c.User() == opts.User && string(pass) == opts.Password {
				return nil, nil
			}

			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
		PublicKeyCallback: func(c gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			if opts.AuthorizedKey != nil && c.User() == opts.User &&
				bytes.Equal(key.Marshal(), opts.AuthorizedKey.Marshal()) {
				return nil, nil
			}

			return nil, fmt.Errorf("public key rejected for %s", c.User())
		},
	}
	cfg.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ssh server listen: %v", err)
	}

	s := &Server{
		Addr:     listener.Addr().String(),
		Host:     "127.0.0.1",
		Port:     listener.Addr().(*net.TCPAddr).Port,
		listener: listener,
		config:   cfg,
		opts:     opts,
	}

	go s.acceptLoop()

	t.Cleanup(s.Close)

	return s
}

// Close stops listening and drops every client connection.
func (s *Server) Close() {
	s.listener.Close()
	s.DropConnections()
}

// DropConnections closes the established client connections, keeping the listener.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Forwards is the number of direct-tcpip channels served.
func (s *Server) Forwards() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.forwards
}

// Commands returns the exec commands received, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.commands...)
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(netConn net.Conn) {
	defer netConn.Close()

	srvConn, chans, reqs, err := gossh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer srvConn.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				_ = req.Reply(req.Type == "keepalive@openssh.com", nil)
			}
		}
	}()

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "direct-tcpip":
			go s.serveDirectTCPIP(newChan)
		case "session":
			go s.serveSession(newChan)
		default:
			_ = newChan.Reject(gossh.UnknownChannelType, "unsupported channel type")
		}
	}
}

// directTCPIPData matches the SSH wire format for direct-tcpip extra data.
type directTCPIPData struct {
	DestHost   string
	DestPort   uint32
	OriginHost string
	OriginPort uint32
}

func (s *Server) serveDirectTCPIP(newChan gossh.NewChannel) {
	var data directTCPIPData
	if err := gossh.Unmarshal(newChan.ExtraData(), &data); err != nil {
		_ = newChan.Reject(gossh.ConnectionFailed, "invalid payload")
		return
	}

	dest, err := net.Dial("tcp", net.JoinHostPort(data.DestHost, strconv.Itoa(int(data.DestPort))))
	if err != nil {
		_ = newChan.Reject(gossh.ConnectionFailed, err.Error())
		return
	}
	defer dest.Close()

	ch, reqs, err := newChan.Accept()
	if err != nil {
		return
	}
	defer ch.Close()

	go gossh.DiscardRequests(reqs)

	s.mu.Lock()
	s.forwards++
	s.mu.Unlock()

	done := make(chan struct{}, 2)
	go func() { _, _ = io.Copy(ch, dest); done <- struct{}{} }()
	go func() { _, _ = io.Copy(dest, ch); done <- struct{}{} }()
	<-done
}

type execPayload struct {
	Command string
}

type exitStatus struct {
	Status uint32
}

func (s *Server) serveSession(newChan gossh.NewChannel) {
	ch, reqs, err := newChan.Accept()
	if err != nil {
		return
	}
	defer ch.Close()

	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}

			continue
		}

		var payload execPayload
		if err := gossh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}

		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		stdin, _ := io.ReadAll(ch)

		var (
			stdout string
			status uint32
		)
		if s.opts.Exec != nil {
			stdout, status = s.opts.Exec(payload.Command, stdin)
		}

		_, _ = io.WriteString(ch, stdout)
		_, _ = ch.SendRequest("exit-status", false, gossh.Marshal(exitStatus{Status: status}))

		return
	}
}

// StartEchoServer starts a TCP echo server and returns its port.
func StartEchoServer(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo server listen: %v", err)
	}

	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}

			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()

	return l.Addr().(*net.TCPAddr).Port
}
