package remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os/exec"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// commandHandler runs one exec request. Returning drop closes the connection
// without an exit status.
type commandHandler func(cmd string, stdin io.Reader, stdout, stderr io.Writer) (exit int, drop bool)

// testServer is an in-process SSH server accepting a single client key
type testServer struct {
	addr       string
	hostKey    ssh.PublicKey
	clientPEM  []byte
	listener   net.Listener
	config     *ssh.ServerConfig
	handler    commandHandler
	mu         sync.Mutex
	commands   []string
	connection int
}

func newKeyPair(t *testing.T) (ssh.Signer, []byte) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return signer, pem.EncodeToMemory(block)
}

func newTestServer(t *testing.T, handler commandHandler) *testServer {
	t.Helper()
	hostSigner, _ := newKeyPair(t)
	clientSigner, clientPEM := newKeyPair(t)
	authorized := clientSigner.PublicKey().Marshal()

	s := &testServer{hostKey: hostSigner.PublicKey(), clientPEM: clientPEM, handler: handler}
	s.config = &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(authorized) {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	s.config.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = ln
	s.addr = ln.Addr().String()
	t.Cleanup(func() { _ = ln.Close() })

	go s.serve()
	return s
}

func (s *testServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connection
}

func (s *testServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *testServer) handleConn(conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		_ = conn.Close()
		return
	}
	s.mu.Lock()
	s.connection++
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)
	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(sconn, ch, requests)
	}
}

func (s *testServer) handleSession(conn *ssh.ServerConn, ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		go func() {
			exit, drop := s.handler(payload.Command, ch, ch, ch.Stderr())
			if drop {
				_ = conn.Close()
				return
			}
			_, _ = io.Copy(io.Discard, ch)
			status := struct{ Status uint32 }{uint32(exit)} //nolint:gosec // test exit codes are small
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
			_ = ch.Close()
		}()
	}
}

// shellHandler runs commands with the local /bin/sh
func shellHandler(cmd string, stdin io.Reader, stdout, stderr io.Writer) (int, bool) {
	c := exec.Command("/bin/sh", "-c", cmd)
	c.Stdin = stdin
	c.Stdout = stdout
	c.Stderr = stderr
	err := c.Run()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, false
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), false
	}
	return 127, false
}
