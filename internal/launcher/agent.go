package launcher

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Agent is a short-lived in-process authentication agent holding the key of
// one launch. It listens on a private unix socket so child processes can use
// it through SSH_AUTH_SOCK.
type Agent struct {
	keyring agent.Agent
	dir     string
	socket  string
	ln      net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func StartAgent() (*Agent, error) {
	dir, err := os.MkdirTemp("", "wf-agent-")
	if err != nil {
		return nil, fmt.Errorf("agent dir: %w", err)
	}
	socket := filepath.Join(dir, "agent.sock")
	ln, err := net.Listen("unix", socket)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("agent listen: %w", err)
	}
	a := &Agent{
		keyring: agent.NewKeyring(),
		dir:     dir,
		socket:  socket,
		ln:      ln,
		conns:   map[net.Conn]struct{}{},
	}
	a.wg.Add(1)
	go a.serve()
	return a, nil
}

func (a *Agent) serve() {
	defer a.wg.Done()
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return
		}
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			conn.Close()
			return
		}
		a.conns[conn] = struct{}{}
		a.wg.Add(1)
		a.mu.Unlock()

		go func() {
			defer a.wg.Done()
			_ = agent.ServeAgent(a.keyring, conn)
			conn.Close()
			a.mu.Lock()
			delete(a.conns, conn)
			a.mu.Unlock()
		}()
	}
}

// Add registers a PEM encoded private key.
func (a *Agent) Add(pemBytes []byte) error {
	key, err := ssh.ParseRawPrivateKey(pemBytes)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	if err := a.keyring.Add(agent.AddedKey{PrivateKey: key, Comment: "workflow launch"}); err != nil {
		return fmt.Errorf("agent add: %w", err)
	}
	return nil
}

func (a *Agent) Keyring() agent.Agent {
	return a.keyring
}

func (a *Agent) SocketPath() string {
	return a.socket
}

func (a *Agent) Signers() ([]ssh.Signer, error) {
	return a.keyring.Signers()
}

// Close stops serving, drops the keys and removes the socket. Safe to call
// more than once.
func (a *Agent) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	for conn := range a.conns {
		conn.Close()
	}
	a.mu.Unlock()

	err := a.ln.Close()
	a.wg.Wait()
	_ = a.keyring.RemoveAll()
	if rmErr := os.RemoveAll(a.dir); rmErr != nil {
		err = errors.Join(err, rmErr)
	}
	return err
}
