package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// RemoteTarget runs tasks on the cluster head node inside the workflow
// container image.
type RemoteTarget struct {
	cfg Config
}

func NewRemoteTarget(cfg Config) *RemoteTarget {
	return &RemoteTarget{cfg: cfg}
}

func (t *RemoteTarget) Workspace(token string) string {
	return path.Join(t.cfg.WorkflowsPath(), token)
}

func (t *RemoteTarget) Command(workspace, module, task string, env map[string]string) Command {
	run := shellJoin([]string{
		"singularity", "run",
		"-B", path.Join(t.cfg.PathPrefix, t.cfg.User),
		"-B", t.cfg.DataPrefix + ":" + t.cfg.DataPrefix + ":ro",
		"--pwd", workspace,
		path.Join(t.cfg.SIFPrefix, t.cfg.SIF),
		"luigi", "--local-scheduler",
		"--logging-conf-file", path.Join(workspace, LoggingCfgName),
		"--module", module,
		task,
	})
	script := "type singularity &> /dev/null || module load unstable singularityce; " + exportStatements(env) + run
	return Command{Dir: workspace, Args: []string{"bash", "-l", "-c", script}}
}

func (t *RemoteTarget) Dial(ctx context.Context, ag *Agent) (Conn, error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	var signers []ssh.Signer
	if ag != nil {
		s, err := ag.Signers()
		if err != nil {
			return nil, fmt.Errorf("launch agent signers: %w", err)
		}
		signers = append(signers, s...)
	}
	if t.cfg.SSHKeyFile != "" {
		raw, err := os.ReadFile(t.cfg.SSHKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		s, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		signers = append(signers, s)
	}
	if t.cfg.AgentSocket != "" {
		sock, err := net.Dial("unix", t.cfg.AgentSocket)
		if err == nil {
			closers = append(closers, sock)
			if s, err := agent.NewClient(sock).Signers(); err == nil {
				signers = append(signers, s...)
			}
		}
	}
	if len(signers) == 0 {
		closeAll()
		return nil, errors.New("no ssh credentials available")
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if t.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(t.cfg.KnownHostsFile)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		hostKeys = cb
	}

	sshConfig := &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: hostKeys,
		Timeout:         t.cfg.SSHTimeout,
	}

	addr := headNodeAddr(t.cfg.HeadNode)
	d := net.Dialer{Timeout: t.cfg.SSHTimeout}
	tcp, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(tcp, addr, sshConfig)
	if err != nil {
		tcp.Close()
		closeAll()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		closeAll()
		return nil, fmt.Errorf("sftp: %w", err)
	}
	return &remoteConn{ssh: client, sftp: sftpClient, closers: closers}, nil
}

func headNodeAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), "22")
}

type remoteConn struct {
	ssh     *ssh.Client
	sftp    *sftp.Client
	closers []io.Closer
}

func (c *remoteConn) MkWorkspace(_ context.Context, dir string) error {
	parent := path.Dir(dir)
	if err := c.sftp.MkdirAll(parent); err != nil {
		return fmt.Errorf("mkdir %s: %w", parent, err)
	}
	if _, err := c.sftp.Stat(dir); err == nil {
		return fmt.Errorf("%w: %s", ErrWorkspaceExists, dir)
	}
	if err := c.sftp.Mkdir(dir); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

func (c *remoteConn) WriteFile(_ context.Context, name string, body io.Reader) error {
	if err := c.sftp.MkdirAll(path.Dir(name)); err != nil {
		return fmt.Errorf("mkdir %s: %w", path.Dir(name), err)
	}
	f, err := c.sftp.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return f.Close()
}

func (c *remoteConn) Run(_ context.Context, cmd Command, ag *Agent, stdout, stderr io.Writer) error {
	if c.ssh == nil {
		return errors.New("no ssh session")
	}
	if ag != nil {
		if err := agent.ForwardToAgent(c.ssh, ag.Keyring()); err != nil {
			return fmt.Errorf("agent forwarding: %w", err)
		}
	}
	session, err := c.ssh.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()
	if ag != nil {
		if err := agent.RequestAgentForwarding(session); err != nil {
			return fmt.Errorf("agent forwarding: %w", err)
		}
	}
	session.Stdout = stdout
	session.Stderr = stderr

	err = session.Run(shellJoin(cmd.Args))
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: exit status %d", ErrTaskFailed, exitErr.ExitStatus())
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTaskFailed, err)
	}
	return nil
}

func (c *remoteConn) Close() error {
	var errs []error
	if c.sftp != nil {
		errs = append(errs, c.sftp.Close())
	}
	if c.ssh != nil {
		errs = append(errs, c.ssh.Close())
	}
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	return errors.Join(errs...)
}
