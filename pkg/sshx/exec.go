package sshx

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// Commander runs shell commands on the remote host.
type Commander interface {
	Run(ctx context.Context, cmd string, stdin []byte) (stdout []byte, err error)
}

// RemoteExecutor opens a short-lived SSH session to the tunnel host with the tunnel credentials.
type RemoteExecutor struct {
	cfg TunnelConfig
}

func NewRemoteExecutor(cfg TunnelConfig) *RemoteExecutor {
	return &RemoteExecutor{cfg: cfg.withDefaults()}
}

// WithSession dials the host, hands a Commander to fn and closes the connection afterwards.
func (r *RemoteExecutor) WithSession(ctx context.Context, fn func(Commander) error) error {
	hostKey, err := HostKeyCallback(r.cfg.KnownHostsPath)
	if err != nil {
		return err
	}

	client, err := dialClient(ctx, r.cfg.SSH, ResolveCredentials(ctx, r.cfg), hostKey, r.cfg.DialTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(&clientCommander{client: client})
}

type clientCommander struct {
	client *ssh.Client
}

func (c *clientCommander) Run(ctx context.Context, cmd string, stdin []byte) ([]byte, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, errors.Wrap(err, "open session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), fmt.Errorf("command exited with status %d: %s",
				exitErr.ExitStatus(), strings.TrimSpace(stderr.String()))
		}

		return stdout.Bytes(), errors.Wrap(err, "run command")
	}

	return stdout.Bytes(), nil
}

// ShellQuote single-quotes s for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// RunTimeout bounds a single remote command.
const RunTimeout = 30 * time.Second
