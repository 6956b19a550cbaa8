package sshx

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// Handle is a started port forward.
type Handle interface {
	LocalPort() int
	IsActive() bool
	Stop() error
}

// Starter starts a port forward from a local ephemeral port to remote through endpoint.
type Starter interface {
	Start(ctx context.Context, endpoint Endpoint, creds Credentials, remote Endpoint) (Handle, error)
}

// Forwarder is the x/crypto/ssh Starter.
type Forwarder struct {
	DialTimeout     time.Duration
	KeepAlive       time.Duration
	HostKeyCallback ssh.HostKeyCallback
}

// Start dials endpoint and listens on 127.0.0.1:0, forwarding every accepted connection to remote.
func (f *Forwarder) Start(ctx context.Context, endpoint Endpoint, creds Credentials, remote Endpoint) (Handle, error) {
	hostKey := f.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey() //nolint:gosec
	}

	client, err := dialClient(ctx, endpoint, creds, hostKey, f.DialTimeout)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "local listen")
	}

	fwdCtx, cancel := context.WithCancel(context.Background())

	fw := &forward{
		client:    client,
		listener:  listener,
		remote:    remote.String(),
		localPort: listener.Addr().(*net.TCPAddr).Port,
		ctx:       fwdCtx,
		cancel:    cancel,
	}

	fw.wg.Add(1)
	go fw.acceptLoop()

	go fw.watchClient()

	if f.KeepAlive > 0 {
		go fw.keepalive(f.KeepAlive)
	}

	logx.GetLogger().LogInfo(ctx, fmt.Sprintf("SSH forward 127.0.0.1:%d -> %s via %s (%s auth)",
		fw.localPort, fw.remote, endpoint, creds.Method()))

	return fw, nil
}

type forward struct {
	client    *ssh.Client
	listener  net.Listener
	remote    string
	localPort int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dead     atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

func (fw *forward) LocalPort() int {
	return fw.localPort
}

func (fw *forward) IsActive() bool {
	return !fw.dead.Load()
}

// Stop is idempotent.
func (fw *forward) Stop() error {
	fw.stopOnce.Do(func() {
		fw.dead.Store(true)
		fw.cancel()

		lerr := fw.listener.Close()
		cerr := fw.client.Close()

		fw.wg.Wait()

		if lerr != nil && !errors.Is(lerr, net.ErrClosed) {
			fw.stopErr = lerr
		} else if cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			fw.stopErr = cerr
		}
	})

	return fw.stopErr
}

func (fw *forward) acceptLoop() {
	defer fw.wg.Done()

	for {
		local, err := fw.listener.Accept()
		if err != nil {
			if !fw.dead.Load() {
				logx.GetLogger().LogWarning(fw.ctx, "SSH forward listener stopped", err)
				fw.dead.Store(true)
			}

			return
		}

		fw.wg.Add(1)

		go func() {
			defer fw.wg.Done()
			fw.serve(local)
		}()
	}
}

func (fw *forward) serve(local net.Conn) {
	remote, err := fw.client.Dial("tcp", fw.remote)
	if err != nil {
		logx.GetLogger().LogError(fw.ctx, fmt.Sprintf("SSH forward dial %s", fw.remote), err)
		local.Close()

		return
	}

	bidirectionalCopy(fw.ctx, local, remote)
}

// watchClient marks the forward dead as soon as the SSH transport goes away.
func (fw *forward) watchClient() {
	_ = fw.client.Wait()

	if !fw.dead.Swap(true) {
		logx.GetLogger().LogWarning(fw.ctx, fmt.Sprintf("SSH transport for 127.0.0.1:%d closed", fw.localPort))
		fw.listener.Close()
	}
}

func (fw *forward) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-fw.ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := fw.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				logx.GetLogger().LogWarning(fw.ctx, "SSH keepalive failed, closing forward", err)
				fw.dead.Store(true)
				fw.client.Close()

				return
			}
		}
	}
}

func bidirectionalCopy(ctx context.Context, a, b net.Conn) {
	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		defer func() { done <- struct{}{} }()
		_, _ = io.Copy(dst, src)
	}

	go cp(a, b)
	go cp(b, a)

	select {
	case <-done:
	case <-ctx.Done():
	}

	a.Close()
	b.Close()
	<-done
}
