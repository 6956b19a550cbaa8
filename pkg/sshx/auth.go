package sshx

import (
	"context"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// acceptedKeyTypes lists the private key algorithms accepted for tunnel authentication, in preference order.
var acceptedKeyTypes = []string{
	ssh.KeyAlgoRSA,
	ssh.KeyAlgoED25519,
	ssh.KeyAlgoECDSA256,
	ssh.KeyAlgoECDSA384,
	ssh.KeyAlgoECDSA521,
}

// Endpoint is a host:port pair.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Credentials carry exactly one authentication secret: a key signer or a password.
type Credentials struct {
	User     string
	Password string
	Signer   ssh.Signer
}

// Method reports the authentication method the credentials use.
func (c Credentials) Method() string {
	if c.Signer != nil {
		return "publickey"
	}

	return "password"
}

// AuthMethods returns a single auth method, the key when present.
func (c Credentials) AuthMethods() []ssh.AuthMethod {
	if c.Signer != nil {
		return []ssh.AuthMethod{ssh.PublicKeys(c.Signer)}
	}

	return []ssh.AuthMethod{ssh.Password(c.Password)}
}

// ResolveCredentials prefers key authentication when a loadable key is configured
// and falls back to the password otherwise.
func ResolveCredentials(ctx context.Context, cfg TunnelConfig) Credentials {
	creds := Credentials{User: cfg.User}

	if cfg.PrivateKeyPath != "" {
		signer, err := LoadSigner(cfg.PrivateKeyPath, cfg.KeyPassphrase)
		if err == nil {
			creds.Signer = signer
			return creds
		}

		logx.GetLogger().LogWarning(ctx, fmt.Sprintf("private key %s unusable, falling back to password auth", cfg.PrivateKeyPath), err)
	}

	creds.Password = cfg.Password

	return creds
}

// LoadSigner parses a private key file, decrypting it with passphrase when given.
func LoadSigner(path, passphrase string) (ssh.Signer, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read private key")
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	}

	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}

	if keyType := signer.PublicKey().Type(); !slices.Contains(acceptedKeyTypes, keyType) {
		return nil, errors.Errorf("unsupported private key type %s", keyType)
	}

	return signer, nil
}

// HostKeyCallback verifies against a known_hosts file when one is configured.
func HostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec
	}

	cb, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, errors.Wrap(err, "load known_hosts")
	}

	return cb, nil
}

// dialClient opens an SSH client connection bounded by timeout for both TCP connect and handshake.
func dialClient(ctx context.Context, endpoint Endpoint, creds Credentials, hostKey ssh.HostKeyCallback, timeout time.Duration) (*ssh.Client, error) {
	addr := endpoint.String()

	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	clientConfig := &ssh.ClientConfig{
		User:            creds.User,
		Auth:            creds.AuthMethods(),
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "ssh handshake with %s", addr)
	}

	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}
