package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Connection errors of Commander.Exec. A command that ran and exited with a
// non-zero status is not an error.
var (
	// ErrUnreachable means the cluster could not be reached or the
	// connection dropped. It is worth retrying.
	ErrUnreachable = errors.New("cluster unreachable")
	// ErrSSHSetup means the ssh setup is wrong: unknown host name, rejected
	// credentials or a host key that does not match known_hosts.
	ErrSSHSetup = errors.New("ssh setup is wrong")
)

const defaultDialTimeout = 30 * time.Second

// Commander runs a shell command on the cluster and returns its combined
// stdout and stderr.
type Commander interface {
	Exec(ctx context.Context, cmd string) (string, error)
}

// ClientOptions configures an SSHClient.
type ClientOptions struct {
	Host string
	Port int
	User string
	// IdentityFiles default to id_ed25519, id_ecdsa and id_rsa below ~/.ssh.
	// Keys protected by a passphrase are skipped; ssh-agent serves those.
	IdentityFiles []string
	// KnownHosts defaults to ~/.ssh/known_hosts.
	KnownHosts string
	Timeout    time.Duration

	// Auth and HostKeyCallback replace the methods built from the files above.
	Auth            []ssh.AuthMethod
	HostKeyCallback ssh.HostKeyCallback
}

// SSHClient keeps one ssh connection to the cluster and opens a session per
// command. A broken connection is redialled on the next command.
type SSHClient struct {
	opts   ClientOptions
	logger zerolog.Logger

	mu     sync.Mutex
	config *ssh.ClientConfig
	client *ssh.Client
}

// NewSSHClient creates a client. Nothing is dialled until the first Exec.
func NewSSHClient(opts ClientOptions, logger zerolog.Logger) *SSHClient {
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDialTimeout
	}
	files := make([]string, len(opts.IdentityFiles))
	for i, f := range opts.IdentityFiles {
		files[i] = expandHome(f)
	}
	opts.IdentityFiles = files
	opts.KnownHosts = expandHome(opts.KnownHosts)
	return &SSHClient{opts: opts, logger: logger}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func (c *SSHClient) addr() string {
	return net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
}

func (c *SSHClient) clientConfig() (*ssh.ClientConfig, error) {
	if c.config != nil {
		return c.config, nil
	}
	auth := c.opts.Auth
	if len(auth) == 0 {
		auth = defaultAuth(c.opts.IdentityFiles, c.logger)
	}
	hostKey := c.opts.HostKeyCallback
	if hostKey == nil {
		path := c.opts.KnownHosts
		if path == "" {
			path = filepath.Join(sshDir(), "known_hosts")
		}
		cb, err := knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read known hosts %s: %v", ErrSSHSetup, path, err)
		}
		hostKey = cb
	}
	c.config = &ssh.ClientConfig{
		User:            c.opts.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.opts.Timeout,
	}
	return c.config, nil
}

func sshDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ssh"
	}
	return filepath.Join(home, ".ssh")
}

func defaultAuth(files []string, logger zerolog.Logger) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			logger.Debug().Err(err).Msg("ssh-agent not available")
		}
	}

	if len(files) == 0 {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			files = append(files, filepath.Join(sshDir(), name))
		}
	}
	var signers []ssh.Signer
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			logger.Debug().Err(err).Str("key", f).Msg("Skipping identity file")
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	return methods
}

func (c *SSHClient) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	cfg, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := c.addr()
	d := net.Dialer{Timeout: c.opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, dialError(err)
	}
	conn.SetDeadline(time.Now().Add(c.opts.Timeout))
	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, dialError(err)
	}
	conn.SetDeadline(time.Time{})

	c.logger.Debug().Str("host", addr).Str("user", c.opts.User).Msg("ssh connected")
	c.client = ssh.NewClient(sc, chans, reqs)
	return c.client, nil
}

func (c *SSHClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// Close closes the connection, if any.
func (c *SSHClient) Close() error {
	c.reset()
	return nil
}

// Exec implements Commander. A session that cannot be opened on an existing
// connection triggers one reconnect.
func (c *SSHClient) Exec(ctx context.Context, cmd string) (string, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return "", err
	}
	session, err := client.NewSession()
	if err != nil {
		c.reset()
		if client, err = c.connect(ctx); err != nil {
			return "", err
		}
		if session, err = client.NewSession(); err != nil {
			c.reset()
			return "", fmt.Errorf("%w: failed to open session: %v", ErrUnreachable, err)
		}
	}
	defer session.Close()

	var out lockedBuffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return out.String(), ctx.Err()
	case err = <-done:
	}

	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case err == nil, errors.As(err, &exitErr):
		return out.String(), nil
	case errors.As(err, &missing), errors.Is(err, io.EOF):
		c.reset()
		return out.String(), fmt.Errorf("%w: connection lost during %q", ErrUnreachable, cmd)
	}
	return out.String(), fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// dialError sorts a dial or handshake failure into ErrSSHSetup or
// ErrUnreachable.
func dialError(err error) error {
	var dnsErr *net.DNSError
	var keyErr *knownhosts.KeyError
	var revoked *knownhosts.RevokedError
	msg := err.Error()
	switch {
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound,
		errors.As(err, &keyErr),
		errors.As(err, &revoked),
		strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "knownhosts:"),
		strings.Contains(msg, "host key mismatch"):
		return fmt.Errorf("%w: %v", ErrSSHSetup, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// lockedBuffer collects stdout and stderr, which the session copies from
// separate goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
