// Package sshclient provides the SSH channel to provisioned VMs: remote
// command execution, file transfer, and boot readiness polling.
package sshclient

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// keyNames are the private key file names probed under ~/.ssh, in
// preference order.
var keyNames = []string{"id_ed25519", "id_rsa", "id_ecdsa"}

// DefaultKeyPath returns the first private key found in the user's
// ~/.ssh directory.
func DefaultKeyPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	sshDir := filepath.Join(home, ".ssh")
	for _, name := range keyNames {
		path := filepath.Join(sshDir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no SSH private key found in %s (checked %s)",
		sshDir, strings.Join(keyNames, ", "))
}

// PublicKey reads the public half of the discovered private key,
// trimmed of trailing whitespace.
func PublicKey() (string, error) {
	keyPath, err := DefaultKeyPath()
	if err != nil {
		return "", err
	}
	pubPath := keyPath + ".pub"
	data, err := os.ReadFile(pubPath)
	if err != nil {
		return "", fmt.Errorf("public key not found: %s: %w", pubPath, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RunResult is the outcome of a remote command.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// TimeoutError reports that a host did not accept SSH within the
// allotted window.
type TimeoutError struct {
	Host    string
	Port    int
	Timeout time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("SSH to %s not ready after %s: %v",
		net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), e.Timeout, e.LastErr)
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// Client is an SSH connection to a single VM. The zero port defaults
// to 22. Connections open lazily on first use.
type Client struct {
	host    string
	user    string
	port    int
	keyPath string
	log     *logrus.Logger

	conn *ssh.Client
	dial func() (*ssh.Client, error)
}

// New creates a client for host. An empty keyPath discovers the key
// from ~/.ssh.
func New(host, user string, port int, keyPath string, log *logrus.Logger) (*Client, error) {
	if keyPath == "" {
		var err error
		keyPath, err = DefaultKeyPath()
		if err != nil {
			return nil, err
		}
	}
	if port == 0 {
		port = 22
	}

	c := &Client{host: host, user: user, port: port, keyPath: keyPath, log: log}
	c.dial = c.dialTCP
	return c, nil
}

func (c *Client) dialTCP() (*ssh.Client, error) {
	key, err := os.ReadFile(c.keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            c.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // disposable guests have fresh host keys every boot
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return conn, nil
}

// Connect opens the SSH connection, replacing any existing one.
func (c *Client) Connect() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	return nil
}

// Close tears down the connection if open.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) ensureConnected() (*ssh.Client, error) {
	if c.conn == nil {
		if err := c.Connect(); err != nil {
			return nil, err
		}
	}
	return c.conn, nil
}

// Run executes a command on the VM and returns its output and exit
// code. A non-zero exit code is reported in the result, not as an
// error; errors mean the command could not be executed at all.
func (c *Client) Run(command string) (*RunResult, error) {
	conn, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}

	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	result := &RunResult{}
	if err := session.Run(command); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
		} else {
			return nil, fmt.Errorf("run remote command: %w", err)
		}
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	return result, nil
}

// Upload copies a local file to remotePath on the VM.
func (c *Client) Upload(localPath, remotePath string) error {
	conn, err := c.ensureConnected()
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	session, err := conn.NewSession()
	if err != nil {
		return fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	session.Stdin = f
	if err := session.Run("cat > " + shellQuote(remotePath)); err != nil {
		return fmt.Errorf("upload to %s: %w", remotePath, err)
	}
	return nil
}

// Download copies remotePath from the VM to localPath, creating parent
// directories as needed.
func (c *Client) Download(remotePath, localPath string) error {
	conn, err := c.ensureConnected()
	if err != nil {
		return err
	}

	session, err := conn.NewSession()
	if err != nil {
		return fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout
	if err := session.Run("cat " + shellQuote(remotePath)); err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local directory: %w", err)
	}
	if err := os.WriteFile(localPath, stdout.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write local file: %w", err)
	}
	return nil
}

// WaitUntilReady polls the connection until the VM accepts SSH. At
// least one attempt is made regardless of timeout.
func (c *Client) WaitUntilReady(timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		err := c.Connect()
		if err == nil {
			return nil
		}
		lastErr = err
		c.log.WithError(err).Debug("SSH not ready yet")

		if time.Now().After(deadline) {
			return &TimeoutError{Host: c.host, Port: c.port, Timeout: timeout, LastErr: lastErr}
		}
		time.Sleep(interval)
	}
}

// shellQuote wraps s in single quotes for safe use in a remote shell
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
