// Package remote executes scripts on provisioned servers over SSH.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// Credentials authenticates as User on a single server, with either a
// PEM-encoded private key or a one-time password.
type Credentials struct {
	User       string
	PrivateKey []byte
	Password   string
}

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor is the gateway surface the pipelines script against. Implemented
// by Gateway; tests substitute a scripted fake.
type Executor interface {
	Exec(ctx context.Context, host string, creds Credentials, script string, timeout time.Duration) (Result, error)
	Reachable(ctx context.Context, host string, creds Credentials) bool
}

type Gateway struct {
	dialTimeout time.Duration
}

var _ Executor = (*Gateway)(nil)

func NewGateway() *Gateway {
	return &Gateway{dialTimeout: 10 * time.Second}
}

// Exec runs script on host and reports its exit code. A nonzero exit is data
// for the caller, not an error: only transport and auth failures error out.
func (g *Gateway) Exec(ctx context.Context, host string, creds Credentials, script string, timeout time.Duration) (Result, error) {
	config, err := g.clientConfig(creds)
	if err != nil {
		return Result{}, err
	}

	dialer := net.Dialer{Timeout: g.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "22"))
	if err != nil {
		return Result{}, fmt.Errorf("failed to dial ssh: %w", err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, host, config)
	if err != nil {
		_ = conn.Close()
		return Result{}, fmt.Errorf("failed to open ssh connection: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(script)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(timeout):
		_ = session.Signal(ssh.SIGKILL)
		return Result{Stdout: stdout.String(), Stderr: stderr.String()},
			fmt.Errorf("script did not finish within %v", timeout)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, ctx.Err()
	}

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, fmt.Errorf("failed to execute script: %w", runErr)
	}
	return result, nil
}

// Reachable answers whether the host accepts a trivial command yet. Used as a
// readiness predicate right after server creation.
func (g *Gateway) Reachable(ctx context.Context, host string, creds Credentials) bool {
	result, err := g.Exec(ctx, host, creds, "true", 15*time.Second)
	return err == nil && result.ExitCode == 0
}

func (g *Gateway) clientConfig(creds Credentials) (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:            creds.User,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // servers are freshly created, no known_hosts to pin
		Timeout:         g.dialTimeout,
	}
	switch {
	case len(creds.PrivateKey) > 0:
		signer, err := ssh.ParsePrivateKey(creds.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case creds.Password != "":
		config.Auth = []ssh.AuthMethod{ssh.Password(creds.Password)}
	default:
		return nil, fmt.Errorf("no ssh credentials provided for user %v", creds.User)
	}
	return config, nil
}
