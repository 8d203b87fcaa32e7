// Package remote maintains authenticated remote shell connections to target hosts
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"code.linksmart.eu/dt/ops-console/model"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const (
	DefaultConnectTimeout = 15 * time.Second
	envAuthSock           = "SSH_AUTH_SOCK"
	closeWait             = 2 * time.Second
)

// Dialer opens sessions to host aliases
type Dialer struct {
	ConfigPath     string
	KnownHostsPath string
	ConnectTimeout time.Duration

	hostKeys *trustOnFirstUse
}

// NewDialer returns a dialer. Empty paths default to ~/.ssh/config and ~/.ssh/known_hosts.
func NewDialer(configPath, knownHostsPath string) *Dialer {
	if configPath == "" {
		configPath = "~/.ssh/config"
	}
	if knownHostsPath == "" {
		knownHostsPath = "~/.ssh/known_hosts"
	}
	configPath = expandHome(configPath)
	knownHostsPath = expandHome(knownHostsPath)
	return &Dialer{
		ConfigPath:     configPath,
		KnownHostsPath: knownHostsPath,
		ConnectTimeout: DefaultConnectTimeout,
		hostKeys:       &trustOnFirstUse{path: knownHostsPath},
	}
}

// Session is one authenticated connection. Close must be called when done.
type Session struct {
	Alias  string
	client *ssh.Client
}

// Connect resolves the alias and establishes an authenticated connection.
// The handshake is bounded by ConnectTimeout and ctx.
func (d *Dialer) Connect(ctx context.Context, alias string) (*Session, error) {
	host, err := d.Resolve(alias)
	if err != nil {
		return nil, err
	}

	auth, agentConn, err := authMethods(host.IdentityFiles)
	if err != nil {
		return nil, fmt.Errorf("no credentials for %s: %w", alias, err)
	}
	if agentConn != nil {
		// agent signers are only used during the handshake
		defer agentConn.Close()
	}

	config := &ssh.ClientConfig{
		User:            host.User,
		Auth:            auth,
		HostKeyCallback: d.hostKeys.callback,
		Timeout:         d.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: d.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host.Addr())
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s (%s): %w", alias, host.Addr(), err)
	}
	if d.ConnectTimeout > 0 {
		conn.SetDeadline(time.Now().Add(d.ConnectTimeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	c, chans, reqs, err := ssh.NewClientConn(conn, host.Addr(), config)
	if !stop() {
		// ctx is done and the connection has been closed
		if err == nil {
			c.Close()
		}
		return nil, fmt.Errorf("ssh handshake with %s interrupted: %w", alias, ctx.Err())
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", alias, err)
	}
	conn.SetDeadline(time.Time{})
	log.Printf("remote: Connected to %s as %s@%s", alias, host.User, host.Addr())

	return &Session{
		Alias:  alias,
		client: ssh.NewClient(c, chans, reqs),
	}, nil
}

// Execute runs one command and waits for it. Transport errors are reported in the result.
func (s *Session) Execute(ctx context.Context, spec model.CommandSpec) model.StepResult {
	start := time.Now()
	session, err := s.client.NewSession()
	if err != nil {
		return model.LaunchFailure(spec, fmt.Errorf("error opening session on %s: %w", s.Alias, err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(withDir(spec.Command, spec.Dir))
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		// let the output copiers finish before reading the buffers
		select {
		case <-done:
		case <-time.After(closeWait):
		}
		runErr = ctx.Err()
	}

	res := model.StepResult{
		Name:     spec.Name,
		Command:  spec.Command,
		Dir:      spec.Dir,
		Host:     s.Alias,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Started:  start,
		Duration: time.Since(start),
	}
	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
		res.Success = true
	case errors.As(runErr, &exitErr):
		res.ReturnCode = exitErr.ExitStatus()
	default:
		res.ReturnCode = model.ReturnCodeLaunchFailure
		res.Error = runErr.Error()
	}
	return res
}

// Stream is a running command whose standard output is read while it runs
type Stream struct {
	Stdout  io.Reader
	session *ssh.Session
	stderr  bytes.Buffer
}

// Stream starts a command that is not expected to terminate
func (s *Session) Stream(command string) (*Stream, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("error opening session on %s: %w", s.Alias, err)
	}
	st := &Stream{session: session}
	session.Stderr = &st.stderr
	st.Stdout, err = session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	if err := session.Start(command); err != nil {
		session.Close()
		return nil, fmt.Errorf("error starting %q on %s: %w", command, s.Alias, err)
	}
	return st, nil
}

// Wait waits for the command to exit after Stdout has been drained.
// It returns the exit code, or model.ReturnCodeLaunchFailure when the channel broke, and the standard error.
func (st *Stream) Wait() (int, string) {
	err := st.session.Wait()
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return 0, st.stderr.String()
	case errors.As(err, &exitErr):
		return exitErr.ExitStatus(), st.stderr.String()
	default:
		return model.ReturnCodeLaunchFailure, err.Error()
	}
}

// Stop kills the command and releases the channel
func (st *Stream) Stop() {
	st.session.Signal(ssh.SIGKILL)
	st.session.Close()
}

// Close terminates the connection
func (s *Session) Close() error {
	log.Printf("remote: Closing connection to %s", s.Alias)
	return s.client.Close()
}

func withDir(command, dir string) string {
	if dir == "" {
		return command
	}
	return fmt.Sprintf("cd %s && %s", dir, command)
}

// authMethods returns the agent and identity file methods, and the agent connection to close after the handshake
func authMethods(identityFiles []string) ([]ssh.AuthMethod, net.Conn, error) {
	var methods []ssh.AuthMethod
	var agentConn net.Conn

	if sock := os.Getenv(envAuthSock); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			log.Printf("remote: Error connecting to ssh agent: %s", err)
		} else {
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	var signers []ssh.Signer
	for _, path := range identityFiles {
		b, err := ioutil.ReadFile(filepath.Clean(path))
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("remote: Error reading identity %s: %s", path, err)
			}
			continue
		}
		signer, err := ssh.ParsePrivateKey(b)
		if err != nil {
			log.Printf("remote: Skipping identity %s: %s", path, err)
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		return nil, nil, fmt.Errorf("no usable identity in %v and no ssh agent", identityFiles)
	}
	return methods, agentConn, nil
}
