// Package sshtest provides an in-process ssh server for tests of remote execution.
// Exec requests run through /bin/bash on the local host.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"net"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/crypto/ssh"
)

// Server accepts any client key
type Server struct {
	Addr    string
	HostKey ssh.PublicKey

	listener net.Listener
	config   *ssh.ServerConfig

	mutex sync.Mutex
	conns []net.Conn
}

// NewServer starts a server on a random loopback port
func NewServer() (*Server, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, err
	}
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		Addr:     listener.Addr().String(),
		HostKey:  signer.PublicKey(),
		listener: listener,
		config:   config,
	}
	go s.serve()
	return s, nil
}

// WriteClientConfig writes a client identity and an ssh config defining alias for this server into dir.
// It returns the path of the ssh config.
func (s *Server) WriteClientConfig(dir, alias string) (string, error) {
	identity, err := WriteIdentity(dir)
	if err != nil {
		return "", err
	}
	host, port, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return "", err
	}
	config := filepath.Join(dir, "config")
	content := fmt.Sprintf("Host %s\n  HostName %s\n  Port %s\n  User tester\n  IdentityFile %s\n", alias, host, port, identity)
	if err := ioutil.WriteFile(config, []byte(content), 0600); err != nil {
		return "", err
	}
	return config, nil
}

// WriteIdentity writes a new private key into dir and returns its path
func WriteIdentity(dir string) (string, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", err
	}
	block, err := ssh.MarshalPrivateKey(key, "sshtest")
	if err != nil {
		return "", err
	}
	identity := filepath.Join(dir, "id_ed25519")
	return identity, ioutil.WriteFile(identity, pem.EncodeToMemory(block), 0600)
}

// Close stops accepting and drops the open connections
func (s *Server) Close() {
	s.listener.Close()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mutex.Lock()
		s.conns = append(s.conns, conn)
		s.mutex.Unlock()
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "only sessions are supported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			log.Printf("sshtest: Error accepting channel: %s", err)
			continue
		}
		go session(channel, requests)
	}
}

// session runs one exec request. Signals and closing the channel kill the process group.
func session(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	var cmd *exec.Cmd
	kill := func() {
		if cmd != nil && cmd.Process != nil {
			syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}
	defer kill()

	for req := range requests {
		switch req.Type {
		case "exec":
			if cmd != nil {
				req.Reply(false, nil)
				continue
			}
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			cmd = exec.Command("/bin/bash", "-c", payload.Command)
			cmd.Stdout = channel
			cmd.Stderr = channel.Stderr()
			cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
			if err := cmd.Start(); err != nil {
				fmt.Fprintln(channel.Stderr(), err)
				exit(channel, 127)
				return
			}
			go func(cmd *exec.Cmd) {
				status := 0
				var exitErr *exec.ExitError
				if err := cmd.Wait(); errors.As(err, &exitErr) {
					status = exitErr.ExitCode()
					if status < 0 {
						status = 128 + int(syscall.SIGKILL)
					}
				} else if err != nil {
					status = 127
				}
				exit(channel, status)
			}(cmd)
		case "signal":
			kill()
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func exit(channel ssh.Channel, status int) {
	channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
	channel.Close()
}
