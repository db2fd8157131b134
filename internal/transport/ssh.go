// Package transport opens the byte streams and SNMP sessions the protocol
// drivers talk to devices through.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

// Legacy network gear still negotiates SHA-1 key exchange and CBC ciphers.
var (
	sshKeyExchanges = []string{
		"curve25519-sha256",
		"ecdh-sha2-nistp256",
		"ecdh-sha2-nistp384",
		"ecdh-sha2-nistp521",
		"diffie-hellman-group14-sha256",
		"diffie-hellman-group-exchange-sha256",
		"diffie-hellman-group-exchange-sha1",
		"diffie-hellman-group14-sha1",
		"diffie-hellman-group1-sha1",
	}
	sshCiphers = []string{
		"aes128-gcm@openssh.com",
		"chacha20-poly1305@openssh.com",
		"aes128-ctr", "aes192-ctr", "aes256-ctr",
		"aes128-cbc", "3des-cbc",
	}
	sshHostKeyAlgorithms = []string{
		"ssh-ed25519",
		"ecdsa-sha2-nistp256", "ecdsa-sha2-nistp384", "ecdsa-sha2-nistp521",
		"rsa-sha2-512", "rsa-sha2-256", "ssh-rsa",
		"ssh-dss",
	}
)

type SSHConfig struct {
	Addr     string
	User     string
	Password string
	Timeout  time.Duration
}

func (c SSHConfig) clientConfig() *ssh.ClientConfig {
	cfg := &ssh.ClientConfig{
		User: c.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(c.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback:   ssh.InsecureIgnoreHostKey(),
		HostKeyAlgorithms: sshHostKeyAlgorithms,
		Timeout:           c.Timeout,
		BannerCallback:    func(string) error { return nil },
	}
	cfg.KeyExchanges = sshKeyExchanges
	cfg.Ciphers = sshCiphers
	return cfg
}

// shell is an interactive PTY shell presented as one stream.
type shell struct {
	io.Reader
	io.WriteCloser
	session *ssh.Session
	client  *ssh.Client
}

// Close shuts the channel, then the connection.
func (s *shell) Close() error {
	s.WriteCloser.Close()
	err := s.session.Close()
	if cerr := s.client.Close(); err == nil || err == io.EOF {
		err = cerr
	}
	return err
}

// DialSSH opens an SSH connection with password authentication and starts a
// shell on a VT100 PTY.
func DialSSH(ctx context.Context, c SSHConfig) (io.ReadWriteCloser, error) {
	d := net.Dialer{Timeout: c.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", c.Addr, err)
	}
	if c.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.Timeout))
	}
	sc, chans, reqs, err := ssh.NewClientConn(conn, c.Addr, c.clientConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", c.Addr, err)
	}
	conn.SetDeadline(time.Time{})
	client := ssh.NewClient(sc, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := session.RequestPty("vt100", 200, 1000, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh stdout pipe: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("ssh shell: %w", err)
	}
	return &shell{Reader: stdout, WriteCloser: stdin, session: session, client: client}, nil
}
