package devserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/poltergeist/wisp/pkg/logger"
	"golang.org/x/crypto/ssh"
)

// Tunnel exposes a handler publicly through an SSH remote port forward, the
// way localhost.run and similar services work: the remote end listens on
// port 80 and prints the public URL on the session's stdout.
type Tunnel struct {
	Host    string
	User    string
	Timeout time.Duration

	handler http.Handler
	logger  logger.Logger
}

// NewTunnel creates a tunnel for handler
func NewTunnel(host, user string, handler http.Handler, log logger.Logger) *Tunnel {
	if log == nil {
		log = logger.Discard()
	}
	return &Tunnel{Host: host, User: user, Timeout: 15 * time.Second, handler: handler, logger: log}
}

// Run connects and serves until ctx is cancelled or the connection drops
func (t *Tunnel) Run(ctx context.Context) error {
	if t.Host == "" {
		return errors.New("tunnel host is not configured")
	}

	cfg := &ssh.ClientConfig{
		User: t.User,
		// Tunnel services accept the "none" method, which the client tries first
		Auth:            []ssh.AuthMethod{},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // public tunnel endpoints rotate keys
		Timeout:         t.Timeout,
	}

	dialer := net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Host)
	if err != nil {
		return fmt.Errorf("tunnel dial %s: %w", t.Host, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.Host, cfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("tunnel handshake %s: %w", t.Host, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	ln, err := client.Listen("tcp", "0.0.0.0:80")
	if err != nil {
		return fmt.Errorf("tunnel remote forward: %w", err)
	}

	if err := t.announce(client); err != nil {
		t.logger.Debug("Tunnel session unavailable", logger.WithError(err))
	}

	srv := &http.Server{Handler: t.handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("tunnel closed: %w", err)
	}
}

// announce opens a shell session and logs every line mentioning a URL
func (t *Tunnel) announce(client *ssh.Client) error {
	sess, err := client.NewSession()
	if err != nil {
		return err
	}
	out, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return err
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		return err
	}
	go func() {
		defer sess.Close()
		scanner := bufio.NewScanner(out)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); strings.Contains(line, "https://") {
				t.logger.Info("🌍 Tunnel: " + line)
			}
		}
	}()
	return nil
}
