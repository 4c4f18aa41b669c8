package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Authenticator checks account credentials and returns the account id.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (string, bool, error)
}

// WindowSize is a terminal size reported by the client.
type WindowSize struct {
	Width  int
	Height int
}

// SSHConn is one authenticated session channel. It is the terminal the
// messenger UI reads from and draws to.
type SSHConn struct {
	channel ssh.Channel
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once

	UserID   string
	Username string
	Remote   string
	TermType string
	Width    int
	Height   int
	// Command is the exec payload, empty for an interactive shell.
	Command string

	resize chan WindowSize
}

func newSSHConn(channel ssh.Channel, remote string, perms *ssh.Permissions, username string) *SSHConn {
	sc := &SSHConn{
		channel:  channel,
		Remote:   remote,
		Username: username,
		TermType: "xterm",
		Width:    80,
		Height:   24,
		resize:   make(chan WindowSize, 4),
		done:     make(chan struct{}),
	}
	if perms != nil {
		sc.UserID = perms.Extensions[permUserID]
	}
	return sc
}

// Read implements io.Reader.
func (sc *SSHConn) Read(p []byte) (int, error) {
	n, err := sc.channel.Read(p)
	if err != nil {
		sc.once.Do(func() { close(sc.done) })
	}
	return n, err
}

// Done is closed once the client stops sending input, normally because
// it disconnected.
func (sc *SSHConn) Done() <-chan struct{} {
	return sc.done
}

// Write implements io.Writer.
func (sc *SSHConn) Write(p []byte) (int, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.channel.Write(p)
}

// Close implements io.Closer.
func (sc *SSHConn) Close() error {
	sc.once.Do(func() { close(sc.done) })
	return sc.channel.Close()
}

// Size returns the latest terminal size.
func (sc *SSHConn) Size() WindowSize {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return WindowSize{Width: sc.Width, Height: sc.Height}
}

// Resizes delivers window-change requests. Sizes are dropped when the
// reader falls behind; only the latest one matters.
func (sc *SSHConn) Resizes() <-chan WindowSize {
	return sc.resize
}

func (sc *SSHConn) pushResize(ws WindowSize) {
	sc.mu.Lock()
	sc.Width, sc.Height = ws.Width, ws.Height
	sc.mu.Unlock()
	select {
	case sc.resize <- ws:
	default:
	}
}

func (sc *SSHConn) exit(status uint32) {
	payload := ssh.Marshal(struct{ Status uint32 }{status})
	_, _ = sc.channel.SendRequest("exit-status", false, payload)
}

// Ensure SSHConn implements io.ReadWriteCloser.
var _ io.ReadWriteCloser = (*SSHConn)(nil)

const permUserID = "user-id"

// Handler runs one session. The channel is closed after it returns.
type Handler func(ctx context.Context, conn *SSHConn) error

// SSHListener accepts incoming SSH connections.
type SSHListener struct {
	addr        string
	config      *ssh.ServerConfig
	handler     Handler
	hostKeyPath string

	attemptMu sync.Mutex
	attempts  map[string]*sshAttempt
	now       func() time.Time
}

// NewSSHListener creates a new SSH listener. Clients authenticate with
// their account password.
func NewSSHListener(port int, hostKeyPath string, auth Authenticator, handler Handler) (*SSHListener, error) {
	config := &ssh.ServerConfig{
		ServerVersion: "SSH-2.0-TwilightDM",
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			id, ok, err := auth.Authenticate(ctx, c.User(), string(pass))
			if err != nil {
				log.Printf("ssh: auth lookup for %s: %v", c.User(), err)
				return nil, fmt.Errorf("authentication unavailable")
			}
			if !ok {
				return nil, fmt.Errorf("invalid credentials")
			}
			return &ssh.Permissions{Extensions: map[string]string{permUserID: id}}, nil
		},
	}

	l := &SSHListener{
		addr:        fmt.Sprintf(":%d", port),
		config:      config,
		handler:     handler,
		hostKeyPath: hostKeyPath,
		attempts:    make(map[string]*sshAttempt),
		now:         time.Now,
	}

	if err := l.loadOrGenerateHostKey(); err != nil {
		return nil, fmt.Errorf("host key: %w", err)
	}
	return l, nil
}

// loadOrGenerateHostKey loads the ED25519 host key, creating it on first
// start.
func (l *SSHListener) loadOrGenerateHostKey() error {
	data, err := os.ReadFile(l.hostKeyPath)
	if err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return fmt.Errorf("parse host key %s: %w", l.hostKeyPath, err)
		}
		l.config.AddHostKey(signer)
		log.Printf("ssh: loaded host key from %s (%s)", l.hostKeyPath, signer.PublicKey().Type())
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate ed25519 key: %w", err)
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshal ed25519 key: %w", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})

	if err := os.MkdirAll(filepath.Dir(l.hostKeyPath), 0700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(l.hostKeyPath, pemData, 0600); err != nil {
		return fmt.Errorf("write host key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(pemData)
	if err != nil {
		return fmt.Errorf("parse new ed25519 key: %w", err)
	}
	l.config.AddHostKey(signer)
	log.Printf("ssh: generated new host key at %s (%s)", l.hostKeyPath, signer.PublicKey().Type())
	return nil
}

type sshAttempt struct {
	last  time.Time
	count int
}

// allowConnection applies a per-host backoff: a few quick connections are
// free, then each one waits a little longer, and a flood is refused.
func (l *SSHListener) allowConnection(host string) (time.Duration, bool) {
	const (
		window     = 10 * time.Second
		resetAfter = 30 * time.Second
		maxCount   = 30
		step       = 250 * time.Millisecond
		maxDelay   = 5 * time.Second
	)

	now := l.now()

	l.attemptMu.Lock()
	defer l.attemptMu.Unlock()

	a := l.attempts[host]
	if a == nil {
		a = &sshAttempt{last: now}
		l.attempts[host] = a
	}

	if now.Sub(a.last) > resetAfter {
		a.count = 0
	}
	if now.Sub(a.last) <= window {
		a.count++
	} else {
		a.count = 1
	}
	a.last = now

	if a.count > maxCount {
		return 0, false
	}
	if a.count <= 3 {
		return 0, true
	}
	d := time.Duration(a.count-3) * step
	if d > maxDelay {
		d = maxDelay
	}
	return d, true
}

// ListenAndServe listens on the configured port until ctx is done.
func (l *SSHListener) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.addr, err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. Sessions in progress
// see ctx cancelled.
func (l *SSHListener) Serve(ctx context.Context, ln net.Listener) error {
	log.Printf("ssh: listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("ssh: accept error: %v", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			l.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection processes a single SSH connection.
func (l *SSHListener) handleConnection(ctx context.Context, conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if delay, ok := l.allowConnection(host); !ok {
		conn.Close()
		return
	} else if delay > 0 {
		time.Sleep(delay)
	}

	_ = conn.SetDeadline(time.Now().Add(20 * time.Second))
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, l.config)
	if err != nil {
		log.Printf("ssh: handshake failed from %s: %v", remoteAddr, err)
		conn.Close()
		return
	}
	defer sshConn.Close()
	_ = conn.SetDeadline(time.Time{})

	log.Printf("ssh: connection from %s (user: %s)", remoteAddr, sshConn.User())

	go ssh.DiscardRequests(reqs)

	// Closing the connection on shutdown ends the channel loop below.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		sshConn.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			log.Printf("ssh: channel accept error: %v", err)
			continue
		}

		sc := newSSHConn(channel, remoteAddr, sshConn.Permissions, sshConn.User())
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.serveChannel(connCtx, sc, requests)
		}()
	}
}

type ptyRequest struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

type windowChange struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

type execRequest struct {
	Command string
}

// serveChannel answers session requests and starts the handler once on
// shell or exec. Window changes keep flowing to the running handler.
func (l *SSHListener) serveChannel(ctx context.Context, sc *SSHConn, requests <-chan *ssh.Request) {
	var started bool
	done := make(chan struct{})

	start := func() {
		started = true
		go func() {
			defer close(done)
			status := uint32(0)
			if err := l.handler(ctx, sc); err != nil {
				log.Printf("ssh: session %s@%s: %v", sc.Username, sc.Remote, err)
				status = 1
			}
			sc.exit(status)
			sc.Close()
		}()
	}

	for {
		select {
		case <-done:
			go ssh.DiscardRequests(requests)
			return
		case req, ok := <-requests:
			if !ok {
				if started {
					<-done
				}
				return
			}
			switch req.Type {
			case "pty-req":
				var p ptyRequest
				if err := ssh.Unmarshal(req.Payload, &p); err == nil {
					sc.TermType = p.Term
					sc.Width, sc.Height = int(p.Columns), int(p.Rows)
				}
				reply(req, true)

			case "window-change":
				var w windowChange
				if err := ssh.Unmarshal(req.Payload, &w); err == nil {
					sc.pushResize(WindowSize{Width: int(w.Columns), Height: int(w.Rows)})
				}
				reply(req, false)

			case "shell":
				reply(req, !started)
				if !started {
					start()
				}

			case "exec":
				var e execRequest
				if started || ssh.Unmarshal(req.Payload, &e) != nil {
					reply(req, false)
					continue
				}
				sc.Command = strings.TrimSpace(e.Command)
				reply(req, true)
				start()

			default:
				reply(req, false)
			}
		}
	}
}

func reply(req *ssh.Request, ok bool) {
	if req.WantReply {
		req.Reply(ok, nil)
	}
}

// ParseDeepLink reads the username out of an exec payload of the form
// "with <username>". An empty command yields "".
func ParseDeepLink(command string) (string, error) {
	fields := strings.Fields(command)
	switch {
	case len(fields) == 0:
		return "", nil
	case len(fields) == 2 && strings.EqualFold(fields[0], "with"):
		return fields[1], nil
	default:
		return "", fmt.Errorf("unsupported command %q (try: with <username>)", command)
	}
}
