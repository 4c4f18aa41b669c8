package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

type staticAuth map[string]string

func (a staticAuth) Authenticate(ctx context.Context, username, password string) (string, bool, error) {
	if pw, ok := a[username]; ok && pw == password {
		return "id-" + username, true, nil
	}
	return "", false, nil
}

func startListener(t *testing.T, handler Handler) string {
	t.Helper()
	l, err := NewSSHListener(0, filepath.Join(t.TempDir(), "keys", "host_key"), staticAuth{"alice": "secret"}, handler)
	if err != nil {
		t.Fatalf("NewSSHListener: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func dial(addr, user, password string) (*ssh.Client, error) {
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func TestSSHExecCarriesAccountAndCommand(t *testing.T) {
	addr := startListener(t, func(ctx context.Context, conn *SSHConn) error {
		_, err := fmt.Fprintf(conn, "%s|%s|%s", conn.UserID, conn.Username, conn.Command)
		return err
	})

	client, err := dial(addr, "alice", "secret")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	out, err := sess.Output("with bob")
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if string(out) != "id-alice|alice|with bob" {
		t.Fatalf("expected account and command, got %q", out)
	}
}

func TestSSHRejectsBadPassword(t *testing.T) {
	addr := startListener(t, func(ctx context.Context, conn *SSHConn) error { return nil })

	if _, err := dial(addr, "alice", "wrong"); err == nil {
		t.Fatalf("expected bad password to be rejected")
	}
	if _, err := dial(addr, "mallory", "secret"); err == nil {
		t.Fatalf("expected unknown user to be rejected")
	}
}

func TestSSHHandlerErrorSetsExitStatus(t *testing.T) {
	addr := startListener(t, func(ctx context.Context, conn *SSHConn) error {
		return fmt.Errorf("boom")
	})

	client, err := dial(addr, "alice", "secret")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	err = sess.Run("")
	exitErr, ok := err.(*ssh.ExitError)
	if !ok || exitErr.ExitStatus() != 1 {
		t.Fatalf("expected exit status 1, got %v", err)
	}
}

func TestSSHHostKeyIsReused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host_key")
	handler := func(ctx context.Context, conn *SSHConn) error { return nil }

	if _, err := NewSSHListener(0, path, staticAuth{}, handler); err != nil {
		t.Fatalf("first NewSSHListener: %v", err)
	}
	if _, err := NewSSHListener(0, path, staticAuth{}, handler); err != nil {
		t.Fatalf("expected the generated key to load, got %v", err)
	}
}

func TestAllowConnectionBackoff(t *testing.T) {
	l := &SSHListener{attempts: make(map[string]*sshAttempt)}
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	for i := 1; i <= 3; i++ {
		if d, ok := l.allowConnection("10.0.0.1"); !ok || d != 0 {
			t.Fatalf("attempt %d: expected free pass, got %v %v", i, d, ok)
		}
	}
	if d, ok := l.allowConnection("10.0.0.1"); !ok || d != 250*time.Millisecond {
		t.Fatalf("expected first delay of 250ms, got %v %v", d, ok)
	}
	if d, ok := l.allowConnection("10.0.0.2"); !ok || d != 0 {
		t.Fatalf("expected other hosts unaffected, got %v %v", d, ok)
	}

	for i := 5; i <= 30; i++ {
		l.allowConnection("10.0.0.1")
	}
	if _, ok := l.allowConnection("10.0.0.1"); ok {
		t.Fatalf("expected flood to be refused")
	}

	now = now.Add(time.Minute)
	if d, ok := l.allowConnection("10.0.0.1"); !ok || d != 0 {
		t.Fatalf("expected reset after a quiet minute, got %v %v", d, ok)
	}
}

func TestParseDeepLink(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"  ", "", false},
		{"with bob", "bob", false},
		{"WITH  carol ", "carol", false},
		{"with", "", true},
		{"rm -rf /", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDeepLink(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: expected error=%v, got %v", tt.in, tt.wantErr, err)
		}
		if got != tt.want {
			t.Fatalf("%q: expected %q, got %q", tt.in, tt.want, got)
		}
		if err != nil && !strings.Contains(err.Error(), "with <username>") {
			t.Fatalf("expected usage hint, got %v", err)
		}
	}
}
