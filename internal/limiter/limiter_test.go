package limiter

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func TestNewSelectsKind(t *testing.T) {
	tests := []struct {
		name    string
		limit   string
		addr    string
		want    string
		wantErr bool
	}{
		{name: "empty is unlimited", limit: "", want: "limiter.Unlimited"},
		{name: "integer is local", limit: "3", want: "*limiter.Local"},
		{name: "name is remote", limit: "crowdstrike", addr: "127.0.0.1:53560", want: "*limiter.Remote"},
		{name: "zero rejected", limit: "0", wantErr: true},
		{name: "negative rejected", limit: "-2", wantErr: true},
		{name: "remote without coordinator", limit: "crowdstrike", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.limit, tt.addr)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := typeName(l); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case Unlimited:
		return "limiter.Unlimited"
	case *Local:
		return "*limiter.Local"
	case *Remote:
		return "*limiter.Remote"
	default:
		return "unknown"
	}
}

func TestLocalBoundsConcurrency(t *testing.T) {
	l := NewLocal(1)

	tok, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); err == nil {
		t.Fatal("second acquire should block until timeout")
	}

	tok.Release()

	tok2, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	tok2.Release()
}

func TestUnlimitedHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Unlimited{}).Acquire(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

// fakeCoordinator accepts one connection and grants or refuses the
// acquire request.
func fakeCoordinator(t *testing.T, reply string, gotReq chan<- string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		gotReq <- strings.TrimSpace(line)
		if reply != "" {
			conn.Write([]byte(reply + "\n"))
		}
		// Hold the connection open until the client releases.
		bufio.NewReader(conn).ReadString('\n')
	}()
	return ln
}

func TestRemoteAcquireRelease(t *testing.T) {
	req := make(chan string, 1)
	ln := fakeCoordinator(t, "ok", req)
	defer ln.Close()

	r := NewRemote(ln.Addr().String(), "crowdstrike")
	tok, err := r.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer tok.Release()

	if got, want := <-req, "acquire crowdstrike 1"; got != want {
		t.Errorf("request = %q, want %q", got, want)
	}
}

func TestRemoteRefused(t *testing.T) {
	req := make(chan string, 1)
	ln := fakeCoordinator(t, "error: unknown semaphore", req)
	defer ln.Close()

	r := NewRemote(ln.Addr().String(), "nope")
	if _, err := r.Acquire(context.Background()); err == nil {
		t.Fatal("expected refusal error")
	}
}

func TestRemoteCancelWhileQueued(t *testing.T) {
	req := make(chan string, 1)
	// Empty reply: the coordinator never grants, simulating a full
	// semaphore.
	ln := fakeCoordinator(t, "", req)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := NewRemote(ln.Addr().String(), "crowdstrike")
	start := time.Now()
	if _, err := r.Acquire(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("acquire did not return promptly on cancel: %v", elapsed)
	}
}
