package limiter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	remoteDialTimeout = 10 * time.Second
	remoteCapacity    = 1
)

// Remote acquires slots from a network semaphore coordinator. Each
// acquisition is a dedicated TCP connection: the client sends a
// newline-delimited acquire request, waits for the coordinator to
// grant it, and holds the connection open until release.
type Remote struct {
	addr string
	name string
}

// NewRemote creates a limiter backed by the named semaphore on the
// coordinator at addr.
func NewRemote(addr, name string) *Remote {
	return &Remote{addr: addr, name: name}
}

// Acquire connects to the coordinator and blocks until the named
// semaphore is granted or ctx is cancelled. Closing the connection on
// cancellation withdraws the pending request server-side.
func (r *Remote) Acquire(ctx context.Context) (Token, error) {
	var d net.Dialer
	d.Timeout = remoteDialTimeout
	conn, err := d.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to semaphore coordinator %s: %w", r.addr, err)
	}

	// Unblock the pending read if the caller gives up while queued.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	if _, err := fmt.Fprintf(conn, "acquire %s %d\n", r.name, remoteCapacity); err != nil {
		close(watchDone)
		conn.Close()
		return nil, fmt.Errorf("requesting semaphore %q: %w", r.name, err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	close(watchDone)
	if err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("waiting for semaphore %q: %w", r.name, err)
	}
	if reply := strings.TrimSpace(line); reply != "ok" {
		conn.Close()
		return nil, fmt.Errorf("semaphore coordinator refused %q: %s", r.name, reply)
	}

	return &remoteToken{conn: conn}, nil
}

type remoteToken struct {
	conn net.Conn
}

func (t *remoteToken) Release() {
	// Best effort: the coordinator also releases on disconnect.
	fmt.Fprint(t.conn, "release\n")
	t.conn.Close()
}
