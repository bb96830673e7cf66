package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"
)

// Rendezvous is the unix socket the fuzzer connects to. It accepts a single peer.
type Rendezvous struct {
	path      string
	listener  net.Listener
	closeOnce sync.Once
	closeErr  error
}

// Listen removes any stale socket file at path and binds a new listener there.
func Listen(path string) (*Rendezvous, error) {
	if err := removeSocket(path); err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	return &Rendezvous{
		path:     path,
		listener: listener,
	}, nil
}

// Path returns the socket path.
func (rv *Rendezvous) Path() string {
	return rv.path
}

// Accept waits for the peer. Cancelling ctx closes the listener and unblocks the wait.
func (rv *Rendezvous) Accept(ctx context.Context) (net.Conn, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = rv.listener.Close()
		case <-done:
		}
	}()

	conn, err := rv.listener.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return conn, nil
}

// Close releases the listener and removes the socket file. Repeated calls return the first result.
func (rv *Rendezvous) Close() error {
	rv.closeOnce.Do(func() {
		if err := rv.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			rv.closeErr = err
		}
		if err := removeSocket(rv.path); err != nil {
			rv.closeErr = errors.Join(rv.closeErr, err)
		}
	})
	return rv.closeErr
}

func removeSocket(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}
