package builder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Waker is notified once per response the builder produces. Wake must not
// block.
type Waker interface {
	Wake()
}

var wakeByte = []byte{'x'}

// SocketWaker writes one byte per wake-up into one end of a connected
// stream socket pair, so an event loop polling the other end wakes up
// without polling the response queue.
type SocketWaker struct {
	mu     sync.Mutex
	fd     int
	closed bool
	log    *slog.Logger
}

// NewSocketPair creates the wake channel. The returned file is the
// consumer's end; it is non-blocking and integrates with the runtime
// poller, so reads park only the calling goroutine and honour deadlines.
// log defaults to slog.Default().
func NewSocketPair(log *slog.Logger) (*SocketWaker, *os.File, error) {
	if log == nil {
		log = slog.Default()
	}
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("create wake socketpair: %w", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, nil, fmt.Errorf("set wake socket non-blocking: %w", err)
		}
	}
	return &SocketWaker{fd: fds[0], log: log.With("component", "builder")}, os.NewFile(uintptr(fds[1]), "memmgr-wake"), nil
}

// Wake writes a single byte. A full socket buffer means the consumer has
// unread wake-ups already, so EAGAIN is ignored.
func (w *SocketWaker) Wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if _, err := unix.Write(w.fd, wakeByte); err != nil && !errors.Is(err, unix.EAGAIN) {
		w.log.Warn("builder wake write failed", "error", err)
	}
}

// Close closes the builder's end of the pair. Further wake-ups are dropped.
func (w *SocketWaker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return unix.Close(w.fd)
}
