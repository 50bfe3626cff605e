// Package pty owns a child process attached to a pseudo-terminal and
// provides non-blocking reads of its accumulated output.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ptyCols is deliberately wide so the terminal driver never soft-wraps
// command output, which would corrupt sentinel scanning.
const (
	ptyRows = 24
	ptyCols = 1000
)

// Handle drives one child process over a PTY master. All reads go
// through an internal buffer filled by a background goroutine, so
// ReadNonblocking never blocks on the PTY itself.
type Handle struct {
	cmd    *exec.Cmd
	master *os.File

	mu      sync.Mutex
	buf     []byte
	readErr error

	// Signaled (capacity 1) whenever the reader appends data.
	dataCh chan struct{}
	// Closed when the reader goroutine sees EOF or a read error.
	eofCh chan struct{}
	// Closed once the child has been reaped.
	exited chan struct{}

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// Spawn starts argv attached to a fresh PTY. The child becomes a
// session leader with the PTY slave as its controlling terminal, so its
// process group can be signalled as a unit.
func Spawn(argv []string, env []string, cwd string) (*Handle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("pty: empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	if env != nil {
		cmd.Env = env
	}
	cmd.Dir = cwd

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyCols})
	if err != nil {
		return nil, fmt.Errorf("pty: failed to start %q: %w", argv[0], err)
	}

	h := &Handle{
		cmd:    cmd,
		master: master,
		dataCh: make(chan struct{}, 1),
		eofCh:  make(chan struct{}),
		exited: make(chan struct{}),
	}

	go h.readLoop()
	go func() {
		cmd.Wait()
		close(h.exited)
	}()

	return h, nil
}

// readLoop drains the PTY master into the buffer until EOF. Reading the
// master returns EIO once the child closes the slave side; both count
// as EOF here.
func (h *Handle) readLoop() {
	chunk := make([]byte, 4096)
	for {
		n, err := h.master.Read(chunk)
		if n > 0 {
			h.mu.Lock()
			h.buf = append(h.buf, chunk[:n]...)
			h.mu.Unlock()
			select {
			case h.dataCh <- struct{}{}:
			default:
			}
		}
		if err != nil {
			h.mu.Lock()
			h.readErr = err
			h.mu.Unlock()
			close(h.eofCh)
			return
		}
	}
}

// Write sends input bytes to the child. Writes are small, so blocking
// is acceptable.
func (h *Handle) Write(p []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := h.master.Write(p)
	return err
}

// ReadNonblocking returns whatever bytes are currently buffered, up to
// maxBytes. If none are available it waits up to wait for new data.
// The second return value is true once the child's output stream has
// ended and the buffer is fully drained. A trailing incomplete UTF-8
// sequence is held back until its continuation bytes arrive.
func (h *Handle) ReadNonblocking(maxBytes int, wait time.Duration) ([]byte, bool, error) {
	data, eof := h.take(maxBytes)
	if data != nil || eof {
		return data, eof, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-h.dataCh:
	case <-h.eofCh:
	case <-timer.C:
	}

	data, eof = h.take(maxBytes)
	return data, eof, nil
}

func (h *Handle) take(maxBytes int) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	streamEnded := h.readErr != nil

	if len(h.buf) == 0 {
		return nil, streamEnded
	}

	n := len(h.buf)
	if n > maxBytes {
		n = maxBytes
	}
	// Hold back an incomplete trailing rune unless the stream is done
	// (no continuation bytes will ever arrive then).
	if !streamEnded && n == len(h.buf) {
		n = completeBoundary(h.buf)
		if n == 0 {
			return nil, false
		}
	}

	data := make([]byte, n)
	copy(data, h.buf[:n])
	h.buf = h.buf[n:]

	return data, streamEnded && len(h.buf) == 0
}

// completeBoundary returns the length of the longest prefix of b that
// ends on a UTF-8 rune boundary.
func completeBoundary(b []byte) int {
	n := len(b)
	if n == 0 {
		return 0
	}
	// Find the start byte of the final sequence.
	start := n - 1
	for start > 0 && n-start < utf8.UTFMax && b[start]&0xC0 == 0x80 {
		start--
	}
	if b[start] < utf8.RuneSelf {
		return n
	}
	if r, size := utf8.DecodeRune(b[start:]); r != utf8.RuneError || size > 1 {
		return n
	}
	// The final sequence may still be completed by future bytes.
	if !utf8.RuneStart(b[start]) {
		// Malformed either way, pass it through.
		return n
	}
	return start
}

// Signal delivers sig to the child's process group.
func (h *Handle) Signal(sig unix.Signal) error {
	if h.cmd.Process == nil {
		return fmt.Errorf("pty: process not started")
	}
	return unix.Kill(-h.cmd.Process.Pid, sig)
}

// Alive reports whether the child has not yet exited.
func (h *Handle) Alive() bool {
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// WaitExit blocks until the child exits or the timeout elapses.
func (h *Handle) WaitExit(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.exited:
		return true
	case <-timer.C:
		return false
	}
}

// Terminate stops the child: SIGTERM, a short grace period, then
// SIGKILL, then both PTY ends are closed. Safe to call more than once.
func (h *Handle) Terminate() {
	h.closeMu.Lock()
	defer h.closeMu.Unlock()
	if h.closed {
		return
	}
	h.closed = true

	if h.Alive() {
		h.Signal(unix.SIGTERM)
		if !h.WaitExit(500 * time.Millisecond) {
			h.Signal(unix.SIGKILL)
			h.WaitExit(500 * time.Millisecond)
		}
	}
	h.master.Close()
}
