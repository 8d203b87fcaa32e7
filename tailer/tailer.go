// Package tailer follows growing log files on local or remote targets
package tailer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"code.linksmart.eu/dt/ops-console/model"
	"code.linksmart.eu/dt/ops-console/remote"
)

// Filter selects the lines to emit
type Filter func(line string) bool

// Contains returns a filter matching lines containing sub
func Contains(sub string) Filter {
	return func(line string) bool {
		return strings.Contains(line, sub)
	}
}

// Cursor is an open tail. Lines is closed when the reader terminates or the cursor is closed.
type Cursor struct {
	Path   string
	Filter Filter

	lines  chan string
	cancel context.CancelFunc
	done   chan struct{}

	mutex  sync.Mutex
	closed bool
}

func newCursor(ctx context.Context, path string, filter Filter) (*Cursor, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Cursor{
		Path:   path,
		Filter: filter,
		lines:  make(chan string),
		cancel: cancel,
		done:   make(chan struct{}),
	}, ctx
}

// Lines delivers one line at a time, at the pace of the consumer
func (c *Cursor) Lines() <-chan string {
	return c.lines
}

// Close cancels the tail and returns once the underlying reader has been torn down
func (c *Cursor) Close() {
	c.cancel()
	<-c.done
}

func (c *Cursor) Closed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

func (c *Cursor) run(ctx context.Context, follow func(ctx context.Context)) {
	go func() {
		defer func() {
			c.mutex.Lock()
			c.closed = true
			c.mutex.Unlock()
			close(c.lines)
			c.cancel()
			close(c.done)
		}()
		follow(ctx)
	}()
}

// emit sends a line passing the filter. It returns false once the consumer is gone.
func (c *Cursor) emit(ctx context.Context, line string) bool {
	if c.Filter != nil && !c.Filter(line) {
		return true
	}
	return c.send(ctx, line)
}

func (c *Cursor) send(ctx context.Context, line string) bool {
	select {
	case c.lines <- line:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail ends the cursor with a single diagnostic line
func (c *Cursor) fail(ctx context.Context, format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	log.Printf("tailer: %s", msg)
	c.send(ctx, "tail: "+msg)
}

// Tailer opens cursors on target log files
type Tailer struct {
	Dialer *remote.Dialer
}

func New(dialer *remote.Dialer) *Tailer {
	return &Tailer{Dialer: dialer}
}

// Open starts following path on the target from its current end. Open never fails: errors are
// delivered as the only line of the cursor.
func (t *Tailer) Open(ctx context.Context, target *model.Target, path string, filter Filter) *Cursor {
	if target.Remote() {
		return t.openRemote(ctx, target.Alias, path, filter)
	}
	return OpenLocal(ctx, path, filter)
}

func (t *Tailer) openRemote(ctx context.Context, alias, path string, filter Filter) *Cursor {
	c, ctx := newCursor(ctx, path, filter)
	c.run(ctx, func(ctx context.Context) {
		if t.Dialer == nil {
			c.fail(ctx, "no remote dialer for %s", alias)
			return
		}
		session, err := t.Dialer.Connect(ctx, alias)
		if err != nil {
			c.fail(ctx, "error connecting to %s: %s", alias, err)
			return
		}
		defer session.Close()

		stream, err := session.Stream(tailCommand(path))
		if err != nil {
			c.fail(ctx, "error tailing %s on %s: %s", path, alias, err)
			return
		}
		defer stream.Stop()
		stopped := context.AfterFunc(ctx, stream.Stop)
		defer stopped()

		err = c.scan(ctx, stream.Stdout)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			c.fail(ctx, "error reading %s on %s: %s", path, alias, err)
		default:
			code, stderr := stream.Wait()
			c.fail(ctx, "tail of %s on %s exited with code %d: %s", path, alias, code, strings.TrimSpace(stderr))
		}
	})
	return c
}

// tailCommand follows path across rotations. An unreadable file ends the command with an error.
func tailCommand(path string) string {
	return fmt.Sprintf("if [ ! -r '%s' ]; then echo 'cannot read %s' >&2; exit 1; fi; exec tail -F -n 0 '%s'", path, path, path)
}

// scan emits the lines of r until it ends or the consumer is gone
func (c *Cursor) scan(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if !c.emit(ctx, scanner.Text()) {
			return nil
		}
	}
	return scanner.Err()
}
