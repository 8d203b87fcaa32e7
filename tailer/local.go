package tailer

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// OpenLocal follows a local file. The file is opened and positioned at its end before returning,
// so every line appended afterwards is delivered.
func OpenLocal(ctx context.Context, path string, filter Filter) *Cursor {
	c, ctx := newCursor(ctx, path, filter)

	f, err := os.Open(path)
	if err != nil {
		c.run(ctx, func(ctx context.Context) { c.fail(ctx, "error opening %s: %s", path, err) })
		return c
	}
	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		c.run(ctx, func(ctx context.Context) { c.fail(ctx, "error seeking %s: %s", path, err) })
		return c
	}
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(path)
		if err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		f.Close()
		c.run(ctx, func(ctx context.Context) { c.fail(ctx, "error watching %s: %s", path, err) })
		return c
	}

	c.run(ctx, func(ctx context.Context) {
		defer f.Close()
		defer watcher.Close()
		(&follower{Cursor: c, file: f, reader: bufio.NewReader(f), offset: offset}).follow(ctx, watcher)
	})
	return c
}

type follower struct {
	*Cursor
	file    *os.File
	reader  *bufio.Reader
	offset  int64
	pending string
}

func (f *follower) follow(ctx context.Context, watcher *fsnotify.Watcher) {
	// lines written between seek and watch
	if !f.drain(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) {
				if !f.rewindIfTruncated(ctx) || !f.drain(ctx) {
					return
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Chmod) {
				// unlinking an open file on linux only reports a chmod
				if _, err := os.Stat(f.Path); err != nil {
					if f.drain(ctx) {
						f.fail(ctx, "%s is gone: %s", f.Path, err)
					}
					return
				}
				if event.Has(fsnotify.Rename) {
					f.fail(ctx, "%s was moved", f.Path)
					return
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.fail(ctx, "error watching %s: %s", f.Path, err)
			return
		}
	}
}

// drain emits every complete line available. An incomplete last line is kept until its newline arrives.
func (f *follower) drain(ctx context.Context) bool {
	for {
		chunk, err := f.reader.ReadString('\n')
		f.offset += int64(len(chunk))
		if err != nil {
			f.pending += chunk
			if err != io.EOF {
				f.fail(ctx, "error reading %s: %s", f.Path, err)
				return false
			}
			return true
		}
		line := strings.TrimRight(f.pending+chunk, "\r\n")
		f.pending = ""
		if !f.emit(ctx, line) {
			return false
		}
	}
}

func (f *follower) rewindIfTruncated(ctx context.Context) bool {
	info, err := f.file.Stat()
	if err != nil {
		f.fail(ctx, "error reading %s: %s", f.Path, err)
		return false
	}
	if info.Size() >= f.offset {
		return true
	}
	if _, err := f.file.Seek(0, io.SeekStart); err != nil {
		f.fail(ctx, "error rewinding %s: %s", f.Path, err)
		return false
	}
	f.reader.Reset(f.file)
	f.offset = 0
	f.pending = ""
	return true
}
