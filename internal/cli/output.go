package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Output writes received payload to disk: to the file announced by the
// sender, to a fixed path in plain mode, or to a generated name when
// Fallback is set and data arrives without a file packet.
type Output struct {
	Dir       string
	Overwrite bool

	// Fallback names the file for data that arrives before any file was
	// opened. Without it such data is an error.
	Fallback func() string

	path string
	file *os.File
	err  error
}

// Open creates the file at path, refusing to replace an existing one unless
// Overwrite is set.
func (o *Output) Open(path string) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !o.Overwrite {
		flags |= os.O_EXCL
	}
	o.path = path
	o.file, o.err = os.OpenFile(path, flags, 0644)
	return o.err
}

// OpenAnnounced opens a file in Dir named after the last element of name,
// so a sender cannot write outside Dir.
func (o *Output) OpenAnnounced(name string) error {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." {
		o.err = fmt.Errorf("invalid file name %q", name)
		return o.err
	}
	return o.Open(filepath.Join(o.Dir, base))
}

// Write appends p to the open file. It is meant for Callbacks.OnReceive.
func (o *Output) Write(p []byte) error {
	if o.file == nil && o.err == nil {
		if o.Fallback == nil {
			return errors.New("no output file")
		}
		_ = o.Open(filepath.Join(o.Dir, o.Fallback()))
	}
	if o.err != nil {
		return o.err
	}
	_, err := o.file.Write(p)
	return err
}

// Path returns the path of the last file opened.
func (o *Output) Path() string {
	return o.path
}

// Close closes the file. It may be called more than once.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}
