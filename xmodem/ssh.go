package xmodem

import (
	"bufio"
	"context"
	"errors"
	"io"

	"golang.org/x/crypto/ssh"
)

// SSHTransport runs a session over the stdin/stdout pipes of an SSH session.
// The remote side is typically `rb`/`rx` (to receive) or `sb`/`sx` (to send)
// from lrzsz, started with Start.
type SSHTransport struct {
	*StreamTransport
	sshSession *ssh.Session
	stdin      io.WriteCloser
	stderr     io.Reader
	done       chan error
}

// NewSSHTransport wires the pipes of sshSession. It must be called before
// the remote command is started.
func NewSSHTransport(sshSession *ssh.Session) (*SSHTransport, error) {
	stdin, err := sshSession.StdinPipe()
	if err != nil {
		return nil, WrapError(ErrTransport, "ssh stdin pipe", err)
	}

	stdout, err := sshSession.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, WrapError(ErrTransport, "ssh stdout pipe", err)
	}

	stderr, err := sshSession.StderrPipe()
	if err != nil {
		stdin.Close()
		return nil, WrapError(ErrTransport, "ssh stderr pipe", err)
	}

	return &SSHTransport{
		StreamTransport: NewStreamTransport(stdout, stdin),
		sshSession:      sshSession,
		stdin:           stdin,
		stderr:          stderr,
	}, nil
}

// Start runs command on the remote host.
func (t *SSHTransport) Start(command string) error {
	if t.done != nil {
		return NewError(ErrState, "remote command already started")
	}
	if err := t.sshSession.Start(command); err != nil {
		return WrapError(ErrTransport, "start remote command", err)
	}
	t.done = make(chan error, 1)
	go func() {
		t.done <- t.sshSession.Wait()
	}()
	return nil
}

// Wait closes stdin to signal completion and waits for the remote command.
func (t *SSHTransport) Wait(ctx context.Context) error {
	if t.done == nil {
		return NewError(ErrState, "remote command not started")
	}
	t.stdin.Close()
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stderr returns the stderr reader for monitoring remote command output.
func (t *SSHTransport) Stderr() io.Reader {
	return t.stderr
}

// Close closes the SSH session and cleans up resources.
func (t *SSHTransport) Close() error {
	var errs []error
	if err := t.StreamTransport.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := t.sshSession.Close(); err != nil && !errors.Is(err, io.EOF) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SendFileSSH opens a session on client, starts command on the remote host
// (for example "rb" or "rx -X name") and sends r to it.
func SendFileSSH(ctx context.Context, client *ssh.Client, command, name string, r io.Reader, size int64, opts ...Option) error {
	sshSession, err := client.NewSession()
	if err != nil {
		return WrapError(ErrTransport, "new ssh session", err)
	}
	transport, err := NewSSHTransport(sshSession)
	if err != nil {
		sshSession.Close()
		return err
	}
	defer transport.Close()

	if err := transport.Start(command); err != nil {
		return err
	}

	s, err := New(transport, append(opts, WithRole(RoleSender))...)
	if err != nil {
		return err
	}
	go logRemoteOutput(transport.Stderr(), s.logger)

	sendErr := s.SendFile(ctx, name, r, size)
	_ = s.Stop()

	waitErr := transport.Wait(ctx)
	if sendErr != nil {
		return sendErr
	}
	return waitErr
}

// logRemoteOutput logs each line the remote command writes to stderr until
// the stream ends. The pipe must be drained or the remote command may block.
func logRemoteOutput(r io.Reader, logger Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Info("remote: %s", scanner.Text())
	}
}
