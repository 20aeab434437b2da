package sshutil

import (
	"bytes"
	"context"
	"fmt"

	"github.com/slurmwatch/slurmwatch/internal/errors"
	"golang.org/x/crypto/ssh"
)

// Exec runs a command on the session's final hop and returns its stdout and
// exit code. The context's deadline is the command's wall-clock budget: a
// hung remote command is abandoned (session closed) when it expires, it
// never blocks the caller indefinitely.
//
// A non-zero exit code is returned with a nil error; callers that treat
// non-zero exit as fatal should use Output.
func (s *Session) Exec(ctx context.Context, cmd string) (stdout string, exitCode int, err error) {
	target := s.Target()
	if target == nil {
		return "", -1, errors.NewTransport(errors.ReasonConnectionLost,
			"No connection to run the command on", "")
	}

	session, err := target.Client.NewSession()
	if err != nil {
		return "", -1, errors.WrapTransport(err, errors.ReasonConnectionLost,
			"Failed to open an SSH session",
			"The tunnel may have been dropped. The next cycle reconnects.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	type result struct{ err error }
	resultCh := make(chan result, 1)

	go func() {
		resultCh <- result{session.Run(cmd)}
	}()

	select {
	case <-ctx.Done():
		// Closing the session unblocks the Run goroutine.
		_ = session.Close()
		return "", -1, errors.WrapTransport(ctx.Err(), errors.ReasonTimeout,
			fmt.Sprintf("Command didn't finish in time: %s", cmd),
			"The cluster may be overloaded, or the tunnel silently dropped")
	case r := <-resultCh:
		if r.err != nil {
			if exitErr, ok := r.err.(*ssh.ExitError); ok {
				return stdoutBuf.String(), exitErr.ExitStatus(), nil
			}
			return "", -1, errors.WrapTransport(r.err, errors.ReasonConnectionLost,
				fmt.Sprintf("Failed to execute command: %s", cmd),
				"Check the command exists on the remote host")
		}
		return stdoutBuf.String(), 0, nil
	}
}

// Output runs a command and returns its stdout, treating a non-zero exit
// code as a transport error (NonZeroExit).
func (s *Session) Output(ctx context.Context, cmd string) (string, error) {
	stdout, exitCode, err := s.Exec(ctx, cmd)
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", errors.NewTransport(errors.ReasonNonZeroExit,
			fmt.Sprintf("Command exited with status %d: %s", exitCode, cmd),
			"Run it manually on the head node to see why")
	}
	return stdout, nil
}
