package transcribe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxCapture bounds how much of each stream is kept for logs and errors.
const maxCapture = 64 * 1024

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability. onLine, when
// set, receives every stdout and stderr line in arrival order.
type commandRunner interface {
	Run(ctx context.Context, name string, args []string, onLine func(line string)) (commandResult, error)
}

// execRunner executes commands via os/exec, streaming both pipes.
type execRunner struct{}

// Run starts the command and reads stdout and stderr concurrently until the
// process exits.
func (r *execRunner) Run(ctx context.Context, name string, args []string, onLine func(line string)) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return commandResult{ExitCode: -1}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return commandResult{ExitCode: -1}, err
	}
	if err := cmd.Start(); err != nil {
		return commandResult{ExitCode: -1}, err
	}

	var mu sync.Mutex
	emit := func(line string) {
		if onLine == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onLine(line)
	}

	var outBuf, errBuf tailBuffer
	var g errgroup.Group
	g.Go(func() error { return scanStream(stdout, &outBuf, emit) })
	g.Go(func() error { return scanStream(stderr, &errBuf, emit) })
	scanErr := g.Wait()
	waitErr := cmd.Wait()

	result := commandResult{
		Stdout: outBuf.String(),
		Stderr: errBuf.String(),
	}
	if waitErr != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, waitErr
	}
	if scanErr != nil {
		return result, scanErr
	}
	return result, nil
}

func scanStream(r io.Reader, capture *tailBuffer, emit func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		line := scanner.Text()
		capture.WriteLine(line)
		emit(line)
	}
	return scanner.Err()
}

// scanLinesOrCR splits on \n and on bare \r so carriage-return progress bars
// produce one token per redraw.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last maxCapture bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (b *tailBuffer) WriteLine(line string) {
	b.buf = append(b.buf, line...)
	b.buf = append(b.buf, '\n')
	if over := len(b.buf) - maxCapture; over > 0 {
		b.buf = append([]byte(nil), b.buf[over:]...)
	}
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
