package scraper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// CodeReader asks the operator for the one-time passcode sent by SMS
type CodeReader interface {
	ReadCode(ctx context.Context, prompt string) (string, error)
}

// LineReader reads the code as one line from a terminal
type LineReader struct {
	in  *bufio.Reader
	out io.Writer
}

// NewLineReader creates a CodeReader prompting on out and reading from in
func NewLineReader(in io.Reader, out io.Writer) *LineReader {
	return &LineReader{in: bufio.NewReader(in), out: out}
}

// ReadCode blocks until a line is entered or ctx is cancelled. The read
// itself cannot be interrupted, so on cancellation the goroutine is left
// waiting on input until the process exits.
func (r *LineReader) ReadCode(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.in.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(r.out)
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil && !errors.Is(res.err, io.EOF) {
			return "", fmt.Errorf("reading verification code: %w", res.err)
		}
		return strings.TrimSpace(res.line), nil
	}
}
