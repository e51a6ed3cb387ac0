package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrPromptCancelled is returned when the context ends before an answer.
var ErrPromptCancelled = errors.New("prompt cancelled")

// Ask writes question to out and reads one trimmed line from in. The read
// runs on its own goroutine so cancellation is honoured.
func Ask(ctx context.Context, in *bufio.Reader, out io.Writer, question string) (string, error) {
	fmt.Fprintf(out, "  %s ", question)

	type readResult struct {
		line string
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		line, err := in.ReadString('\n')
		ch <- readResult{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ErrPromptCancelled
	case r := <-ch:
		if r.err != nil && !(errors.Is(r.err, io.EOF) && r.line != "") {
			return "", r.err
		}
		return r.line, nil
	}
}

// Confirm asks a yes/no question; anything but y/yes is no.
func Confirm(ctx context.Context, in *bufio.Reader, out io.Writer, question string) (bool, error) {
	answer, err := Ask(ctx, in, out, question+" [y/N]:")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
