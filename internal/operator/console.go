// Package operator is the human-in-the-loop channel used when automation
// hands control to the person at the terminal.
package operator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// ErrNoOperator is returned when the input stream ends before an answer.
var ErrNoOperator = errors.New("operator input closed")

// Prompter asks the operator to act or decide.
type Prompter interface {
	AwaitContinue(ctx context.Context, prompt string) error
	Choose(ctx context.Context, prompt string, options []string) (int, error)
}

// Console prompts on an output stream and reads answers line by line.
type Console struct {
	out io.Writer

	// One reader goroutine feeds lines so an abandoned prompt does not
	// swallow the next answer.
	startOnce sync.Once
	in        *bufio.Scanner
	lines     chan string
	mu        sync.Mutex
}

// NewConsole creates a console over in and out, typically stdin and stderr.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:    bufio.NewScanner(in),
		out:   out,
		lines: make(chan string),
	}
}

func (c *Console) start() {
	c.startOnce.Do(func() {
		go func() {
			defer close(c.lines)
			for c.in.Scan() {
				c.lines <- c.in.Text()
			}
		}()
	})
}

func (c *Console) readLine(ctx context.Context) (string, error) {
	c.start()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", ErrNoOperator
		}
		return strings.TrimSpace(line), nil
	}
}

// AwaitContinue prints prompt and blocks until the operator presses Enter.
func (c *Console) AwaitContinue(ctx context.Context, prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n%s\nPress Enter to continue...\n", prompt)
	_, err := c.readLine(ctx)
	return err
}

// Choose lists options and returns the selected zero-based index. An empty
// answer selects the first option; invalid answers are asked again.
func (c *Console) Choose(ctx context.Context, prompt string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, errors.New("no options to choose from")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n%s\n", prompt)
	for i, opt := range options {
		fmt.Fprintf(c.out, "  [%d] %s\n", i+1, opt)
	}
	for {
		fmt.Fprintf(c.out, "Select 1-%d (default 1): ", len(options))
		line, err := c.readLine(ctx)
		if err != nil {
			return 0, err
		}
		if line == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(line)
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		fmt.Fprintf(c.out, "Invalid selection %q.\n", line)
	}
}
