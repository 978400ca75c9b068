package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"vkharvest/pkg/models"

	"golang.org/x/term"
)

// ErrNoOperator is returned when nobody can answer a captcha
var ErrNoOperator = errors.New("no operator available to answer the captcha")

type line struct {
	text string
	err  error
}

// ConsoleSolver asks the operator to type captcha answers. Lines are read
// by a single background goroutine so a pending prompt can be abandoned
// when the context ends.
type ConsoleSolver struct {
	in          io.Reader
	out         io.Writer
	interactive bool

	once  sync.Once
	lines chan line
}

// NewConsoleSolver reads answers from stdin. It refuses to prompt when
// stdin is not a terminal unless assumeOperator is set, in which case a
// piped answer is accepted.
func NewConsoleSolver(assumeOperator bool) *ConsoleSolver {
	return NewSolver(os.Stdin, os.Stdout, assumeOperator || term.IsTerminal(int(os.Stdin.Fd())))
}

// NewSolver reads answers from in and prompts on w
func NewSolver(in io.Reader, w io.Writer, interactive bool) *ConsoleSolver {
	return &ConsoleSolver{in: in, out: w, interactive: interactive}
}

func (s *ConsoleSolver) start() {
	s.lines = make(chan line)
	go func() {
		defer close(s.lines)
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			s.lines <- line{text: scanner.Text()}
		}
		if err := scanner.Err(); err != nil {
			s.lines <- line{err: err}
		}
	}()
}

// Solve shows the challenge image URL and waits for a non-empty answer
func (s *ConsoleSolver) Solve(ctx context.Context, ch models.Challenge) (string, error) {
	if !s.interactive {
		return "", ErrNoOperator
	}
	s.once.Do(s.start)

	fmt.Fprintf(s.out, "\n%s open %s\n", Yellow("[CAPTCHA]"), ch.ImageURL)
	for {
		fmt.Fprint(s.out, Cyan("Enter captcha: "))

		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return "", ctx.Err()
		case l, ok := <-s.lines:
			if !ok {
				return "", ErrNoOperator
			}
			if l.err != nil {
				return "", fmt.Errorf("failed to read captcha answer: %w", l.err)
			}
			if answer := strings.TrimSpace(l.text); answer != "" {
				return answer, nil
			}
		}
	}
}
