// Package tui provides the line-based console used to talk to the bot from
// a terminal or a pipe.
package tui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// IO is the console surface the chat command drives.
type IO interface {
	// ReadInput blocks for the next non-empty line. It returns io.EOF when
	// input ends.
	ReadInput() (string, error)
	Reply(text string)
	SystemMessage(text string)
	Error(msg string)
}

// PlainIO implements IO with plain line output (fmt.Fprint / bufio.Scanner).
// The "> " prompt is printed only when Interactive is set, so piped input
// produces replies alone.
type PlainIO struct {
	scanner     *bufio.Scanner
	out         io.Writer
	errOut      io.Writer
	interactive bool
	name        string
}

var _ IO = (*PlainIO)(nil)

// NewPlainIO creates a PlainIO over the given streams. name labels replies.
func NewPlainIO(in io.Reader, out, errOut io.Writer, interactive bool, name string) *PlainIO {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 1024*1024), 1024*1024)
	return &PlainIO{
		scanner:     s,
		out:         out,
		errOut:      errOut,
		interactive: interactive,
		name:        name,
	}
}

func (p *PlainIO) ReadInput() (string, error) {
	for {
		if p.interactive {
			fmt.Fprint(p.out, "\n> ")
		}
		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		if line := strings.TrimSpace(p.scanner.Text()); line != "" {
			return line, nil
		}
	}
}

func (p *PlainIO) Reply(text string) {
	if p.interactive && p.name != "" {
		fmt.Fprintf(p.out, "%s: %s\n", p.name, text)
		return
	}
	fmt.Fprintln(p.out, text)
}

func (p *PlainIO) SystemMessage(text string) {
	fmt.Fprintln(p.out, text)
}

func (p *PlainIO) Error(msg string) {
	fmt.Fprintf(p.errOut, "error: %s\n", msg)
}
