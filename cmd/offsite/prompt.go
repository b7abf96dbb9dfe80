package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// prompter asks for values the user left off the command line. It refuses
// to block when stdin is not a terminal.
type prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

func newPrompter(in io.Reader, out io.Writer, interactive bool) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out, interactive: interactive}
}

func stdinPrompter(out io.Writer) *prompter {
	return newPrompter(os.Stdin, out, term.IsTerminal(int(os.Stdin.Fd())))
}

// value returns current when set, otherwise asks for label.
func (p *prompter) value(current, label, flag string) (string, error) {
	if current != "" {
		return current, nil
	}
	if !p.interactive {
		return "", fmt.Errorf("--%s is required when not running in a terminal", flag)
	}

	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read %s: %w", flag, err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s is required", flag)
	}
	return line, nil
}
