package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// terminalPrompter asks wizard questions on a terminal. Secrets are read
// without echo when the input is a terminal.
type terminalPrompter struct {
	in     *bufio.Reader
	inFile *os.File
	out    io.Writer

	labelStyle lipgloss.Style
	hintStyle  lipgloss.Style
	noteStyle  lipgloss.Style
}

// newTerminalPrompter reads answers from in and writes questions to out.
func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	r := lipgloss.NewRenderer(out)
	p := &terminalPrompter{
		in:         bufio.NewReader(in),
		out:        out,
		labelStyle: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		hintStyle:  r.NewStyle().Foreground(lipgloss.Color("8")),
		noteStyle:  r.NewStyle().Foreground(lipgloss.Color("11")),
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // file descriptors fit in int
		p.inFile = f
	}
	return p
}

// Ask implements auth.Prompter.
func (p *terminalPrompter) Ask(label, def string) (string, error) {
	prompt := p.labelStyle.Render(label)
	if def != "" {
		prompt += " " + p.hintStyle.Render("["+def+"]")
	}
	fmt.Fprint(p.out, prompt+": ")

	line, err := p.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(p.out)
			return def, nil
		}
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

// AskSecret implements auth.Prompter.
func (p *terminalPrompter) AskSecret(label string) (string, error) {
	fmt.Fprint(p.out, p.labelStyle.Render(label)+": ")

	if p.inFile != nil {
		secret, err := term.ReadPassword(int(p.inFile.Fd())) //nolint:gosec // file descriptors fit in int
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return line, nil
}

// Wait implements auth.Prompter.
func (p *terminalPrompter) Wait(message string) error {
	fmt.Fprintln(p.out, p.noteStyle.Render(message))
	if _, err := p.readLine(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// readLine returns the next trimmed line. A final line without a newline
// is returned without error.
func (p *terminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
