package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atinyakov/buildsite/internal/models"
	"golang.org/x/term"
)

// Prompter asks the user for input on a line-oriented terminal.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	// password reads a secret without echo; nil reads a plain line.
	password func() (string, error)
}

// NewPrompter reads answers from in and writes questions to out.
func NewPrompter(in io.Reader, out io.Writer, interactive bool) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out, interactive: interactive}
}

// NewTerminalPrompter prompts on stdin/stdout. Passwords are not echoed when
// stdin is a terminal.
func NewTerminalPrompter() *Prompter {
	fd := int(os.Stdin.Fd())
	p := NewPrompter(os.Stdin, os.Stdout, term.IsTerminal(fd))
	if p.interactive {
		p.password = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(p.out)
			return string(b), err
		}
	}
	return p
}

// Interactive reports whether a user can answer prompts.
func (p *Prompter) Interactive() bool { return p.interactive }

// Line asks label and returns the trimmed answer.
func (p *Prompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	s, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Password asks label without echoing the answer when possible.
func (p *Prompter) Password(label string) (string, error) {
	if p.password == nil {
		return p.Line(label)
	}
	fmt.Fprint(p.out, label)
	return p.password()
}

// Credentials asks for the login e-mail (unless given) and password.
func (p *Prompter) Credentials(email string) (models.Credentials, error) {
	var err error
	if email == "" {
		if email, err = p.Line("E-mail: "); err != nil {
			return models.Credentials{}, err
		}
	}
	pw, err := p.Password("Password: ")
	if err != nil {
		return models.Credentials{}, err
	}
	return models.Credentials{Email: email, Password: pw}, nil
}

// Confirm asks a yes/no question; anything but yes is a no.
func (p *Prompter) Confirm(_ context.Context, prompt string) bool {
	answer, err := p.Line(prompt + " [y/N]: ")
	if err != nil {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}
