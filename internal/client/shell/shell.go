// Package shell is the interactive back-office console: a line REPL whose
// commands are gated by the route guard and act through the session's
// API client.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/gallery"
	"github.com/atinyakov/buildsite/internal/guard"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/atinyakov/buildsite/internal/notify"
	"github.com/atinyakov/buildsite/internal/session"
	"go.uber.org/zap"
)

var (
	// ErrUnknownCommand is returned for a command the shell does not know.
	ErrUnknownCommand = errors.New("unknown command, type 'help' for a list of commands")
	// ErrLoginRequired is returned when a command needs a session and no
	// one can be asked to log in.
	ErrLoginRequired = errors.New("not logged in, run 'login' first")
	// ErrAccessDenied is returned when the user lacks the required role.
	ErrAccessDenied = errors.New("access denied: your account cannot use the back-office")
	// ErrUsage is wrapped by argument errors.
	ErrUsage = errors.New("usage")
)

// Backend defines the backend operations the commands use.
type Backend interface {
	gallery.ImageAPI
	ListProjects(ctx context.Context, f models.ProjectFilter) (*models.ProjectPage, error)
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	CreateProject(ctx context.Context, in models.ProjectInput) (*models.Project, error)
	UpdateProject(ctx context.Context, id int64, in models.ProjectInput) (*models.Project, error)
	DeleteProject(ctx context.Context, id int64) error
	ToggleProjectActive(ctx context.Context, id int64) (bool, error)
}

// Shell runs back-office commands for one session.
type Shell struct {
	Session *session.Manager
	API     Backend
	Prompt  *Prompter
	Out     io.Writer
	// Notifier receives operation outcomes. Defaults to a Printer on Out.
	Notifier      notify.Notifier
	RequiredRole  string
	StorageOrigin string
	// AssumeYes answers every confirmation with yes.
	AssumeYes bool
	Log       *zap.Logger

	mu sync.Mutex
	// galleries keeps one gallery per project, so files selected for
	// upload stay pending across commands until uploaded or dropped.
	galleries map[int64]*gallery.Manager
	previews  *gallery.MemoryPreviews
}

// gallery returns the gallery of projectID, creating it on first use.
func (s *Shell) gallery(projectID int64) *gallery.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.galleries[projectID]; ok {
		return g
	}
	if s.galleries == nil {
		s.galleries = make(map[int64]*gallery.Manager)
		s.previews = gallery.NewMemoryPreviews()
	}
	g := gallery.New(projectID, s.API,
		gallery.WithNotifier(notify.Func(func(l notify.Level, msg string) { s.notifier().Notify(l, msg) })),
		gallery.WithConfirmer(gallery.ConfirmFunc(s.confirm)),
		gallery.WithPreviews(s.previews),
		gallery.WithStorageOrigin(s.StorageOrigin),
		gallery.WithLogger(s.log()),
	)
	s.galleries[projectID] = g
	return g
}

// Close discards every gallery and its pending uploads.
func (s *Shell) Close() {
	s.mu.Lock()
	galleries := s.galleries
	s.galleries = nil
	previews := s.previews
	s.mu.Unlock()

	for _, g := range galleries {
		g.Close()
	}
	if previews != nil {
		if n := previews.Len(); n > 0 {
			s.log().Warn("previews left after close", zap.Int("count", n))
		}
	}
}

func (s *Shell) notifier() notify.Notifier {
	if s.Notifier == nil {
		return Printer{W: s.Out}
	}
	return s.Notifier
}

func (s *Shell) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Shell) confirmer() gallery.Confirmer {
	if s.AssumeYes {
		return gallery.ConfirmFunc(func(context.Context, string) bool { return true })
	}
	return s.Prompt
}

func (s *Shell) confirm(ctx context.Context, prompt string) bool {
	return s.confirmer().Confirm(ctx, prompt)
}

type command struct {
	usage string
	help  string
	// route is the guarded location of the command; empty is public.
	route string
	run   func(ctx context.Context, s *Shell, args []string) error
}

func lookup(args []string) (command, []string, bool) {
	if len(args) >= 2 {
		if c, ok := commands[args[0]+" "+args[1]]; ok {
			return c, args[2:], true
		}
	}
	if len(args) >= 1 {
		if c, ok := commands[args[0]]; ok {
			return c, args[1:], true
		}
	}
	return command{}, nil, false
}

// Exec runs one command. Guarded commands are checked against the session
// first; when a login is needed and the user can be asked, the shell asks
// for credentials and then runs the command.
func (s *Shell) Exec(ctx context.Context, args []string) error {
	cmd, rest, ok := lookup(args)
	if !ok {
		return ErrUnknownCommand
	}
	if cmd.route != "" {
		d := guard.Decide(s.Session.State(), s.RequiredRole, cmd.route)
		switch d.Kind {
		case guard.Wait:
			return errors.New("the session is busy, try again")
		case guard.Redirect:
			if !s.Prompt.Interactive() {
				return ErrLoginRequired
			}
			fmt.Fprintln(s.Out, "Login required.")
			if err := s.login(ctx, ""); err != nil {
				return err
			}
			return s.Exec(ctx, args)
		case guard.Deny:
			return ErrAccessDenied
		}
	}
	return cmd.run(ctx, s, rest)
}

// Run reads commands until exit or end of input.
func (s *Shell) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := s.Prompt.Line("buildsite> ")
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.Out)
			return nil
		}
		if err != nil {
			return err
		}
		args, err := splitArgs(line)
		if err != nil {
			fmt.Fprintln(s.Out, "error:", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			fmt.Fprintln(s.Out, "Bye")
			return nil
		}

		err = s.Exec(ctx, args)
		if errors.Is(err, api.ErrUnauthorized) && s.Prompt.Interactive() {
			// The session was expired by the rejection; the guard now
			// asks for a login before running the command again.
			err = s.Exec(ctx, args)
		}
		if err != nil {
			s.printError(err)
		}
	}
}

func (s *Shell) printError(err error) {
	var ve *api.ValidationError
	if errors.As(err, &ve) {
		fmt.Fprintln(s.Out, "error:", cmpOr(ve.Message, "validation failed"))
		printFieldErrors(s.Out, ve.Fields)
		return
	}
	fmt.Fprintln(s.Out, "error:", err)
}

func printFieldErrors(w io.Writer, fields map[string][]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, strings.Join(fields[k], " "))
	}
}

func cmpOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// login asks for credentials and logs in.
func (s *Shell) login(ctx context.Context, email string) error {
	creds, err := s.Prompt.Credentials(email)
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	res := s.Session.Login(ctx, creds)
	if res.Success {
		return nil
	}
	if len(res.Errors) > 0 {
		printFieldErrors(s.Out, res.Errors)
	}
	return fmt.Errorf("login failed: %s", cmpOr(res.Error, cmpOr(res.Message, "invalid credentials")))
}
