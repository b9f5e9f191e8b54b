// Package cli wires the back-office admin commands onto cobra.
package cli

import (
	"os"
	"path/filepath"
	"time"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/client/shell"
	"github.com/atinyakov/buildsite/internal/client/storage"
	"github.com/atinyakov/buildsite/internal/logger"
	"github.com/atinyakov/buildsite/internal/session"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Options are the settings shared by every command.
type Options struct {
	APIOrigin     string
	StorageOrigin string
	CAFile        string
	TokenFile     string
	RequiredRole  string
	LogLevel      string
	Timeout       time.Duration
	AssumeYes     bool
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// DefaultTokenFile is where the token is kept when no path is given.
func DefaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return storage.DefaultFile
	}
	return filepath.Join(dir, "buildsite", storage.DefaultFile)
}

// NewRootCmd returns the buildsite-admin command tree.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "buildsite-admin",
		Short: "Manage construction projects and their photo galleries",
		Long: `buildsite-admin is the back-office console for the construction site.

It logs in against the projects API, keeps the token on disk and lets an
administrator manage projects and their images, one command at a time or
from an interactive shell.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			applyEnv(cmd, opts)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.APIOrigin, "api", "http://localhost:8000/api", "projects API base URL (env API_ORIGIN)")
	f.StringVar(&opts.StorageOrigin, "storage", "http://localhost:8000/storage", "public image storage origin (env STORAGE_ORIGIN)")
	f.StringVar(&opts.CAFile, "ca", "", "CA certificate the API must chain to (env API_CA_FILE)")
	f.StringVar(&opts.TokenFile, "token-file", DefaultTokenFile(), "where the login token is kept (env BUILDSITE_TOKEN_FILE)")
	f.StringVar(&opts.RequiredRole, "role", "admin", "role required for back-office commands (env REQUIRED_ROLE)")
	f.StringVar(&opts.LogLevel, "log-level", "error", "log level (env LOG_LEVEL)")
	f.DurationVar(&opts.Timeout, "timeout", 15*time.Second, "API request timeout")
	f.BoolVarP(&opts.AssumeYes, "yes", "y", false, "answer yes to every confirmation")

	cmd.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newShellCmd(opts),
		newProjectsCmd(opts),
		newImagesCmd(opts),
	)
	return cmd
}

// applyEnv fills every flag left at its default from the environment.
func applyEnv(cmd *cobra.Command, opts *Options) {
	set := func(flag, key string, dst *string) {
		if !cmd.Flags().Changed(flag) {
			*dst = envOr(key, *dst)
		}
	}
	set("api", "API_ORIGIN", &opts.APIOrigin)
	set("storage", "STORAGE_ORIGIN", &opts.StorageOrigin)
	set("ca", "API_CA_FILE", &opts.CAFile)
	set("token-file", "BUILDSITE_TOKEN_FILE", &opts.TokenFile)
	set("role", "REQUIRED_ROLE", &opts.RequiredRole)
	set("log-level", "LOG_LEVEL", &opts.LogLevel)
}

// newShell builds the session and shell the commands run on. The persisted
// token is verified before the shell is returned.
func newShell(cmd *cobra.Command, opts *Options, prompt *shell.Prompter) (*shell.Shell, error) {
	log := logger.New()
	if err := log.Init(opts.LogLevel); err != nil {
		return nil, err
	}

	hc, err := api.NewHTTPClient(opts.CAFile, opts.Timeout)
	if err != nil {
		return nil, err
	}

	out := cmd.OutOrStdout()
	printer := shell.Printer{W: out}
	store := storage.NewFileStore(opts.TokenFile)

	client := api.New(opts.APIOrigin, store, api.WithHTTPClient(hc), api.WithLogger(log.Log))
	mgr := session.New(client, store,
		session.WithLogger(log.Log),
		session.WithNotifier(printer),
	)
	client.OnUnauthorized(mgr.Expire)
	mgr.Initialize(cmd.Context())

	return &shell.Shell{
		Session:       mgr,
		API:           client,
		Prompt:        prompt,
		Out:           out,
		Notifier:      printer,
		RequiredRole:  opts.RequiredRole,
		StorageOrigin: opts.StorageOrigin,
		AssumeYes:     opts.AssumeYes,
		Log:           log.Log,
	}, nil
}

// runLine runs one shell command line built from args.
func runLine(opts *Options, words ...string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		sh, err := newShell(cmd, opts, shell.NewTerminalPrompter())
		if err != nil {
			return err
		}
		defer sh.Close()
		return sh.Exec(cmd.Context(), append(append([]string{}, words...), args...))
	}
}
