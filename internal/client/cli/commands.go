package cli

import (
	"github.com/atinyakov/buildsite/internal/client/shell"
	"github.com/spf13/cobra"
)

func newLoginCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "login [email]",
		Short: "Log in and keep the token for later commands",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLine(opts, "login"),
	}
}

func newLogoutCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the token",
		Args:  cobra.NoArgs,
		RunE:  runLine(opts, "logout"),
	}
}

func newWhoamiCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE:  runLine(opts, "whoami"),
	}
}

func newShellCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive back-office shell",
		Long: `Start an interactive shell. Type 'help' for the command list and
'exit' to leave. Commands that need a session ask for credentials first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := newShell(cmd, opts, shell.NewTerminalPrompter())
			if err != nil {
				return err
			}
			defer sh.Close()
			return sh.Run(cmd.Context())
		},
	}
}

func newProjectsCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List and edit projects",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [search=TEXT] [status=STATUS] [active=1|0] [page=N] [per_page=N]",
			Short: "List projects",
			RunE:  runLine(opts, "projects", "list"),
		},
		&cobra.Command{
			Use:   "get ID",
			Short: "Show a project",
			Args:  cobra.ExactArgs(1),
			RunE:  runLine(opts, "projects", "get"),
		},
		&cobra.Command{
			Use:   "create name=NAME [field=value...]",
			Short: "Create a project",
			Long: `Create a project. Fields: name, description, client, location,
category, status (planned, in_progress, completed), budget, start_date,
end_date (YYYY-MM-DD), is_active, is_featured.`,
			Example: `  buildsite-admin projects create name="Ring Road Depot" status=in_progress budget=1200000`,
			Args:    cobra.MinimumNArgs(1),
			RunE:    runLine(opts, "projects", "create"),
		},
		&cobra.Command{
			Use:   "update ID field=value...",
			Short: "Change fields of a project",
			Args:  cobra.MinimumNArgs(2),
			RunE:  runLine(opts, "projects", "update"),
		},
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete a project and its images",
			Args:  cobra.ExactArgs(1),
			RunE:  runLine(opts, "projects", "delete"),
		},
		&cobra.Command{
			Use:   "toggle ID",
			Short: "Publish or hide a project",
			Args:  cobra.ExactArgs(1),
			RunE:  runLine(opts, "projects", "toggle"),
		},
	)
	return cmd
}

func newImagesCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Manage a project's photo gallery",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list PROJECT",
			Short: "List images",
			Args:  cobra.ExactArgs(1),
			RunE:  runLine(opts, "images", "list"),
		},
		&cobra.Command{
			Use:     "upload PROJECT FILE...",
			Short:   "Upload JPEG, PNG, GIF or WebP files",
			Example: `  buildsite-admin images upload 7 site/*.jpg`,
			Args:    cobra.MinimumNArgs(2),
			RunE:    runLine(opts, "images", "upload"),
		},
		&cobra.Command{
			Use:   "delete PROJECT IMAGE",
			Short: "Delete an image",
			Args:  cobra.ExactArgs(2),
			RunE:  runLine(opts, "images", "delete"),
		},
		&cobra.Command{
			Use:   "main PROJECT IMAGE",
			Short: "Make an image the project's main image",
			Args:  cobra.ExactArgs(2),
			RunE:  runLine(opts, "images", "main"),
		},
		&cobra.Command{
			Use:   "reorder PROJECT IMAGE...",
			Short: "Set the display order; every image must be listed once",
			Args:  cobra.MinimumNArgs(2),
			RunE:  runLine(opts, "images", "reorder"),
		},
		&cobra.Command{
			Use:   "url PROJECT IMAGE [thumb]",
			Short: "Print the URL an image is displayed from",
			Args:  cobra.RangeArgs(2, 3),
			RunE:  runLine(opts, "images", "url"),
		},
	)
	return cmd
}
