package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nao1215/a11ycrawl/internal/auth"
	"github.com/nao1215/a11ycrawl/internal/browser"
	"github.com/nao1215/a11ycrawl/internal/config"
	"github.com/nao1215/a11ycrawl/internal/log"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored authentication for crawls",
		Long: `Auth manages the auth configs and live sessions used by "crawl --use-auth".

Stored files live in the auth state directory and are named
auth-config-<domain>-<timestamp>.json or live-session-<domain>-<timestamp>.json.
The newest file of a domain is used. Set ` + config.EnvAuthPassphrase + ` to seal
passwords, keys and tokens in stored configs.`,
	}
	cmd.PersistentFlags().String("auth-state-dir", config.AuthStateDir(),
		"Directory of stored auth configs and live sessions")

	cmd.AddCommand(newAuthSetupCmd())
	cmd.AddCommand(newAuthListCmd())
	return cmd
}

func newAuthSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup <url>",
		Short: "Detect the login of a site and store how to authenticate",
		Long: `Setup opens the site in a browser, detects the kind of login it uses and asks
for the details needed to log in again.

- basic: asks for the login URL, username, password and optional selectors
- api_key / custom: asks for the key or cookies
- sso / saml / oauth (or --live): opens a visible browser, waits for you to log
  in and captures the session cookies and storage

Examples:
  # Detect and configure
  a11ycrawl auth setup https://lms.example.edu

  # Capture a live session whatever the detected type
  a11ycrawl auth setup --live https://portal.example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			live, err := cmd.Flags().GetBool("live")
			if err != nil {
				return err
			}
			store, err := authStore(cmd)
			if err != nil {
				return err
			}
			logger := log.New(cmd.ErrOrStderr(), getLogFormatFlag(cmd), getVerboseFlag(cmd))
			w := &auth.Wizard{
				Launcher: &browser.RodLauncher{Logger: logger},
				Store:    store,
				Prompter: newTerminalPrompter(cmd.InOrStdin(), cmd.OutOrStdout()),
				Logger:   logger,
			}
			return runAuthSetup(cmd.Context(), w, normalizeTarget(args[0]), live, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Bool("live", false, "Capture a live browser session instead of credentials")
	return cmd
}

// runAuthSetup runs the wizard and prints what was saved.
func runAuthSetup(ctx context.Context, w *auth.Wizard, rawURL string, live bool, out io.Writer) error {
	fmt.Fprintf(out, "Inspecting %s...\n", rawURL)

	res, err := w.Run(ctx, rawURL, live)
	if err != nil {
		return fmt.Errorf("auth setup failed: %w", err)
	}

	if c := res.Classification; c != nil {
		fmt.Fprintf(out, "Detected: %s (%s)\n", c.Type, c.Reason)
	}
	if res.ConfigPath != "" {
		fmt.Fprintf(out, "Saved auth config: %s\n", res.ConfigPath)
	}
	if res.SessionPath != "" {
		fmt.Fprintf(out, "Saved live session: %s\n", res.SessionPath)
	}
	if res.ConfigPath == "" && res.SessionPath == "" {
		fmt.Fprintln(out, "Nothing saved: the site does not need authentication.")
		return nil
	}
	if res.ConfigPath != "" && os.Getenv(config.EnvAuthPassphrase) == "" {
		fmt.Fprintf(out, "Credentials are stored unsealed; set %s to seal them.\n", config.EnvAuthPassphrase)
	}
	fmt.Fprintf(out, "\nRun: a11ycrawl crawl --use-auth %s\n", rawURL)
	return nil
}

func newAuthListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [domain]",
		Short: "List stored auth configs and live sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := authStore(cmd)
			if err != nil {
				return err
			}
			domain := ""
			if len(args) == 1 {
				domain = config.NormalizeHost(args[0])
			}
			return runAuthList(store, domain, cmd.OutOrStdout())
		},
	}
	return cmd
}

// runAuthList prints the stored files, newest first.
func runAuthList(store *auth.Store, domain string, out io.Writer) error {
	entries, err := store.List()
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		if domain != "" && e.Domain != auth.FileDomain(domain) {
			continue
		}
		authType := string(e.AuthType)
		if e.Kind == auth.KindLiveSession {
			authType = "-"
		}
		rows = append(rows, []string{
			e.Domain,
			string(e.Kind),
			authType,
			e.SavedAt.Local().Format(time.DateTime),
			e.Path,
		})
	}

	if len(rows) == 0 {
		fmt.Fprintf(out, "No stored authentication in %s\n", store.Dir())
		return nil
	}

	fmt.Fprintln(out, newTable(out, []string{"DOMAIN", "KIND", "AUTH TYPE", "SAVED", "PATH"}, rows).Render())
	return nil
}

// authStore opens the store named by --auth-state-dir.
func authStore(cmd *cobra.Command) (*auth.Store, error) {
	dir, err := cmd.Flags().GetString("auth-state-dir")
	if err != nil {
		return nil, err
	}
	sealer := auth.NewSealer(os.Getenv(config.EnvAuthPassphrase))
	return auth.NewStore(dir, auth.WithSealer(sealer)), nil
}

// newTable renders rows with a bold header. Styles degrade to plain text
// when out is not a terminal.
func newTable(out io.Writer, headers []string, rows [][]string) *table.Table {
	r := lipgloss.NewRenderer(out)
	header := r.NewStyle().Bold(true).Padding(0, 1)
	cell := r.NewStyle().Padding(0, 1)

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
}

// truncate shortens s to n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
