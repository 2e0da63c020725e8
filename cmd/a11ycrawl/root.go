package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for a11ycrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "a11ycrawl",
		Short: "Discover the pages of a web site for accessibility audits",
		Long: `a11ycrawl discovers the pages of a web site so that they can be audited for
accessibility. It merges three discovery paths into one report:

- sitemap.xml and robots.txt declarations
- a breadth-first traversal of same-host links
- interactive discovery in a real browser for script-driven navigation

With --use-auth the crawl logs in first (form, SSO live session, API key or
custom cookies/headers) and falls back to anonymous access where allowed.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().String("log-format", "text", "Log format: text or json")

	// Add subcommands
	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewAuthCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
