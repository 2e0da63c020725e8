package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/a11ycrawl/internal/config"
	"github.com/nao1215/a11ycrawl/internal/database"
	"github.com/nao1215/a11ycrawl/internal/report"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [domain]",
		Short: "List past crawls",
		Long: `History lists the crawls recorded in the crawl history database, newest first.

Examples:
  # Every crawl
  a11ycrawl history

  # Crawls of one site
  a11ycrawl history www.example.com

  # Pages of one crawl
  a11ycrawl history --show 6f1c2a9e-...

  # Remove one crawl
  a11ycrawl history --delete 6f1c2a9e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().String("db-dir", config.XDGDataDir(), "Directory of the crawl history database")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of crawls listed (0 = all)")
	cmd.Flags().String("show", "", "Print the report and pages of this crawl ID")
	cmd.Flags().String("delete", "", "Remove this crawl ID from the history")
	cmd.Flags().BoolP("json", "j", false, "Print the report of --show as JSON")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	dbDir, err := flags.GetString("db-dir")
	if err != nil {
		return err
	}
	limit, err := flags.GetInt("limit")
	if err != nil {
		return err
	}
	show, err := flags.GetString("show")
	if err != nil {
		return err
	}
	del, err := flags.GetString("delete")
	if err != nil {
		return err
	}
	asJSON, err := flags.GetBool("json")
	if err != nil {
		return err
	}

	db, err := database.Open(dbDir, database.Options{CreateIfNotExists: false, EnableWAL: true})
	if err != nil {
		return fmt.Errorf("no crawl history found: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	switch {
	case del != "":
		removed, err := db.DeleteCrawl(ctx, del)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("crawl not found: %s", del)
		}
		fmt.Fprintf(out, "Removed crawl %s\n", del)
		return nil
	case show != "":
		return showCrawl(ctx, db, show, asJSON, out)
	}

	domain := ""
	if len(args) == 1 {
		domain = args[0]
	}
	return listCrawls(ctx, db, domain, limit, out)
}

// listCrawls prints a table of past crawls.
func listCrawls(ctx context.Context, db *database.CrawlDB, domain string, limit int, out io.Writer) error {
	crawls, err := db.ListCrawls(ctx, domain, limit)
	if err != nil {
		return err
	}
	if len(crawls) == 0 {
		if domain != "" {
			fmt.Fprintf(out, "No crawls recorded for %s\n", database.Domain(domain))
		} else {
			fmt.Fprintln(out, "No crawls recorded")
		}
		return nil
	}

	rows := make([][]string, 0, len(crawls))
	for _, c := range crawls {
		status := "complete"
		if c.Stopped {
			status = "stopped"
		}
		auth := string(c.AuthCompleteness)
		if auth == "" {
			auth = "none"
		}
		rows = append(rows, []string{
			c.CrawlID,
			c.StartTime.Local().Format(time.DateTime),
			c.Domain,
			c.TestName,
			strconv.Itoa(c.Pages),
			strconv.Itoa(c.Errors),
			auth,
			status,
		})
	}
	headers := []string{"CRAWL ID", "STARTED", "DOMAIN", "TEST NAME", "PAGES", "ERRORS", "AUTH", "STATUS"}
	fmt.Fprintln(out, newTable(out, headers, rows).Render())
	return nil
}

// showCrawl prints one stored crawl: its summary and page list, or the
// full report as JSON.
func showCrawl(ctx context.Context, db *database.CrawlDB, crawlID string, asJSON bool, out io.Writer) error {
	rep, err := db.GetCrawl(ctx, crawlID)
	if err != nil {
		return err
	}
	if rep == nil {
		return fmt.Errorf("crawl not found: %s", crawlID)
	}
	if asJSON {
		_, err := report.NewJSONWriter(out, report.WithPrettyPrint()).Write(rep)
		return err
	}

	if _, err := report.NewSimpleWriter(out, report.WithVerbose(true)).Write(rep); err != nil {
		return err
	}

	pages, err := db.GetPages(ctx, crawlID)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(pages))
	for _, p := range pages {
		status := "-"
		if p.StatusCode != 0 {
			status = strconv.Itoa(p.StatusCode)
		}
		rows = append(rows, []string{
			p.URL,
			string(p.Source),
			strconv.Itoa(p.Depth),
			status,
			truncate(p.Title, 40),
		})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, newTable(out, []string{"URL", "SOURCE", "DEPTH", "STATUS", "TITLE"}, rows).Render())
	return nil
}
