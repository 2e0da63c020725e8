package main

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/a11ycrawl/internal/config"
)

//go:embed templates/a11ycrawl.yaml
var configTemplate embed.FS

// configFileName is the default configuration file name.
const configFileName = config.DefaultConfigFile

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a commented .a11ycrawl site configuration file",
		Long: `Init writes a .a11ycrawl site configuration file to the current directory.

The generated file includes:
- Default crawl depth, page limit and ignore patterns
- Commented per-site examples: cookies, headers and an auth block
- Smart authentication with protected and public paths

Examples:
  # Create .a11ycrawl in current directory
  a11ycrawl init

  # Create config file at a specific path
  a11ycrawl init -o ~/.config/a11ycrawl/config.yaml

  # Force overwrite existing file
  a11ycrawl init -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", configFileName,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if err := writeSiteTemplate(outputPath, force); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit this file to configure per-site settings such as:")
	fmt.Fprintln(out, "  - Crawl depth and page limits")
	fmt.Fprintln(out, "  - URL patterns to ignore or follow")
	fmt.Fprintln(out, "  - Authentication for --use-auth")
	return nil
}

// writeSiteTemplate writes the embedded template to path with owner-only
// permissions. Without force an existing file is left untouched.
func writeSiteTemplate(path string, force bool) error {
	content, err := configTemplate.ReadFile("templates/a11ycrawl.yaml")
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	flag := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0600) //nolint:gosec // path is supplied by the user
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", path)
		}
		return fmt.Errorf("failed to create configuration file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return f.Close()
}
