package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags and resolved configuration shared by all
// commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string

	// Database, FilesRoot and User come from flags, the config file, or
	// AGSTORE_* environment variables, in that order of precedence.
	Database  string
	FilesRoot string
	User      string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the agstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "agstore",
		Short: "Annotation graph store",
		Long: `agstore manages temporally anchored transcript annotation graphs:
seed layer schemas from CUE, import YAML transcripts, and query
annotations, transcripts and participants with AGQL expressions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return loadConfig(cmd, opts)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (default agstore.yaml in . or ~/.agstore)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite database")
	cmd.PersistentFlags().StringVar(&opts.FilesRoot, "files", "", "root directory for annotation payload files")
	cmd.PersistentFlags().StringVar(&opts.User, "user", "", "acting user recorded on edits")

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
