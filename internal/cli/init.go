package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/korero-labs/agstore/internal/cuedef"
)

// InitResult reports what an init run created.
type InitResult struct {
	Database   string `json:"database"`
	Layers     int    `json:"layers"`
	Attributes int    `json:"attributes"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <schema.cue>...",
		Short: "Create a database and seed its layer schema",
		Long: `Create the SQLite database (if it does not exist) and seed its layer
schema from one or more CUE definition files.

Each file declares temporal layers and transcript/participant attribute
definitions. Re-running init upserts existing layers in place, so schema
files can evolve without dropping data.

Example:
  agstore init --db corpus.db schema/transcription.cue`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runInit(opts *RootOptions, schemaFiles []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := openStore(opts, true)
	if err != nil {
		return err
	}
	defer s.Close()

	result := InitResult{Database: opts.Database}
	for _, path := range schemaFiles {
		formatter.VerboseLog("compiling %s", path)
		seed, err := cuedef.LoadFile(path)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to compile %s", path), err)
		}
		if err := cuedef.Apply(cmd.Context(), s.DB(), seed); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to apply %s", path), err)
		}
		result.Layers += len(seed.Layers)
		result.Attributes += len(seed.Attributes)
	}

	return formatter.SuccessText(
		fmt.Sprintf("seeded %d layers and %d attributes into %s\n",
			result.Layers, result.Attributes, result.Database),
		result)
}
