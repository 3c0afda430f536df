package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/korero-labs/agstore/internal/fixture"
)

// ImportResult reports one imported transcript.
type ImportResult struct {
	File       string `json:"file"`
	Transcript string `json:"transcript"`
	Saved      bool   `json:"saved"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <transcript.yaml>...",
		Short: "Import YAML transcripts",
		Long: `Import one or more YAML transcript files. Each file describes
participants, turns, utterances and words; the whole document is saved as
one new annotation graph.

Example:
  agstore import --db corpus.db --user ed transcripts/*.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runImport(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := openStore(opts, false)
	if err != nil {
		return err
	}
	defer s.Close()

	var results []ImportResult
	var text strings.Builder
	for _, path := range files {
		g, err := fixture.Load(path, s.Schema())
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to parse %s", path), err)
		}
		formatter.VerboseLog("saving %s (%d annotations)", g.ID, g.AnnotationCount())
		changed, err := s.SaveTranscript(cmd.Context(), opts.access(), g)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to save %s", g.ID), err)
		}
		results = append(results, ImportResult{File: path, Transcript: g.ID, Saved: changed})
		fmt.Fprintf(&text, "imported %s from %s\n", g.ID, path)
	}
	return formatter.SuccessText(text.String(), results)
}
