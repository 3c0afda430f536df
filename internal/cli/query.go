package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Kind       string // "annotation" | "transcript" | "participant"
	Count      bool
	PageLength int
	PageNumber int
}

// validKinds are the queryable entity kinds.
var validKinds = []string{"annotation", "transcript", "participant"}

// AnnotationResult is the JSON shape of one matched annotation.
type AnnotationResult struct {
	ID      string `json:"id"`
	Layer   string `json:"layer"`
	Label   string `json:"label"`
	Parent  string `json:"parent,omitempty"`
	Ordinal int    `json:"ordinal"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <expression>",
		Short: "Run an AGQL query",
		Long: `Run an AGQL expression against annotations, transcripts or participants.

Annotation expressions must pin a layer with layer.id == '...'; transcript
and participant expressions match on labels, attributes and related layers.

Example:
  agstore query "layer.id == 'orthography' && /^[A-Z]/.test(label)"
  agstore query --kind transcript "first('corpus').label == 'QB'"
  agstore query --kind participant --count "first('participant_gender').label == 'F'"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "annotation", "entity kind (annotation|transcript|participant)")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print the match count instead of the matches")
	cmd.Flags().IntVar(&opts.PageLength, "page-length", 0, "page size, 0 for everything")
	cmd.Flags().IntVar(&opts.PageNumber, "page-number", 0, "zero-based page number")

	return cmd
}

func runQuery(opts *QueryOptions, expression string, cmd *cobra.Command) error {
	if !isValidKind(opts.Kind) {
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("invalid kind %q: must be one of %v", opts.Kind, validKinds), nil)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := openStore(opts.RootOptions, false)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	access := opts.access()

	if opts.Count {
		var n int
		switch opts.Kind {
		case "annotation":
			n, err = s.CountMatchingAnnotations(ctx, access, expression)
		case "transcript":
			n, err = s.CountMatchingTranscriptIDs(ctx, access, expression)
		case "participant":
			n, err = s.CountMatchingParticipantIDs(ctx, access, expression)
		}
		if err != nil {
			return WrapExitError(ExitFailure, "query failed", err)
		}
		return formatter.Success(n)
	}

	if opts.Kind == "annotation" {
		matches, err := s.GetMatchingAnnotations(ctx, access, expression, opts.PageLength, opts.PageNumber)
		if err != nil {
			return WrapExitError(ExitFailure, "query failed", err)
		}
		results := make([]AnnotationResult, 0, len(matches))
		var text strings.Builder
		for _, a := range matches {
			results = append(results, AnnotationResult{
				ID:      a.ID,
				Layer:   a.LayerID,
				Label:   a.Label,
				Parent:  a.ParentID,
				Ordinal: a.Ordinal,
			})
			fmt.Fprintf(&text, "%-16s  %-16s  %s\n", a.ID, a.LayerID, a.Label)
		}
		return formatter.SuccessText(text.String(), results)
	}

	var ids []string
	switch opts.Kind {
	case "transcript":
		ids, err = s.GetMatchingTranscriptIDs(ctx, access, expression, opts.PageLength, opts.PageNumber)
	case "participant":
		ids, err = s.GetMatchingParticipantIDs(ctx, access, expression, opts.PageLength, opts.PageNumber)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}
	var text strings.Builder
	for _, id := range ids {
		fmt.Fprintln(&text, id)
	}
	return formatter.SuccessText(text.String(), ids)
}

func isValidKind(kind string) bool {
	for _, k := range validKinds {
		if k == kind {
			return true
		}
	}
	return false
}
