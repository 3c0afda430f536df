package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Layers []string
}

// TranscriptSummary is the JSON shape of a show result.
type TranscriptSummary struct {
	Transcript   string              `json:"transcript"`
	Corpus       string              `json:"corpus,omitempty"`
	Episode      string              `json:"episode,omitempty"`
	Type         string              `json:"type,omitempty"`
	Participants []string            `json:"participants,omitempty"`
	Layers       map[string][]string `json:"layers"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <transcript>",
		Short: "Summarise one transcript",
		Long: `Load a transcript and print its metadata plus the labels of the
requested layers in transcript order.

Example:
  agstore show hello.trs --layers word,pos`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Layers, "layers", []string{"word"}, "layers to load")

	return cmd
}

func runShow(opts *ShowOptions, transcriptID string, cmd *cobra.Command) error {
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

	layerIDs := append([]string{"corpus", "episode", "transcript_type", "who"}, opts.Layers...)
	g, err := s.GetTranscript(cmd.Context(), opts.access(), transcriptID, layerIDs)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("failed to load %s", transcriptID), err)
	}

	summary := TranscriptSummary{
		Transcript:   g.ID,
		Participants: g.Labels("who"),
		Layers:       make(map[string][]string, len(opts.Layers)),
	}
	if c := g.First("corpus"); c != nil {
		summary.Corpus = c.Label
	}
	if e := g.First("episode"); e != nil {
		summary.Episode = e.Label
	}
	if tt := g.First("transcript_type"); tt != nil {
		summary.Type = tt.Label
	}
	for _, layerID := range opts.Layers {
		summary.Layers[layerID] = g.Labels(layerID)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n", summary.Transcript)
	if summary.Corpus != "" {
		fmt.Fprintf(&text, "  corpus:       %s\n", summary.Corpus)
	}
	if summary.Episode != "" {
		fmt.Fprintf(&text, "  episode:      %s\n", summary.Episode)
	}
	if summary.Type != "" {
		fmt.Fprintf(&text, "  type:         %s\n", summary.Type)
	}
	if len(summary.Participants) > 0 {
		fmt.Fprintf(&text, "  participants: %s\n", strings.Join(summary.Participants, ", "))
	}
	for _, layerID := range opts.Layers {
		fmt.Fprintf(&text, "  %s: %s\n", layerID, strings.Join(summary.Layers[layerID], " "))
	}
	return formatter.SuccessText(text.String(), summary)
}
