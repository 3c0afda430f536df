package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/korero-labs/agstore/internal/ag"
)

// LayerInfo is the JSON shape of one schema layer.
type LayerInfo struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Parent    string `json:"parent,omitempty"`
	Alignment string `json:"alignment"`
	Scope     string `json:"scope,omitempty"`
	Class     string `json:"class,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	Peers     bool   `json:"peers"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List the database's layer schema",
		Long: `List every layer the database knows: temporal layers in save order,
structural pseudo-layers, and attribute-class layers.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, cmd)
		},
	}
	return cmd
}

func runSchema(opts *RootOptions, cmd *cobra.Command) error {
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

	var infos []LayerInfo
	var text strings.Builder
	for _, l := range s.Schema().Layers() {
		infos = append(infos, LayerInfo{
			ID:        l.ID,
			Number:    l.Number,
			Parent:    l.ParentID,
			Alignment: alignmentName(l.Alignment),
			Scope:     string(l.Scope),
			Class:     l.Class,
			Attribute: l.Attribute,
			Peers:     l.Peers,
		})
		fmt.Fprintf(&text, "%6d  %-24s  %-8s  %-8s  %s\n",
			l.Number, l.ID, alignmentName(l.Alignment), l.Scope, l.ParentID)
	}
	return formatter.SuccessText(text.String(), infos)
}

func alignmentName(a ag.Alignment) string {
	switch a {
	case ag.AlignmentPoint:
		return "point"
	case ag.AlignmentInterval:
		return "interval"
	default:
		return "none"
	}
}
