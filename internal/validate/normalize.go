package validate

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/korero-labs/agstore/internal/ag"
)

// A Normalizer applies the mechanical repairs a save expects to have been
// done: NFC label normalization, ordinal compaction within peer groups,
// and anchor re-sharing on tag layers. Repairs mark the touched entities
// so the save persists them.
type Normalizer struct{}

// NewNormalizer returns the standard normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize implements the store's pre-save repair pass.
func (n *Normalizer) Normalize(g *ag.Graph) {
	n.normalizeLabels(g)
	n.compactOrdinals(g)
	n.reshareTagAnchors(g)
}

func (n *Normalizer) normalizeLabels(g *ag.Graph) {
	for _, a := range g.Annotations() {
		if a.Change() == ag.Destroy {
			continue
		}
		label := norm.NFC.String(a.Label)
		if label != a.Label {
			a.SetLabel(label, a.Confidence)
		}
	}
}

// compactOrdinals renumbers same-parent peers 1..n, preserving their
// current relative order. Deleting a peer leaves a gap; this closes it.
func (n *Normalizer) compactOrdinals(g *ag.Graph) {
	schema := g.Schema()
	for _, layer := range schema.Layers() {
		if !layer.Temporal() || layer.Number < 0 || !layer.Peers {
			continue
		}
		byParent := make(map[string][]*ag.Annotation)
		for _, a := range g.All(layer.ID) {
			if a.Change() == ag.Destroy {
				continue
			}
			byParent[a.ParentID] = append(byParent[a.ParentID], a)
		}
		for _, peers := range byParent {
			sort.SliceStable(peers, func(i, j int) bool {
				return peers[i].Ordinal < peers[j].Ordinal
			})
			for i, a := range peers {
				if a.Ordinal != i+1 {
					a.SetOrdinal(i + 1)
				}
			}
		}
	}
}

// reshareTagAnchors points tag annotations back at their parent's anchors.
// Tags have no temporal extent of their own, so any divergence is stale
// state from a parent that moved.
func (n *Normalizer) reshareTagAnchors(g *ag.Graph) {
	schema := g.Schema()
	for _, a := range g.Annotations() {
		if a.Change() == ag.Destroy {
			continue
		}
		layer := schema.Layer(a.LayerID)
		if layer == nil || !layer.Temporal() || layer.Number < 0 || !layer.Tag() {
			continue
		}
		parent := g.Annotation(a.ParentID)
		if parent == nil {
			continue
		}
		if a.StartID != parent.StartID || a.EndID != parent.EndID {
			a.SetAnchors(parent.StartID, parent.EndID)
		}
	}
}

// A Censor obscures speech inside matched spans before it is persisted.
// The pattern selects annotations on the configured layers; the word
// tokens under each matched span have their labels rewritten to the
// replacement token. A matched word censors itself. With no layers
// configured every layer is a selector.
type Censor struct {
	Pattern     *regexp.Regexp
	Replacement string
	Layers      []string
}

// Apply implements the store's censor hook.
func (c *Censor) Apply(g *ag.Graph) {
	if c.Pattern == nil {
		return
	}
	wordLayer := g.Schema().Roots().Word
	for _, a := range g.Annotations() {
		if a.Change() == ag.Destroy {
			continue
		}
		if len(c.Layers) > 0 && !contains(c.Layers, a.LayerID) {
			continue
		}
		if !c.Pattern.MatchString(a.Label) {
			continue
		}
		if a.LayerID == wordLayer {
			a.SetLabel(c.Replacement, a.Confidence)
			continue
		}
		// Words under the span, by ancestry where the hierarchy links
		// them and by temporal inclusion for sibling spans (utterances,
		// freeform noise) that are not word ancestors.
		for _, w := range g.All(wordLayer) {
			if g.Ancestor(w, a.ID) || g.Includes(a, w) {
				w.SetLabel(c.Replacement, w.Confidence)
			}
		}
	}
}

func contains(layers []string, id string) bool {
	for _, l := range layers {
		if strings.EqualFold(l, id) {
			return true
		}
	}
	return false
}
