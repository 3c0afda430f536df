// Package fixture builds annotation graphs from YAML transcript
// descriptions. Fixtures are the import format for tests and the CLI: a
// readable turn/utterance/word outline that compiles into a graph with
// every entity marked for creation, ready for a store save.
//
// Unknown YAML fields are rejected so a typo in a fixture fails loudly
// instead of silently dropping annotations.
package fixture

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/korero-labs/agstore/internal/ag"
)

// A Transcript is the YAML shape of one fixture.
type Transcript struct {
	Name           string            `yaml:"name"`
	Corpus         string            `yaml:"corpus,omitempty"`
	Episode        string            `yaml:"episode,omitempty"`
	TranscriptType string            `yaml:"transcript_type,omitempty"`
	AudioPrompt    string            `yaml:"audio_prompt,omitempty"`
	Attributes     map[string]string `yaml:"attributes,omitempty"`
	Participants   []Participant     `yaml:"participants,omitempty"`
	Turns          []Turn            `yaml:"turns,omitempty"`
	Freeform       []Span            `yaml:"freeform,omitempty"`
}

// A Participant names one speaker and their attribute values.
type Participant struct {
	Name       string            `yaml:"name"`
	Main       bool              `yaml:"main,omitempty"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

// A Turn is one speaker's contiguous stretch of speech.
type Turn struct {
	Who        string      `yaml:"who"`
	Start      float64     `yaml:"start"`
	End        float64     `yaml:"end"`
	Utterances []Utterance `yaml:"utterances,omitempty"`
}

// An Utterance is one line of a turn, holding its word tokens.
type Utterance struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
	Words []Word  `yaml:"words,omitempty"`
}

// A Word is one token. Offsets are optional; words without them chain
// unaligned anchors off the previous word, the way a transcript reads
// before forced alignment has run.
type Word struct {
	Label    string            `yaml:"label"`
	Start    *float64          `yaml:"start,omitempty"`
	End      *float64          `yaml:"end,omitempty"`
	Tags     map[string]string `yaml:"tags,omitempty"`
	Segments []Segment         `yaml:"segments,omitempty"`
}

// A Segment is one sub-word unit, usually a phone.
type Segment struct {
	Label string   `yaml:"label"`
	Start *float64 `yaml:"start,omitempty"`
	End   *float64 `yaml:"end,omitempty"`
}

// A Span is a free-floating annotation outside the turn structure.
type Span struct {
	Layer string  `yaml:"layer"`
	Label string  `yaml:"label"`
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
}

// Load reads and compiles a fixture file.
func Load(path string, schema *ag.Schema) (*ag.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, schema)
}

// Parse decodes a fixture and compiles it into a graph.
func Parse(r io.Reader, schema *ag.Schema) (*ag.Graph, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var t Transcript
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return t.Graph(schema)
}

// Graph compiles the fixture into an annotation graph marked for creation.
func (t *Transcript) Graph(schema *ag.Schema) (*ag.Graph, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("fixture has no transcript name")
	}
	roots := schema.Roots()
	for _, required := range []struct{ name, id string }{
		{"participant", roots.Participant},
		{"turn", roots.Turn},
		{"word", roots.Word},
	} {
		if required.id == "" || schema.Layer(required.id) == nil {
			return nil, fmt.Errorf("schema has no %s layer", required.name)
		}
	}

	g := ag.NewGraph(t.Name, schema)
	g.MarkCreate()
	b := &builder{g: g, schema: schema, participants: make(map[string]*ag.Annotation)}

	b.metaTag(roots.Corpus, t.Corpus)
	b.metaTag(roots.Episode, t.Episode)
	b.metaTag("transcript_type", t.TranscriptType)
	b.metaTag("audio_prompt", t.AudioPrompt)

	for _, attr := range sortedKeys(t.Attributes) {
		layer := b.attributeLayer(ag.ClassTranscript, attr)
		if layer == nil {
			return nil, fmt.Errorf("transcript attribute %q is not defined in the schema", attr)
		}
		g.AddAnnotation(ag.NewAnnotation(layer.ID, t.Attributes[attr], "", "", ""))
	}

	for _, p := range t.Participants {
		if err := b.participant(p); err != nil {
			return nil, err
		}
	}
	for i, turn := range t.Turns {
		if err := b.turn(i, turn); err != nil {
			return nil, err
		}
	}
	for _, span := range t.Freeform {
		layer := schema.Layer(span.Layer)
		if layer == nil || !layer.Temporal() || layer.Scope != ag.ScopeFreeform {
			return nil, fmt.Errorf("freeform span %q names no freeform layer", span.Layer)
		}
		start := g.AddAnchor(ag.NewAnchor(ag.Offsetp(span.Start), ag.ConfidenceManual))
		end := g.AddAnchor(ag.NewAnchor(ag.Offsetp(span.End), ag.ConfidenceManual))
		g.AddAnnotation(ag.NewAnnotation(layer.ID, span.Label, start.ID, end.ID, ""))
	}
	return g, nil
}

type builder struct {
	g            *ag.Graph
	schema       *ag.Schema
	participants map[string]*ag.Annotation
}

// metaTag adds a graph tag on a structural pseudo-layer. Graph tags are
// anchored to the transcript extremes at load time, so fixtures leave
// their anchors empty.
func (b *builder) metaTag(layerID, label string) {
	if label == "" || layerID == "" || b.schema.Layer(layerID) == nil {
		return
	}
	b.g.AddAnnotation(ag.NewAnnotation(layerID, label, "", "", ""))
}

func (b *builder) attributeLayer(class, attribute string) *ag.Layer {
	for _, l := range b.schema.Layers() {
		if l.Class == class && l.Attribute == attribute {
			return l
		}
	}
	return nil
}

func (b *builder) participant(p Participant) error {
	if p.Name == "" {
		return fmt.Errorf("fixture participant has no name")
	}
	roots := b.schema.Roots()
	who := b.g.AddAnnotation(ag.NewAnnotation(roots.Participant, p.Name, "", "", ""))
	b.participants[p.Name] = who

	if p.Main {
		if main := b.schema.Layer("main_participant"); main != nil {
			b.g.AddAnnotation(ag.NewAnnotation(main.ID, p.Name, "", "", who.ID))
		}
	}
	for _, attr := range sortedKeys(p.Attributes) {
		layer := b.attributeLayer(ag.ClassParticipant, attr)
		if layer == nil {
			return fmt.Errorf("participant attribute %q is not defined in the schema", attr)
		}
		b.g.AddAnnotation(ag.NewAnnotation(layer.ID, p.Attributes[attr], "", "", who.ID))
	}
	return nil
}

func (b *builder) turn(index int, t Turn) error {
	who, ok := b.participants[t.Who]
	if !ok {
		return fmt.Errorf("turn %d speaks as %q, who is not a declared participant", index+1, t.Who)
	}
	roots := b.schema.Roots()

	turnStart := b.g.AddAnchor(ag.NewAnchor(ag.Offsetp(t.Start), ag.ConfidenceManual))
	turnEnd := b.g.AddAnchor(ag.NewAnchor(ag.Offsetp(t.End), ag.ConfidenceManual))
	turn := b.g.AddAnnotation(ag.NewAnnotation(roots.Turn, t.Who, turnStart.ID, turnEnd.ID, who.ID))

	var prevEnd *ag.Anchor
	for _, u := range t.Utterances {
		uttStart := b.anchorAt(&u.Start, prevEnd)
		uttEnd := b.g.AddAnchor(ag.NewAnchor(ag.Offsetp(u.End), ag.ConfidenceManual))
		if roots.Utterance != "" && b.schema.Layer(roots.Utterance) != nil {
			b.g.AddAnnotation(ag.NewAnnotation(roots.Utterance, t.Who, uttStart.ID, uttEnd.ID, turn.ID))
		}

		wordPrev := uttStart
		for _, w := range u.Words {
			var err error
			wordPrev, err = b.word(turn, w, wordPrev)
			if err != nil {
				return err
			}
		}
		prevEnd = uttEnd
	}
	return nil
}

// word adds one token, chaining its start anchor to the previous word's
// end so adjacent words share anchors.
func (b *builder) word(turn *ag.Annotation, w Word, prev *ag.Anchor) (*ag.Anchor, error) {
	if w.Label == "" {
		return nil, fmt.Errorf("turn %q contains a word with no label", turn.Label)
	}
	roots := b.schema.Roots()

	start := b.anchorAt(w.Start, prev)
	var end *ag.Anchor
	if w.End != nil {
		end = b.g.AddAnchor(ag.NewAnchor(ag.Offsetp(*w.End), ag.ConfidenceManual))
	} else {
		end = b.g.AddAnchor(ag.NewAnchor(nil, ag.ConfidenceNone))
	}

	word := b.g.AddAnnotation(ag.NewAnnotation(roots.Word, w.Label, start.ID, end.ID, turn.ID))

	for _, layerID := range sortedKeys(w.Tags) {
		layer := b.schema.Layer(layerID)
		if layer == nil || !layer.Temporal() || !layer.Tag() {
			return nil, fmt.Errorf("word %q tags unknown tag layer %q", w.Label, layerID)
		}
		b.g.AddAnnotation(ag.NewAnnotation(layer.ID, w.Tags[layerID], word.StartID, word.EndID, word.ID))
	}

	if len(w.Segments) > 0 {
		if roots.Segment == "" || b.schema.Layer(roots.Segment) == nil {
			return nil, fmt.Errorf("word %q has segments but the schema has no segment layer", w.Label)
		}
		segPrev := start
		for _, seg := range w.Segments {
			segStart := b.anchorAt(seg.Start, segPrev)
			var segEnd *ag.Anchor
			if seg.End != nil {
				segEnd = b.g.AddAnchor(ag.NewAnchor(ag.Offsetp(*seg.End), ag.ConfidenceManual))
			} else {
				segEnd = b.g.AddAnchor(ag.NewAnchor(nil, ag.ConfidenceNone))
			}
			b.g.AddAnnotation(ag.NewAnnotation(roots.Segment, seg.Label, segStart.ID, segEnd.ID, word.ID))
			segPrev = segEnd
		}
	}
	return end, nil
}

// anchorAt reuses the previous boundary anchor when the requested offset
// matches it (or when no offset is given), otherwise creates a new anchor.
func (b *builder) anchorAt(offset *float64, prev *ag.Anchor) *ag.Anchor {
	if offset == nil {
		if prev != nil {
			return prev
		}
		return b.g.AddAnchor(ag.NewAnchor(nil, ag.ConfidenceNone))
	}
	if prev != nil && prev.OffsetEquals(*offset) {
		return prev
	}
	return b.g.AddAnchor(ag.NewAnchor(ag.Offsetp(*offset), ag.ConfidenceManual))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
