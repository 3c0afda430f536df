package store

import (
	"sort"
	"strings"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/querysql"
)

// Fixed numeric identities of the structural layers. These numbers appear
// inside persisted annotation IDs, so they are part of the storage format.
const (
	numberWord      = 0
	numberSegment   = 1
	numberTurn      = 11
	numberUtterance = 12
)

// buildSchema reads the layer hierarchy once and assembles the immutable
// schema this store serves for its lifetime. Any SQL failure here is fatal:
// nothing else can function without a schema.
func (s *Store) buildSchema() (*ag.Schema, error) {
	const op = "build schema"

	layers, err := s.readTemporalLayers()
	if err != nil {
		return nil, storeErr(op, err)
	}
	if err := s.readValidLabels(layers); err != nil {
		return nil, storeErr(op, err)
	}
	if err := s.inferPhonologies(layers); err != nil {
		return nil, storeErr(op, err)
	}

	roots := ag.Roots{Episode: "episode", Corpus: "corpus"}
	for _, l := range layers {
		switch l.Number {
		case numberTurn:
			roots.Turn = l.ID
		case numberUtterance:
			roots.Utterance = l.ID
		case numberWord:
			roots.Word = l.ID
		case numberSegment:
			roots.Segment = l.ID
		}
	}

	all := structuralLayers()
	roots.Participant = all[0].ID
	all = append(all, layers...)

	attrs, err := s.readAttributeLayers()
	if err != nil {
		return nil, storeErr(op, err)
	}
	all = append(all, attrs...)

	return ag.NewSchema(all, roots), nil
}

// structuralLayers are the pseudo-layers that exist without rows in the
// layer table: participants, episodes, corpora and the fixed virtual
// transcript properties. Their reserved numbers are part of the ID format.
func structuralLayers() []ag.Layer {
	return []ag.Layer{
		{ID: "who", Number: ag.NumberParticipant, Scope: ag.ScopeMeta, Peers: true, Access: true},
		{ID: "main_participant", Number: ag.NumberMainParticipant, ParentID: "who", Scope: ag.ScopeMeta, Access: true},
		{ID: "audio_prompt", Number: ag.NumberAudioPrompt, Scope: ag.ScopeMeta, Access: true},
		{ID: "episode", Number: ag.NumberEpisode, Scope: ag.ScopeMeta, Access: true},
		{ID: "corpus", Number: ag.NumberCorpus, Scope: ag.ScopeMeta, Access: true},
		{ID: "transcript_type", Number: ag.NumberTranscriptType, Scope: ag.ScopeMeta, Access: true},
		{ID: "divergent", Class: ag.ClassTranscript, Attribute: "divergent", Access: true},
		{ID: "next_transcript", Class: ag.ClassTranscript, Attribute: "next", Access: true},
		{ID: "previous_transcript", Class: ag.ClassTranscript, Attribute: "previous", Access: true},
	}
}

// readTemporalLayers loads layer definitions in display order, with the
// transcription layers (word, segment, orthography) placed last so that
// generated layer lists put attribute-like tag layers first.
func (s *Store) readTemporalLayers() ([]ag.Layer, error) {
	rows, err := s.db.Query(`
		SELECT layer_id, short_description, description, COALESCE(parent_id, ''),
		       alignment, peers, peers_overlap, saturated, parent_includes,
		       scope, type, category, access
		FROM layer
		ORDER BY category, display_order, layer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var layers []ag.Layer
	for rows.Next() {
		var l ag.Layer
		var alignment int
		var scope string
		if err := rows.Scan(&l.Number, &l.ID, &l.Description, &l.ParentID,
			&alignment, &l.Peers, &l.PeersOverlap, &l.Saturated, &l.ParentIncludes,
			&scope, &l.Type, &l.Category, &l.Access); err != nil {
			return nil, err
		}
		l.Alignment = ag.Alignment(alignment)
		l.Scope = ag.Scope(scope)
		layers = append(layers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(layers, func(i, j int) bool {
		return transcriptionRank(&layers[i]) < transcriptionRank(&layers[j])
	})
	return layers, nil
}

// transcriptionRank sends word, segment and orthography to the end of the
// layer list, in that relative order.
func transcriptionRank(l *ag.Layer) int {
	switch {
	case l.ID == "orthography":
		return 3
	case l.Number == numberSegment:
		return 2
	case l.Number == numberWord:
		return 1
	default:
		return 0
	}
}

func (s *Store) readValidLabels(layers []ag.Layer) error {
	rows, err := s.db.Query(`SELECT layer_id, label, display FROM valid_label`)
	if err != nil {
		return err
	}
	defer rows.Close()

	byNumber := make(map[int]*ag.Layer, len(layers))
	for i := range layers {
		byNumber[layers[i].Number] = &layers[i]
	}
	for rows.Next() {
		var number int
		var label, display string
		if err := rows.Scan(&number, &label, &display); err != nil {
			return err
		}
		l := byNumber[number]
		if l == nil {
			continue
		}
		if l.ValidLabels == nil {
			l.ValidLabels = make(map[string]string)
		}
		l.ValidLabels[label] = display
	}
	return rows.Err()
}

// readAttributeLayers merges transcript- and participant-attribute
// definitions into the schema as attribute-class layers. The layer ID is
// the class-prefixed attribute name ("transcript_language").
func (s *Store) readAttributeLayers() ([]ag.Layer, error) {
	rows, err := s.db.Query(`
		SELECT class, attribute, label, type, access
		FROM attribute_definition
		ORDER BY class, display_order, attribute`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var layers []ag.Layer
	for rows.Next() {
		var class, attribute, label, typ string
		var access bool
		if err := rows.Scan(&class, &attribute, &label, &typ, &access); err != nil {
			return nil, err
		}
		l := ag.Layer{
			Attribute:   attribute,
			Description: label,
			Type:        typ,
			Access:      access,
		}
		switch class {
		case ag.ClassTranscript:
			l.ID = "transcript_" + attribute
			l.Class = ag.ClassTranscript
		case ag.ClassParticipant:
			l.ID = "participant_" + attribute
			l.Class = ag.ClassParticipant
			// Values hang off a participant, so the layer sits under
			// the participant layer; saves then order participants
			// before their attribute values.
			l.ParentID = "who"
		default:
			continue
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

// Tell-tale symbols of the phonemic alphabets the probe recognizes, in
// match precedence order. DISC encodes one phoneme per character including
// digit-like symbols; ARPAbet is ASCII with stress digits; SAMPA uses
// ASCII punctuation; anything with characters beyond ASCII is called IPA.
var phonologies = []struct {
	name     string
	telltale string
}{
	{"DISC", "JENQVIU@{$128679curFHPR"},
	{"ARPAbet", "0123456789"},
	{"SAMPA", "{@:\\}"},
}

// inferPhonologies assigns a valid-label alphabet to ipa-typed layers that
// have none configured, by probing the labels already stored. The inferred
// set is persisted so the probe runs at most once per layer.
func (s *Store) inferPhonologies(layers []ag.Layer) error {
	for i := range layers {
		l := &layers[i]
		if l.Type != ag.TypeIPA || len(l.ValidLabels) > 0 {
			continue
		}
		name, err := s.probePhonology(l)
		if err != nil {
			return err
		}
		l.Category = name
		if _, err := s.db.Exec(
			`UPDATE layer SET category = ? WHERE layer_id = ? AND category = ''`,
			name, l.Number); err != nil {
			return err
		}
		for _, symbol := range phonologySymbols(name) {
			if l.ValidLabels == nil {
				l.ValidLabels = make(map[string]string)
			}
			l.ValidLabels[symbol] = symbol
			if _, err := s.db.Exec(
				`INSERT OR IGNORE INTO valid_label (layer_id, label, display) VALUES (?, ?, ?)`,
				l.Number, symbol, symbol); err != nil {
				return err
			}
		}
	}
	return nil
}

// probePhonology samples stored labels and picks the first alphabet whose
// tell-tale symbols appear; plain ASCII with none of them falls through to
// IPA as the most permissive reading.
func (s *Store) probePhonology(l *ag.Layer) (string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT label FROM `+scopeTable(l.Scope)+` WHERE layer_id = ? LIMIT 200`,
		l.Number)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var sample strings.Builder
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return "", err
		}
		sample.WriteString(label)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	text := sample.String()
	for _, p := range phonologies {
		if strings.ContainsAny(text, p.telltale) {
			return p.name, nil
		}
	}
	return "IPA", nil
}

// phonologySymbols enumerates the label set persisted for an inferred
// alphabet. Only the segment symbols search actually filters on are listed;
// labels outside the set are still stored, just not offered for picking.
func phonologySymbols(name string) []string {
	switch name {
	case "DISC":
		return strings.Split("p b t d k g N m n l r f v T D s z S Z j x h w J _ C F H P E { V Q U @ i # $ u 3 1 2 4 5 6 7 8 9 I Y E / O", " ")
	case "ARPAbet":
		return strings.Split("AA AE AH AO AW AY B CH D DH EH ER EY F G HH IH IY JH K L M N NG OW OY P R S SH T TH UH UW V W Y Z ZH", " ")
	case "SAMPA":
		return strings.Split("p b t d k g N m n l r f v T D s z S Z j h w i: I e { V A: Q O: U u: 3: @ eI aI OI @U aU I@ e@ U@", " ")
	default:
		return nil
	}
}

// scopeTable names the annotation table for a layer scope.
func scopeTable(scope ag.Scope) string {
	return querysql.ScopeTable(scope)
}
