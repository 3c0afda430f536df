package querysql

import "github.com/korero-labs/agstore/internal/ag"

// fixtureSchema is the layer hierarchy shared by the translator tests:
// a conventional transcription schema with word tags, segments, a freeform
// noise layer, and transcript/participant attribute classes.
func fixtureSchema() *ag.Schema {
	layers := []ag.Layer{
		{ID: "who", Number: ag.NumberParticipant, Alignment: ag.AlignmentNone, Scope: ag.ScopeMeta, Peers: true},
		{ID: "turn", Number: 11, ParentID: "who", Alignment: ag.AlignmentInterval, Scope: ag.ScopeMeta, Peers: true, PeersOverlap: true},
		{ID: "utterance", Number: 12, ParentID: "turn", Alignment: ag.AlignmentInterval, Scope: ag.ScopeMeta, Peers: true, Saturated: true, ParentIncludes: true},
		{ID: "word", Number: 0, ParentID: "turn", Alignment: ag.AlignmentInterval, Scope: ag.ScopeWord, Peers: true, ParentIncludes: true},
		{ID: "orthography", Number: 2, ParentID: "word", Alignment: ag.AlignmentNone, Scope: ag.ScopeWord, ParentIncludes: true},
		{ID: "pos", Number: 30, ParentID: "word", Alignment: ag.AlignmentNone, Scope: ag.ScopeWord, Peers: true, ParentIncludes: true},
		{ID: "segment", Number: 1, ParentID: "word", Alignment: ag.AlignmentInterval, Scope: ag.ScopeSegment, Peers: true, Saturated: true, ParentIncludes: true, Type: ag.TypeIPA},
		{ID: "noise", Number: 32, Alignment: ag.AlignmentInterval, Scope: ag.ScopeFreeform, Peers: true, PeersOverlap: true},
		{ID: "transcript_language", Class: ag.ClassTranscript, Attribute: "language", Access: true},
		{ID: "transcript_scribe", Class: ag.ClassTranscript, Attribute: "scribe"},
		{ID: "participant_gender", Class: ag.ClassParticipant, Attribute: "gender", Access: true},
	}
	roots := ag.Roots{
		Participant: "who",
		Turn:        "turn",
		Utterance:   "utterance",
		Word:        "word",
		Segment:     "segment",
		Episode:     "episode",
		Corpus:      "corpus",
	}
	return ag.NewSchema(layers, roots)
}
