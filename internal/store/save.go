package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/agid"
	"github.com/korero-labs/agstore/internal/querysql"
)

// scopeTables lists the per-scope annotation tables, freeform first.
var scopeTables = []string{
	"annotation_freeform",
	"annotation_meta",
	"annotation_word",
	"annotation_segment",
}

// SaveTranscript persists a graph's marked changes in one transaction.
// Anchors are written before annotations so that annotation rows can
// reference real anchor IDs; annotations are written parents before
// children for the same reason; anchor deletions run last, and only for
// anchors nothing still references. Returns whether anything was written.
//
// On success the graph is pruned: destroyed entities are removed and all
// change states cleared, so the graph matches what is now stored.
func (s *Store) SaveTranscript(ctx context.Context, access AccessContext, g *ag.Graph) (bool, error) {
	const op = "save transcript"
	if g == nil {
		return false, storeErrf(op, "nil graph")
	}
	if err := s.requireEdit(ctx, access, op); err != nil {
		return false, err
	}
	if s.censor != nil {
		s.censor.Apply(g)
	}

	if !s.validationSkippable(g) {
		if s.normalizer != nil {
			s.normalizer.Normalize(g)
		}
		if s.validator != nil {
			if errs := s.validator.Validate(g); len(errs) > 0 {
				parts := make([]string, len(errs))
				for i, e := range errs {
					parts[i] = e.Error()
				}
				return false, storeErrf(op, "graph %s failed validation: %s", g.ID, strings.Join(parts, "; "))
			}
		}
	}

	var row *transcriptRow
	if g.Change() != ag.Create {
		var err error
		row, err = s.resolveTranscript(ctx, g.ID)
		if err != nil {
			return false, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr(op, err)
	}

	sv := &saver{
		s:              s,
		tx:             tx,
		ctx:            ctx,
		g:              g,
		row:            row,
		user:           access.User,
		now:            s.clock().UTC().Format(timeLayout),
		sideEffects:    make(map[string]*ag.Annotation),
		changedLayers:  make(map[string]bool),
		createdInLayer: make(map[string]bool),
	}
	if err := sv.run(); err != nil {
		tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, storeErr(op, err)
	}
	g.Prune()
	return sv.changed, nil
}

// validationSkippable reports whether every marked change is a plain update
// on a top-level childless tag layer. Those cannot break graph structure,
// so bulk label edits skip the full validation pass.
func (s *Store) validationSkippable(g *ag.Graph) bool {
	if g.Change() != ag.NoChange {
		return false
	}
	for _, a := range g.Anchors() {
		if a.Change() != ag.NoChange {
			return false
		}
	}
	for _, a := range g.Annotations() {
		switch a.Change() {
		case ag.NoChange:
			continue
		case ag.Update:
		default:
			return false
		}
		layer := s.schema.Layer(a.LayerID)
		if layer == nil || layer.ParentID != "" {
			return false
		}
		if layer.Alignment == ag.AlignmentInterval {
			return false
		}
		if len(s.schema.ChildLayers(layer.ID)) > 0 {
			return false
		}
	}
	return true
}

// A saver is the working state of one SaveTranscript transaction.
type saver struct {
	s    *Store
	tx   *sql.Tx
	ctx  context.Context
	g    *ag.Graph
	row  *transcriptRow
	user string
	now  string

	changed bool

	// sideEffects are unchanged annotations whose anchor or parent
	// references were rewritten when a created dependency got its real
	// ID. Their stored rows are stale and need one extra update.
	sideEffects map[string]*ag.Annotation

	// changedLayers and createdInLayer drive the post-save repairs.
	changedLayers  map[string]bool
	createdInLayer map[string]bool

	anchorDestroys []*ag.Anchor
}

func (sv *saver) run() error {
	switch sv.g.Change() {
	case ag.Destroy:
		return sv.destroyTranscript()
	case ag.Create:
		if err := sv.createTranscript(); err != nil {
			return err
		}
	}
	if err := sv.saveAnchors(); err != nil {
		return err
	}
	if err := sv.saveAnnotations(); err != nil {
		return err
	}
	if err := sv.saveSideEffects(); err != nil {
		return err
	}
	if err := sv.destroyAnchors(); err != nil {
		return err
	}
	if err := sv.repairTagAnchors(); err != nil {
		return err
	}
	if err := sv.relinkUtterances(); err != nil {
		return err
	}
	if err := sv.renumberPhrases(); err != nil {
		return err
	}
	return sv.checkAnchorOrder()
}

func (sv *saver) exec(op, query string, args ...any) (sql.Result, error) {
	res, err := sv.tx.ExecContext(sv.ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	return res, nil
}

func (sv *saver) destroyTranscript() error {
	const op = "destroy transcript"
	if _, err := sv.exec(op, `DELETE FROM anchor WHERE transcript_id = ?`, sv.row.id); err != nil {
		return err
	}
	if _, err := sv.exec(op, `DELETE FROM transcript WHERE transcript_id = ?`, sv.row.id); err != nil {
		return err
	}
	sv.changed = true
	return nil
}

func (sv *saver) createTranscript() error {
	const op = "create transcript"
	res, err := sv.exec(op,
		`INSERT INTO transcript (transcript_name, creator, create_time) VALUES (?, ?, ?)`,
		sv.g.ID, sv.user, sv.now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storeErr(op, err)
	}
	sv.row = &transcriptRow{id: id, name: sv.g.ID, creator: sv.user}
	sv.changed = true
	return nil
}

// annotator resolves the annotated_by value: the annotation's own annotator
// when recorded, otherwise the saving user.
func (sv *saver) annotator(name string) string {
	if name != "" {
		return name
	}
	return sv.user
}

// rename swaps an entity's temporary ID for its stored one. Unchanged
// dependents whose references were rewritten are queued for re-persisting.
func (sv *saver) rename(a *ag.Annotation, newID string) {
	for _, child := range sv.g.RenameAnnotation(a.ID, newID) {
		if child.Change() == ag.NoChange {
			sv.sideEffects[child.ID] = child
		}
	}
}

func (sv *saver) saveAnchors() error {
	const op = "save anchor"
	for _, a := range sv.g.Anchors() {
		switch a.Change() {
		case ag.Create:
			res, err := sv.exec(op,
				`INSERT INTO anchor (transcript_id, "offset", alignment_status, annotated_by, annotated_when) VALUES (?, ?, ?, ?, ?)`,
				sv.row.id, nullOffset(a.Offset), a.Confidence, sv.annotator(a.Annotator), sv.now)
			if err != nil {
				return err
			}
			rowID, err := res.LastInsertId()
			if err != nil {
				return storeErr(op, err)
			}
			for _, dep := range sv.g.RenameAnchor(a.ID, agid.Anchor(rowID)) {
				if dep.Change() == ag.NoChange {
					sv.sideEffects[dep.ID] = dep
				}
			}
			sv.changed = true
		case ag.Update:
			rowID, err := agid.DecodeAnchor(a.ID)
			if err != nil {
				return storeErr(op, err)
			}
			if _, err := sv.exec(op,
				`UPDATE anchor SET "offset" = ?, alignment_status = ?, annotated_by = ?, annotated_when = ? WHERE anchor_id = ? AND transcript_id = ?`,
				nullOffset(a.Offset), a.Confidence, sv.annotator(a.Annotator), sv.now, rowID, sv.row.id); err != nil {
				return err
			}
			sv.changed = true
		case ag.Destroy:
			sv.anchorDestroys = append(sv.anchorDestroys, a)
		}
	}
	return nil
}

// saveAnnotations writes creations and updates parents-first, then
// deletions children-first.
func (sv *saver) saveAnnotations() error {
	anns := sv.g.Annotations()
	var destroys []*ag.Annotation
	for _, a := range anns {
		switch a.Change() {
		case ag.Create, ag.Update:
			if err := sv.saveAnnotation(a); err != nil {
				return err
			}
		case ag.Destroy:
			destroys = append(destroys, a)
		}
	}
	for i := len(destroys) - 1; i >= 0; i-- {
		if err := sv.saveAnnotation(destroys[i]); err != nil {
			return err
		}
	}
	return nil
}

func (sv *saver) saveAnnotation(a *ag.Annotation) error {
	layer := sv.g.Schema().Layer(a.LayerID)
	if layer == nil {
		return storeErrf("save annotation", "unknown layer %q", a.LayerID)
	}
	sv.changedLayers[layer.ID] = true
	if a.Change() == ag.Create {
		sv.createdInLayer[layer.ID] = true
	}

	switch {
	case layer.Number == ag.NumberCorpus:
		return sv.saveCorpusTag(a)
	case layer.Number == ag.NumberEpisode:
		return sv.saveEpisodeTag(a)
	case layer.Number == ag.NumberTranscriptType:
		return sv.saveTypeTag(a)
	case layer.Number == ag.NumberAudioPrompt:
		return sv.saveAudioPromptTag(a)
	case layer.Number == ag.NumberParticipant:
		return sv.saveParticipantTag(a)
	case layer.Number == ag.NumberMainParticipant:
		return sv.saveMainParticipantTag(a)
	case layer.Class == ag.ClassTranscript:
		return sv.saveTranscriptAttribute(a, layer)
	case layer.Class == ag.ClassParticipant:
		return sv.saveParticipantAttribute(a, layer)
	case layer.Category == "episode":
		return sv.saveFamilyTag(a, layer)
	default:
		return sv.saveTemporal(a, layer)
	}
}

func (sv *saver) saveCorpusTag(a *ag.Annotation) error {
	const op = "save corpus"
	if a.Change() == ag.Destroy {
		if _, err := sv.exec(op, `UPDATE transcript SET corpus_name = NULL WHERE transcript_id = ?`, sv.row.id); err != nil {
			return err
		}
		sv.row.corpus = ""
		sv.changed = true
		return nil
	}
	if _, err := sv.exec(op, `INSERT OR IGNORE INTO corpus (corpus_name) VALUES (?)`, a.Label); err != nil {
		return err
	}
	if _, err := sv.exec(op, `UPDATE transcript SET corpus_name = ? WHERE transcript_id = ?`, a.Label, sv.row.id); err != nil {
		return err
	}
	sv.row.corpus = a.Label
	if a.Change() == ag.Create {
		var id int64
		if err := sv.tx.QueryRowContext(sv.ctx, `SELECT corpus_id FROM corpus WHERE corpus_name = ?`, a.Label).Scan(&id); err != nil {
			return storeErr(op, err)
		}
		sv.rename(a, agid.Meta(ag.NumberCorpus, id))
	}
	sv.changed = true
	return nil
}

func (sv *saver) saveEpisodeTag(a *ag.Annotation) error {
	const op = "save episode"
	if a.Change() == ag.Destroy {
		if _, err := sv.exec(op, `UPDATE transcript SET family_id = NULL WHERE transcript_id = ?`, sv.row.id); err != nil {
			return err
		}
		sv.row.familyID = sql.NullInt64{}
		sv.row.familyName = ""
		sv.changed = true
		return nil
	}
	if _, err := sv.exec(op, `INSERT OR IGNORE INTO transcript_family (name) VALUES (?)`, a.Label); err != nil {
		return err
	}
	var familyID int64
	if err := sv.tx.QueryRowContext(sv.ctx, `SELECT family_id FROM transcript_family WHERE name = ?`, a.Label).Scan(&familyID); err != nil {
		return storeErr(op, err)
	}
	if _, err := sv.exec(op, `UPDATE transcript SET family_id = ? WHERE transcript_id = ?`, familyID, sv.row.id); err != nil {
		return err
	}
	sv.row.familyID = sql.NullInt64{Int64: familyID, Valid: true}
	sv.row.familyName = a.Label
	if a.Change() == ag.Create {
		sv.rename(a, agid.Meta(ag.NumberEpisode, familyID))
	}
	sv.changed = true
	return nil
}

func (sv *saver) saveTypeTag(a *ag.Annotation) error {
	const op = "save transcript type"
	if a.Change() == ag.Destroy {
		if _, err := sv.exec(op, `UPDATE transcript SET transcript_type = NULL WHERE transcript_id = ?`, sv.row.id); err != nil {
			return err
		}
		sv.row.typ = ""
		sv.changed = true
		return nil
	}
	if _, err := sv.exec(op, `INSERT OR IGNORE INTO transcript_type (transcript_type) VALUES (?)`, a.Label); err != nil {
		return err
	}
	if _, err := sv.exec(op, `UPDATE transcript SET transcript_type = ? WHERE transcript_id = ?`, a.Label, sv.row.id); err != nil {
		return err
	}
	sv.row.typ = a.Label
	if a.Change() == ag.Create {
		var id int64
		if err := sv.tx.QueryRowContext(sv.ctx, `SELECT type_id FROM transcript_type WHERE transcript_type = ?`, a.Label).Scan(&id); err != nil {
			return storeErr(op, err)
		}
		sv.rename(a, agid.Meta(ag.NumberTranscriptType, id))
	}
	sv.changed = true
	return nil
}

func (sv *saver) saveAudioPromptTag(a *ag.Annotation) error {
	const op = "save audio prompt"
	prompt := a.Label
	if a.Change() == ag.Destroy {
		prompt = ""
	}
	if _, err := sv.exec(op, `UPDATE transcript SET audio_prompt = ? WHERE transcript_id = ?`, prompt, sv.row.id); err != nil {
		return err
	}
	sv.row.audioPrompt = prompt
	if a.Change() == ag.Create {
		sv.rename(a, agid.Meta(ag.NumberAudioPrompt, sv.row.id))
	}
	sv.changed = true
	return nil
}

func (sv *saver) saveParticipantTag(a *ag.Annotation) error {
	const op = "save participant"
	switch a.Change() {
	case ag.Create:
		if _, err := sv.exec(op, `INSERT OR IGNORE INTO speaker (name) VALUES (?)`, a.Label); err != nil {
			return err
		}
		var num int64
		if err := sv.tx.QueryRowContext(sv.ctx, `SELECT speaker_number FROM speaker WHERE name = ?`, a.Label).Scan(&num); err != nil {
			return storeErr(op, err)
		}
		if _, err := sv.exec(op, `INSERT OR IGNORE INTO transcript_speaker (transcript_id, speaker_number) VALUES (?, ?)`, sv.row.id, num); err != nil {
			return err
		}
		if sv.row.corpus != "" {
			if _, err := sv.exec(op, `INSERT OR IGNORE INTO corpus_speaker (corpus_name, speaker_number) VALUES (?, ?)`, sv.row.corpus, num); err != nil {
				return err
			}
		}
		sv.rename(a, agid.Meta(ag.NumberParticipant, num))
	case ag.Update:
		id, err := agid.Decode(a.ID)
		if err != nil {
			return storeErr(op, err)
		}
		if _, err := sv.exec(op, `UPDATE speaker SET name = ? WHERE speaker_number = ?`, a.Label, id.RowID); err != nil {
			return err
		}
	case ag.Destroy:
		id, err := agid.Decode(a.ID)
		if err != nil {
			return nil
		}
		if _, err := sv.exec(op, `DELETE FROM transcript_speaker WHERE transcript_id = ? AND speaker_number = ?`, sv.row.id, id.RowID); err != nil {
			return err
		}
	}
	sv.changed = true
	return nil
}

func (sv *saver) saveMainParticipantTag(a *ag.Annotation) error {
	const op = "save main participant"
	parent, err := agid.Decode(a.ParentID)
	if err != nil {
		return storeErrf(op, "annotation %s has no stored participant parent", a.ID)
	}
	main := 1
	if a.Change() == ag.Destroy {
		main = 0
	}
	if _, err := sv.exec(op, `UPDATE transcript_speaker SET main_speaker = ? WHERE transcript_id = ? AND speaker_number = ?`, main, sv.row.id, parent.RowID); err != nil {
		return err
	}
	if a.Change() == ag.Create {
		sv.rename(a, agid.Meta(ag.NumberMainParticipant, parent.RowID))
	}
	sv.changed = true
	return nil
}

func (sv *saver) saveTranscriptAttribute(a *ag.Annotation, layer *ag.Layer) error {
	const op = "save transcript attribute"
	insert := func() error {
		res, err := sv.exec(op,
			`INSERT INTO transcript_attribute (transcript_id, attribute, label, annotated_by, annotated_when) VALUES (?, ?, ?, ?, ?)`,
			sv.row.id, layer.Attribute, a.Label, sv.annotator(a.Annotator), sv.now)
		if err != nil {
			return err
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return storeErr(op, err)
		}
		sv.rename(a, agid.TranscriptAttribute(layer.Attribute, rowID))
		return nil
	}

	switch a.Change() {
	case ag.Create:
		if err := insert(); err != nil {
			return err
		}
	case ag.Update:
		id, err := agid.Decode(a.ID)
		if err != nil || id.Category != agid.CategoryTranscriptAttribute {
			if err := insert(); err != nil {
				return err
			}
			break
		}
		res, err := sv.exec(op,
			`UPDATE transcript_attribute SET label = ?, annotated_by = ?, annotated_when = ? WHERE attribute_id = ? AND transcript_id = ?`,
			a.Label, sv.annotator(a.Annotator), sv.now, id.RowID, sv.row.id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := insert(); err != nil {
				return err
			}
		}
	case ag.Destroy:
		id, err := agid.Decode(a.ID)
		if err != nil || id.Category != agid.CategoryTranscriptAttribute {
			return nil
		}
		if _, err := sv.exec(op, `DELETE FROM transcript_attribute WHERE attribute_id = ? AND transcript_id = ?`, id.RowID, sv.row.id); err != nil {
			return err
		}
	}
	sv.changed = true
	return nil
}

// saveParticipantAttribute has replace semantics on create: an attribute
// row may have been recreated out-of-band since this graph was loaded, so
// an identical row is removed before inserting.
func (sv *saver) saveParticipantAttribute(a *ag.Annotation, layer *ag.Layer) error {
	const op = "save participant attribute"
	parent, err := agid.Decode(a.ParentID)
	if err != nil {
		return storeErrf(op, "annotation %s has no stored participant parent", a.ID)
	}
	speaker := parent.RowID

	insert := func() error {
		if _, err := sv.exec(op,
			`DELETE FROM participant_attribute WHERE speaker_number = ? AND attribute = ? AND label = ?`,
			speaker, layer.Attribute, a.Label); err != nil {
			return err
		}
		res, err := sv.exec(op,
			`INSERT INTO participant_attribute (speaker_number, attribute, label, annotated_by, annotated_when) VALUES (?, ?, ?, ?, ?)`,
			speaker, layer.Attribute, a.Label, sv.annotator(a.Annotator), sv.now)
		if err != nil {
			return err
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return storeErr(op, err)
		}
		sv.rename(a, agid.ParticipantAttribute(layer.Attribute, rowID))
		return nil
	}

	switch a.Change() {
	case ag.Create:
		if err := insert(); err != nil {
			return err
		}
	case ag.Update:
		id, err := agid.Decode(a.ID)
		if err != nil || id.Category != agid.CategoryParticipantAttribute {
			if err := insert(); err != nil {
				return err
			}
			break
		}
		res, err := sv.exec(op,
			`UPDATE participant_attribute SET label = ?, annotated_by = ?, annotated_when = ? WHERE attribute_id = ? AND speaker_number = ?`,
			a.Label, sv.annotator(a.Annotator), sv.now, id.RowID, speaker)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := insert(); err != nil {
				return err
			}
		}
	case ag.Destroy:
		id, err := agid.Decode(a.ID)
		if err != nil || id.Category != agid.CategoryParticipantAttribute {
			return nil
		}
		if _, err := sv.exec(op, `DELETE FROM participant_attribute WHERE attribute_id = ? AND speaker_number = ?`, id.RowID, speaker); err != nil {
			return err
		}
	}
	sv.changed = true
	return nil
}

func (sv *saver) saveFamilyTag(a *ag.Annotation, layer *ag.Layer) error {
	const op = "save episode tag"
	switch a.Change() {
	case ag.Create:
		if !sv.row.familyID.Valid {
			return storeErrf(op, "transcript %s belongs to no episode", sv.row.name)
		}
		res, err := sv.exec(op,
			`INSERT INTO annotation_family (layer_id, family_id, label, label_status, annotated_by, annotated_when) VALUES (?, ?, ?, ?, ?, ?)`,
			layer.Number, sv.row.familyID.Int64, a.Label, a.Confidence, sv.annotator(a.Annotator), sv.now)
		if err != nil {
			return err
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return storeErr(op, err)
		}
		sv.rename(a, agid.Temporal(layer.Scope, layer.Number, rowID))
	case ag.Update:
		id, err := agid.DecodeAnnotation(a.ID)
		if err != nil {
			return storeErr(op, err)
		}
		if _, err := sv.exec(op,
			`UPDATE annotation_family SET label = ?, label_status = ?, annotated_by = ?, annotated_when = ? WHERE annotation_id = ?`,
			a.Label, a.Confidence, sv.annotator(a.Annotator), sv.now, id.RowID); err != nil {
			return err
		}
	case ag.Destroy:
		id, err := agid.DecodeAnnotation(a.ID)
		if err != nil {
			return nil
		}
		if _, err := sv.exec(op, `DELETE FROM annotation_family WHERE annotation_id = ?`, id.RowID); err != nil {
			return err
		}
	}
	sv.changed = true
	return nil
}

// structuralKeys are the denormalized ancestor references a scoped
// annotation row carries.
type structuralKeys struct {
	turn    sql.NullInt64
	ordTurn int
	word    sql.NullInt64
	ordWord int
	segment sql.NullInt64
}

// structuralKeys derives an annotation's scoped table keys from its
// ancestor chain. Ancestors are persisted parents-first, so by the time a
// child is written its turn/word/segment ancestors carry stored IDs. Roots
// that reference themselves (a word's word_annotation_id) are patched right
// after their own insert instead.
func (sv *saver) structuralKeys(a *ag.Annotation, layer *ag.Layer) (structuralKeys, error) {
	var k structuralKeys
	if layer.Scope == ag.ScopeFreeform {
		return k, nil
	}
	roots := sv.g.Schema().Roots()

	for _, anc := range sv.g.AncestorChain(a) {
		id, err := agid.DecodeAnnotation(anc.ID)
		if err != nil {
			return k, storeErrf("save annotation", "annotation %s references unsaved ancestor %s", a.ID, anc.ID)
		}
		switch anc.LayerID {
		case roots.Turn:
			if !k.turn.Valid {
				k.turn = sql.NullInt64{Int64: id.RowID, Valid: true}
			}
		case roots.Word:
			if !k.word.Valid {
				k.word = sql.NullInt64{Int64: id.RowID, Valid: true}
			}
		case roots.Segment:
			if !k.segment.Valid {
				k.segment = sql.NullInt64{Int64: id.RowID, Valid: true}
			}
		}
	}

	// The annotation's own row may be an ancestor key for updates.
	if id, err := agid.DecodeAnnotation(a.ID); err == nil {
		switch a.LayerID {
		case roots.Turn:
			k.turn = sql.NullInt64{Int64: id.RowID, Valid: true}
		case roots.Word:
			k.word = sql.NullInt64{Int64: id.RowID, Valid: true}
		case roots.Segment:
			k.segment = sql.NullInt64{Int64: id.RowID, Valid: true}
		}
	}

	switch layer.Scope {
	case ag.ScopeWord:
		if a.LayerID == roots.Word {
			k.ordTurn = a.Ordinal
		} else {
			ord, err := sv.scopeColumn("annotation_word", "ordinal_in_turn", k.word)
			if err != nil {
				return k, err
			}
			k.ordTurn = ord
		}
	case ag.ScopeSegment:
		ord, err := sv.scopeColumn("annotation_word", "ordinal_in_turn", k.word)
		if err != nil {
			return k, err
		}
		k.ordTurn = ord
		if a.LayerID == roots.Segment {
			k.ordWord = a.Ordinal
		} else {
			ord, err := sv.scopeColumn("annotation_segment", "ordinal_in_word", k.segment)
			if err != nil {
				return k, err
			}
			k.ordWord = ord
		}
	}
	return k, nil
}

// scopeColumn reads one integer column from a stored annotation row.
func (sv *saver) scopeColumn(table, column string, rowID sql.NullInt64) (int, error) {
	if !rowID.Valid {
		return 0, nil
	}
	var v sql.NullInt64
	err := sv.tx.QueryRowContext(sv.ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE annotation_id = ?`, column, table), rowID.Int64).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("save annotation", err)
	}
	return int(v.Int64), nil
}

// anchorRowID resolves an anchor reference to its stored row ID. Empty
// references are NULL; temporary IDs mean the anchor was never marked for
// creation, which is a caller bug.
func (sv *saver) anchorRowID(id string) (sql.NullInt64, error) {
	if id == "" {
		return sql.NullInt64{}, nil
	}
	rowID, err := agid.DecodeAnchor(id)
	if err != nil {
		return sql.NullInt64{}, storeErrf("save annotation", "reference to unsaved anchor %s", id)
	}
	return sql.NullInt64{Int64: rowID, Valid: true}, nil
}

// parentRowID resolves a parent reference to its stored numeric ID.
// Participant parents decode to the speaker number, which is what turn
// rows store.
func (sv *saver) parentRowID(a *ag.Annotation) (sql.NullInt64, error) {
	if a.ParentID == "" {
		return sql.NullInt64{}, nil
	}
	id, err := agid.Decode(a.ParentID)
	if err != nil {
		return sql.NullInt64{}, storeErrf("save annotation", "annotation %s references unsaved parent %s", a.ID, a.ParentID)
	}
	return sql.NullInt64{Int64: id.RowID, Valid: true}, nil
}

func (sv *saver) saveTemporal(a *ag.Annotation, layer *ag.Layer) error {
	const op = "save annotation"
	table := querysql.ScopeTable(layer.Scope)

	if a.Change() == ag.Destroy {
		id, err := agid.DecodeAnnotation(a.ID)
		if err != nil {
			return nil
		}
		if _, err := sv.exec(op,
			fmt.Sprintf(`DELETE FROM %s WHERE annotation_id = ? AND transcript_id = ?`, table),
			id.RowID, sv.row.id); err != nil {
			return err
		}
		sv.changed = true
		return nil
	}

	start, err := sv.anchorRowID(a.StartID)
	if err != nil {
		return err
	}
	end, err := sv.anchorRowID(a.EndID)
	if err != nil {
		return err
	}
	parent, err := sv.parentRowID(a)
	if err != nil {
		return err
	}
	keys, err := sv.structuralKeys(a, layer)
	if err != nil {
		return err
	}
	ordinal := a.Ordinal
	if ordinal == 0 {
		ordinal = 1
	}
	by := sv.annotator(a.Annotator)

	switch a.Change() {
	case ag.Create:
		var res sql.Result
		switch layer.Scope {
		case ag.ScopeFreeform:
			res, err = sv.exec(op,
				`INSERT INTO annotation_freeform (layer_id, transcript_id, label, label_status, start_anchor_id, end_anchor_id, parent_id, ordinal, annotated_by, annotated_when) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				layer.Number, sv.row.id, a.Label, a.Confidence, start, end, parent, ordinal, by, sv.now)
		case ag.ScopeMeta:
			res, err = sv.exec(op,
				`INSERT INTO annotation_meta (layer_id, transcript_id, label, label_status, start_anchor_id, end_anchor_id, parent_id, ordinal, turn_annotation_id, annotated_by, annotated_when) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				layer.Number, sv.row.id, a.Label, a.Confidence, start, end, parent, ordinal, keys.turn, by, sv.now)
		case ag.ScopeWord:
			res, err = sv.exec(op,
				`INSERT INTO annotation_word (layer_id, transcript_id, label, label_status, start_anchor_id, end_anchor_id, parent_id, ordinal, turn_annotation_id, ordinal_in_turn, word_annotation_id, utterance_annotation_id, annotated_by, annotated_when) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
				layer.Number, sv.row.id, a.Label, a.Confidence, start, end, parent, ordinal, keys.turn, keys.ordTurn, keys.word, by, sv.now)
		case ag.ScopeSegment:
			res, err = sv.exec(op,
				`INSERT INTO annotation_segment (layer_id, transcript_id, label, label_status, start_anchor_id, end_anchor_id, parent_id, ordinal, turn_annotation_id, ordinal_in_turn, word_annotation_id, ordinal_in_word, segment_annotation_id, annotated_by, annotated_when) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				layer.Number, sv.row.id, a.Label, a.Confidence, start, end, parent, ordinal, keys.turn, keys.ordTurn, keys.word, keys.ordWord, keys.segment, by, sv.now)
		default:
			return storeErrf(op, "layer %q has unknown scope %q", layer.ID, layer.Scope)
		}
		if err != nil {
			return err
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return storeErr(op, err)
		}
		if err := sv.patchSelfKey(layer, rowID); err != nil {
			return err
		}
		sv.rename(a, agid.Temporal(layer.Scope, layer.Number, rowID))

	case ag.Update:
		id, err := agid.DecodeAnnotation(a.ID)
		if err != nil {
			return storeErr(op, err)
		}
		switch layer.Scope {
		case ag.ScopeFreeform:
			_, err = sv.exec(op,
				`UPDATE annotation_freeform SET label = ?, label_status = ?, start_anchor_id = ?, end_anchor_id = ?, parent_id = ?, ordinal = ?, annotated_by = ?, annotated_when = ? WHERE annotation_id = ? AND transcript_id = ?`,
				a.Label, a.Confidence, start, end, parent, ordinal, by, sv.now, id.RowID, sv.row.id)
		case ag.ScopeMeta:
			_, err = sv.exec(op,
				`UPDATE annotation_meta SET label = ?, label_status = ?, start_anchor_id = ?, end_anchor_id = ?, parent_id = ?, ordinal = ?, turn_annotation_id = ?, annotated_by = ?, annotated_when = ? WHERE annotation_id = ? AND transcript_id = ?`,
				a.Label, a.Confidence, start, end, parent, ordinal, keys.turn, by, sv.now, id.RowID, sv.row.id)
		case ag.ScopeWord:
			_, err = sv.exec(op,
				`UPDATE annotation_word SET label = ?, label_status = ?, start_anchor_id = ?, end_anchor_id = ?, parent_id = ?, ordinal = ?, turn_annotation_id = ?, ordinal_in_turn = ?, word_annotation_id = ?, annotated_by = ?, annotated_when = ? WHERE annotation_id = ? AND transcript_id = ?`,
				a.Label, a.Confidence, start, end, parent, ordinal, keys.turn, keys.ordTurn, keys.word, by, sv.now, id.RowID, sv.row.id)
		case ag.ScopeSegment:
			_, err = sv.exec(op,
				`UPDATE annotation_segment SET label = ?, label_status = ?, start_anchor_id = ?, end_anchor_id = ?, parent_id = ?, ordinal = ?, turn_annotation_id = ?, ordinal_in_turn = ?, word_annotation_id = ?, ordinal_in_word = ?, segment_annotation_id = ?, annotated_by = ?, annotated_when = ? WHERE annotation_id = ? AND transcript_id = ?`,
				a.Label, a.Confidence, start, end, parent, ordinal, keys.turn, keys.ordTurn, keys.word, keys.ordWord, keys.segment, by, sv.now, id.RowID, sv.row.id)
		default:
			return storeErrf(op, "layer %q has unknown scope %q", layer.ID, layer.Scope)
		}
		if err != nil {
			return err
		}
	}
	sv.changed = true
	return nil
}

// patchSelfKey points a freshly inserted structural root row at itself:
// turns are their own turn_annotation_id, words their own
// word_annotation_id, segments their own segment_annotation_id.
func (sv *saver) patchSelfKey(layer *ag.Layer, rowID int64) error {
	roots := sv.g.Schema().Roots()
	var query string
	switch layer.ID {
	case roots.Turn:
		query = `UPDATE annotation_meta SET turn_annotation_id = ? WHERE annotation_id = ?`
	case roots.Word:
		query = `UPDATE annotation_word SET word_annotation_id = ? WHERE annotation_id = ?`
	case roots.Segment:
		query = `UPDATE annotation_segment SET segment_annotation_id = ? WHERE annotation_id = ?`
	default:
		return nil
	}
	_, err := sv.exec("save annotation", query, rowID, rowID)
	return err
}

// saveSideEffects re-persists unchanged annotations whose stored rows went
// stale when a created anchor or parent got its real ID.
func (sv *saver) saveSideEffects() error {
	ids := make([]string, 0, len(sv.sideEffects))
	for id := range sv.sideEffects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		a := sv.sideEffects[id]
		if a.Change() != ag.NoChange {
			continue
		}
		layer := sv.g.Schema().Layer(a.LayerID)
		if layer == nil || !layer.Temporal() || layer.Number < 0 {
			continue
		}
		rowID, err := agid.DecodeAnnotation(a.ID)
		if err != nil {
			continue
		}
		start, err := sv.anchorRowID(a.StartID)
		if err != nil {
			return err
		}
		end, err := sv.anchorRowID(a.EndID)
		if err != nil {
			return err
		}
		parent, err := sv.parentRowID(a)
		if err != nil {
			return err
		}
		table := querysql.ScopeTable(layer.Scope)
		if _, err := sv.exec("save annotation",
			fmt.Sprintf(`UPDATE %s SET start_anchor_id = ?, end_anchor_id = ?, parent_id = ? WHERE annotation_id = ? AND transcript_id = ?`, table),
			start, end, parent, rowID.RowID, sv.row.id); err != nil {
			return err
		}
		sv.changed = true
	}
	return nil
}

// destroyAnchors deletes anchors marked for destruction, unless something
// still references them. Deletion candidates whose anchors turn out to be
// shared just have their change state cleared; a later save may retire
// them once the last reference goes.
func (sv *saver) destroyAnchors() error {
	const op = "destroy anchor"
	if len(sv.anchorDestroys) == 0 {
		return nil
	}

	referenced := make(map[int64]bool)
	for _, table := range scopeTables {
		rows, err := sv.tx.QueryContext(sv.ctx,
			fmt.Sprintf(`SELECT start_anchor_id, end_anchor_id FROM %s WHERE transcript_id = ?`, table), sv.row.id)
		if err != nil {
			return storeErr(op, err)
		}
		for rows.Next() {
			var start, end sql.NullInt64
			if err := rows.Scan(&start, &end); err != nil {
				rows.Close()
				return storeErr(op, err)
			}
			if start.Valid {
				referenced[start.Int64] = true
			}
			if end.Valid {
				referenced[end.Int64] = true
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return storeErr(op, err)
		}
		rows.Close()
	}

	for _, a := range sv.anchorDestroys {
		rowID, err := agid.DecodeAnchor(a.ID)
		if err != nil {
			continue
		}
		if referenced[rowID] {
			a.ClearChange()
			continue
		}
		if _, err := sv.exec(op, `DELETE FROM anchor WHERE anchor_id = ? AND transcript_id = ?`, rowID, sv.row.id); err != nil {
			return err
		}
		sv.changed = true
	}
	return nil
}

// repairTagAnchors re-shares tag rows' anchors with their parents after the
// parents moved. Tag annotations have no extent of their own, so their
// stored anchor references simply mirror the parent row.
func (sv *saver) repairTagAnchors() error {
	schema := sv.g.Schema()
	roots := schema.Roots()
	for _, l := range schema.Layers() {
		if !l.Temporal() || l.Number < 0 || !l.Tag() {
			continue
		}
		parent := schema.Layer(l.ParentID)
		if parent == nil || !parent.Temporal() {
			continue
		}
		if parent.ID != roots.Word && parent.ID != roots.Segment {
			continue
		}
		if !sv.changedLayers[parent.ID] && !sv.changedLayers[l.ID] {
			continue
		}
		table := querysql.ScopeTable(l.Scope)
		parentTable := querysql.ScopeTable(parent.Scope)
		query := fmt.Sprintf(
			`UPDATE %[1]s SET start_anchor_id = (SELECT p.start_anchor_id FROM %[2]s p WHERE p.annotation_id = %[1]s.parent_id), end_anchor_id = (SELECT p.end_anchor_id FROM %[2]s p WHERE p.annotation_id = %[1]s.parent_id) WHERE layer_id = ? AND transcript_id = ? AND parent_id IS NOT NULL`,
			table, parentTable)
		if _, err := sv.exec("repair tag anchors", query, l.Number, sv.row.id); err != nil {
			return err
		}
	}
	return nil
}

// relinkUtterances recomputes the geometric word-to-utterance links: words
// partition by turn, utterances subdivide turns, and each word belongs to
// the utterance whose interval contains its start offset.
func (sv *saver) relinkUtterances() error {
	schema := sv.g.Schema()
	roots := schema.Roots()
	if !sv.changedLayers[roots.Word] && !sv.changedLayers[roots.Utterance] {
		return nil
	}
	word := schema.Layer(roots.Word)
	utterance := schema.Layer(roots.Utterance)
	if word == nil || utterance == nil {
		return nil
	}
	query := fmt.Sprintf(`UPDATE annotation_word SET utterance_annotation_id = (
		SELECT u.annotation_id FROM annotation_meta u
		JOIN anchor us ON us.anchor_id = u.start_anchor_id
		JOIN anchor ue ON ue.anchor_id = u.end_anchor_id
		JOIN anchor ws ON ws.anchor_id = annotation_word.start_anchor_id
		WHERE u.layer_id = %d
		  AND u.turn_annotation_id = annotation_word.turn_annotation_id
		  AND us."offset" <= ws."offset" + %g
		  AND ue."offset" + %g >= ws."offset"
		ORDER BY us."offset" LIMIT 1)
		WHERE layer_id = %d AND transcript_id = ?`,
		utterance.Number, ag.OffsetGranularity, ag.OffsetGranularity, word.Number)
	_, err := sv.exec("relink utterances", query, sv.row.id)
	return err
}

// renumberPhrases rewrites ordinals on phrase layers that gained rows, so
// peers stay numbered by temporal position across the whole turn rather
// than in insertion order.
func (sv *saver) renumberPhrases() error {
	schema := sv.g.Schema()
	roots := schema.Roots()
	for _, l := range schema.Layers() {
		if !l.Temporal() || l.Scope != ag.ScopeMeta || l.Number < 0 {
			continue
		}
		if l.ID == roots.Turn || l.ID == roots.Utterance {
			continue
		}
		if !sv.createdInLayer[l.ID] {
			continue
		}
		query := `UPDATE annotation_meta SET ordinal = 1 + (
			SELECT COUNT(*) FROM annotation_meta p
			WHERE p.layer_id = annotation_meta.layer_id
			  AND p.turn_annotation_id = annotation_meta.turn_annotation_id
			  AND p.annotation_id <> annotation_meta.annotation_id
			  AND COALESCE((SELECT "offset" FROM anchor WHERE anchor_id = p.start_anchor_id), 0) <
			      COALESCE((SELECT "offset" FROM anchor WHERE anchor_id = annotation_meta.start_anchor_id), 0))
			WHERE layer_id = ? AND transcript_id = ?`
		if _, err := sv.exec("renumber phrases", query, l.Number, sv.row.id); err != nil {
			return err
		}
	}
	return nil
}

// checkAnchorOrder is the final sanity gate: no stored annotation may end
// before it starts, beyond offset granularity.
func (sv *saver) checkAnchorOrder() error {
	if !sv.changed {
		return nil
	}
	for _, table := range scopeTables {
		query := fmt.Sprintf(
			`SELECT COUNT(*) FROM %s a JOIN anchor sa ON sa.anchor_id = a.start_anchor_id JOIN anchor ea ON ea.anchor_id = a.end_anchor_id WHERE a.transcript_id = ? AND sa."offset" IS NOT NULL AND ea."offset" IS NOT NULL AND sa."offset" > ea."offset" + %g`,
			table, ag.OffsetGranularity)
		n, err := scanCount(sv.tx.QueryRowContext(sv.ctx, query, sv.row.id))
		if err != nil {
			return storeErr("save transcript", err)
		}
		if n > 0 {
			return storeErrf("save transcript", "%d rows in %s end before they start", n, table)
		}
	}
	return nil
}

func nullOffset(offset *float64) sql.NullFloat64 {
	if offset == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *offset, Valid: true}
}

// A Participant is the flat view of one speaker used by the participant
// save operation: identity, display name, and attribute values.
type Participant struct {
	ID         string
	Name       string
	Attributes map[string]string
}

// SaveParticipant upserts one speaker and replaces the given attribute
// values. An empty attribute value deletes the attribute. Attributes not
// present in the map are left alone.
func (s *Store) SaveParticipant(ctx context.Context, access AccessContext, p Participant) (bool, error) {
	const op = "save participant"
	if err := s.requireEdit(ctx, access, op); err != nil {
		return false, err
	}

	name := p.Name
	if name == "" {
		name = p.ID
	}
	if name == "" {
		return false, storeErrf(op, "participant has no name")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr(op, err)
	}
	defer tx.Rollback()

	changed := false
	var speaker int64
	if id, decErr := agid.Decode(p.ID); decErr == nil && id.Category == agid.CategoryMeta && id.LayerNumber == ag.NumberParticipant {
		speaker = id.RowID
		var current string
		if err := tx.QueryRowContext(ctx, `SELECT name FROM speaker WHERE speaker_number = ?`, speaker).Scan(&current); err != nil {
			return false, storeErr(op, err)
		}
		if p.Name != "" && p.Name != current {
			if _, err := tx.ExecContext(ctx, `UPDATE speaker SET name = ? WHERE speaker_number = ?`, p.Name, speaker); err != nil {
				return false, storeErr(op, err)
			}
			changed = true
		}
	} else {
		err := tx.QueryRowContext(ctx, `SELECT speaker_number FROM speaker WHERE name = ?`, name).Scan(&speaker)
		if errors.Is(err, sql.ErrNoRows) {
			res, err := tx.ExecContext(ctx, `INSERT INTO speaker (name) VALUES (?)`, name)
			if err != nil {
				return false, storeErr(op, err)
			}
			speaker, err = res.LastInsertId()
			if err != nil {
				return false, storeErr(op, err)
			}
			changed = true
		} else if err != nil {
			return false, storeErr(op, err)
		}
	}

	attrs := make([]string, 0, len(p.Attributes))
	for attr := range p.Attributes {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	now := s.clock().UTC().Format(timeLayout)
	for _, attr := range attrs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM participant_attribute WHERE speaker_number = ? AND attribute = ?`, speaker, attr); err != nil {
			return false, storeErr(op, err)
		}
		if label := p.Attributes[attr]; label != "" {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO participant_attribute (speaker_number, attribute, label, annotated_by, annotated_when) VALUES (?, ?, ?, ?, ?)`,
				speaker, attr, label, access.User, now); err != nil {
				return false, storeErr(op, err)
			}
		}
		changed = true
	}

	if err := tx.Commit(); err != nil {
		return false, storeErr(op, err)
	}
	return changed, nil
}
