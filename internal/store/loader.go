package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/agid"
	"github.com/korero-labs/agstore/internal/querysql"
)

// timeLayout is how provenance timestamps are persisted.
const timeLayout = time.RFC3339

// transcriptRow is the transcript's core metadata row.
type transcriptRow struct {
	id          int64
	name        string
	corpus      string
	familyID    sql.NullInt64
	familyName  string
	typ         string
	audioPrompt string
	creator     string
}

// resolveTranscript finds the transcript row for a caller-supplied ID,
// trying the exact name, then the name with any extension, then the numeric
// internal ID. Unresolved lookups return GraphNotFoundError.
func (s *Store) resolveTranscript(ctx context.Context, id string) (*transcriptRow, error) {
	row, err := s.queryTranscriptRow(ctx, "t.transcript_name = ?", id)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, storeErr("resolve transcript", err)
	}

	pattern := "^" + regexp.QuoteMeta(trimExtension(id)) + `\.[^.]+$`
	row, err = s.queryTranscriptRow(ctx, "t.transcript_name REGEXP ?", pattern)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, storeErr("resolve transcript", err)
	}

	if n, convErr := strconv.ParseInt(id, 10, 64); convErr == nil {
		row, err = s.queryTranscriptRow(ctx, "t.transcript_id = ?", n)
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, storeErr("resolve transcript", err)
		}
	}
	return nil, &GraphNotFoundError{ID: id}
}

func (s *Store) queryTranscriptRow(ctx context.Context, cond string, arg any) (*transcriptRow, error) {
	row := &transcriptRow{}
	var family sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT t.transcript_id, t.transcript_name, COALESCE(t.corpus_name, ''),
		       t.family_id, f.name, COALESCE(t.transcript_type, ''),
		       t.audio_prompt, t.creator
		FROM transcript t
		LEFT JOIN transcript_family f ON f.family_id = t.family_id
		WHERE `+cond+`
		ORDER BY t.transcript_id LIMIT 1`, arg).
		Scan(&row.id, &row.name, &row.corpus, &row.familyID, &family,
			&row.typ, &row.audioPrompt, &row.creator)
	if err != nil {
		return nil, err
	}
	row.familyName = family.String
	return row, nil
}

func trimExtension(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
		if name[i] == '/' {
			break
		}
	}
	return name
}

// visible reports whether the caller may see the transcript at all.
func (s *Store) visible(ctx context.Context, access AccessContext, row *transcriptRow) (bool, error) {
	frag, err := s.accessPredicate(ctx, access, EntityTranscript, "t.transcript_id")
	if err != nil {
		return false, err
	}
	if frag.SQL == "" {
		return true, nil
	}
	args := append([]any{row.id}, frag.Params...)
	n, err := scanCount(s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcript t WHERE t.transcript_id = ? AND `+frag.SQL, args...))
	if err != nil {
		return false, storeErr("check access", err)
	}
	return n > 0, nil
}

// GetTranscript loads a whole transcript as an annotation graph. The
// requested layer set is expanded with every ancestor layer so the graph is
// structurally well formed, and layers load top-down so parents always
// exist before their children.
func (s *Store) GetTranscript(ctx context.Context, access AccessContext, id string, layerIDs []string) (*ag.Graph, error) {
	const op = "load transcript"

	row, err := s.resolveTranscript(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.visible(ctx, access, row)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &GraphNotFoundError{ID: id}
	}
	canEdit, err := s.canEdit(ctx, access)
	if err != nil {
		return nil, err
	}

	g := ag.NewGraph(row.name, s.schema)
	if err := s.loadAnchors(ctx, g, "transcript_id = ?", row.id); err != nil {
		return nil, storeErr(op, err)
	}

	for _, layerID := range s.schema.WithAncestors(layerIDs) {
		layer := s.schema.Layer(layerID)
		if layer == nil {
			return nil, storeErrf(op, "unknown layer %q", layerID)
		}
		if !readableLayer(canEdit, layer) {
			continue
		}
		if err := s.loadLayer(ctx, g, row, layer); err != nil {
			return nil, storeErr(op, err)
		}
	}

	s.anchorGraphTags(g)
	return g, nil
}

// loadAnchors inserts anchor rows matching cond into the graph by identity.
func (s *Store) loadAnchors(ctx context.Context, g *ag.Graph, cond string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT anchor_id, "offset", alignment_status,
		       COALESCE(annotated_by, ''), COALESCE(annotated_when, '')
		FROM anchor WHERE `+cond, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rowID int64
		var offset sql.NullFloat64
		var confidence int
		var by, when string
		if err := rows.Scan(&rowID, &offset, &confidence, &by, &when); err != nil {
			return err
		}
		a := &ag.Anchor{ID: agid.Anchor(rowID), Confidence: confidence, Annotator: by}
		if offset.Valid {
			a.Offset = ag.Offsetp(offset.Float64)
		}
		if when != "" {
			a.When, _ = time.Parse(timeLayout, when)
		}
		g.AddAnchor(a)
	}
	return rows.Err()
}

// loadLayer dispatches to the structural loaders for pseudo-layers and
// attribute classes, or the generic per-scope loader for ordinary layers.
func (s *Store) loadLayer(ctx context.Context, g *ag.Graph, row *transcriptRow, layer *ag.Layer) error {
	switch layer.Class {
	case ag.ClassTranscript:
		return s.loadTranscriptAttributes(ctx, g, row, layer)
	case ag.ClassParticipant:
		return s.loadParticipantAttributes(ctx, g, row, layer)
	}

	roots := s.schema.Roots()
	switch layer.ID {
	case roots.Participant:
		return s.loadParticipants(ctx, g, row)
	case "main_participant":
		return nil // loaded with the participants
	case roots.Corpus:
		return s.loadCorpusTag(ctx, g, row)
	case roots.Episode:
		return s.loadEpisodeTag(g, row)
	case "transcript_type":
		return s.loadTypeTag(ctx, g, row)
	case "audio_prompt":
		if row.audioPrompt != "" {
			g.AddAnnotation(&ag.Annotation{
				ID:      agid.Meta(ag.NumberAudioPrompt, row.id),
				LayerID: "audio_prompt",
				Label:   row.audioPrompt,
			})
		}
		return nil
	}

	if layer.Category == "episode" {
		return s.loadFamilyTags(ctx, g, row, layer)
	}
	return s.loadTemporalLayer(ctx, g, layer,
		"a.transcript_id = ?", []any{row.id})
}

func (s *Store) loadParticipants(ctx context.Context, g *ag.Graph, row *transcriptRow) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sp.speaker_number, sp.name, ts.main_speaker
		FROM transcript_speaker ts
		JOIN speaker sp ON sp.speaker_number = ts.speaker_number
		WHERE ts.transcript_id = ?
		ORDER BY sp.name`, row.id)
	if err != nil {
		return err
	}
	defer rows.Close()

	who := s.schema.Roots().Participant
	for rows.Next() {
		var number int64
		var name string
		var main bool
		if err := rows.Scan(&number, &name, &main); err != nil {
			return err
		}
		id := agid.Meta(ag.NumberParticipant, number)
		g.AddAnnotation(&ag.Annotation{ID: id, LayerID: who, Label: name})
		if main {
			g.AddAnnotation(&ag.Annotation{
				ID:       agid.Meta(ag.NumberMainParticipant, number),
				LayerID:  "main_participant",
				Label:    name,
				ParentID: id,
			})
		}
	}
	return rows.Err()
}

func (s *Store) loadCorpusTag(ctx context.Context, g *ag.Graph, row *transcriptRow) error {
	if row.corpus == "" {
		return nil
	}
	var corpusID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT corpus_id FROM corpus WHERE corpus_name = ?`, row.corpus).Scan(&corpusID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	g.AddAnnotation(&ag.Annotation{
		ID:      agid.Meta(ag.NumberCorpus, corpusID),
		LayerID: s.schema.Roots().Corpus,
		Label:   row.corpus,
	})
	return nil
}

func (s *Store) loadEpisodeTag(g *ag.Graph, row *transcriptRow) error {
	if !row.familyID.Valid {
		return nil
	}
	g.AddAnnotation(&ag.Annotation{
		ID:      agid.Meta(ag.NumberEpisode, row.familyID.Int64),
		LayerID: s.schema.Roots().Episode,
		Label:   row.familyName,
	})
	return nil
}

func (s *Store) loadTypeTag(ctx context.Context, g *ag.Graph, row *transcriptRow) error {
	if row.typ == "" {
		return nil
	}
	var typeID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT type_id FROM transcript_type WHERE transcript_type = ?`, row.typ).Scan(&typeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	g.AddAnnotation(&ag.Annotation{
		ID:      agid.Meta(ag.NumberTranscriptType, typeID),
		LayerID: "transcript_type",
		Label:   row.typ,
	})
	return nil
}

func (s *Store) loadFamilyTags(ctx context.Context, g *ag.Graph, row *transcriptRow, layer *ag.Layer) error {
	if !row.familyID.Valid {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT annotation_id, label, label_status,
		       COALESCE(annotated_by, ''), COALESCE(annotated_when, '')
		FROM annotation_family
		WHERE layer_id = ? AND family_id = ?
		ORDER BY annotation_id`, layer.Number, row.familyID.Int64)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAnnotationCommon(rows, layer)
		if err != nil {
			return err
		}
		a.ParentID = agid.Meta(ag.NumberEpisode, row.familyID.Int64)
		g.AddAnnotation(a)
	}
	return rows.Err()
}

func (s *Store) loadTranscriptAttributes(ctx context.Context, g *ag.Graph, row *transcriptRow, layer *ag.Layer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attribute_id, label, COALESCE(annotated_by, ''), COALESCE(annotated_when, '')
		FROM transcript_attribute
		WHERE transcript_id = ? AND attribute = ?
		ORDER BY attribute_id`, row.id, layer.Attribute)
	if err != nil {
		return err
	}
	defer rows.Close()

	ordinal := 0
	for rows.Next() {
		var attrID int64
		var label, by, when string
		if err := rows.Scan(&attrID, &label, &by, &when); err != nil {
			return err
		}
		ordinal++
		a := &ag.Annotation{
			ID:        agid.TranscriptAttribute(layer.Attribute, attrID),
			LayerID:   layer.ID,
			Label:     label,
			Ordinal:   ordinal,
			Annotator: by,
		}
		if when != "" {
			a.When, _ = time.Parse(timeLayout, when)
		}
		g.AddAnnotation(a)
	}
	return rows.Err()
}

func (s *Store) loadParticipantAttributes(ctx context.Context, g *ag.Graph, row *transcriptRow, layer *ag.Layer) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pa.attribute_id, pa.speaker_number, pa.label,
		       COALESCE(pa.annotated_by, ''), COALESCE(pa.annotated_when, '')
		FROM participant_attribute pa
		JOIN transcript_speaker ts ON ts.speaker_number = pa.speaker_number
		WHERE ts.transcript_id = ? AND pa.attribute = ?
		ORDER BY pa.attribute_id`, row.id, layer.Attribute)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var attrID, speaker int64
		var label, by, when string
		if err := rows.Scan(&attrID, &speaker, &label, &by, &when); err != nil {
			return err
		}
		a := &ag.Annotation{
			ID:        agid.ParticipantAttribute(layer.Attribute, attrID),
			LayerID:   layer.ID,
			Label:     label,
			ParentID:  agid.Meta(ag.NumberParticipant, speaker),
			Annotator: by,
		}
		if when != "" {
			a.When, _ = time.Parse(timeLayout, when)
		}
		g.AddAnnotation(a)
	}
	return rows.Err()
}

// loadTemporalLayer runs the generic per-scope annotation query and inserts
// the rows into the graph. Parent references are encoded against the parent
// layer's scope; rows whose parent layer is the participant pseudo-layer
// (turns) get meta entity parents.
func (s *Store) loadTemporalLayer(ctx context.Context, g *ag.Graph, layer *ag.Layer, cond string, args []any) error {
	query := `
		SELECT a.annotation_id, a.label, a.label_status,
		       a.start_anchor_id, a.end_anchor_id, a.parent_id, a.ordinal,
		       COALESCE(a.annotated_by, ''), COALESCE(a.annotated_when, '')
		FROM ` + scopeTable(layer.Scope) + ` a
		WHERE a.layer_id = ` + strconv.Itoa(layer.Number) + ` AND ` + cond + `
		ORDER BY a.parent_id, a.ordinal, a.annotation_id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	parentLayer := s.schema.Layer(layer.ParentID)
	for rows.Next() {
		a, err := scanTemporalRow(rows, layer, parentLayer, s.schema)
		if err != nil {
			return err
		}
		g.AddAnnotation(a)
	}
	return rows.Err()
}

// temporalScanner matches both sql.Rows and sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotationCommon(rows rowScanner, layer *ag.Layer) (*ag.Annotation, error) {
	var rowID int64
	var label string
	var status int
	var by, when string
	if err := rows.Scan(&rowID, &label, &status, &by, &when); err != nil {
		return nil, err
	}
	a := &ag.Annotation{
		ID:         agid.Temporal(layer.Scope, layer.Number, rowID),
		LayerID:    layer.ID,
		Label:      label,
		Confidence: status,
		Annotator:  by,
	}
	if when != "" {
		a.When, _ = time.Parse(timeLayout, when)
	}
	return a, nil
}

func scanTemporalRow(scanner rowScanner, layer, parentLayer *ag.Layer, schema *ag.Schema) (*ag.Annotation, error) {
	var rowID int64
	var label string
	var status int
	var start, end, parent sql.NullInt64
	var ordinal int
	var by, when string
	if err := scanner.Scan(&rowID, &label, &status, &start, &end, &parent,
		&ordinal, &by, &when); err != nil {
		return nil, err
	}
	a := &ag.Annotation{
		ID:         agid.Temporal(layer.Scope, layer.Number, rowID),
		LayerID:    layer.ID,
		Label:      label,
		Confidence: status,
		Ordinal:    ordinal,
		Annotator:  by,
	}
	if start.Valid {
		a.StartID = agid.Anchor(start.Int64)
	}
	if end.Valid {
		a.EndID = agid.Anchor(end.Int64)
	}
	if parent.Valid && parentLayer != nil {
		if parentLayer.ID == schema.Roots().Participant {
			a.ParentID = agid.Meta(ag.NumberParticipant, parent.Int64)
		} else {
			a.ParentID = agid.Temporal(parentLayer.Scope, parentLayer.Number, parent.Int64)
		}
	}
	if when != "" {
		a.When, _ = time.Parse(timeLayout, when)
	}
	return a, nil
}

// anchorGraphTags retroactively anchors graph-level tags (corpus, episode,
// transcript type, participants) to the graph's first and last anchors,
// once every other layer has loaded.
func (s *Store) anchorGraphTags(g *ag.Graph) {
	first, last := g.FirstAnchor(), g.LastAnchor()
	if first == nil || last == nil {
		return
	}
	for _, a := range g.Annotations() {
		layer := s.schema.Layer(a.LayerID)
		if layer == nil || layer.Number >= 0 || a.StartID != "" {
			continue
		}
		a.StartID = first.ID
		a.EndID = last.ID
	}
}

// GetTranscriptIDs lists every visible transcript name.
func (s *Store) GetTranscriptIDs(ctx context.Context, access AccessContext) ([]string, error) {
	frag, err := s.accessPredicate(ctx, access, EntityTranscript, "t.transcript_id")
	if err != nil {
		return nil, err
	}
	query := `SELECT t.transcript_name FROM transcript t`
	if frag.SQL != "" {
		query += ` WHERE ` + frag.SQL
	}
	query += ` ORDER BY t.transcript_name`
	return s.queryStrings(ctx, query, frag.Params...)
}

// GetParticipantIDs lists participant names, paged. pageLength <= 0 means
// everything.
func (s *Store) GetParticipantIDs(ctx context.Context, access AccessContext, pageLength, pageNumber int) ([]string, error) {
	query := `SELECT name FROM speaker ORDER BY name`
	if pageLength > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", pageLength, pageLength*pageNumber)
	}
	return s.queryStrings(ctx, query)
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, storeErr("list", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return out, nil
}

// CountMatchingTranscriptIDs counts transcripts matching an AGQL expression.
func (s *Store) CountMatchingTranscriptIDs(ctx context.Context, access AccessContext, expression string) (int, error) {
	frag, err := s.accessPredicate(ctx, access, EntityTranscript, "transcript.transcript_id")
	if err != nil {
		return 0, err
	}
	q, err := querysql.NewTranscriptMatcher(s.schema).Translate(expression, querysql.Options{Access: frag})
	if err != nil {
		return 0, err
	}
	return s.countQuery(ctx, q, expression)
}

// GetMatchingTranscriptIDs lists transcripts matching an AGQL expression,
// paged. pageLength <= 0 means everything.
func (s *Store) GetMatchingTranscriptIDs(ctx context.Context, access AccessContext, expression string, pageLength, pageNumber int) ([]string, error) {
	frag, err := s.accessPredicate(ctx, access, EntityTranscript, "transcript.transcript_id")
	if err != nil {
		return nil, err
	}
	opts := querysql.Options{Access: frag}
	if pageLength > 0 {
		opts.Order = fmt.Sprintf("ORDER BY transcript.transcript_name LIMIT %d OFFSET %d",
			pageLength, pageLength*pageNumber)
	}
	q, err := querysql.NewTranscriptMatcher(s.schema).Translate(expression, opts)
	if err != nil {
		return nil, err
	}
	out, err := s.queryStrings(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, storeErrf("match transcripts", "query failed for %q", expression)
	}
	return out, nil
}

// CountMatchingParticipantIDs counts participants matching an AGQL
// expression.
func (s *Store) CountMatchingParticipantIDs(ctx context.Context, access AccessContext, expression string) (int, error) {
	q, err := querysql.NewParticipantMatcher(s.schema).Translate(expression, querysql.Options{})
	if err != nil {
		return 0, err
	}
	return s.countQuery(ctx, q, expression)
}

// GetMatchingParticipantIDs lists participants matching an AGQL expression,
// paged.
func (s *Store) GetMatchingParticipantIDs(ctx context.Context, access AccessContext, expression string, pageLength, pageNumber int) ([]string, error) {
	opts := querysql.Options{}
	if pageLength > 0 {
		opts.Order = fmt.Sprintf("ORDER BY speaker.name LIMIT %d OFFSET %d",
			pageLength, pageLength*pageNumber)
	}
	q, err := querysql.NewParticipantMatcher(s.schema).Translate(expression, opts)
	if err != nil {
		return nil, err
	}
	out, err := s.queryStrings(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, storeErrf("match participants", "query failed for %q", expression)
	}
	return out, nil
}

// CountMatchingAnnotations counts annotations matching an AGQL expression.
func (s *Store) CountMatchingAnnotations(ctx context.Context, access AccessContext, expression string) (int, error) {
	frag, err := s.accessPredicate(ctx, access, EntityTranscript, "annotation.transcript_id")
	if err != nil {
		return 0, err
	}
	q, err := querysql.NewAnnotationMatcher(s.schema).Translate(expression, querysql.Options{Access: frag})
	if err != nil {
		return 0, err
	}
	return s.countQuery(ctx, q, expression)
}

// annotationColumns is the select list GetMatchingAnnotations scans.
const annotationColumns = `annotation.annotation_id, annotation.layer_id, annotation.label, ` +
	`annotation.label_status, annotation.start_anchor_id, annotation.end_anchor_id, ` +
	`annotation.parent_id, annotation.ordinal, COALESCE(annotation.annotated_by, ''), ` +
	`COALESCE(annotation.annotated_when, '')`

// GetMatchingAnnotations returns annotations matching an AGQL expression in
// transcript order, paged. pageLength <= 0 means everything.
func (s *Store) GetMatchingAnnotations(ctx context.Context, access AccessContext, expression string, pageLength, pageNumber int) ([]*ag.Annotation, error) {
	frag, err := s.accessPredicate(ctx, access, EntityTranscript, "annotation.transcript_id")
	if err != nil {
		return nil, err
	}
	opts := querysql.Options{Select: annotationColumns, Access: frag}
	if pageLength > 0 {
		opts.Order = fmt.Sprintf("%s LIMIT %d OFFSET %d",
			querysql.AnnotationOrder, pageLength, pageLength*pageNumber)
	}
	q, err := querysql.NewAnnotationMatcher(s.schema).Translate(expression, opts)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, storeErrf("match annotations", "query failed for %q", expression)
	}
	defer rows.Close()

	var out []*ag.Annotation
	for rows.Next() {
		var rowID, layerNumber int64
		var label string
		var status int
		var start, end, parent sql.NullInt64
		var ordinal int
		var by, when string
		if err := rows.Scan(&rowID, &layerNumber, &label, &status,
			&start, &end, &parent, &ordinal, &by, &when); err != nil {
			return nil, storeErr("match annotations", err)
		}
		layer := s.schema.LayerByNumber(int(layerNumber))
		if layer == nil {
			continue
		}
		a := &ag.Annotation{
			ID:         agid.Temporal(layer.Scope, layer.Number, rowID),
			LayerID:    layer.ID,
			Label:      label,
			Confidence: status,
			Ordinal:    ordinal,
			Annotator:  by,
		}
		if start.Valid {
			a.StartID = agid.Anchor(start.Int64)
		}
		if end.Valid {
			a.EndID = agid.Anchor(end.Int64)
		}
		if parentLayer := s.schema.Layer(layer.ParentID); parent.Valid && parentLayer != nil {
			if parentLayer.ID == s.schema.Roots().Participant {
				a.ParentID = agid.Meta(ag.NumberParticipant, parent.Int64)
			} else {
				a.ParentID = agid.Temporal(parentLayer.Scope, parentLayer.Number, parent.Int64)
			}
		}
		if when != "" {
			a.When, _ = time.Parse(timeLayout, when)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("match annotations", err)
	}
	return out, nil
}

// countQuery wraps a translated statement in COUNT(*). The inner statement
// keeps its deterministic order; SQLite ignores it under aggregation.
func (s *Store) countQuery(ctx context.Context, q querysql.Query, expression string) (int, error) {
	n, err := scanCount(s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ("+q.SQL+")", q.Params...))
	if err != nil {
		return 0, storeErrf("count matches", "query failed for %q", expression)
	}
	return n, nil
}
