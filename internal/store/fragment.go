package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/agid"
)

// GetFragment loads the bounded sub-graph under a defining annotation: the
// annotation itself, its ancestor chain, and every temporally included
// descendant on the requested layers, filtered to the defining annotation's
// own turn so simultaneous speech from other turns stays out.
func (s *Store) GetFragment(ctx context.Context, access AccessContext, transcriptID, annotationID string, layerIDs []string) (*ag.Fragment, error) {
	const op = "load fragment"

	row, err := s.resolveTranscript(ctx, transcriptID)
	if err != nil {
		return nil, err
	}
	ok, err := s.visible(ctx, access, row)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &GraphNotFoundError{ID: transcriptID}
	}

	defining, err := s.fetchAnnotation(ctx, annotationID)
	if err != nil {
		return nil, err
	}
	start, end, err := s.annotationBounds(ctx, defining)
	if err != nil {
		return nil, err
	}

	f := ag.NewFragment(row.name, start, end, s.schema)
	f.DefiningID = defining.a.ID

	turnRow := s.turnOf(defining)
	if err := s.loadBoundedLayers(ctx, &f.Graph, row, layerIDs, start, end, turnRow); err != nil {
		return nil, storeErr(op, err)
	}

	// The defining annotation and its ancestors frame the fragment even
	// when their layers were not requested. Ancestor anchors come along
	// only when the fragment temporally includes them, or the ancestor
	// ends exactly where the fragment ends.
	if err := s.addAncestry(ctx, &f.Graph, defining, start, end); err != nil {
		return nil, storeErr(op, err)
	}
	return f, nil
}

// GetFragmentByOffsets loads every annotation on the requested layers whose
// anchors fall inside [start, end] (within OffsetGranularity), then
// backfills missing ancestors bottom-up in one batched query per layer.
func (s *Store) GetFragmentByOffsets(ctx context.Context, access AccessContext, transcriptID string, start, end float64, layerIDs []string) (*ag.Fragment, error) {
	const op = "load fragment"

	row, err := s.resolveTranscript(ctx, transcriptID)
	if err != nil {
		return nil, err
	}
	ok, err := s.visible(ctx, access, row)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &GraphNotFoundError{ID: transcriptID}
	}

	f := ag.NewFragment(row.name, start, end, s.schema)
	if err := s.loadBoundedLayers(ctx, &f.Graph, row, layerIDs, start, end, 0); err != nil {
		return nil, storeErr(op, err)
	}
	if err := s.backfillAncestors(ctx, &f.Graph); err != nil {
		return nil, storeErr(op, err)
	}
	return f, nil
}

// loadedAnnotation couples a loaded annotation with its layer and raw row
// keys, for walks that need to re-query.
type loadedAnnotation struct {
	a     *ag.Annotation
	layer *ag.Layer
	rowID int64
	turn  sql.NullInt64
}

// fetchAnnotation loads one temporal annotation row by its string ID.
func (s *Store) fetchAnnotation(ctx context.Context, id string) (*loadedAnnotation, error) {
	decoded, err := agid.DecodeAnnotation(id)
	if err != nil {
		return nil, &GraphNotFoundError{ID: id}
	}
	layer := s.schema.LayerByNumber(decoded.LayerNumber)
	if layer == nil {
		return nil, &GraphNotFoundError{ID: id}
	}

	query := `
		SELECT a.annotation_id, a.label, a.label_status,
		       a.start_anchor_id, a.end_anchor_id, a.parent_id, a.ordinal,
		       COALESCE(a.annotated_by, ''), COALESCE(a.annotated_when, '')`
	if layer.Scope == ag.ScopeFreeform {
		query += `, NULL`
	} else {
		query += `, a.turn_annotation_id`
	}
	query += `
		FROM ` + scopeTable(layer.Scope) + ` a
		WHERE a.layer_id = ` + strconv.Itoa(layer.Number) + ` AND a.annotation_id = ?`

	la := &loadedAnnotation{layer: layer, rowID: decoded.RowID}
	parentLayer := s.schema.Layer(layer.ParentID)
	row := s.db.QueryRowContext(ctx, query, decoded.RowID)

	var rowID int64
	var label string
	var status int
	var startID, endID, parent sql.NullInt64
	var ordinal int
	var by, when string
	err = row.Scan(&rowID, &label, &status, &startID, &endID, &parent,
		&ordinal, &by, &when, &la.turn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &GraphNotFoundError{ID: id}
	}
	if err != nil {
		return nil, storeErr("load annotation", err)
	}

	a := &ag.Annotation{
		ID:         agid.Temporal(layer.Scope, layer.Number, rowID),
		LayerID:    layer.ID,
		Label:      label,
		Confidence: status,
		Ordinal:    ordinal,
		Annotator:  by,
	}
	if startID.Valid {
		a.StartID = agid.Anchor(startID.Int64)
	}
	if endID.Valid {
		a.EndID = agid.Anchor(endID.Int64)
	}
	if parent.Valid && parentLayer != nil {
		if parentLayer.ID == s.schema.Roots().Participant {
			a.ParentID = agid.Meta(ag.NumberParticipant, parent.Int64)
		} else {
			a.ParentID = agid.Temporal(parentLayer.Scope, parentLayer.Number, parent.Int64)
		}
	}
	la.a = a
	return la, nil
}

// annotationBounds reads the defining annotation's anchor offsets.
func (s *Store) annotationBounds(ctx context.Context, la *loadedAnnotation) (float64, float64, error) {
	var start, end sql.NullFloat64
	if la.a.StartID != "" {
		rowID, _ := agid.DecodeAnchor(la.a.StartID)
		if err := s.db.QueryRowContext(ctx,
			`SELECT "offset" FROM anchor WHERE anchor_id = ?`, rowID).Scan(&start); err != nil {
			return 0, 0, storeErr("load fragment", err)
		}
	}
	if la.a.EndID != "" {
		rowID, _ := agid.DecodeAnchor(la.a.EndID)
		if err := s.db.QueryRowContext(ctx,
			`SELECT "offset" FROM anchor WHERE anchor_id = ?`, rowID).Scan(&end); err != nil {
			return 0, 0, storeErr("load fragment", err)
		}
	}
	if !start.Valid || !end.Valid {
		return 0, 0, storeErrf("load fragment", "annotation %s is not aligned", la.a.ID)
	}
	return start.Float64, end.Float64, nil
}

// turnOf returns the defining annotation's turn row ID, or 0.
func (s *Store) turnOf(la *loadedAnnotation) int64 {
	if la.turn.Valid {
		return la.turn.Int64
	}
	if la.layer.ID == s.schema.Roots().Turn {
		return la.rowID
	}
	return 0
}

// loadBoundedLayers loads the requested layers restricted by offset range
// and, when turnRow is non-zero, to one turn's branch.
func (s *Store) loadBoundedLayers(ctx context.Context, g *ag.Graph, row *transcriptRow, layerIDs []string, start, end float64, turnRow int64) error {
	lo := start - ag.OffsetGranularity
	hi := end + ag.OffsetGranularity

	if err := s.loadAnchors(ctx, g,
		`transcript_id = ? AND "offset" >= ? AND "offset" <= ?`, row.id, lo, hi); err != nil {
		return err
	}

	for _, layerID := range s.schema.WithAncestors(layerIDs) {
		layer := s.schema.Layer(layerID)
		if layer == nil {
			return fmt.Errorf("unknown layer %q", layerID)
		}
		if !layer.Temporal() || layer.Number < 0 {
			// Structural and attribute layers frame whole transcripts,
			// not fragments.
			continue
		}

		cond := `a.transcript_id = ?
			AND a.start_anchor_id IN (SELECT anchor_id FROM anchor WHERE transcript_id = ? AND "offset" >= ? AND "offset" <= ?)
			AND a.end_anchor_id IN (SELECT anchor_id FROM anchor WHERE transcript_id = ? AND "offset" >= ? AND "offset" <= ?)`
		args := []any{row.id, row.id, lo, hi, row.id, lo, hi}

		if turnRow != 0 {
			switch {
			case layer.ID == s.schema.Roots().Turn:
				cond += ` AND a.annotation_id = ?`
				args = append(args, turnRow)
			case layer.Scope != ag.ScopeFreeform:
				cond += ` AND a.turn_annotation_id = ?`
				args = append(args, turnRow)
			}
		}
		if err := s.loadTemporalLayer(ctx, g, layer, cond, args); err != nil {
			return err
		}
	}
	return nil
}

// addAncestry inserts the defining annotation and its ancestor chain,
// including each ancestor's anchors only when the fragment temporally
// includes the ancestor or the ancestor is co-terminous with the fragment
// end.
func (s *Store) addAncestry(ctx context.Context, g *ag.Graph, defining *loadedAnnotation, start, end float64) error {
	if g.Annotation(defining.a.ID) == nil {
		g.AddAnnotation(defining.a)
		if err := s.addAnchorsOf(ctx, g, defining.a, nil); err != nil {
			return err
		}
	}

	inRange := func(offset float64) bool {
		return offset >= start-ag.OffsetGranularity && offset <= end+ag.OffsetGranularity
	}
	coTerminous := func(offset float64) bool {
		d := offset - end
		return d > -ag.OffsetGranularity && d < ag.OffsetGranularity
	}

	current := defining
	for current.a.ParentID != "" {
		if g.Annotation(current.a.ParentID) != nil {
			break
		}
		parent, err := s.fetchAnnotation(ctx, current.a.ParentID)
		if err != nil {
			var nf *GraphNotFoundError
			if errors.As(err, &nf) {
				break
			}
			return err
		}
		g.AddAnnotation(parent.a)
		keep := func(offset float64) bool { return inRange(offset) || coTerminous(offset) }
		if err := s.addAnchorsOf(ctx, g, parent.a, keep); err != nil {
			return err
		}
		current = parent
	}
	return nil
}

// addAnchorsOf loads an annotation's own anchors into the graph. keep, when
// non-nil, filters by offset; anchors it rejects are left out and the
// annotation resolves its boundary through its parent chain.
func (s *Store) addAnchorsOf(ctx context.Context, g *ag.Graph, a *ag.Annotation, keep func(float64) bool) error {
	for _, anchorID := range []string{a.StartID, a.EndID} {
		if anchorID == "" || g.Anchor(anchorID) != nil {
			continue
		}
		rowID, err := agid.DecodeAnchor(anchorID)
		if err != nil {
			continue
		}
		var offset sql.NullFloat64
		var confidence int
		err = s.db.QueryRowContext(ctx,
			`SELECT "offset", alignment_status FROM anchor WHERE anchor_id = ?`, rowID).
			Scan(&offset, &confidence)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		if keep != nil && (!offset.Valid || !keep(offset.Float64)) {
			continue
		}
		anchor := &ag.Anchor{ID: anchorID, Confidence: confidence}
		if offset.Valid {
			anchor.Offset = ag.Offsetp(offset.Float64)
		}
		g.AddAnchor(anchor)
	}
	return nil
}

// backfillAncestors adds missing parent annotations bottom-up. Each round
// collects every dangling parent reference per layer and resolves them in
// one batched IN query, so a fragment with hundreds of orphans costs a few
// queries, not one per orphan.
func (s *Store) backfillAncestors(ctx context.Context, g *ag.Graph) error {
	for depth := 0; depth < 16; depth++ {
		missing := map[string][]int64{}
		for _, a := range g.Annotations() {
			if a.ParentID == "" || g.Annotation(a.ParentID) != nil {
				continue
			}
			decoded, err := agid.DecodeAnnotation(a.ParentID)
			if err != nil || decoded.Category != agid.CategoryTemporal {
				continue
			}
			layer := s.schema.LayerByNumber(decoded.LayerNumber)
			if layer == nil {
				continue
			}
			missing[layer.ID] = append(missing[layer.ID], decoded.RowID)
		}
		if len(missing) == 0 {
			return nil
		}

		for layerID, rowIDs := range missing {
			layer := s.schema.Layer(layerID)
			placeholders := ""
			args := make([]any, 0, len(rowIDs))
			for _, id := range rowIDs {
				if placeholders != "" {
					placeholders += ", "
				}
				placeholders += "?"
				args = append(args, id)
			}
			cond := "a.annotation_id IN (" + placeholders + ")"
			if err := s.loadTemporalLayer(ctx, g, layer, cond, args); err != nil {
				return err
			}
		}

		// The backfilled parents' anchors may be outside the fragment
		// range; include them so the parents stay aligned.
		for _, a := range g.Annotations() {
			if err := s.addAnchorsOf(ctx, g, a, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
