package cuedef

import (
	"context"
	"database/sql"
	"sort"
)

// Apply writes a seed's layer and attribute definitions into a store
// database. Existing definitions with the same identity are replaced, so
// re-applying an evolved seed updates the schema in place. The store must
// be reopened afterwards for the new schema to take effect.
func Apply(ctx context.Context, db *sql.DB, seed *Seed) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, layer := range seed.Layers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO layer (layer_id, short_description, description, parent_id, alignment, peers, peers_overlap, saturated, parent_includes, scope, type, category, display_order, access)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (layer_id) DO UPDATE SET
				short_description = excluded.short_description,
				description = excluded.description,
				parent_id = excluded.parent_id,
				alignment = excluded.alignment,
				peers = excluded.peers,
				peers_overlap = excluded.peers_overlap,
				saturated = excluded.saturated,
				parent_includes = excluded.parent_includes,
				scope = excluded.scope,
				type = excluded.type,
				category = excluded.category,
				display_order = excluded.display_order,
				access = excluded.access`,
			layer.Number, layer.ID, layer.Description, nullIfEmpty(layer.ParentID),
			int(layer.Alignment), layer.Peers, layer.PeersOverlap, layer.Saturated,
			layer.ParentIncludes, string(layer.Scope), layer.Type, layer.Category,
			i, layer.Access); err != nil {
			return err
		}

		if len(layer.ValidLabels) > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM valid_label WHERE layer_id = ?`, layer.Number); err != nil {
				return err
			}
			for _, label := range sortedKeys(layer.ValidLabels) {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO valid_label (layer_id, label, display) VALUES (?, ?, ?)`,
					layer.Number, label, layer.ValidLabels[label]); err != nil {
					return err
				}
			}
		}
	}

	for _, def := range seed.Attributes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attribute_definition (class, attribute, label, type, access, searchable, display_order)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (class, attribute) DO UPDATE SET
				label = excluded.label,
				type = excluded.type,
				access = excluded.access,
				searchable = excluded.searchable,
				display_order = excluded.display_order`,
			def.Class, def.Attribute, def.Label, def.Type, def.Access, def.Searchable, def.DisplayOrder); err != nil {
			return err
		}

		if len(def.Options) > 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM attribute_option WHERE class = ? AND attribute = ?`,
				def.Class, def.Attribute); err != nil {
				return err
			}
			for _, value := range sortedKeys(def.Options) {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO attribute_option (class, attribute, value, description) VALUES (?, ?, ?, ?)`,
					def.Class, def.Attribute, value, def.Options[value]); err != nil {
					return err
				}
			}
		}
	}
	return tx.Commit()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
