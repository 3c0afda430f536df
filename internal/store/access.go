package store

import (
	"context"
	"database/sql"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/querysql"
)

// AccessContext identifies the caller for one operation. It is passed
// explicitly into every store operation; there is no ambient user state.
// Roles may be pre-resolved by the embedding application; when nil they are
// looked up from the role table by User.
type AccessContext struct {
	User  string
	Roles []string
}

// Role names with built-in meaning.
const (
	RoleEdit  = "edit"
	RoleAdmin = "admin"
)

// Entity categories for access predicates, matching role_permission.entity.
const (
	EntityTranscript = "t"
	EntityAudio      = "a"
	EntityVideo      = "v"
	EntityImage      = "i"
)

// resolveRoles returns the caller's roles, reading the role table when the
// context does not carry them. An empty result means full access: single
// user deployments record no roles at all.
func (s *Store) resolveRoles(ctx context.Context, access AccessContext) ([]string, error) {
	if access.Roles != nil {
		return access.Roles, nil
	}
	if access.User == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_id FROM role WHERE user_id = ? ORDER BY role_id`, access.User)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// permissionsConfigured reports whether any role_permission rows exist.
// None at all means the permission system is off.
func (s *Store) permissionsConfigured(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM role_permission`).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// canEdit reports whether the caller may mutate data. Callers with no
// recorded roles have full access.
func (s *Store) canEdit(ctx context.Context, access AccessContext) (bool, error) {
	roles, err := s.resolveRoles(ctx, access)
	if err != nil {
		return false, storeErr("resolve roles", err)
	}
	if len(roles) == 0 {
		return true, nil
	}
	for _, r := range roles {
		if r == RoleEdit || r == RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

// requireEdit returns a PermissionError when the caller may not mutate data.
func (s *Store) requireEdit(ctx context.Context, access AccessContext, operation string) error {
	ok, err := s.canEdit(ctx, access)
	if err != nil {
		return err
	}
	if !ok {
		return &PermissionError{User: access.User, Operation: operation}
	}
	return nil
}

// accessPredicate builds a SQL fragment restricting visible transcripts for
// the caller in the given entity category. transcriptIDColumn is the
// calling query's transcript-ID column expression (the fragment correlates
// through a subquery so it composes with any entity alias). An empty
// fragment means unrestricted.
//
// A transcript is visible when the caller created it, or some role of the
// caller grants the entity either by corpus-name pattern or by a pattern
// over a transcript attribute value.
func (s *Store) accessPredicate(ctx context.Context, access AccessContext, entity, transcriptIDColumn string) (querysql.Fragment, error) {
	roles, err := s.resolveRoles(ctx, access)
	if err != nil {
		return querysql.Fragment{}, storeErr("resolve roles", err)
	}
	if len(roles) == 0 {
		return querysql.Fragment{}, nil
	}
	configured, err := s.permissionsConfigured(ctx)
	if err != nil {
		return querysql.Fragment{}, storeErr("resolve roles", err)
	}
	if !configured {
		return querysql.Fragment{}, nil
	}

	placeholders := ""
	params := []any{access.User}
	for range roles {
		if placeholders != "" {
			placeholders += ", "
		}
		placeholders += "?"
	}
	pred := transcriptIDColumn + ` IN (
		SELECT t.transcript_id FROM transcript t
		WHERE t.creator = ?
		   OR EXISTS (
			SELECT 1 FROM role_permission rp
			WHERE rp.role_id IN (` + placeholders + `)
			  AND rp.entity = ?
			  AND ((rp.attribute_name = 'corpus' AND COALESCE(t.corpus_name, '') REGEXP rp.value_pattern)
			    OR EXISTS (
				SELECT 1 FROM transcript_attribute ta
				WHERE ta.transcript_id = t.transcript_id
				  AND ta.attribute = rp.attribute_name
				  AND ta.label REGEXP rp.value_pattern))))`
	for _, role := range roles {
		params = append(params, role)
	}
	params = append(params, entity)
	return querysql.Fragment{SQL: pred, Params: params}, nil
}

// readableLayer reports whether the caller may read a layer's values.
// Non-edit callers only see layers flagged publicly accessible.
func readableLayer(canEdit bool, layer *ag.Layer) bool {
	return canEdit || layer.Access
}

// scanCount reads a single COUNT(*) result.
func scanCount(row *sql.Row) (int, error) {
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
