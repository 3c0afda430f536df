package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/fixture"
	"github.com/korero-labs/agstore/internal/store"
)

const secretFixture = `
name: secret.trs
corpus: private
participants:
  - name: eve
turns:
  - who: eve
    start: 0.0
    end: 1.0
    utterances:
      - start: 0.0
        end: 1.0
        words:
          - label: shh
            start: 0.0
            end: 1.0
`

// grantRole records a role for a user via the role table.
func grantRole(t *testing.T, s *store.Store, user, role string) {
	t.Helper()
	_, err := s.DB().Exec(`INSERT INTO role (user_id, role_id) VALUES (?, ?)`, user, role)
	require.NoError(t, err)
}

// grantPermission lets a role see transcripts whose attribute matches.
func grantPermission(t *testing.T, s *store.Store, role, entity, attribute, pattern string) {
	t.Helper()
	_, err := s.DB().Exec(
		`INSERT INTO role_permission (role_id, entity, attribute_name, value_pattern) VALUES (?, ?, ?, ?)`,
		role, entity, attribute, pattern)
	require.NoError(t, err)
}

func TestNoRolesMeansFullAccess(t *testing.T) {
	s := openStore(t)
	saveFixture(t, s, helloFixture)

	// an unconfigured deployment imposes nothing
	g, err := s.GetTranscript(context.Background(), store.AccessContext{User: "anyone"}, "hello.trs", []string{"word"})
	require.NoError(t, err)
	assert.Len(t, g.All("word"), 3)
}

func TestReadOnlyRoleCannotSave(t *testing.T) {
	s := openStore(t)
	grantRole(t, s, "guest", "read")

	g, err := fixture.Parse(strings.NewReader(helloFixture), s.Schema())
	require.NoError(t, err)
	_, err = s.SaveTranscript(context.Background(), store.AccessContext{User: "guest"}, g)
	require.Error(t, err)

	var perm *store.PermissionError
	require.True(t, errors.As(err, &perm))
	assert.Equal(t, "guest", perm.User)
}

func TestRolesInContextOverrideRoleTable(t *testing.T) {
	s := openStore(t)

	// pre-resolved roles are trusted as-is, no table lookup
	access := store.AccessContext{User: "svc", Roles: []string{"read"}}
	_, err := s.SaveParticipant(context.Background(), access, store.Participant{ID: "x"})
	var perm *store.PermissionError
	require.True(t, errors.As(err, &perm))

	access.Roles = []string{store.RoleEdit}
	changed, err := s.SaveParticipant(context.Background(), access, store.Participant{ID: "x"})
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestCorpusPermissionFiltersTranscripts(t *testing.T) {
	s := openStore(t)
	saveFixture(t, s, helloFixture)
	saveFixture(t, s, secretFixture)
	grantRole(t, s, "guest", "read")
	grantPermission(t, s, "read", store.EntityTranscript, "corpus", "^demo$")
	ctx := context.Background()
	guest := store.AccessContext{User: "guest"}

	ids, err := s.GetTranscriptIDs(ctx, guest)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello.trs"}, ids)

	_, err = s.GetTranscript(ctx, guest, "secret.trs", nil)
	require.Error(t, err)
	assert.True(t, store.IsGraphNotFound(err))

	// the full-access editor still sees everything
	ids, err = s.GetTranscriptIDs(ctx, editor)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello.trs", "secret.trs"}, ids)
}

func TestAttributePermissionFiltersTranscripts(t *testing.T) {
	s := openStore(t)
	saveFixture(t, s, helloFixture) // language en
	saveFixture(t, s, secretFixture)
	grantRole(t, s, "guest", "read")
	grantPermission(t, s, "read", store.EntityTranscript, "language", "^en$")

	ids, err := s.GetTranscriptIDs(context.Background(), store.AccessContext{User: "guest"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello.trs"}, ids)
}

func TestCreatorAlwaysSeesOwnTranscripts(t *testing.T) {
	s := openStore(t)
	saveFixture(t, s, secretFixture) // created by ed
	grantRole(t, s, "ed", "read")
	grantPermission(t, s, "read", store.EntityTranscript, "corpus", "^nothing$")

	ids, err := s.GetTranscriptIDs(context.Background(), store.AccessContext{User: "ed"})
	require.NoError(t, err)
	assert.Equal(t, []string{"secret.trs"}, ids)
}

func TestPermissionFiltersMatches(t *testing.T) {
	s := openStore(t)
	saveFixture(t, s, helloFixture)
	saveFixture(t, s, secretFixture)
	grantRole(t, s, "guest", "read")
	grantPermission(t, s, "read", store.EntityTranscript, "corpus", "^demo$")
	ctx := context.Background()
	guest := store.AccessContext{User: "guest"}

	words, err := s.GetMatchingAnnotations(ctx, guest, `layer.id == 'word'`, 0, 0)
	require.NoError(t, err)
	var labels []string
	for _, a := range words {
		labels = append(labels, a.Label)
	}
	assert.NotContains(t, labels, "shh")
	assert.Contains(t, labels, "Hello")

	n, err := s.CountMatchingTranscriptIDs(ctx, guest, `/.*\.trs$/.test(label)`)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReadOnlyUserSeesOnlyAccessibleAttributes(t *testing.T) {
	s := openStore(t)
	saveFixture(t, s, helloFixture)
	grantRole(t, s, "guest", "read")
	ctx := context.Background()

	// seed a scribe value as the editor first
	g, err := s.GetTranscript(ctx, editor, "hello.trs", allLayers)
	require.NoError(t, err)
	g.AddAnnotation(ag.NewAnnotation("transcript_scribe", "ed", "", "", ""))
	_, err = s.SaveTranscript(ctx, editor, g)
	require.NoError(t, err)

	guest, err := s.GetTranscript(ctx, store.AccessContext{User: "guest"}, "hello.trs", allLayers)
	require.NoError(t, err)
	assert.Equal(t, []string{"en"}, guest.Labels("transcript_language"))
	assert.Empty(t, guest.Labels("transcript_scribe"))
	assert.Len(t, guest.All("word"), 3)
}
