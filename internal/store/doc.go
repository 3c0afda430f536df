// Package store provides SQLite-backed persistence for temporally-anchored
// annotation graphs.
//
// The store has four responsibilities:
//   - Schema cache: the layer hierarchy is read once at Open and exposed as
//     an immutable ag.Schema.
//   - Permission gate: every operation takes an explicit AccessContext;
//     role-assigned value patterns become SQL predicate fragments rather
//     than in-memory post-filters, so paging and counting stay cheap.
//   - Graph/fragment loader: per-layer queries assembled top-down into
//     ag.Graph values, with anchors inserted by identity.
//   - Delta persistence engine: SaveTranscript applies per-entity
//     Create/Update/Destroy markers in dependency order inside one
//     transaction, rewriting temporary IDs to database-assigned IDs.
//
// # Critical Patterns
//
// Anchor deletes run last and are two-phase: the candidate set is computed
// as "anchors marked Destroy minus anchors still referenced after all
// annotation changes", then each candidate is reference-checked once before
// DELETE. A still-referenced destroy is a normal condition, not an error;
// the anchor's change state is reset instead.
//
// The column name "offset" is always written quoted, it is an SQL keyword.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - A REGEXP function is installed on every connection; generated AGQL
//     queries and permission predicates depend on it.
package store
