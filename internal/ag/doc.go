// Package ag defines the in-memory annotation graph model: anchors,
// annotations, layers, schemas, graphs and fragments.
//
// A graph represents one transcript as a set of shared temporal anchors and
// a tree of annotations organised into layers. Every anchor and annotation
// carries a change state (NoChange/Create/Update/Destroy) so that a store
// can compute a minimal delta when the graph is saved back.
//
// The model is deliberately storage-agnostic. All database knowledge
// (row IDs, table shapes, scope dispatch) lives in internal/store; the
// string IDs used here are produced and parsed by internal/agid.
package ag
