package ag

// ChangeState marks what should happen to an entity when its graph is saved.
//
// Entities loaded from storage start at NoChange. Tracked setters promote
// NoChange to Update; newly constructed entities are Create; Destroy is set
// explicitly. Create is never demoted to Update (the entity does not exist
// in storage yet, so every field write is still part of the create).
type ChangeState int

const (
	// NoChange means the entity matches storage and is skipped on save.
	NoChange ChangeState = iota

	// Create means the entity is new and must be inserted.
	Create

	// Update means one or more fields differ from storage.
	Update

	// Destroy means the entity must be deleted from storage.
	Destroy
)

// String returns the state name for diagnostics.
func (c ChangeState) String() string {
	switch c {
	case NoChange:
		return "NoChange"
	case Create:
		return "Create"
	case Update:
		return "Update"
	case Destroy:
		return "Destroy"
	default:
		return "Unknown"
	}
}

// changeTracker is embedded by Anchor and Annotation.
type changeTracker struct {
	change ChangeState
}

// Change returns the current change state.
func (t *changeTracker) Change() ChangeState { return t.change }

// MarkCreate marks the entity for insertion.
func (t *changeTracker) MarkCreate() { t.change = Create }

// MarkDestroy marks the entity for deletion.
func (t *changeTracker) MarkDestroy() { t.change = Destroy }

// ClearChange resets the entity to NoChange. Stores call this after a save,
// and also to cancel a Destroy that turned out to be unsafe.
func (t *changeTracker) ClearChange() { t.change = NoChange }

// touch promotes NoChange to Update. Create and Destroy are left alone.
func (t *changeTracker) touch() {
	if t.change == NoChange {
		t.change = Update
	}
}
