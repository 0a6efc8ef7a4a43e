package dom

// ChangeOp is the type of DOM mutation observed.
type ChangeOp string

const (
	OpInsert   ChangeOp = "insert"    // node added (subtree reported as one change)
	OpRemove   ChangeOp = "remove"    // node removed
	OpText     ChangeOp = "text"      // character data changed
	OpAttr     ChangeOp = "attr"      // attribute set or changed
	OpAttrDel  ChangeOp = "attr_del"  // attribute removed
	OpDocReset ChangeOp = "doc_reset" // whole document replaced
)

// Change is a single observed mutation. NodeID is the handle of the
// affected element (the parent element for text changes); Path is its
// absolute element path at event time, kept for logging and for
// consumers that outlive the handle.
type Change struct {
	Op       ChangeOp `json:"op"`
	NodeID   string   `json:"node_id"`
	Tag      string   `json:"tag,omitempty"`
	Name     string   `json:"name,omitempty"`      // attribute name for attr/attr_del
	Value    string   `json:"value,omitempty"`     // new value
	OldValue string   `json:"old_value,omitempty"` // previous value
	Path     string   `json:"path"`
}

// ChangeBatch is the atomic unit delivered to subscribers. One batch =
// everything a single DOM update cycle produced; consumers process it
// as a unit.
type ChangeBatch struct {
	ID        string   `json:"id"`  // UUIDv7
	Seq       uint64   `json:"seq"` // monotonically increasing per document
	Changes   []Change `json:"changes"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds
}
