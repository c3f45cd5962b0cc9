package store

// Key prefixes for the meta store. Kept short; segment keys append an
// 8-byte big-endian segment id so iteration order matches creation order.
const (
	PrefixSegmentMeta = "segmeta:"
	KeyRootedSlot     = "rooted_slot"
	KeySnapshotMeta   = "snapshot_meta"
)
