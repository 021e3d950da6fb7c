// Package layout describes the byte layout of value types that cross the
// bridge by address.
//
// A Descriptor lists a struct's fields with their kinds and byte offsets,
// plus the total size and alignment. Offsets follow the sequential
// natural-alignment rule: each field starts at the next multiple of its own
// alignment, and the size is rounded up to the largest field alignment. A
// field may be pinned to an explicit offset instead.
//
// Descriptors come from three independent sources: a Go struct type
// (FromGo), a WIT record (FromWIT) and an explicit Builder. The Registry
// holds the native and managed descriptors for each type name and checks
// that they agree before any call may copy values through them.
package layout
