package bytecode

// PositionEntry maps a bytecode offset to a source position.
type PositionEntry struct {
	BytecodeOffset uint32 `cbor:"offset"`
	SourceOffset   int32  `cbor:"source"`
	IsStatement    bool   `cbor:"stmt,omitempty"`
}

// SourcePositionBuilder records bytecode-offset to source-position mappings
// as instructions are emitted, one call per instruction at most.
type SourcePositionBuilder struct {
	entries []PositionEntry
}

// NewSourcePositionBuilder creates an empty position recorder.
func NewSourcePositionBuilder() *SourcePositionBuilder {
	return &SourcePositionBuilder{}
}

// AddPosition records that the instruction at bytecodeOffset originates at
// sourceOffset in the source text.
func (b *SourcePositionBuilder) AddPosition(bytecodeOffset int, sourceOffset int, isStatement bool) {
	b.entries = append(b.entries, PositionEntry{
		BytecodeOffset: uint32(bytecodeOffset),
		SourceOffset:   int32(sourceOffset),
		IsStatement:    isStatement,
	})
}

// Len returns the number of recorded positions.
func (b *SourcePositionBuilder) Len() int {
	return len(b.entries)
}

// ToTable finalizes and returns the position table in emission order.
func (b *SourcePositionBuilder) ToTable() []PositionEntry {
	table := make([]PositionEntry, len(b.entries))
	copy(table, b.entries)
	return table
}

// SourcePositionAt returns the source position for a bytecode offset,
// taking the nearest recorded entry at or before it. The second return is
// false when no entry covers the offset.
func SourcePositionAt(table []PositionEntry, offset uint32) (PositionEntry, bool) {
	for i := len(table) - 1; i >= 0; i-- {
		if table[i].BytecodeOffset <= offset {
			return table[i], true
		}
	}
	return PositionEntry{}, false
}
