package bytecode

import "fmt"

// ConstantKind tags the payload of a pool entry.
type ConstantKind uint8

const (
	ConstantInt    ConstantKind = 0
	ConstantFloat  ConstantKind = 1
	ConstantString ConstantKind = 2
)

// String returns a human-readable name for ConstantKind.
func (k ConstantKind) String() string {
	switch k {
	case ConstantInt:
		return "int"
	case ConstantFloat:
		return "float"
	case ConstantString:
		return "string"
	default:
		return fmt.Sprintf("ConstantKind(%d)", k)
	}
}

// Constant is one constant pool entry.
type Constant struct {
	Kind  ConstantKind `cbor:"kind"`
	Int   int64        `cbor:"int,omitempty"`
	Float float64      `cbor:"float,omitempty"`
	Str   string       `cbor:"str,omitempty"`
}

// IntConstant returns an integer pool entry.
func IntConstant(v int64) Constant {
	return Constant{Kind: ConstantInt, Int: v}
}

// FloatConstant returns a float pool entry.
func FloatConstant(v float64) Constant {
	return Constant{Kind: ConstantFloat, Float: v}
}

// StringConstant returns a string pool entry.
func StringConstant(v string) Constant {
	return Constant{Kind: ConstantString, Str: v}
}

// String formats the constant for disassembly output.
func (c Constant) String() string {
	switch c.Kind {
	case ConstantInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstantFloat:
		return fmt.Sprintf("%g", c.Float)
	case ConstantString:
		return fmt.Sprintf("%q", c.Str)
	default:
		return fmt.Sprintf("<%s>", c.Kind)
	}
}

// ConstantPoolBuilder accumulates the constant pool for one compiled unit.
//
// Besides plain insertion it supports speculative reservations: a forward
// jump reserves a slot before its displacement is known, learning only the
// operand width needed to address that slot. The slot's index is fixed at
// reservation time, so inserts landing between reservation and resolution
// cannot push a committed index past the reserved addressing range. The
// reservation is later either discarded (the displacement fit inline),
// returning the slot for reuse by later inserts, or committed with the
// resolved value.
type ConstantPoolBuilder struct {
	constants []Constant
	filled    []bool                // false marks reserved or discarded slots
	holes     []int                 // discarded slots, reused lowest-first
	reserved  map[OperandSize][]int // live reserved slot indices per width
}

// NewConstantPoolBuilder creates an empty pool builder.
func NewConstantPoolBuilder() *ConstantPoolBuilder {
	return &ConstantPoolBuilder{
		constants: make([]Constant, 0, 8),
		reserved:  make(map[OperandSize][]int),
	}
}

// lookup finds an existing committed entry equal to c.
func (b *ConstantPoolBuilder) lookup(c Constant) (uint32, bool) {
	for i, existing := range b.constants {
		if b.filled[i] && existing == c {
			return uint32(i), true
		}
	}
	return 0, false
}

// takeHole removes and returns the lowest discarded slot.
func (b *ConstantPoolBuilder) takeHole() (int, bool) {
	if len(b.holes) == 0 {
		return 0, false
	}
	best := 0
	for i, h := range b.holes {
		if h < b.holes[best] {
			best = i
		}
	}
	idx := b.holes[best]
	b.holes = append(b.holes[:best], b.holes[best+1:]...)
	return idx, true
}

// allocateSlot claims the lowest free slot, growing the pool if none is
// available.
func (b *ConstantPoolBuilder) allocateSlot() int {
	if idx, ok := b.takeHole(); ok {
		return idx
	}
	b.constants = append(b.constants, Constant{})
	b.filled = append(b.filled, false)
	return len(b.constants) - 1
}

// Insert adds a constant to the pool and returns its index. An entry equal
// to an existing one returns the existing index.
func (b *ConstantPoolBuilder) Insert(c Constant) uint32 {
	if idx, ok := b.lookup(c); ok {
		return idx
	}
	idx := b.allocateSlot()
	b.constants[idx] = c
	b.filled[idx] = true
	return uint32(idx)
}

// Len returns the number of committed entries in the pool.
func (b *ConstantPoolBuilder) Len() int {
	n := 0
	for _, f := range b.filled {
		if f {
			n++
		}
	}
	return n
}

// CreateReservedEntry claims a slot for a pending forward jump and returns
// the operand width needed to address it. The index stays claimed until the
// reservation is discarded or committed.
func (b *ConstantPoolBuilder) CreateReservedEntry() OperandSize {
	idx := b.allocateSlot()
	size := SizeForUnsignedOperand(uint32(idx))
	b.reserved[size] = append(b.reserved[size], idx)
	return size
}

// popReserved removes the most recent live reservation of the given width.
func (b *ConstantPoolBuilder) popReserved(size OperandSize) int {
	stack := b.reserved[size]
	if len(stack) == 0 {
		panic(fmt.Sprintf("bytecode: no live %d-byte pool reservation", size))
	}
	idx := stack[len(stack)-1]
	b.reserved[size] = stack[:len(stack)-1]
	return idx
}

// DiscardReservedEntry releases a reservation that turned out unnecessary.
// The slot becomes available to later inserts.
func (b *ConstantPoolBuilder) DiscardReservedEntry(size OperandSize) {
	b.holes = append(b.holes, b.popReserved(size))
}

// CommitReservedEntry finalizes a reservation with a concrete value and
// returns its pool index, always encodable in the width returned at
// reservation time. An equal entry already committed at an index fitting
// that width is reused and the reserved slot released; otherwise the value
// lands in the reserved slot, even if that duplicates an entry only
// addressable at a wider operand.
func (b *ConstantPoolBuilder) CommitReservedEntry(size OperandSize, c Constant) uint32 {
	idx := b.popReserved(size)
	if existing, ok := b.lookup(c); ok && SizeForUnsignedOperand(existing) <= size {
		b.holes = append(b.holes, idx)
		return existing
	}
	b.constants[idx] = c
	b.filled[idx] = true
	return uint32(idx)
}

// ToPool finalizes the pool. Live reservations at this point are a bug in
// the jump resolver. Trailing discarded slots are trimmed; interior ones
// surface as integer zero entries that nothing references.
func (b *ConstantPoolBuilder) ToPool() []Constant {
	for _, stack := range b.reserved {
		if len(stack) != 0 {
			panic("bytecode: unresolved pool reservations")
		}
	}
	end := len(b.constants)
	for end > 0 && !b.filled[end-1] {
		end--
	}
	pool := make([]Constant, end)
	copy(pool, b.constants[:end])
	return pool
}
