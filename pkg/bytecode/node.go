package bytecode

import "fmt"

// SourceInfo carries the source position of one instruction. The zero value
// is invalid and is skipped by the position recorder.
type SourceInfo struct {
	Offset      int  // byte offset into the source text
	IsStatement bool // true at statement boundaries
	valid       bool
}

// StatementPosition returns source info marking a statement boundary.
func StatementPosition(offset int) SourceInfo {
	return SourceInfo{Offset: offset, IsStatement: true, valid: true}
}

// ExpressionPosition returns source info for an expression inside a
// statement.
func ExpressionPosition(offset int) SourceInfo {
	return SourceInfo{Offset: offset, valid: true}
}

// Valid reports whether the position should be recorded.
func (s SourceInfo) Valid() bool {
	return s.valid
}

// Node is one abstract instruction produced by the instruction-selection
// stage. It is consumed exactly once by ArrayWriter.Write or
// ArrayWriter.WriteJump; the jump path rewrites opcode, primary operand and
// scale in place once the displacement is resolved.
type Node struct {
	opcode   Opcode
	operands [4]uint32
	count    int
	scale    OperandScale
	source   SourceInfo
}

// NewNode creates an instruction node, picking the smallest operand scale
// that fits the given operands.
func NewNode(op Opcode, operands ...uint32) *Node {
	n := &Node{opcode: op, scale: ScaleForOperands(op, operands)}
	if len(operands) > len(n.operands) {
		panic(fmt.Sprintf("bytecode: %s: too many operands (%d)", op, len(operands)))
	}
	n.count = copy(n.operands[:], operands)
	return n
}

// WithSource attaches source position info and returns the node.
func (n *Node) WithSource(info SourceInfo) *Node {
	n.source = info
	return n
}

// Opcode returns the node's opcode.
func (n *Node) Opcode() Opcode {
	return n.opcode
}

// Operand returns the i'th operand value.
func (n *Node) Operand(i int) uint32 {
	if i >= n.count {
		panic(fmt.Sprintf("bytecode: %s: operand %d out of range", n.opcode, i))
	}
	return n.operands[i]
}

// OperandCount returns the number of operands present on the node.
func (n *Node) OperandCount() int {
	return n.count
}

// Scale returns the node's operand scale.
func (n *Node) Scale() OperandScale {
	return n.scale
}

// Source returns the node's source position info.
func (n *Node) Source() SourceInfo {
	return n.source
}

// update rewrites the opcode, primary operand and scale. Used by the jump
// path once a displacement (or placeholder width) is resolved.
func (n *Node) update(op Opcode, operand0 uint32, scale OperandScale) {
	n.opcode = op
	n.operands[0] = operand0
	if n.count == 0 {
		n.count = 1
	}
	n.scale = scale
}

// Label identifies a jump target. A label starts unbound, may record at
// most one referrer (the offset of a forward jump awaiting it), and is
// bound exactly once. Fan-in of several forward jumps onto one target goes
// through ArrayWriter.BindLabelTo with a separate label per jump site.
type Label struct {
	bound       bool
	offset      int
	hasReferrer bool
	referrer    int
}

// NewLabel creates an unbound label.
func NewLabel() *Label {
	return &Label{}
}

// Bound reports whether the label has been bound to an offset.
func (l *Label) Bound() bool {
	return l.bound
}

// Offset returns the bound target offset. Only meaningful after binding.
func (l *Label) Offset() int {
	if !l.bound {
		panic("bytecode: offset of unbound label")
	}
	return l.offset
}

// isForwardTarget reports whether an emitted jump is waiting on this label.
func (l *Label) isForwardTarget() bool {
	return l.hasReferrer && !l.bound
}

// setReferrer records the byte offset of the forward jump awaiting this
// label. One outstanding forward jump per label; a second is a contract
// violation by the instruction-selection stage.
func (l *Label) setReferrer(offset int) {
	if l.bound {
		panic("bytecode: forward jump to already-bound label")
	}
	if l.hasReferrer {
		panic("bytecode: label already has a pending jump")
	}
	l.hasReferrer = true
	l.referrer = offset
}

// bindTo transitions the label to bound. One-way; rebinding panics.
func (l *Label) bindTo(offset int) {
	if l.bound {
		panic("bytecode: label already bound")
	}
	l.bound = true
	l.offset = offset
}
