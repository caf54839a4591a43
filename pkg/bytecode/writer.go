package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("quill.bytecode")

// ArrayWriter assembles the instruction stream for one compiled unit. It
// serializes instruction nodes into a growing byte buffer, resolves
// forward and backward jumps, and finalizes everything into a
// BytecodeArray.
//
// A writer is single-pass and strictly sequential: callers emit
// instructions in final program order and bind every label exactly once,
// at the point where its target instruction begins. One writer owns its
// buffer and builders for the lifetime of one unit; sharing an instance
// across goroutines is not supported.
//
// All misuse (jumps through Write, rebinding labels, finalizing with
// pending jumps) indicates a bug in the instruction-selection stage and
// panics rather than returning an error.
type ArrayWriter struct {
	code         []byte
	maxRegister  int
	pendingJumps int
	constants    *ConstantPoolBuilder
	positions    *SourcePositionBuilder
	finalized    bool
}

// NewArrayWriter creates a writer emitting into an empty buffer. The
// constant pool builder is shared with the caller so instruction selection
// can insert program constants alongside the writer's jump reservations.
func NewArrayWriter(constants *ConstantPoolBuilder) *ArrayWriter {
	if constants == nil {
		constants = NewConstantPoolBuilder()
	}
	w := &ArrayWriter{
		code:      make([]byte, 0, 64),
		constants: constants,
		positions: NewSourcePositionBuilder(),
	}
	log.Debug("code event: start")
	return w
}

// Offset returns the current write position.
func (w *ArrayWriter) Offset() int {
	return len(w.code)
}

// MaxRegister returns the register footprint observed so far: the maximum
// over all register operands of index plus span.
func (w *ArrayWriter) MaxRegister() int {
	return w.maxRegister
}

// PendingJumpCount returns the number of unresolved forward jumps.
func (w *ArrayWriter) PendingJumpCount() int {
	return w.pendingJumps
}

// Constants returns the writer's constant pool builder.
func (w *ArrayWriter) Constants() *ConstantPoolBuilder {
	return w.constants
}

// Positions returns the writer's source position recorder.
func (w *ArrayWriter) Positions() *SourcePositionBuilder {
	return w.positions
}

// Write serializes a non-jump instruction at the current offset.
func (w *ArrayWriter) Write(node *Node) {
	if node.opcode.IsJump() {
		panic(fmt.Sprintf("bytecode: %s written through the non-jump path", node.opcode))
	}
	w.checkOpen()
	w.updateSourcePosition(node)
	w.emit(node)
}

// WriteJump serializes a jump instruction at the current offset.
//
// If label is already bound this is a backward jump: the displacement is
// resolved immediately and encoded at the smallest scale that holds it.
// Otherwise a slot is reserved in the constant pool, placeholder operand
// bytes are emitted at the reserved width, and the instruction is patched
// in place when the label is bound.
func (w *ArrayWriter) WriteJump(node *Node, label *Label) {
	if !node.opcode.IsJumpImmediate() {
		panic(fmt.Sprintf("bytecode: %s written through the jump path", node.opcode))
	}
	if node.count > 0 && node.operands[0] != 0 {
		panic(fmt.Sprintf("bytecode: jump %s has a pre-set displacement operand", node.opcode))
	}
	w.checkOpen()
	w.updateSourcePosition(node)
	w.emitJump(node, label)
}

// BindLabel binds label to the current offset, patching the forward jump
// waiting on it, if any.
func (w *ArrayWriter) BindLabel(label *Label) {
	offset := len(w.code)
	if label.isForwardTarget() {
		w.patchJump(offset, label.referrer)
	}
	label.bindTo(offset)
}

// BindLabelTo binds label to the offset of target, which must already be
// bound. This is how several forward-jump sites, each owning its own
// label, fan in on one physical target.
func (w *ArrayWriter) BindLabelTo(target, label *Label) {
	if !target.bound {
		panic("bytecode: alias bind to unbound target")
	}
	if label.isForwardTarget() {
		w.patchJump(target.offset, label.referrer)
	}
	label.bindTo(target.offset)
}

// ToBytecodeArray finalizes the unit. The writer must not be used
// afterward. fixedRegisterCount sizes the frame for declared locals even
// when generated code never touches them.
func (w *ArrayWriter) ToBytecodeArray(fixedRegisterCount, parameterCount int, handlerTable []HandlerEntry) *BytecodeArray {
	if w.pendingJumps != 0 {
		panic(fmt.Sprintf("bytecode: finalizing with %d unresolved forward jumps", w.pendingJumps))
	}
	w.checkOpen()
	w.finalized = true

	frameSize := fixedRegisterCount * PointerSize
	if used := w.maxRegister * PointerSize; used > frameSize {
		frameSize = used
	}

	code := make([]byte, len(w.code))
	copy(code, w.code)

	array := &BytecodeArray{
		Code:            code,
		FrameSize:       frameSize,
		ParameterCount:  parameterCount,
		Constants:       w.constants.ToPool(),
		HandlerTable:    handlerTable,
		SourcePositions: w.positions.ToTable(),
	}
	log.Debugf("code event: end, %d bytes, frame size %d", len(code), frameSize)
	return array
}

func (w *ArrayWriter) checkOpen() {
	if w.finalized {
		panic("bytecode: writer used after finalization")
	}
}

func (w *ArrayWriter) updateSourcePosition(node *Node) {
	if info := node.source; info.Valid() {
		w.positions.AddPosition(len(w.code), info.Offset, info.IsStatement)
	}
}

// emit serializes one node: optional scale prefix, opcode, then operands at
// the width dictated by their type and the node's scale, little-endian.
// Register operands feed the footprint as they go by.
func (w *ArrayWriter) emit(node *Node) {
	operandTypes := node.opcode.Info().Operands
	if node.count != len(operandTypes) {
		panic(fmt.Sprintf("bytecode: %s carries %d operands, want %d",
			node.opcode, node.count, len(operandTypes)))
	}

	if node.scale != ScaleSingle {
		w.code = append(w.code, byte(PrefixForScale(node.scale)))
	}
	w.code = append(w.code, byte(node.opcode))

	for i, t := range operandTypes {
		value := node.operands[i]
		switch OperandWidth(t, node.scale) {
		case 1:
			w.code = append(w.code, byte(value))
		case 2:
			w.code = binary.LittleEndian.AppendUint16(w.code, uint16(value))
		case 4:
			w.code = binary.LittleEndian.AppendUint32(w.code, value)
		}

		if t.IsRegister() {
			span := t.RegisterSpan()
			if t == OperandRegList {
				span = int(node.operands[i+1])
			}
			if m := int(value) + span; m > w.maxRegister {
				w.maxRegister = m
			}
		}
	}
}

// signedOperand truncates a resolved signed value to its encoded width.
func signedOperand(value int32, size OperandSize) uint32 {
	switch size {
	case SizeByte:
		return uint32(uint8(value))
	case SizeShort:
		return uint32(uint16(value))
	default:
		return uint32(value)
	}
}

func (w *ArrayWriter) emitJump(node *Node, label *Label) {
	currentOffset := len(w.code)

	if label.bound {
		// Backward jump: the target precedes this instruction, so the
		// displacement is known now.
		delta := label.offset - currentOffset
		size := SizeForSignedOperand(int32(delta))
		if size > SizeByte {
			// The scale prefix byte shifts the jump's origin by one, so
			// the displacement has to absorb it.
			delta--
		}
		node.update(node.opcode, signedOperand(int32(delta), size), ScaleForSize(size))
	} else {
		// Forward jump: reserve a pool slot so the operand width is fixed
		// even though the displacement is not. Placeholder bytes stay zero
		// until the label is bound.
		w.pendingJumps++
		label.setReferrer(currentOffset)
		size := w.constants.CreateReservedEntry()
		node.update(node.opcode, 0, ScaleForSize(size))
	}
	w.emit(node)
}

// patchJump rewrites the jump emitted at jumpLocation to reach jumpTarget.
// The displacement either lands inline in the placeholder bytes or, when it
// overflows the reserved width, goes through the constant pool with the
// opcode rewritten to its constant-operand sibling.
func (w *ArrayWriter) patchJump(jumpTarget, jumpLocation int) {
	op := Opcode(w.code[jumpLocation])
	delta := jumpTarget - jumpLocation
	prefixOffset := 0
	scale := ScaleSingle
	if s, ok := ScaleForPrefix(op); ok {
		// The prefix byte consumes one unit of displacement.
		delta--
		prefixOffset = 1
		scale = s
		op = Opcode(w.code[jumpLocation+prefixOffset])
	}
	if !op.IsJumpImmediate() {
		panic(fmt.Sprintf("bytecode: patch target %s is not a jump", op))
	}

	switch scale {
	case ScaleSingle:
		w.patchJumpWith8BitOperand(jumpLocation, delta)
	case ScaleDouble:
		w.patchJumpWith16BitOperand(jumpLocation+prefixOffset, delta)
	case ScaleQuadruple:
		w.patchJumpWith32BitOperand(jumpLocation+prefixOffset, delta)
	}
	w.pendingJumps--
}

func (w *ArrayWriter) patchJumpWith8BitOperand(jumpLocation, delta int) {
	op := Opcode(w.code[jumpLocation])
	operandLocation := jumpLocation + 1
	w.checkPlaceholder(operandLocation, 1)
	if SizeForSignedOperand(int32(delta)) == SizeByte {
		// Fits inline: cancel the reservation and jump directly.
		w.constants.DiscardReservedEntry(SizeByte)
		w.code[operandLocation] = byte(delta)
	} else {
		// Too far for an inline operand: move the displacement into the
		// pool and switch to the constant-operand form.
		entry := w.constants.CommitReservedEntry(SizeByte, IntConstant(int64(delta)))
		w.code[jumpLocation] = byte(op.ConstantVariant())
		w.code[operandLocation] = byte(entry)
	}
}

func (w *ArrayWriter) patchJumpWith16BitOperand(jumpLocation, delta int) {
	op := Opcode(w.code[jumpLocation])
	operandLocation := jumpLocation + 1
	w.checkPlaceholder(operandLocation, 2)
	if SizeForSignedOperand(int32(delta)) <= SizeShort {
		w.constants.DiscardReservedEntry(SizeShort)
		binary.LittleEndian.PutUint16(w.code[operandLocation:], uint16(delta))
	} else {
		entry := w.constants.CommitReservedEntry(SizeShort, IntConstant(int64(delta)))
		w.code[jumpLocation] = byte(op.ConstantVariant())
		binary.LittleEndian.PutUint16(w.code[operandLocation:], uint16(entry))
	}
}

func (w *ArrayWriter) patchJumpWith32BitOperand(jumpLocation, delta int) {
	// The widest reservation has no inline alternative: the displacement
	// always goes through the pool.
	op := Opcode(w.code[jumpLocation])
	operandLocation := jumpLocation + 1
	w.checkPlaceholder(operandLocation, 4)
	entry := w.constants.CommitReservedEntry(SizeQuad, IntConstant(int64(delta)))
	w.code[jumpLocation] = byte(op.ConstantVariant())
	binary.LittleEndian.PutUint32(w.code[operandLocation:], entry)
}

// checkPlaceholder asserts the operand bytes about to be patched are still
// the zero placeholder emitted by WriteJump.
func (w *ArrayWriter) checkPlaceholder(operandLocation, width int) {
	for i := 0; i < width; i++ {
		if w.code[operandLocation+i] != 0 {
			panic(fmt.Sprintf("bytecode: nonzero placeholder byte at offset %d", operandLocation+i))
		}
	}
}
