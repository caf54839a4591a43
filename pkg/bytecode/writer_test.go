package bytecode

import (
	"bytes"
	"fmt"
	"reflect"
	"testing"
)

func writeNops(w *ArrayWriter, n int) {
	for i := 0; i < n; i++ {
		w.Write(NewNode(OpNop))
	}
}

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

// ---------------------------------------------------------------------------
// Plain encoding tests
// ---------------------------------------------------------------------------

func TestWritePlainEncoding(t *testing.T) {
	tests := []struct {
		name string
		node func() *Node
		want []byte
	}{
		{"nop", func() *Node { return NewNode(OpNop) }, []byte{0x00}},
		{"lda_zero", func() *Node { return NewNode(OpLdaZero) }, []byte{0x10}},
		{"lda_smi small", func() *Node { return NewNode(OpLdaSmi, 10) }, []byte{0x11, 0x0A}},
		{"lda_smi wide", func() *Node { return NewNode(OpLdaSmi, 300) },
			[]byte{byte(OpWide), 0x11, 0x2C, 0x01}},
		{"lda_smi extra wide", func() *Node { return NewNode(OpLdaSmi, 70000) },
			[]byte{byte(OpExtraWide), 0x11, 0x70, 0x11, 0x01, 0x00}},
		{"mov", func() *Node { return NewNode(OpMov, 1, 2) }, []byte{0x18, 0x01, 0x02}},
		{"call", func() *Node { return NewNode(OpCall, 2, 4, 3) }, []byte{0x40, 0x02, 0x04, 0x03}},
		{"div_mod", func() *Node { return NewNode(OpDivMod, 1, 7) }, []byte{0x25, 0x01, 0x07}},
	}

	for _, tt := range tests {
		w := NewArrayWriter(nil)
		w.Write(tt.node())
		array := w.ToBytecodeArray(0, 0, nil)
		if !bytes.Equal(array.Code, tt.want) {
			t.Errorf("%s: code = %#v, want %#v", tt.name, array.Code, tt.want)
		}
	}
}

// TestWriteDeterminism re-encodes an identical node and expects
// byte-identical output for both halves of the stream.
func TestWriteDeterminism(t *testing.T) {
	w := NewArrayWriter(nil)
	w.Write(NewNode(OpLdaSmi, 300))
	first := w.Offset()
	w.Write(NewNode(OpLdaSmi, 300))
	array := w.ToBytecodeArray(0, 0, nil)
	if !bytes.Equal(array.Code[:first], array.Code[first:]) {
		t.Errorf("identical nodes encoded differently: %#v vs %#v",
			array.Code[:first], array.Code[first:])
	}
}

func TestWritePathPreconditions(t *testing.T) {
	expectPanic(t, "jump through Write", func() {
		NewArrayWriter(nil).Write(NewNode(OpJump, 0))
	})
	expectPanic(t, "non-jump through WriteJump", func() {
		NewArrayWriter(nil).WriteJump(NewNode(OpNop), NewLabel())
	})
	expectPanic(t, "constant jump through WriteJump", func() {
		NewArrayWriter(nil).WriteJump(NewNode(OpJumpConstant, 0), NewLabel())
	})
	expectPanic(t, "jump with preset operand", func() {
		NewArrayWriter(nil).WriteJump(NewNode(OpJump, 5), NewLabel())
	})
	expectPanic(t, "missing operand", func() {
		NewArrayWriter(nil).Write(NewNode(OpCall, 2, 4))
	})
	expectPanic(t, "excess operands", func() {
		NewArrayWriter(nil).Write(NewNode(OpStar, 1, 2))
	})
}

// ---------------------------------------------------------------------------
// Register footprint tests
// ---------------------------------------------------------------------------

func TestRegisterFootprint(t *testing.T) {
	w := NewArrayWriter(nil)
	steps := []struct {
		node *Node
		want int
	}{
		{NewNode(OpStar, 5), 6},       // r5, span 1
		{NewNode(OpLdar, 2), 6},       // smaller, no change
		{NewNode(OpDivMod, 1, 7), 9},  // pair r7-r8
		{NewNode(OpCall, 2, 4, 3), 9}, // list r4..r6, still below
		{NewNode(OpCall, 0, 8, 4), 12},
		{NewNode(OpStar, 20), 21},
	}
	for i, tt := range steps {
		prev := w.MaxRegister()
		w.Write(tt.node)
		if got := w.MaxRegister(); got != tt.want {
			t.Errorf("step %d: MaxRegister = %d, want %d", i, got, tt.want)
		}
		if w.MaxRegister() < prev {
			t.Errorf("step %d: register footprint decreased", i)
		}
	}
}

// ---------------------------------------------------------------------------
// Backward jump tests
// ---------------------------------------------------------------------------

func TestBackwardJumpSmallDelta(t *testing.T) {
	w := NewArrayWriter(nil)
	label := NewLabel()
	w.BindLabel(label)
	writeNops(w, 5)
	w.WriteJump(NewNode(OpJump), label)

	if w.PendingJumpCount() != 0 {
		t.Errorf("backward jump should not pend, count = %d", w.PendingJumpCount())
	}
	array := w.ToBytecodeArray(0, 0, nil)
	if array.Code[5] != byte(OpJump) {
		t.Errorf("opcode = %#x, want OpJump", array.Code[5])
	}
	if array.Code[6] != 0xFB { // -5 in two's complement
		t.Errorf("displacement = %#x, want 0xFB", array.Code[6])
	}
	if len(array.Constants) != 0 {
		t.Errorf("pool = %v, want empty", array.Constants)
	}
}

func TestBackwardJumpWideDelta(t *testing.T) {
	w := NewArrayWriter(nil)
	label := NewLabel()
	w.BindLabel(label)
	writeNops(w, 200)
	w.WriteJump(NewNode(OpJump), label)

	array := w.ToBytecodeArray(0, 0, nil)
	// Delta -200 needs a short operand; the WIDE prefix shifts the jump's
	// origin one byte, so the encoded displacement is -201.
	want := []byte{byte(OpWide), byte(OpJump), 0x37, 0xFF}
	if !bytes.Equal(array.Code[200:204], want) {
		t.Errorf("jump bytes = %#v, want %#v", array.Code[200:204], want)
	}
	if len(array.Constants) != 0 {
		t.Errorf("pool = %v, want empty", array.Constants)
	}
}

// ---------------------------------------------------------------------------
// Forward jump tests
// ---------------------------------------------------------------------------

func TestForwardJumpSmallDelta(t *testing.T) {
	w := NewArrayWriter(nil)
	label := NewLabel()
	w.WriteJump(NewNode(OpJump), label)
	if w.PendingJumpCount() != 1 {
		t.Fatalf("pending = %d, want 1", w.PendingJumpCount())
	}
	writeNops(w, 3)
	w.BindLabel(label)

	if w.PendingJumpCount() != 0 {
		t.Errorf("pending after bind = %d, want 0", w.PendingJumpCount())
	}
	if label.Offset() != 5 {
		t.Errorf("label offset = %d, want 5", label.Offset())
	}
	array := w.ToBytecodeArray(0, 0, nil)
	if array.Code[0] != byte(OpJump) || array.Code[1] != 5 {
		t.Errorf("jump bytes = %#v, want [OpJump 5]", array.Code[:2])
	}
	if len(array.Constants) != 0 {
		t.Errorf("pool = %v, want empty (reservation discarded)", array.Constants)
	}
}

func TestForwardJumpOverflowingDelta(t *testing.T) {
	w := NewArrayWriter(nil)
	label := NewLabel()
	w.WriteJump(NewNode(OpJump), label)
	writeNops(w, 300)
	w.BindLabel(label)

	if w.PendingJumpCount() != 0 {
		t.Errorf("pending after bind = %d, want 0", w.PendingJumpCount())
	}
	array := w.ToBytecodeArray(0, 0, nil)
	// Delta 302 overflows the 1-byte placeholder: the opcode is rewritten
	// to its constant-operand sibling and the operand becomes a pool index.
	if array.Code[0] != byte(OpJumpConstant) {
		t.Errorf("opcode = %#x, want OpJumpConstant", array.Code[0])
	}
	if array.Code[1] != 0 {
		t.Errorf("pool index operand = %d, want 0", array.Code[1])
	}
	if len(array.Constants) != 1 || array.Constants[0] != IntConstant(302) {
		t.Errorf("pool = %v, want [302]", array.Constants)
	}
}

// TestForwardJumpWithInterleavedConstants loads 300 distinct literals
// between a forward jump and its target. The displacement overflows the
// byte placeholder, and the pool index it resolves to must still fit it
// even though the pool grew far past the byte-addressable range.
func TestForwardJumpWithInterleavedConstants(t *testing.T) {
	w := NewArrayWriter(nil)
	label := NewLabel()
	w.WriteJump(NewNode(OpJumpIfTrue), label)
	for i := 0; i < 300; i++ {
		idx := w.Constants().Insert(StringConstant(fmt.Sprintf("lit%d", i)))
		w.Write(NewNode(OpLdaConstant, idx))
	}
	delta := w.Offset()
	w.BindLabel(label)

	array := w.ToBytecodeArray(0, 0, nil)
	if array.Code[0] != byte(OpJumpIfTrueConstant) {
		t.Errorf("opcode = %#x, want OpJumpIfTrueConstant", array.Code[0])
	}
	poolIdx := array.Code[1]
	if array.Constants[poolIdx] != IntConstant(int64(delta)) {
		t.Errorf("pool[%d] = %v, want displacement %d", poolIdx, array.Constants[poolIdx], delta)
	}
}

func TestForwardJumpWideReservation(t *testing.T) {
	pool := NewConstantPoolBuilder()
	for i := 0; i < 256; i++ {
		pool.Insert(StringConstant(fmt.Sprintf("c%d", i)))
	}
	w := NewArrayWriter(pool)
	label := NewLabel()
	w.WriteJump(NewNode(OpJumpIfTrue), label)

	// Reservation needed a short operand, so the placeholder is two zero
	// bytes behind a WIDE prefix.
	if w.Offset() != 4 {
		t.Fatalf("jump length = %d, want 4", w.Offset())
	}
	writeNops(w, 3)
	w.BindLabel(label)

	array := w.ToBytecodeArray(0, 0, nil)
	// Delta 7 minus the prefix byte = 6, inline in the short operand.
	want := []byte{byte(OpWide), byte(OpJumpIfTrue), 0x06, 0x00}
	if !bytes.Equal(array.Code[:4], want) {
		t.Errorf("jump bytes = %#v, want %#v", array.Code[:4], want)
	}
	if len(array.Constants) != 256 {
		t.Errorf("pool length = %d, want 256 (reservation discarded)", len(array.Constants))
	}
}

func TestConditionalForwardJumpRewrite(t *testing.T) {
	w := NewArrayWriter(nil)
	label := NewLabel()
	w.WriteJump(NewNode(OpJumpIfFalse), label)
	writeNops(w, 200)
	w.BindLabel(label)

	array := w.ToBytecodeArray(0, 0, nil)
	if array.Code[0] != byte(OpJumpIfFalseConstant) {
		t.Errorf("opcode = %#x, want OpJumpIfFalseConstant", array.Code[0])
	}
	if array.Constants[0] != IntConstant(202) {
		t.Errorf("pool entry = %v, want 202", array.Constants[0])
	}
}

// ---------------------------------------------------------------------------
// Label binding tests
// ---------------------------------------------------------------------------

func TestAliasBinding(t *testing.T) {
	w := NewArrayWriter(nil)
	target := NewLabel()
	writeNops(w, 1)
	w.BindLabel(target)

	alias := NewLabel()
	w.WriteJump(NewNode(OpJumpIfTrue), alias)
	writeNops(w, 2)
	if w.PendingJumpCount() != 1 {
		t.Fatalf("pending = %d, want 1", w.PendingJumpCount())
	}

	w.BindLabelTo(target, alias)
	if w.PendingJumpCount() != 0 {
		t.Errorf("pending after alias bind = %d, want 0", w.PendingJumpCount())
	}
	if alias.Offset() != target.Offset() {
		t.Errorf("alias offset = %d, want %d", alias.Offset(), target.Offset())
	}
	array := w.ToBytecodeArray(0, 0, nil)
	// Jump at offset 1 reaching back to offset 1: displacement 0.
	if array.Code[1] != byte(OpJumpIfTrue) || array.Code[2] != 0 {
		t.Errorf("jump bytes = %#v, want [OpJumpIfTrue 0]", array.Code[1:3])
	}
}

func TestBindPreconditions(t *testing.T) {
	expectPanic(t, "rebinding a bound label", func() {
		w := NewArrayWriter(nil)
		label := NewLabel()
		w.BindLabel(label)
		w.BindLabel(label)
	})
	expectPanic(t, "alias bind to unbound target", func() {
		w := NewArrayWriter(nil)
		w.BindLabelTo(NewLabel(), NewLabel())
	})
	expectPanic(t, "alias bind of bound label", func() {
		w := NewArrayWriter(nil)
		target := NewLabel()
		w.BindLabel(target)
		bound := NewLabel()
		w.BindLabel(bound)
		w.BindLabelTo(target, bound)
	})
	expectPanic(t, "two forward jumps on one label", func() {
		w := NewArrayWriter(nil)
		label := NewLabel()
		w.WriteJump(NewNode(OpJump), label)
		w.WriteJump(NewNode(OpJump), label)
	})
}

func TestNonzeroPlaceholderPanics(t *testing.T) {
	w := NewArrayWriter(nil)
	label := NewLabel()
	w.WriteJump(NewNode(OpJump), label)
	w.code[1] = 7 // corrupt the placeholder
	expectPanic(t, "nonzero placeholder", func() {
		w.BindLabel(label)
	})
}

// ---------------------------------------------------------------------------
// Finalization tests
// ---------------------------------------------------------------------------

func TestFinalizeWithPendingJumpsPanics(t *testing.T) {
	w := NewArrayWriter(nil)
	w.WriteJump(NewNode(OpJump), NewLabel())
	expectPanic(t, "finalize with pending jumps", func() {
		w.ToBytecodeArray(0, 0, nil)
	})
}

func TestFrameSize(t *testing.T) {
	w := NewArrayWriter(nil)
	w.Write(NewNode(OpDivMod, 1, 7)) // footprint 9
	array := w.ToBytecodeArray(3, 2, nil)
	if array.FrameSize != 9*PointerSize {
		t.Errorf("frame size = %d, want %d", array.FrameSize, 9*PointerSize)
	}
	if array.ParameterCount != 2 {
		t.Errorf("parameter count = %d, want 2", array.ParameterCount)
	}
	if array.RegisterCount() != 9 {
		t.Errorf("register count = %d, want 9", array.RegisterCount())
	}

	// Declared locals dominate when generated code touches fewer registers.
	w2 := NewArrayWriter(nil)
	w2.Write(NewNode(OpStar, 0))
	array2 := w2.ToBytecodeArray(4, 0, nil)
	if array2.FrameSize != 4*PointerSize {
		t.Errorf("frame size = %d, want %d", array2.FrameSize, 4*PointerSize)
	}
}

func TestFrameSizeOrderIndependent(t *testing.T) {
	nodes := func() []*Node {
		return []*Node{
			NewNode(OpStar, 5),
			NewNode(OpDivMod, 1, 7),
			NewNode(OpCall, 2, 4, 3),
		}
	}

	forward := NewArrayWriter(nil)
	for _, n := range nodes() {
		forward.Write(n)
	}
	backward := NewArrayWriter(nil)
	ns := nodes()
	for i := len(ns) - 1; i >= 0; i-- {
		backward.Write(ns[i])
	}

	a := forward.ToBytecodeArray(2, 0, nil)
	b := backward.ToBytecodeArray(2, 0, nil)
	if a.FrameSize != b.FrameSize {
		t.Errorf("frame size depends on write order: %d vs %d", a.FrameSize, b.FrameSize)
	}
}

func TestHandlerTablePassthrough(t *testing.T) {
	handlers := []HandlerEntry{
		{TryStart: 0, TryEnd: 4, HandlerOffset: 8, ContextRegister: 2},
	}
	w := NewArrayWriter(nil)
	writeNops(w, 1)
	array := w.ToBytecodeArray(0, 0, handlers)
	if !reflect.DeepEqual(array.HandlerTable, handlers) {
		t.Errorf("handler table = %v, want %v", array.HandlerTable, handlers)
	}
}

func TestWriterUseAfterFinalizePanics(t *testing.T) {
	w := NewArrayWriter(nil)
	w.ToBytecodeArray(0, 0, nil)
	expectPanic(t, "write after finalize", func() {
		w.Write(NewNode(OpNop))
	})
	expectPanic(t, "finalize after finalize", func() {
		w.ToBytecodeArray(0, 0, nil)
	})
}

// ---------------------------------------------------------------------------
// Source position tests
// ---------------------------------------------------------------------------

func TestSourcePositions(t *testing.T) {
	w := NewArrayWriter(nil)
	w.Write(NewNode(OpLdaSmi, 1).WithSource(StatementPosition(10)))
	w.Write(NewNode(OpNop)) // no source info, not recorded
	w.Write(NewNode(OpReturn).WithSource(ExpressionPosition(14)))

	label := NewLabel()
	w.WriteJump(NewNode(OpJump).WithSource(StatementPosition(20)), label)
	w.BindLabel(label)

	array := w.ToBytecodeArray(0, 0, nil)
	want := []PositionEntry{
		{BytecodeOffset: 0, SourceOffset: 10, IsStatement: true},
		{BytecodeOffset: 3, SourceOffset: 14, IsStatement: false},
		{BytecodeOffset: 4, SourceOffset: 20, IsStatement: true},
	}
	if !reflect.DeepEqual(array.SourcePositions, want) {
		t.Errorf("positions = %v, want %v", array.SourcePositions, want)
	}

	if pos, ok := SourcePositionAt(array.SourcePositions, 3); !ok || pos.SourceOffset != 14 {
		t.Errorf("SourcePositionAt(3) = %v, %v; want source 14", pos, ok)
	}
	if pos, ok := SourcePositionAt(array.SourcePositions, 2); !ok || pos.SourceOffset != 10 {
		t.Errorf("SourcePositionAt(2) = %v, %v; want nearest preceding (10)", pos, ok)
	}
	if _, ok := SourcePositionAt(nil, 0); ok {
		t.Error("SourcePositionAt on empty table should miss")
	}
}
