// Package bytecode implements the final stage of the quill compiler
// backend: turning the stream of already-selected instructions into a
// linear byte sequence with all control-flow targets resolved.
//
// The bytecode format is designed for:
//   - Compact representation (operands take 1, 2 or 4 bytes, chosen per
//     instruction via an optional scale prefix)
//   - Fast decoding (fixed-width opcodes, little-endian operands)
//   - Easy serialization (artifacts round-trip through CBOR for storage
//     or cross-process transport)
//
// # Architecture Overview
//
// The package consists of several components:
//
//   - Opcodes: a register-machine instruction set with metadata tables
//     describing operand types, widths per scale, and which operand
//     positions name registers
//
//   - ArrayWriter: serializes instruction nodes into a growing byte
//     buffer while tracking the register footprint, and resolves jumps.
//     Backward jumps encode their displacement immediately; forward jumps
//     reserve a constant pool slot, emit zeroed placeholder bytes, and
//     are patched in place when their label is bound
//
//   - ConstantPoolBuilder: accumulates the constant pool, including the
//     two-phase reserve/commit-or-discard protocol the jump resolver uses
//     for displacements of unknown magnitude
//
//   - SourcePositionBuilder: records bytecode-offset to source-position
//     mappings for debugging
//
//   - BytecodeArray: the finished artifact bundling code, frame size,
//     constant pool, handler table, and source positions
//
// # Forward Jump Resolution
//
// The writer is single-pass: once bytes are emitted their offsets never
// move. A jump to an unbound label therefore has to guess its operand
// width. The constant pool supplies the guess: the reservation width is
// whatever a pool index needs at that point, so if the displacement later
// overflows the inline operand, the resolved value is committed to the
// reserved slot and the jump opcode is rewritten in place to its
// constant-operand sibling. Small displacements discard the reservation
// and patch the placeholder bytes directly.
//
// # Contract
//
// A writer instance is owned by one compilation unit and is not safe for
// concurrent use. Misuse (writing a jump through Write, presenting a jump
// node with a nonzero displacement, rebinding a label, issuing two forward
// jumps against one label, finalizing with unresolved jumps) is a bug in
// the instruction-selection stage and panics immediately.
package bytecode
