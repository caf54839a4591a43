package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Prefix and no-op opcodes (0x00-0x0F)
	// ========================================================================

	OpNop       Opcode = 0x00 // No operation
	OpWide      Opcode = 0x01 // Prefix: following instruction uses 2-byte operands
	OpExtraWide Opcode = 0x02 // Prefix: following instruction uses 4-byte operands

	// ========================================================================
	// Accumulator loads (0x10-0x1F)
	// ========================================================================

	OpLdaZero     Opcode = 0x10 // Load zero into accumulator
	OpLdaSmi      Opcode = 0x11 // Load small integer: OpLdaSmi <imm>
	OpLdaConstant Opcode = 0x12 // Load from constant pool: OpLdaConstant <idx>
	OpLdaTrue     Opcode = 0x13 // Load true
	OpLdaFalse    Opcode = 0x14 // Load false
	OpLdaNull     Opcode = 0x15 // Load null
	OpLdar        Opcode = 0x16 // Load register into accumulator: OpLdar <reg>
	OpStar        Opcode = 0x17 // Store accumulator into register: OpStar <reg>
	OpMov         Opcode = 0x18 // Copy register to register: OpMov <src> <dst>

	// ========================================================================
	// Arithmetic, accumulator op register (0x20-0x2F)
	// ========================================================================

	OpAdd    Opcode = 0x20 // acc = acc + reg
	OpSub    Opcode = 0x21 // acc = acc - reg
	OpMul    Opcode = 0x22 // acc = acc * reg
	OpDiv    Opcode = 0x23 // acc = acc / reg
	OpMod    Opcode = 0x24 // acc = acc % reg
	OpDivMod Opcode = 0x25 // quotient and remainder of acc / reg into a register pair
	OpNegate Opcode = 0x26 // acc = -acc

	// ========================================================================
	// Comparison, result in accumulator (0x30-0x3F)
	// ========================================================================

	OpTestEqual   Opcode = 0x30 // acc = acc == reg
	OpTestLess    Opcode = 0x31 // acc = acc < reg
	OpTestGreater Opcode = 0x32 // acc = acc > reg

	// ========================================================================
	// Calls and returns (0x40-0x4F)
	// ========================================================================

	OpCall   Opcode = 0x40 // Call: OpCall <callee> <first_arg> <arg_count>
	OpReturn Opcode = 0x48 // Return accumulator to caller

	// ========================================================================
	// Jumps with immediate displacement (0x50-0x57)
	// ========================================================================

	OpJump          Opcode = 0x50 // Unconditional jump: OpJump <offset>
	OpJumpIfTrue    Opcode = 0x51 // Jump if accumulator is true
	OpJumpIfFalse   Opcode = 0x52 // Jump if accumulator is false
	OpJumpIfNull    Opcode = 0x53 // Jump if accumulator is null
	OpJumpIfNotNull Opcode = 0x54 // Jump if accumulator is not null

	// ========================================================================
	// Jumps through the constant pool (0x58-0x5F)
	// ========================================================================

	OpJumpConstant          Opcode = 0x58 // Displacement read from pool: <idx>
	OpJumpIfTrueConstant    Opcode = 0x59 // Conditional forms of the same
	OpJumpIfFalseConstant   Opcode = 0x5A
	OpJumpIfNullConstant    Opcode = 0x5B
	OpJumpIfNotNullConstant Opcode = 0x5C
)

// OperandType describes how a single operand is interpreted.
type OperandType uint8

const (
	OperandNone     OperandType = iota
	OperandImm                  // signed immediate
	OperandUImm                 // unsigned immediate
	OperandIdx                  // constant pool or table index
	OperandReg                  // single register
	OperandRegPair              // first of two consecutive registers
	OperandRegList              // first of N consecutive registers, N in the following count operand
	OperandRegCount             // register count for a preceding OperandRegList
	OperandFlag                 // one-byte flag, never scaled
)

// String returns a human-readable name for OperandType.
func (t OperandType) String() string {
	switch t {
	case OperandNone:
		return "none"
	case OperandImm:
		return "imm"
	case OperandUImm:
		return "uimm"
	case OperandIdx:
		return "idx"
	case OperandReg:
		return "reg"
	case OperandRegPair:
		return "reg_pair"
	case OperandRegList:
		return "reg_list"
	case OperandRegCount:
		return "reg_count"
	case OperandFlag:
		return "flag"
	default:
		return fmt.Sprintf("OperandType(%d)", t)
	}
}

// IsRegister reports whether operands of this type name a register.
func (t OperandType) IsRegister() bool {
	return t == OperandReg || t == OperandRegPair || t == OperandRegList
}

// RegisterSpan returns how many consecutive registers an operand of this
// type covers. OperandRegList returns 0: its span comes from the following
// OperandRegCount operand.
func (t OperandType) RegisterSpan() int {
	switch t {
	case OperandReg:
		return 1
	case OperandRegPair:
		return 2
	default:
		return 0
	}
}

// IsScalable reports whether operands of this type widen with the
// instruction's operand scale. Flags stay one byte at every scale.
func (t OperandType) IsScalable() bool {
	return t != OperandFlag
}

// OperandScale selects the byte width of scalable operands for one
// instruction. Scales wider than single are signaled by a prefix opcode.
type OperandScale uint8

const (
	ScaleSingle    OperandScale = 1
	ScaleDouble    OperandScale = 2
	ScaleQuadruple OperandScale = 4
)

// OperandSize is the encoded width of a single operand in bytes.
type OperandSize uint8

const (
	SizeByte  OperandSize = 1
	SizeShort OperandSize = 2
	SizeQuad  OperandSize = 4
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string        // human-readable name
	Operands []OperandType // operand types in encoding order
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:       {"NOP", nil},
	OpWide:      {"WIDE", nil},
	OpExtraWide: {"EXTRA_WIDE", nil},

	// Accumulator loads
	OpLdaZero:     {"LDA_ZERO", nil},
	OpLdaSmi:      {"LDA_SMI", []OperandType{OperandImm}},
	OpLdaConstant: {"LDA_CONSTANT", []OperandType{OperandIdx}},
	OpLdaTrue:     {"LDA_TRUE", nil},
	OpLdaFalse:    {"LDA_FALSE", nil},
	OpLdaNull:     {"LDA_NULL", nil},
	OpLdar:        {"LDAR", []OperandType{OperandReg}},
	OpStar:        {"STAR", []OperandType{OperandReg}},
	OpMov:         {"MOV", []OperandType{OperandReg, OperandReg}},

	// Arithmetic
	OpAdd:    {"ADD", []OperandType{OperandReg}},
	OpSub:    {"SUB", []OperandType{OperandReg}},
	OpMul:    {"MUL", []OperandType{OperandReg}},
	OpDiv:    {"DIV", []OperandType{OperandReg}},
	OpMod:    {"MOD", []OperandType{OperandReg}},
	OpDivMod: {"DIV_MOD", []OperandType{OperandReg, OperandRegPair}},
	OpNegate: {"NEGATE", nil},

	// Comparison
	OpTestEqual:   {"TEST_EQUAL", []OperandType{OperandReg}},
	OpTestLess:    {"TEST_LESS", []OperandType{OperandReg}},
	OpTestGreater: {"TEST_GREATER", []OperandType{OperandReg}},

	// Calls and returns
	OpCall:   {"CALL", []OperandType{OperandReg, OperandRegList, OperandRegCount}},
	OpReturn: {"RETURN", nil},

	// Jumps with immediate displacement
	OpJump:          {"JUMP", []OperandType{OperandImm}},
	OpJumpIfTrue:    {"JUMP_IF_TRUE", []OperandType{OperandImm}},
	OpJumpIfFalse:   {"JUMP_IF_FALSE", []OperandType{OperandImm}},
	OpJumpIfNull:    {"JUMP_IF_NULL", []OperandType{OperandImm}},
	OpJumpIfNotNull: {"JUMP_IF_NOT_NULL", []OperandType{OperandImm}},

	// Jumps through the constant pool
	OpJumpConstant:          {"JUMP_CONSTANT", []OperandType{OperandIdx}},
	OpJumpIfTrueConstant:    {"JUMP_IF_TRUE_CONSTANT", []OperandType{OperandIdx}},
	OpJumpIfFalseConstant:   {"JUMP_IF_FALSE_CONSTANT", []OperandType{OperandIdx}},
	OpJumpIfNullConstant:    {"JUMP_IF_NULL_CONSTANT", []OperandType{OperandIdx}},
	OpJumpIfNotNullConstant: {"JUMP_IF_NOT_NULL_CONSTANT", []OperandType{OperandIdx}},
}

// jumpConstantVariant maps each immediate jump to the sibling opcode that
// reads its displacement from the constant pool. The patcher relies on the
// mapping being total over immediate jumps.
var jumpConstantVariant = map[Opcode]Opcode{
	OpJump:          OpJumpConstant,
	OpJumpIfTrue:    OpJumpIfTrueConstant,
	OpJumpIfFalse:   OpJumpIfFalseConstant,
	OpJumpIfNull:    OpJumpIfNullConstant,
	OpJumpIfNotNull: OpJumpIfNotNullConstant,
}

// opcodeByName maps opcode names back to opcodes, for the assembler.
var opcodeByName = make(map[string]Opcode, len(opcodeTable))

func init() {
	for op, info := range opcodeTable {
		opcodeByName[info.Name] = op
	}
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// OpcodeNamed returns the opcode with the given table name.
func OpcodeNamed(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// IsJumpImmediate reports whether op is a jump carrying an inline signed
// displacement.
func (op Opcode) IsJumpImmediate() bool {
	return op >= OpJump && op <= OpJumpIfNotNull
}

// IsJumpConstant reports whether op is a jump reading its displacement from
// the constant pool.
func (op Opcode) IsJumpConstant() bool {
	return op >= OpJumpConstant && op <= OpJumpIfNotNullConstant
}

// IsJump reports whether op transfers control to a relative target.
func (op Opcode) IsJump() bool {
	return op.IsJumpImmediate() || op.IsJumpConstant()
}

// IsPrefix reports whether op is one of the operand scale prefixes.
func (op Opcode) IsPrefix() bool {
	return op == OpWide || op == OpExtraWide
}

// ConstantVariant returns the constant-pool sibling of an immediate jump.
// Panics if op has no such sibling: a miss means the opcode tables are
// inconsistent.
func (op Opcode) ConstantVariant() Opcode {
	variant, ok := jumpConstantVariant[op]
	if !ok {
		panic(fmt.Sprintf("bytecode: no constant-operand variant for %s", op))
	}
	return variant
}

// PrefixForScale returns the prefix opcode announcing the given scale.
// ScaleSingle needs no prefix; asking for one is a table misuse.
func PrefixForScale(scale OperandScale) Opcode {
	switch scale {
	case ScaleDouble:
		return OpWide
	case ScaleQuadruple:
		return OpExtraWide
	default:
		panic(fmt.Sprintf("bytecode: no prefix opcode for scale %d", scale))
	}
}

// ScaleForPrefix returns the operand scale announced by a prefix opcode.
func ScaleForPrefix(op Opcode) (OperandScale, bool) {
	switch op {
	case OpWide:
		return ScaleDouble, true
	case OpExtraWide:
		return ScaleQuadruple, true
	default:
		return ScaleSingle, false
	}
}

// OperandWidth returns the encoded width in bytes of an operand of type t
// at the given scale.
func OperandWidth(t OperandType, scale OperandScale) int {
	if t.IsScalable() {
		return int(scale)
	}
	return 1
}

// SizeForSignedOperand returns the smallest operand size whose signed range
// holds value.
func SizeForSignedOperand(value int32) OperandSize {
	switch {
	case value >= -128 && value <= 127:
		return SizeByte
	case value >= -32768 && value <= 32767:
		return SizeShort
	default:
		return SizeQuad
	}
}

// SizeForUnsignedOperand returns the smallest operand size holding value.
func SizeForUnsignedOperand(value uint32) OperandSize {
	switch {
	case value <= 0xFF:
		return SizeByte
	case value <= 0xFFFF:
		return SizeShort
	default:
		return SizeQuad
	}
}

// ScaleForSize returns the operand scale at which scalable operands have
// the given encoded size.
func ScaleForSize(size OperandSize) OperandScale {
	switch size {
	case SizeByte:
		return ScaleSingle
	case SizeShort:
		return ScaleDouble
	default:
		return ScaleQuadruple
	}
}

// ScaleForOperands returns the smallest scale at which every scalable
// operand of op fits its encoded width. Signed immediates are measured over
// their two's-complement range.
func ScaleForOperands(op Opcode, operands []uint32) OperandScale {
	scale := ScaleSingle
	for i, t := range op.Info().Operands {
		if i >= len(operands) || !t.IsScalable() {
			continue
		}
		var size OperandSize
		if t == OperandImm {
			size = SizeForSignedOperand(int32(operands[i]))
		} else {
			size = SizeForUnsignedOperand(operands[i])
		}
		if s := ScaleForSize(size); s > scale {
			scale = s
		}
	}
	return scale
}
