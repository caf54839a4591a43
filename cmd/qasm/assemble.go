package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/quill/pkg/bytecode"
)

// Assembler translates a line-oriented listing into a bytecode artifact.
//
// Listing syntax:
//
//	; comment
//	.params 1
//	.locals 2
//	loop:
//	    LDA_CONSTANT "hello"
//	    STAR r0
//	    JUMP_IF_FALSE @done
//	    JUMP @loop
//	done:
//	    RETURN
//
// Registers are written rN, register counts #N, jump targets @name, pool
// indices as bare integers or quoted strings (inserted into the pool).
// Forward references get one label per jump site; when the target line is
// reached the first label is bound directly and the rest are alias-bound
// to it.
type Assembler struct {
	writer  *bytecode.ArrayWriter
	bound   map[string]*bytecode.Label
	pending map[string][]*bytecode.Label
	params  int
	locals  int
}

// NewAssembler creates an assembler with an empty program.
func NewAssembler() *Assembler {
	return &Assembler{
		writer:  bytecode.NewArrayWriter(nil),
		bound:   make(map[string]*bytecode.Label),
		pending: make(map[string][]*bytecode.Label),
	}
}

// Assemble translates source and finalizes the artifact.
func (a *Assembler) Assemble(source string) (*bytecode.BytecodeArray, error) {
	offset := 0
	for i, line := range strings.Split(source, "\n") {
		lineStart := offset
		offset += len(line) + 1
		if err := a.assembleLine(line, i+1, lineStart); err != nil {
			return nil, err
		}
	}

	for name := range a.pending {
		return nil, fmt.Errorf("qasm: undefined label %q", name)
	}
	return a.writer.ToBytecodeArray(a.locals, a.params, nil), nil
}

func (a *Assembler) assembleLine(line string, lineNo, lineStart int) error {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if name, ok := strings.CutSuffix(line, ":"); ok {
		return a.defineLabel(strings.TrimSpace(name), lineNo)
	}
	if strings.HasPrefix(line, ".") {
		return a.directive(line, lineNo)
	}

	fields := strings.Fields(line)
	op, ok := bytecode.OpcodeNamed(fields[0])
	if !ok {
		return fmt.Errorf("qasm: line %d: unknown instruction %q", lineNo, fields[0])
	}
	if op.IsPrefix() || op.IsJumpConstant() {
		return fmt.Errorf("qasm: line %d: %s cannot be written directly", lineNo, op)
	}

	source := bytecode.StatementPosition(lineStart)
	if op.IsJumpImmediate() {
		return a.assembleJump(op, fields[1:], lineNo, source)
	}
	return a.assemblePlain(op, fields[1:], lineNo, source)
}

// maxDirectiveValue caps .params and .locals. Registers are byte-addressed
// at single scale and the frame has no business being larger than this.
const maxDirectiveValue = 0xFFFF

func (a *Assembler) directive(line string, lineNo int) error {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return fmt.Errorf("qasm: line %d: malformed directive %q", lineNo, line)
	}
	value, err := strconv.Atoi(fields[1])
	if err != nil || value < 0 {
		return fmt.Errorf("qasm: line %d: bad directive value %q", lineNo, fields[1])
	}
	if value > maxDirectiveValue {
		return fmt.Errorf("qasm: line %d: %s value %d out of range (max %d)",
			lineNo, fields[0], value, maxDirectiveValue)
	}
	switch fields[0] {
	case ".params":
		a.params = value
	case ".locals":
		a.locals = value
	default:
		return fmt.Errorf("qasm: line %d: unknown directive %q", lineNo, fields[0])
	}
	return nil
}

func (a *Assembler) defineLabel(name string, lineNo int) error {
	if name == "" {
		return fmt.Errorf("qasm: line %d: empty label name", lineNo)
	}
	if _, ok := a.bound[name]; ok {
		return fmt.Errorf("qasm: line %d: duplicate label %q", lineNo, name)
	}

	pending := a.pending[name]
	delete(a.pending, name)

	var label *bytecode.Label
	if len(pending) > 0 {
		label = pending[0]
		a.writer.BindLabel(label)
		for _, alias := range pending[1:] {
			a.writer.BindLabelTo(label, alias)
		}
	} else {
		label = bytecode.NewLabel()
		a.writer.BindLabel(label)
	}
	a.bound[name] = label
	return nil
}

func (a *Assembler) assembleJump(op bytecode.Opcode, args []string, lineNo int, source bytecode.SourceInfo) error {
	if len(args) != 1 || !strings.HasPrefix(args[0], "@") {
		return fmt.Errorf("qasm: line %d: %s needs one @label operand", lineNo, op)
	}
	name := args[0][1:]

	node := bytecode.NewNode(op).WithSource(source)
	if label, ok := a.bound[name]; ok {
		a.writer.WriteJump(node, label)
		return nil
	}
	// Forward reference: a fresh label per jump site, resolved together
	// when the target line is reached.
	label := bytecode.NewLabel()
	a.pending[name] = append(a.pending[name], label)
	a.writer.WriteJump(node, label)
	return nil
}

func (a *Assembler) assemblePlain(op bytecode.Opcode, args []string, lineNo int, source bytecode.SourceInfo) error {
	operandTypes := op.Info().Operands
	if len(args) != len(operandTypes) {
		return fmt.Errorf("qasm: line %d: %s needs %d operands, got %d",
			lineNo, op, len(operandTypes), len(args))
	}

	operands := make([]uint32, len(args))
	for i, arg := range args {
		value, err := a.parseOperand(operandTypes[i], arg)
		if err != nil {
			return fmt.Errorf("qasm: line %d: operand %d: %w", lineNo, i+1, err)
		}
		operands[i] = value
	}
	a.writer.Write(bytecode.NewNode(op, operands...).WithSource(source))
	return nil
}

func (a *Assembler) parseOperand(t bytecode.OperandType, arg string) (uint32, error) {
	switch {
	case strings.HasPrefix(arg, "r") && t.IsRegister():
		value, err := strconv.ParseUint(arg[1:], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("bad register %q", arg)
		}
		return uint32(value), nil
	case strings.HasPrefix(arg, "#"):
		value, err := strconv.ParseUint(arg[1:], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("bad count %q", arg)
		}
		return uint32(value), nil
	case strings.HasPrefix(arg, `"`):
		text, err := strconv.Unquote(arg)
		if err != nil {
			return 0, fmt.Errorf("bad string literal %s", arg)
		}
		if t != bytecode.OperandIdx {
			return 0, fmt.Errorf("string literal needs a pool-index operand")
		}
		return a.writer.Constants().Insert(bytecode.StringConstant(text)), nil
	default:
		value, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad operand %q", arg)
		}
		return uint32(int32(value)), nil
	}
}
