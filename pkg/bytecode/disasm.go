package bytecode

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing for the artifact.
func (a *BytecodeArray) Disassemble() string {
	return a.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (a *BytecodeArray) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Frame size: %d (%d registers)\n", a.FrameSize, a.RegisterCount()))
	sb.WriteString(fmt.Sprintf("; Parameters: %d\n", a.ParameterCount))

	if len(a.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range a.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, c))
		}
	}

	if len(a.HandlerTable) > 0 {
		sb.WriteString("; Handlers:\n")
		for i, h := range a.HandlerTable {
			sb.WriteString(fmt.Sprintf(";   [%3d] try %04X-%04X -> %04X (ctx r%d)\n",
				i, h.TryStart, h.TryEnd, h.HandlerOffset, h.ContextRegister))
		}
	}

	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(a.Code) {
		line, length := DisassembleInstruction(a.Code, offset)
		if target, ok := jumpTargetAt(a.Code, offset); ok {
			line += fmt.Sprintf(" (to %04X)", target)
		}
		if pos, ok := SourcePositionAt(a.SourcePositions, uint32(offset)); ok && pos.BytecodeOffset == uint32(offset) {
			marker := ""
			if pos.IsStatement {
				marker = " [stmt]"
			}
			sb.WriteString(fmt.Sprintf("%04X  %-40s ; source %d%s\n", offset, line, pos.SourceOffset, marker))
		} else {
			sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		}
		offset += length
	}

	return sb.String()
}

// DisassembleInstruction decodes the instruction at offset, returning its
// textual form and total encoded length including any scale prefix.
func DisassembleInstruction(code []byte, offset int) (string, int) {
	if offset >= len(code) {
		return "<end of code>", 0
	}

	start := offset
	scale := ScaleSingle
	op := Opcode(code[offset])
	if s, ok := ScaleForPrefix(op); ok {
		scale = s
		offset++
		if offset >= len(code) {
			return fmt.Sprintf("%s <truncated>", op), offset - start
		}
		op = Opcode(code[offset])
	}
	offset++

	info := op.Info()
	parts := make([]string, 0, len(info.Operands)+1)
	parts = append(parts, info.Name)

	for _, t := range info.Operands {
		width := OperandWidth(t, scale)
		if offset+width > len(code) {
			parts = append(parts, "<truncated>")
			break
		}
		value := readOperand(code, offset, width)
		offset += width
		parts = append(parts, formatOperand(t, value, width))
	}

	return strings.Join(parts, " "), offset - start
}

// jumpTargetAt resolves the absolute target of an immediate jump encoded at
// offset. Displacements are relative to the first byte of the instruction,
// prefix included, so a prefixed jump adds the prefix byte back.
func jumpTargetAt(code []byte, offset int) (int, bool) {
	pos := offset
	scale := ScaleSingle
	prefixAdjust := 0
	op := Opcode(code[pos])
	if s, ok := ScaleForPrefix(op); ok {
		scale = s
		prefixAdjust = 1
		pos++
		if pos >= len(code) {
			return 0, false
		}
		op = Opcode(code[pos])
	}
	if !op.IsJumpImmediate() {
		return 0, false
	}
	width := int(scale)
	if pos+1+width > len(code) {
		return 0, false
	}
	delta := signExtend(readOperand(code, pos+1, width), width)
	return offset + prefixAdjust + int(delta), true
}

func readOperand(code []byte, offset, width int) uint32 {
	switch width {
	case 1:
		return uint32(code[offset])
	case 2:
		return uint32(binary.LittleEndian.Uint16(code[offset:]))
	default:
		return binary.LittleEndian.Uint32(code[offset:])
	}
}

func formatOperand(t OperandType, value uint32, width int) string {
	switch t {
	case OperandImm:
		return fmt.Sprintf("%d", signExtend(value, width))
	case OperandIdx:
		return fmt.Sprintf("[%d]", value)
	case OperandReg, OperandRegList:
		return fmt.Sprintf("r%d", value)
	case OperandRegPair:
		return fmt.Sprintf("r%d-r%d", value, value+1)
	case OperandRegCount:
		return fmt.Sprintf("#%d", value)
	default:
		return fmt.Sprintf("%d", value)
	}
}

func signExtend(value uint32, width int) int32 {
	switch width {
	case 1:
		return int32(int8(value))
	case 2:
		return int32(int16(value))
	default:
		return int32(value)
	}
}
