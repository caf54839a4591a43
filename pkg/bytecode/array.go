package bytecode

// PointerSize is the width of one frame slot in bytes. Registers occupy one
// word-sized slot each.
const PointerSize = 8

// HandlerEntry describes one exception handler range. The table is built by
// the instruction-selection stage and passed through finalization unchanged.
type HandlerEntry struct {
	TryStart        uint32 `cbor:"try_start"`
	TryEnd          uint32 `cbor:"try_end"`
	HandlerOffset   uint32 `cbor:"handler"`
	ContextRegister uint32 `cbor:"context_reg"`
}

// BytecodeArray is the finished artifact for one compiled unit: the encoded
// instruction stream together with everything the runtime needs to execute
// it. Produced once by ArrayWriter.ToBytecodeArray.
type BytecodeArray struct {
	Code            []byte          `cbor:"code"`
	FrameSize       int             `cbor:"frame_size"`
	ParameterCount  int             `cbor:"param_count"`
	Constants       []Constant      `cbor:"constants"`
	HandlerTable    []HandlerEntry  `cbor:"handlers,omitempty"`
	SourcePositions []PositionEntry `cbor:"positions,omitempty"`
}

// RegisterCount returns the number of frame slots implied by FrameSize.
func (a *BytecodeArray) RegisterCount() int {
	return a.FrameSize / PointerSize
}
