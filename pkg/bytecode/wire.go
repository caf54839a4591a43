package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode holds CBOR encoding options with canonical mode for
// deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalArray serializes a BytecodeArray to CBOR bytes.
func MarshalArray(a *BytecodeArray) ([]byte, error) {
	return cborEncMode.Marshal(a)
}

// UnmarshalArray deserializes a BytecodeArray from CBOR bytes.
func UnmarshalArray(data []byte) (*BytecodeArray, error) {
	var a BytecodeArray
	if err := cbor.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal array: %w", err)
	}
	return &a, nil
}
