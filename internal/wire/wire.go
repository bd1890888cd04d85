// Package wire holds the CBOR codec shared by every network surface.
// Devices and operators both speak compact CBOR; keeping one EncMode here
// guarantees the broker, the MQTT adapter and the admin adapter agree on
// the exact byte encoding.
package wire

import (
	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core deterministic encoding keeps integers and floats in their
	// shortest form, which matters for constrained device parsers.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	decMode, err = cbor.DecOptions{
		// Frames come from the network; cap nesting so a hostile payload
		// cannot exhaust the stack.
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v using the project-wide compact CBOR encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Null is the CBOR null item, published as the "no update" sentinel.
var Null = []byte{0xf6}
