package record

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode is fixed at package init to Core Deterministic Encoding (RFC
// 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Two samplings of identical field values
// always produce identical bytes, which keeps WireSize and the actual
// write-unit payload in agreement.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("record: cbor encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("record: cbor decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to its deterministic CBOR wire form.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
