package kv

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same record always
// produces the same bytes. Timestamps keep nanosecond precision.
var encMode cbor.EncMode

// decMode ignores unknown fields so older binaries can read newer records.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("kv: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("kv: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
