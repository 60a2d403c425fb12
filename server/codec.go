package server

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype both transports negotiate:
// application/cbor for Connect and application/grpc+cbor for gRPC.
const codecName = "cbor"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	encoding.RegisterCodec(cborCodec{})
}

// cborCodec marshals RPC messages as canonical CBOR. It satisfies both
// connect.Codec and grpc's encoding.Codec.
type cborCodec struct{}

func (cborCodec) Name() string {
	return codecName
}

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
