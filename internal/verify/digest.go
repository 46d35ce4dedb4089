package verify

import (
	"encoding/binary"
	"math"

	"github.com/ethereum/go-ethereum/crypto"
)

// Digest returns the Keccak-256 hash of the raw little-endian float32 bits.
// Equal digests mean bit-identical outputs.
func Digest(values []float32) string {
	buf := make([]byte, 0, 4*len(values))
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return crypto.Keccak256Hash(buf).Hex()
}
