// Package rand generates short random identifiers used to correlate RPC
// requests with their responses on the session channel.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const (
	bytesInUint64 = 8
	charset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789" // reduced base64
)

var charsetLen = len(charset)

var defaultRandBytes = newRandBytes()

func newRandBytes() *randBytes {
	seed := make([]byte, bytesInUint64*2)

	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}

	return &randBytes{
		//nolint:gosec // request ids are not security sensitive
		rng: rand.New(rand.NewPCG(
			binary.LittleEndian.Uint64(seed[:8]),
			binary.LittleEndian.Uint64(seed[8:]),
		)),
	}
}

type randBytes struct {
	mut sync.Mutex
	rng *rand.Rand
}

func (rb *randBytes) read(bytes []byte) {
	numBytes := len(bytes)
	numUint64s := numBytes / bytesInUint64
	remainingBytes := numBytes % bytesInUint64

	rb.mut.Lock()
	defer rb.mut.Unlock()

	for i := range numUint64s {
		from := i * bytesInUint64
		to := (i + 1) * bytesInUint64
		binary.LittleEndian.PutUint64(bytes[from:to], rb.rng.Uint64())
	}

	if remainingBytes > 0 {
		tail := make([]byte, bytesInUint64)
		binary.LittleEndian.PutUint64(tail, rb.rng.Uint64())
		copy(bytes[numUint64s*bytesInUint64:], tail[:remainingBytes])
	}
}

// NewRequestID returns a random base62 string of the given length.
// The distribution is not perfectly uniform, which is acceptable here.
func NewRequestID(requestIDLength int) string {
	buf := make([]byte, requestIDLength)
	defaultRandBytes.read(buf)

	for i, b := range buf {
		buf[i] = charset[int(b)%charsetLen]
	}

	return string(buf)
}
