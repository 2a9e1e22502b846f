package testing

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/dargueta/norblock/erase"
	"github.com/dargueta/norblock/geometry"
	"github.com/dargueta/norblock/transport/memflash"
	"github.com/stretchr/testify/require"
)

// TestChipSlug is the predefined geometry used by [NewChip]: 1 MiB with 4 KiB
// subsectors, small enough to copy around freely in tests.
const TestChipSlug = "test1m"

// FastPolicy polls the simulated chip without sleeping long enough to slow the
// tests down, and gives up quickly when the chip is stuck.
var FastPolicy = erase.Policy{
	Timeout:        50 * time.Millisecond,
	InitialBackoff: time.Microsecond,
	MaxBackoff:     100 * time.Microsecond,
}

// TestGeometry returns the geometry of [TestChipSlug].
func TestGeometry(t *testing.T) geometry.Descriptor {
	geo, err := geometry.Predefined(TestChipSlug)
	require.NoError(t, err)
	return geo
}

// NewChip creates a blank, uninitialized simulated chip with the test geometry.
func NewChip(t *testing.T) *memflash.Chip {
	return memflash.New(TestGeometry(t), memflash.Options{})
}

// PatternBytes returns `length` bytes where byte i is (i + seed) mod 256.
func PatternBytes(length int, seed uint32) []byte {
	data := make([]byte, length)
	for i := range data {
		data[i] = byte((uint32(i) + seed) % 256)
	}
	return data
}

// CreateRandomImage returns `size` random bytes. It's guaranteed to either
// return a valid slice or fail the test and abort.
func CreateRandomImage(size uint, t *testing.T) []byte {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoErrorf(t, err, "failed to initialize %d random bytes", size)
	return data
}

// RequireErased fails the test immediately if any byte of `data` isn't the
// erased value, reporting the first offending offset.
func RequireErased(t *testing.T, data []byte) {
	index := -1
	for i, b := range data {
		if b != memflash.ErasedValue {
			index = i
			break
		}
	}
	if index >= 0 {
		require.FailNowf(
			t,
			"region not erased",
			"byte %d of %d is %#02x, expected %#02x",
			index,
			len(data),
			data[index],
			memflash.ErasedValue)
	}
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

// Logger returns a logger that writes through the test's own log, so messages
// only show up for failing or verbose tests.
func Logger(t *testing.T) *log.Logger {
	return log.New(testWriter{t}, fmt.Sprintf("[%s] ", t.Name()), 0)
}
