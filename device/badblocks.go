// Bad subsector tracking

package device

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/norblock"
)

// badBlockMap has one bit per subsector, set if the subsector has been
// retired. Subsectors are the smallest erase unit, so nothing finer is useful.
type badBlockMap struct {
	bits  bitmap.Bitmap
	total uint32
}

func newBadBlockMap(totalSubsectors uint32) badBlockMap {
	return badBlockMap{
		bits:  bitmap.New(int(totalSubsectors)),
		total: totalSubsectors,
	}
}

// newBadBlockMapFromBytes restores a map saved with [badBlockMap.bytes]. The
// saved map must have been made for the same number of subsectors.
func newBadBlockMapFromBytes(saved []byte, totalSubsectors uint32) (badBlockMap, error) {
	expectedSize := (int(totalSubsectors) + 7) / 8
	if len(saved) != expectedSize {
		return badBlockMap{}, norblock.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"bad block map is %d bytes, expected %d for %d subsectors",
				len(saved),
				expectedSize,
				totalSubsectors))
	}

	bitmapBuf := make([]byte, len(saved))
	copy(bitmapBuf, saved)
	return badBlockMap{
		bits:  bitmap.Bitmap(bitmapBuf),
		total: totalSubsectors,
	}, nil
}

func (m *badBlockMap) mark(subsector uint32) {
	m.bits.Set(int(subsector), true)
}

func (m *badBlockMap) isBad(subsector uint32) bool {
	return m.bits.Get(int(subsector))
}

// anyBad reports whether any subsector in [first, first+count) is bad.
func (m *badBlockMap) anyBad(first, count uint32) bool {
	for i := first; i < first+count && i < m.total; i++ {
		if m.isBad(i) {
			return true
		}
	}
	return false
}

func (m *badBlockMap) list() []uint32 {
	bad := []uint32{}
	for i := uint32(0); i < m.total; i++ {
		if m.isBad(i) {
			bad = append(bad, i)
		}
	}
	return bad
}

func (m *badBlockMap) bytes() []byte {
	saved := make([]byte, len(m.bits))
	copy(saved, m.bits)
	return saved
}
