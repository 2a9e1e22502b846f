package geometry_test

import (
	"testing"

	"github.com/dargueta/norblock"
	"github.com/dargueta/norblock/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mx66() geometry.Descriptor {
	d, err := geometry.Predefined("mx66uw1g45g")
	if err != nil {
		panic(err)
	}
	return d
}

func TestPredefinedMX66UW1G45G(t *testing.T) {
	d := mx66()
	assert.EqualValues(t, 128*1024*1024, d.TotalSize)
	assert.EqualValues(t, 256, d.PageSize)
	assert.EqualValues(t, 64*1024, d.SectorSize)
	assert.EqualValues(t, 4*1024, d.SubsectorSize)
	assert.EqualValues(t, d.TotalSize/256, d.PageCount)
	assert.EqualValues(t, d.TotalSize/(64*1024), d.SectorCount)
	assert.EqualValues(t, d.TotalSize/(4*1024), d.SubsectorCount)
	assert.NoError(t, d.Validate())
}

func TestPredefinedUnknownSlug(t *testing.T) {
	_, err := geometry.Predefined("no-such-chip")
	assert.ErrorIs(t, err, norblock.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "no-such-chip")
}

func TestAllPredefinedAreValidAndSorted(t *testing.T) {
	all := geometry.All()
	require.NotEmpty(t, all)
	for i, d := range all {
		assert.NoErrorf(t, d.Validate(), "chip %q is invalid", d.Slug)
		if i > 0 {
			assert.Less(t, all[i-1].Slug, d.Slug, "chips aren't sorted by slug")
		}
	}
}

func TestValidateRejectsSectorProductMismatch(t *testing.T) {
	d := mx66()
	d.SectorCount++

	err := d.Validate()
	assert.ErrorIs(t, err, norblock.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "sector size * sector count")
}

func TestValidateRejectsBadSizes(t *testing.T) {
	cases := map[string]func(d *geometry.Descriptor){
		"zero total":         func(d *geometry.Descriptor) { d.TotalSize = 0 },
		"page not pow2":      func(d *geometry.Descriptor) { d.PageSize = 300 },
		"zero subsector":     func(d *geometry.Descriptor) { d.SubsectorSize = 0 },
		"page count wrong":   func(d *geometry.Descriptor) { d.PageCount = 7 },
		"subsector > sector": func(d *geometry.Descriptor) { *d = geometry.New(1<<20, 256, 4096, 65536) },
		"page > subsector":   func(d *geometry.Descriptor) { *d = geometry.New(1<<20, 8192, 65536, 4096) },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := mx66()
			mutate(&d)
			assert.ErrorIs(t, d.Validate(), norblock.ErrInvalidArgument)
		})
	}
}

func TestMatchIdentical(t *testing.T) {
	assert.NoError(t, geometry.Match(mx66(), mx66()))
}

func TestMatchIgnoresNames(t *testing.T) {
	reported := mx66()
	reported.Name = "something else"
	reported.Slug = ""
	assert.NoError(t, geometry.Match(mx66(), reported))
}

func TestMatchSingleFieldMismatchIsFatal(t *testing.T) {
	reported := mx66()
	reported.PageCount--

	err := geometry.Match(mx66(), reported)
	require.Error(t, err)
	assert.ErrorIs(t, err, norblock.ErrGeometryMismatch)
	assert.Contains(t, err.Error(), "page count")
}

func TestMatchReportsEveryMismatch(t *testing.T) {
	reported := geometry.New(32*1024*1024, 256, 65536, 4096)

	err := geometry.Match(mx66(), reported)
	require.Error(t, err)
	assert.ErrorIs(t, err, norblock.ErrGeometryMismatch)
	for _, field := range []string{"flash size", "sector count", "subsector count", "page count"} {
		assert.Contains(t, err.Error(), field)
	}
	assert.NotContains(t, err.Error(), "page size:")
}

func TestAlignDown(t *testing.T) {
	d := mx66()

	addr, err := d.AlignDown(0x0050, geometry.Sector)
	require.NoError(t, err)
	assert.EqualValues(t, 0, addr)

	addr, err = d.AlignDown(0x12345, geometry.Subsector)
	require.NoError(t, err)
	assert.EqualValues(t, 0x12000, addr)

	addr, err = d.AlignDown(0x12345, geometry.Sector)
	require.NoError(t, err)
	assert.EqualValues(t, 0x10000, addr)

	_, err = d.AlignDown(d.TotalSize, geometry.Subsector)
	assert.ErrorIs(t, err, norblock.ErrOutOfRange)
}

func TestUnitSize(t *testing.T) {
	d := mx66()

	size, err := d.UnitSize(geometry.Chip)
	require.NoError(t, err)
	assert.Equal(t, d.TotalSize, size)

	_, err = d.UnitSize(geometry.EraseUnit(42))
	assert.ErrorIs(t, err, norblock.ErrInvalidArgument)
}
