package geometry

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/dargueta/norblock"
	"github.com/gocarina/gocsv"
)

type chipRow struct {
	Name          string `csv:"name"`
	Slug          string `csv:"slug"`
	TotalSize     uint32 `csv:"total_size"`
	PageSize      uint32 `csv:"page_size"`
	SectorSize    uint32 `csv:"sector_size"`
	SubsectorSize uint32 `csv:"subsector_size"`
	Notes         string `csv:"notes"`
}

//go:embed chips.csv
var chipsRawCSV string
var predefinedChips map[string]Descriptor

// Predefined returns the geometry of a known chip by its slug, e.g.
// "mx66uw1g45g".
func Predefined(slug string) (Descriptor, error) {
	geometry, ok := predefinedChips[slug]
	if ok {
		return geometry, nil
	}
	return Descriptor{}, norblock.ErrInvalidArgument.WithMessage(
		fmt.Sprintf("no predefined flash geometry exists with slug %q", slug))
}

// All returns every predefined geometry, sorted by slug.
func All() []Descriptor {
	all := make([]Descriptor, 0, len(predefinedChips))
	for _, d := range predefinedChips {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Slug < all[j].Slug })
	return all
}

func init() {
	var rows []chipRow
	if err := gocsv.UnmarshalString(chipsRawCSV, &rows); err != nil {
		panic(fmt.Errorf("failed to decode predefined chip table: %w", err))
	}

	predefinedChips = make(map[string]Descriptor, len(rows))
	for i, row := range rows {
		if _, exists := predefinedChips[row.Slug]; exists {
			panic(fmt.Errorf("duplicate definition for chip %q found on row %d", row.Slug, i+1))
		}

		d := New(row.TotalSize, row.PageSize, row.SectorSize, row.SubsectorSize)
		d.Name = row.Name
		d.Slug = row.Slug
		if err := d.Validate(); err != nil {
			panic(fmt.Errorf("predefined chip %q on row %d is invalid: %w", row.Slug, i+1, err))
		}
		predefinedChips[row.Slug] = d
	}
}
