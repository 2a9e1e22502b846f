package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dargueta/norblock/geometry"
	"github.com/urfave/cli/v2"
)

func listGeometries(context *cli.Context) error {
	writer := tabwriter.NewWriter(context.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "SLUG\tNAME\tSIZE\tPAGE\tSECTOR\tSUBSECTOR")
	for _, geo := range geometry.All() {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d MiB\t%d\t%d\t%d\n",
			geo.Slug,
			geo.Name,
			geo.TotalSize/(1024*1024),
			geo.PageSize,
			geo.SectorSize,
			geo.SubsectorSize)
	}
	return writer.Flush()
}
