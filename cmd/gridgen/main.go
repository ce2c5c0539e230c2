// Command gridgen writes the tile and neighbor data files for a hexagonal
// grid, in the layout the hex grid loader reads.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/talgya/hexworld/internal/loader"
	"github.com/talgya/hexworld/internal/world"
)

func main() {
	out := flag.String("out", "data/grid", "output directory")
	size := flag.Float64("size", 100, "tile size in world units")
	gridRange := flag.Int("range", 60, "hexagon radius in tiles")
	rings := flag.Int("rings", 3, "neighbor rings per tile")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *size <= 0 || *gridRange < 0 || *rings < 1 {
		fmt.Fprintln(os.Stderr, "gridgen: need -size > 0, -range >= 0, -rings >= 1")
		os.Exit(2)
	}

	g := world.BuildHexagon(*size, *gridRange, *rings)
	if err := loader.WriteDir(*out, g); err != nil {
		slog.Error("failed to write tile data", "error", err)
		os.Exit(1)
	}

	slog.Info("tile data written",
		"dir", *out,
		"tiles", humanize.Comma(int64(g.Len())),
		"rings", *rings,
		"files", 3+*rings,
	)
}
