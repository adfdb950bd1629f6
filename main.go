package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-spatial/geom"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"

	"github.com/pdok/tiler/batch"
	"github.com/pdok/tiler/config"
	"github.com/pdok/tiler/export"
	"github.com/pdok/tiler/geomhelp"
	"github.com/pdok/tiler/loader"
	"github.com/pdok/tiler/proj"
	"github.com/pdok/tiler/source"
	"github.com/pdok/tiler/tile"
	"github.com/pdok/tiler/tilecoord"
	"github.com/pdok/tiler/tilegrid"
	"github.com/pdok/tiler/tms20"
)

const CONFIG string = `config`
const EXTENT string = `extent`
const ZOOM string = `zoom`
const PROJECTION string = `projection`
const TILEMATRIXSET string = `tilematrixset`
const WKT string = `wkt`
const MAXLENGTH string = `maxlength`
const GPKG string = `gpkg`
const MBTILES string = `mbtiles`
const OVERWRITE string = `overwrite`
const PAGESIZE string = `pagesize`

func flagEnv(name string) []string {
	return []string{strcase.ToScreamingSnake("tiler_" + name)}
}

//nolint:funlen
func main() {
	app := cli.NewApp()
	app.Name = "tiler"
	app.Usage = "Tile grids, tile loading and reprojection of raster and data tiles"
	app.Version = versioninfo.Short()

	extentFlag := &cli.StringFlag{
		Name:     EXTENT,
		Aliases:  []string{"e"},
		Usage:    `Extent in the projection of the grid. JSON array of [minx,miny,maxx,maxy]. E.g.: [0,0,100000,100000]`,
		Required: true,
		EnvVars:  flagEnv(EXTENT),
	}
	zoomFlag := &cli.IntFlag{
		Name:     ZOOM,
		Aliases:  []string{"z"},
		Usage:    "Zoom level",
		Required: true,
		EnvVars:  flagEnv(ZOOM),
	}

	app.Commands = []*cli.Command{
		{
			Name:  "tms",
			Usage: "List the built-in tile matrix sets",
			Action: func(*cli.Context) error {
				for _, id := range tms20.EmbeddedIDs() {
					tms, err := tms20.LoadEmbeddedTileMatrixSet(id)
					if err != nil {
						return err
					}
					zooms := tms.Zooms()
					fmt.Printf("%s (%s) zooms %d..%d\n", id, tms.CRS.Code(), zooms[0], zooms[len(zooms)-1])
					for _, z := range zooms {
						tm := tms.TileMatrices[z]
						fmt.Printf("  %2d  %dx%d  %g\n", z, tm.MatrixWidth, tm.MatrixHeight, tm.CellSize)
					}
				}
				return nil
			},
		},
		{
			Name:  "range",
			Usage: "Print the tiles covering an extent",
			Flags: []cli.Flag{
				extentFlag,
				zoomFlag,
				&cli.StringFlag{
					Name:    PROJECTION,
					Aliases: []string{"p"},
					Usage:   "Projection of the default XYZ grid, used without a tile matrix set",
					Value:   proj.EPSG3857,
					EnvVars: flagEnv(PROJECTION),
				},
				&cli.StringFlag{
					Name:    TILEMATRIXSET,
					Aliases: []string{"tms"},
					Usage:   `ID of a (built-in) tile matrix set. E.g.: WebMercatorQuad`,
					EnvVars: flagEnv(TILEMATRIXSET),
				},
				&cli.BoolFlag{
					Name:    WKT,
					Usage:   "Print the extent of every tile as WKT",
					EnvVars: flagEnv(WKT),
				},
				&cli.UintFlag{
					Name:    MAXLENGTH,
					Usage:   "Truncate WKT after this many characters, 0 means never",
					Value:   120,
					EnvVars: flagEnv(MAXLENGTH),
				},
			},
			Action: func(c *cli.Context) error {
				extent, err := parseExtent(c.String(EXTENT))
				if err != nil {
					return err
				}
				grid := config.Grid{Projection: c.String(PROJECTION), TileMatrixSet: c.String(TILEMATRIXSET)}
				p, g, err := grid.TileGrid(proj.Default())
				if err != nil {
					return err
				}
				if g == nil {
					if g, err = tilegrid.NewRegistry().ForProjection(p); err != nil {
						return err
					}
				}
				z := c.Int(ZOOM)
				if z < g.MinZoom() || z > g.MaxZoom() {
					return fmt.Errorf("zoom %d outside of %d..%d", z, g.MinZoom(), g.MaxZoom())
				}
				r := g.TileRangeForExtentAndZ(extent, z, nil)
				fmt.Printf("%s zoom %d resolution %g: %s (%d tiles)\n", p.Code, z, g.Resolution(z), r, r.Count())
				if id := c.String(TILEMATRIXSET); id != "" {
					if err := printMatrixRange(id, extent, uint(z)); err != nil {
						return err
					}
				}
				if c.Bool(WKT) {
					maxLen := c.Uint(MAXLENGTH)
					footprint := geomhelp.ExtentPolygon(g.TileRangeExtent(z, r))
					fmt.Printf("area %g\n", geomhelp.Area(footprint))
					if toLonLat, err := proj.Transform(p, proj.WGS84()); err == nil {
						lonLat := geomhelp.TransformPolygon(footprint, toLonLat, 8)
						fmt.Printf("lon/lat %s\n", geomhelp.WktMustEncode(lonLat, maxLen))
					}
					g.ForEachTileCoord(extent, z, func(tc tilecoord.Coord) {
						fmt.Printf("%s %s\n", tc, geomhelp.WktMustEncode(geomhelp.ExtentPolygon(g.TileCoordExtent(tc)), maxLen))
					})
				}
				return nil
			},
		},
		{
			Name:  "fetch",
			Usage: "Load the tiles covering an extent from a configured source",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     CONFIG,
					Aliases:  []string{"c"},
					Usage:    "YAML source config",
					Required: true,
					EnvVars:  flagEnv(CONFIG),
				},
				extentFlag,
				zoomFlag,
				&cli.StringFlag{
					Name:    GPKG,
					Usage:   "Write tiles and their footprints to this GeoPackage",
					EnvVars: flagEnv(GPKG),
				},
				&cli.StringFlag{
					Name:    MBTILES,
					Usage:   "Write tiles to this MBTiles file",
					EnvVars: flagEnv(MBTILES),
				},
				&cli.BoolFlag{
					Name:    OVERWRITE,
					Aliases: []string{"o"},
					Usage:   "Overwrite target files if they exist",
					EnvVars: flagEnv(OVERWRITE),
				},
				&cli.IntFlag{
					Name:    PAGESIZE,
					Usage:   "Page Size, how many tiles are written per transaction",
					Value:   1000,
					EnvVars: flagEnv(PAGESIZE),
				},
			},
			Action: fetch,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func parseExtent(s string) (geom.Extent, error) {
	var e geom.Extent
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return e, fmt.Errorf("invalid extent %s: %w", s, err)
	}
	if e.MinX() > e.MaxX() || e.MinY() > e.MaxY() {
		return e, fmt.Errorf("invalid extent %s: min exceeds max", s)
	}
	return e, nil
}

// printMatrixRange prints the covering tiles in the numbering of the tile matrix
// itself, which counts rows upwards for bottom-left matrices.
func printMatrixRange(id string, extent geom.Extent, z uint) error {
	tms, err := tms20.LoadEmbeddedTileMatrixSet(id)
	if err != nil {
		return err
	}
	size, ok := tms.Size(z)
	if !ok {
		return fmt.Errorf("%s has no tile matrix for zoom %d", id, z)
	}
	fmt.Printf("%s matrix %dx%d\n", id, size.X, size.Y)
	from, to, ok := tms.NativeRange(z, extent)
	if !ok {
		fmt.Println("extent reaches outside the matrix")
		return nil
	}
	corner, _ := tms.ToNative(from)
	fmt.Printf("matrix tiles %s .. %s, first tile at %v\n", tilecoord.FromSlippy(from), tilecoord.FromSlippy(to), corner.XY())
	return nil
}

func fetch(c *cli.Context) error {
	cfg, err := config.Load(c.String(CONFIG))
	if err != nil {
		return err
	}
	extent, err := parseExtent(c.String(EXTENT))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := proj.Default()
	options, l, err := cfg.Source.Options(registry)
	if err != nil {
		return err
	}
	defer loader.Close(l)
	s, err := source.New(ctx, options)
	if err != nil {
		return err
	}
	defer s.Close()
	s.AddEventListener(func(e source.Event) {
		if e.Type == source.TileLoadError {
			log.Printf("  failed %s", e.Tile.Coord())
		}
	})

	p := s.Projection()
	if cfg.Target != nil {
		targetProj, grid, err := cfg.Target.TileGrid(registry)
		if err != nil {
			return err
		}
		if grid != nil {
			s.SetTileGridForProjection(targetProj, grid)
		}
		p = targetProj
	}

	targets, err := openTargets(c, p)
	if err != nil {
		return err
	}

	log.Printf("=== start fetching zoom %d in %s ===", c.Int(ZOOM), p.Code)
	result, err := batch.Fetch(ctx, s, batch.Options{
		Extent:          extent,
		Zoom:            c.Int(ZOOM),
		Projection:      p,
		MaxTotalLoading: cfg.Queue.MaxTotalLoading,
		MaxNewLoads:     cfg.Queue.MaxNewLoads,
	})
	if err != nil {
		closeTargets(targets)
		return err
	}
	printSummary(result)

	if len(targets) > 0 {
		err = writeTargets(result, targets)
	}
	closeTargets(targets)
	log.Println("=== done fetching ===")
	return err
}

type closingTarget interface {
	export.Target
	Close() error
}

func openTargets(c *cli.Context, p *proj.Projection) ([]closingTarget, error) {
	var targets []closingTarget
	if path := c.String(GPKG); path != "" {
		if err := prepareTarget(path, c.Bool(OVERWRITE)); err != nil {
			return nil, err
		}
		g, err := export.CreateGeoPackage(path, p, c.Int(PAGESIZE))
		if err != nil {
			return nil, err
		}
		targets = append(targets, g)
	}
	if path := c.String(MBTILES); path != "" {
		if err := prepareTarget(path, c.Bool(OVERWRITE)); err != nil {
			closeTargets(targets)
			return nil, err
		}
		m, err := export.CreateMBTiles(path, map[string]string{"name": c.String(CONFIG), "format": "png"}, c.Int(PAGESIZE))
		if err != nil {
			closeTargets(targets)
			return nil, err
		}
		targets = append(targets, m)
	}
	return targets, nil
}

func prepareTarget(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("target %s exists, use --%s", path, OVERWRITE)
		}
		return nil
	}
	err := os.Remove(path)
	var pathError *os.PathError
	if err != nil && !(errors.As(err, &pathError) && errors.Is(pathError.Err, syscall.ENOENT)) {
		return fmt.Errorf("could not remove target file: %w", err)
	}
	return nil
}

func writeTargets(result *batch.Result, targets []closingTarget) error {
	records, err := result.Records()
	if err != nil {
		return err
	}
	in := make(chan export.Record)
	go func() {
		defer close(in)
		for _, r := range records {
			in <- r
		}
	}()
	plain := make([]export.Target, len(targets))
	for i, t := range targets {
		plain[i] = t
	}
	return export.WriteToTargets(in, plain...)
}

func closeTargets(targets []closingTarget) {
	for _, t := range targets {
		if err := t.Close(); err != nil {
			log.Printf("error closing target: %s", err)
		}
	}
}

func printSummary(result *batch.Result) {
	counts := result.Summary()
	states := make([]tile.State, 0, len(counts))
	for s := range counts {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	log.Printf("    total tiles: %d", len(result.Tiles))
	for _, s := range states {
		log.Printf("%15s: %d", s, counts[s])
	}
}
