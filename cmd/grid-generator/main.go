// Command grid-generator writes synthetic CAMS-like reanalysis grids for
// local development and demos of the clipping API.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.ngs.io/cams-clip/internal/adapter/store"
	"go.ngs.io/cams-clip/internal/adapter/store/catalog"
	"go.ngs.io/cams-clip/internal/adapter/store/classic"
	"go.ngs.io/cams-clip/internal/adapter/store/nc"
	"go.ngs.io/cams-clip/internal/domain"
)

// fillValue marks cells without data, as in the distributed files.
const fillValue = -999

// RegionalGrid defines the geographic bounds and resolution.
type RegionalGrid struct {
	LatMin     float64
	LatMax     float64
	LonMin     float64
	LonMax     float64
	Resolution float64 // degrees
}

func (g RegionalGrid) size() (int, int) {
	return int(math.Round((g.LatMax-g.LatMin)/g.Resolution)) + 1,
		int(math.Round((g.LonMax-g.LonMin)/g.Resolution)) + 1
}

func main() {
	// Command line flags
	outDir := flag.String("out", "./data", "Output directory for NetCDF files")
	variables := flag.String("variables", "nitrogen_dioxide,ozone", "Comma-separated variable API names")
	region := flag.String("region", "europe", "Region: europe or custom")
	latMin := flag.Float64("lat-min", 40.0, "Minimum latitude (custom region)")
	latMax := flag.Float64("lat-max", 55.0, "Maximum latitude (custom region)")
	lonMin := flag.Float64("lon-min", -5.0, "Minimum longitude (custom region)")
	lonMax := flag.Float64("lon-max", 15.0, "Maximum longitude (custom region)")
	resolution := flag.Float64("resolution", 0.5, "Grid resolution in degrees")
	hours := flag.Int("hours", 24, "Number of hourly time steps")
	format := flag.String("format", "classic", "Output format: classic or netcdf4")
	month := flag.String("month", "2021-03", "Month the time axis starts in (YYYY-MM)")

	flag.Parse()

	cat, err := catalog.Load()
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	// Define grid based on region
	var grid RegionalGrid
	switch *region {
	case "europe":
		b := cat.Bounds()
		grid = RegionalGrid{
			LatMin:     b.South,
			LatMax:     b.North,
			LonMin:     b.West,
			LonMax:     b.East,
			Resolution: *resolution,
		}
	case "custom":
		grid = RegionalGrid{
			LatMin:     *latMin,
			LatMax:     *latMax,
			LonMin:     *lonMin,
			LonMax:     *lonMax,
			Resolution: *resolution,
		}
	default:
		log.Fatalf("Unknown region: %s (use europe or custom)", *region)
	}
	if grid.Resolution <= 0 || grid.LatMax <= grid.LatMin || grid.LonMax <= grid.LonMin {
		log.Fatalf("Invalid grid: %+v", grid)
	}
	if *hours < 1 {
		log.Fatalf("Invalid number of hours: %d", *hours)
	}

	var (
		writer store.Writer
		fmtID  domain.Format
	)
	switch *format {
	case "classic":
		writer, fmtID = classic.New(), domain.FormatClassic
	case "netcdf4":
		writer, fmtID = nc.New(), domain.FormatNetCDF4
	default:
		log.Fatalf("Unknown format: %s (use classic or netcdf4)", *format)
	}

	log.Printf("Generating synthetic CAMS grids for region: %s", *region)
	log.Printf("Grid: %.1f°-%.1f°N, %.1f°-%.1f°E, resolution: %.2f°",
		grid.LatMin, grid.LatMax, grid.LonMin, grid.LonMax, grid.Resolution)

	// Create output directory
	if err := os.MkdirAll(*outDir, 0o755); err != nil { //nolint:gosec // Output is shared with the server.
		log.Fatalf("Failed to create output directory: %v", err)
	}

	var written int
	for i, api := range strings.Split(*variables, ",") {
		api = strings.TrimSpace(api)
		v, ok := cat.Variable(api)
		if !ok {
			log.Printf("Warning: unknown variable %q, skipping", api)
			continue
		}
		ds := generate(v, grid, *hours, *month, float64(i))
		ds.Format = fmtID

		path := filepath.Join(*outDir, fmt.Sprintf("cams_%s_%s.nc", v.NetCDF, strings.ReplaceAll(*month, "-", "")))
		if err := store.WriteAtomic(writer, path, ds); err != nil {
			log.Printf("Warning: Failed to generate %s: %v", path, err)
			continue
		}
		written++
		log.Printf("✓ Generated %s (%s)", path, v.Display)
	}

	// Print summary
	nLat, nLon := grid.size()
	log.Printf("=== Generation Complete ===")
	log.Printf("Files created in: %s", *outDir)
	log.Printf("Grid size: %d × %d points × %d hours", nLat, nLon, *hours)
	bytesPerFile := nLat * nLon * *hours * 4 // float32 values
	log.Printf("Total size: ~%.1f MB (%d files)", float64(bytesPerFile*written)/1024/1024, written)
}

// generate builds a dataset shaped like a CAMS download: time, a single
// surface level, descending latitude and ascending longitude. The field is a
// plume centred on the grid with a diurnal cycle; the south-west corner is
// left as fill to exercise masked cells.
func generate(v catalog.Variable, grid RegionalGrid, hours int, month string, phase float64) *domain.Dataset {
	nLat, nLon := grid.size()

	lat := make([]float64, nLat)
	for i := range lat {
		lat[i] = grid.LatMax - float64(i)*grid.Resolution
	}
	lon := make([]float64, nLon)
	for j := range lon {
		lon[j] = grid.LonMin + float64(j)*grid.Resolution
	}
	times := make([]float64, hours)
	for t := range times {
		times[t] = float64(t)
	}

	cLat, cLon := (grid.LatMin+grid.LatMax)/2, (grid.LonMin+grid.LonMax)/2
	spread := math.Max(grid.LatMax-grid.LatMin, grid.LonMax-grid.LonMin) / 3
	cornerLat := grid.LatMin + (grid.LatMax-grid.LatMin)/8
	cornerLon := grid.LonMin + (grid.LonMax-grid.LonMin)/8

	data := make([]float64, hours*nLat*nLon)
	for t := 0; t < hours; t++ {
		diurnal := 1 + 0.3*math.Sin(2*math.Pi*(float64(t)/24+phase/10))
		for i := 0; i < nLat; i++ {
			for j := 0; j < nLon; j++ {
				idx := (t*nLat+i)*nLon + j
				if lat[i] < cornerLat && lon[j] < cornerLon {
					data[idx] = fillValue
					continue
				}
				dLat, dLon := lat[i]-cLat, lon[j]-cLon
				plume := math.Exp(-(dLat*dLat + dLon*dLon) / (2 * spread * spread))
				background := 5 + 2*math.Sin(lat[i]*math.Pi/15) + math.Cos(lon[j]*math.Pi/20)
				data[idx] = float64(float32(background + 40*plume*diurnal))
			}
		}
	}

	return &domain.Dataset{
		Dims: []domain.Dim{
			{Name: "longitude", Len: nLon},
			{Name: "latitude", Len: nLat},
			{Name: "level", Len: 1},
			{Name: "time", Len: hours},
		},
		Vars: []*domain.Variable{
			{VarInfo: domain.VarInfo{Name: "longitude", Dims: []string{"longitude"}, Type: domain.Float32,
				Attrs: domain.Attributes{{Name: "long_name", Value: "longitude"}, {Name: "units", Value: "degrees_east"}}}, Data: lon},
			{VarInfo: domain.VarInfo{Name: "latitude", Dims: []string{"latitude"}, Type: domain.Float32,
				Attrs: domain.Attributes{{Name: "long_name", Value: "latitude"}, {Name: "units", Value: "degrees_north"}}}, Data: lat},
			{VarInfo: domain.VarInfo{Name: "level", Dims: []string{"level"}, Type: domain.Float32,
				Attrs: domain.Attributes{{Name: "long_name", Value: "level"}, {Name: "units", Value: "m"}}}, Data: []float64{0}},
			{VarInfo: domain.VarInfo{Name: "time", Dims: []string{"time"}, Type: domain.Float32,
				Attrs: domain.Attributes{{Name: "long_name", Value: "time"}, {Name: "units", Value: "hours since " + month + "-01 00:00:00"}}}, Data: times},
			{VarInfo: domain.VarInfo{Name: v.NetCDF, Dims: []string{"time", "level", "latitude", "longitude"}, Type: domain.Float32,
				Attrs: domain.Attributes{
					{Name: "species", Value: v.Display},
					{Name: "units", Value: "µg/m3"},
					{Name: "_FillValue", Value: []float32{fillValue}},
				}}, Data: data},
		},
		Attrs: domain.Attributes{
			{Name: "title", Value: v.Display + " synthetic reanalysis"},
			{Name: "institution", Value: "synthetic"},
			{Name: "source", Value: "grid-generator"},
		},
	}
}
