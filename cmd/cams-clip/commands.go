package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go.ngs.io/cams-clip/internal/app"
	"go.ngs.io/cams-clip/internal/config"
	"go.ngs.io/cams-clip/internal/domain"
	"go.ngs.io/cams-clip/internal/usecase"
)

const version = "0.1.0"

// cli carries the state shared by every subcommand.
type cli struct {
	logLevel  string
	logFormat string

	cfg *config.Config
	log *logrus.Logger
	app *app.App
}

func (c *cli) setup(*cobra.Command, []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.logFormat != "" {
		cfg.LogFormat = c.logFormat
	}
	log, err := config.NewLogger(cfg)
	if err != nil {
		return err
	}
	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	c.cfg, c.log, c.app = cfg, log, a
	return nil
}

// signalContext returns a context cancelled on interrupt.
func (c *cli) signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "cams-clip",
		Short: "Clip CAMS air-quality reanalysis NetCDF files to an area of interest.",
		Long: `cams-clip reduces CAMS European air-quality reanalysis grids to a bounding
box or to the cells touched by a polygon, and answers quick questions about
the result. Configuration is read from the environment and from a .env file;
see cams-clip-server -help for the variables.`,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "log format: text or json (overrides LOG_FORMAT)")

	root.AddCommand(
		c.bboxCmd(),
		c.polygonCmd(),
		c.batchCmd(),
		c.statsCmd(),
		c.bivariateCmd(),
		c.inspectCmd(),
		c.probeCmd(),
		c.catalogCmd(),
		c.retrieveCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		// Skip configuration loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cams-clip v%s\n", version)
		},
		DisableAutoGenTag: true,
	}
}

type boxFlags struct {
	north, south, east, west float64
}

func (b *boxFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&b.north, "north", 0, "northern latitude of the box")
	cmd.Flags().Float64Var(&b.south, "south", 0, "southern latitude of the box")
	cmd.Flags().Float64Var(&b.east, "east", 0, "eastern longitude of the box")
	cmd.Flags().Float64Var(&b.west, "west", 0, "western longitude of the box")
}

func (b *boxFlags) box() domain.BoundingBox {
	return domain.BoundingBox{North: b.north, South: b.south, East: b.east, West: b.west}
}

func (c *cli) runClip(cmd *cobra.Command, req usecase.ClipRequest) error {
	ctx, cancel := c.signalContext()
	defer cancel()
	resp, err := c.app.Clip.Execute(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}

func (c *cli) bboxCmd() *cobra.Command {
	var b boxFlags
	cmd := &cobra.Command{
		Use:   "bbox SOURCE DESTINATION",
		Short: "Clip a dataset to a bounding box",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runClip(cmd, usecase.ClipRequest{Source: args[0], Destination: args[1], AOI: domain.BoxAOI(b.box())})
		},
		DisableAutoGenTag: true,
	}
	b.register(cmd)
	for _, f := range []string{"north", "south", "east", "west"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func (c *cli) polygonCmd() *cobra.Command {
	var aoi, crs string
	cmd := &cobra.Command{
		Use:   "polygon SOURCE DESTINATION",
		Short: "Clip a dataset to the cells touched by a polygon",
		Long: `polygon masks a dataset with the polygons of a shapefile or GeoJSON file.
Every cell touched by a polygon is kept; the others are set to the fill value
and the result is cropped to the kept cells.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runClip(cmd, usecase.ClipRequest{Source: args[0], Destination: args[1], AOI: domain.PolygonAOI(aoi, crs)})
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&aoi, "aoi", "", "shapefile (.shp) or GeoJSON (.geojson, .json) holding the polygons")
	cmd.Flags().StringVar(&crs, "crs", "", "CRS of the polygons, e.g. EPSG:3857; overrides the file's own")
	_ = cmd.MarkFlagRequired("aoi")
	return cmd
}

func (c *cli) batchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch REQUESTS.json",
		Short: "Clip several datasets described in a JSON file",
		Long: `batch reads a JSON array of {"source", "destination", "aoi"} objects and
clips them in parallel (BATCH_WORKERS at a time). The first failure stops the
requests that have not started yet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var reqs []usecase.ClipRequest
			if err := json.Unmarshal(data, &reqs); err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}
			ctx, cancel := c.signalContext()
			defer cancel()
			outcomes, batchErr := c.app.Clip.ExecuteBatch(ctx, reqs)
			if outcomes != nil {
				if err := printJSON(cmd.OutOrStdout(), outcomes); err != nil {
					return err
				}
			}
			return batchErr
		},
		DisableAutoGenTag: true,
	}
}

func (c *cli) statsCmd() *cobra.Command {
	var req usecase.SummaryRequest
	cmd := &cobra.Command{
		Use:   "stats PATH",
		Short: "Summarise a variable (mean, max, min, std)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Path = args[0]
			ctx, cancel := c.signalContext()
			defer cancel()
			resp, err := c.app.Analysis.Summary(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&req.Variable, "variable", "", "variable to summarise (default: first data variable)")
	cmd.Flags().StringSliceVar(&req.Stats, "stats", nil, "statistics to compute (default: all)")
	return cmd
}

func (c *cli) bivariateCmd() *cobra.Command {
	var req usecase.BivariateRequest
	cmd := &cobra.Command{
		Use:   "bivariate PATH",
		Short: "Compare two variables cell by cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Path = args[0]
			ctx, cancel := c.signalContext()
			defer cancel()
			resp, err := c.app.Analysis.Bivariate(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&req.Primary, "primary", "", "first variable")
	cmd.Flags().StringVar(&req.Secondary, "secondary", "", "second variable")
	cmd.Flags().StringVar(&req.Method, "method", usecase.MethodCorrelation,
		strings.Join([]string{usecase.MethodCorrelation, usecase.MethodRegression, usecase.MethodAccuracy}, ", "))
	return cmd
}

func (c *cli) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect PATH",
		Short: "List the dimensions, variables and attributes of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.signalContext()
			defer cancel()
			resp, err := c.app.Analysis.Inspect(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
		DisableAutoGenTag: true,
	}
}

func (c *cli) probeCmd() *cobra.Command {
	var req usecase.ProbeRequest
	cmd := &cobra.Command{
		Use:   "probe PATH",
		Short: "Interpolate a variable at a point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Path = args[0]
			ctx, cancel := c.signalContext()
			defer cancel()
			resp, err := c.app.Analysis.Probe(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&req.Variable, "variable", "", "variable to sample")
	cmd.Flags().Float64Var(&req.Lat, "lat", 0, "latitude in degrees")
	cmd.Flags().Float64Var(&req.Lon, "lon", 0, "longitude in degrees")
	cmd.Flags().IntVar(&req.Index, "index", 0, "position along time and level")
	_ = cmd.MarkFlagRequired("variable")
	return cmd
}

func (c *cli) catalogCmd() *cobra.Command {
	var variable, model, dataType string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show the archive catalog, or the years offered for one combination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat := c.app.Catalog
			if variable != "" || model != "" {
				years := cat.Availability(variable, model, dataType)
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"variable": variable, "model": model, "type": dataType, "years": years,
				})
			}
			first, last := cat.YearSpan()
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"dataset":     cat.Dataset(),
				"variables":   cat.Variables(),
				"models":      cat.Models(),
				"types":       cat.Types(),
				"levels":      cat.Levels(),
				"bounds":      cat.Bounds(),
				"first_year":  first,
				"last_year":   last,
				"default_dir": cat.DefaultDir(),
			})
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&variable, "variable", "", "variable API name")
	cmd.Flags().StringVar(&model, "model", "", "model API name")
	cmd.Flags().StringVar(&dataType, "type", domain.ValidatedReanalysis, "data type")
	return cmd
}

func (c *cli) retrieveCmd() *cobra.Command {
	var (
		req         domain.RetrievalRequest
		year, month string
		b           boxFlags
		aoi, crs    string
	)
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Fetch a monthly archive, unpack it and optionally clip it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Years, req.Months = []string{year}, []string{month}
			if req.Folder == "" {
				req.Folder = c.app.Catalog.DefaultDir()
			}
			switch {
			case aoi != "":
				a := domain.PolygonAOI(aoi, crs)
				req.AOI = &a
			case cmd.Flags().Changed("north"):
				a := domain.BoxAOI(b.box())
				req.AOI = &a
			}
			ctx, cancel := c.signalContext()
			defer cancel()
			resp, err := c.app.Retrieve.Execute(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&req.Variable, "variable", "", "variable API name")
	cmd.Flags().StringVar(&req.Model, "model", "ensemble", "model API name")
	cmd.Flags().StringVar(&req.Level, "level", "0", "level in metres")
	cmd.Flags().StringVar(&req.Type, "type", domain.ValidatedReanalysis, "data type")
	cmd.Flags().StringVar(&year, "year", "", "year, e.g. 2021")
	cmd.Flags().StringVar(&month, "month", "", "month, e.g. 03")
	cmd.Flags().StringVar(&req.Folder, "folder", "", "output folder (default: ~/CAMS_Data)")
	cmd.Flags().BoolVar(&req.AgreeTerms, "agree-terms", false, "accept the terms of use of the data")
	cmd.Flags().StringVar(&aoi, "aoi", "", "polygon file to clip the unpacked grid to")
	cmd.Flags().StringVar(&crs, "crs", "", "CRS of the polygon file")
	b.register(cmd)
	return cmd
}
