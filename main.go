package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/kwv/hilltop/hilltop"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile string
	DataDir    string

	// --find
	Find        bool
	Background  string
	Challenge   string
	FeatureSize int
	TopN        int
	Workers     int
	Format      string
	GeoJSONFile string
	DiffMapFile string

	// --composite
	Composite  bool
	Frames     string
	FrameFiles []string

	OutputFile string

	MqttMode bool
	HttpMode bool
	HttpPort int
}

// Runner executes the modes selected on the command line.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunFind() error
	RunComposite() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("hilltop", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DataDir, "data-dir", ".", "Directory for the config file and persisted baselines")

	fs.BoolVar(&opts.Find, "find", false, "Find the strongest differences between --background and --challenge and exit")
	fs.StringVar(&opts.Background, "background", "", "Background image for --find")
	fs.StringVar(&opts.Challenge, "challenge", "", "Challenge image for --find")
	fs.IntVar(&opts.FeatureSize, "feature-size", hilltop.DefaultFeatureSize, "Approximate side in pixels of the differences to look for")
	fs.IntVar(&opts.TopN, "top-n", hilltop.DefaultTopN, "Number of peaks to report")
	fs.IntVar(&opts.Workers, "workers", 0, "Goroutines building the difference map (0 = GOMAXPROCS)")
	fs.StringVar(&opts.Format, "format", "text", "Result output for --find: text, json or geojson")
	fs.StringVar(&opts.GeoJSONFile, "geojson", "", "Also write the peaks as GeoJSON to this file")
	fs.StringVar(&opts.DiffMapFile, "diff-map", "", "Also write the difference heat map PNG to this file")

	fs.BoolVar(&opts.Composite, "composite", false, "Merge --frames into one background image and exit")
	fs.StringVar(&opts.Frames, "frames", "", "Glob of frames for --composite (extra frames may follow as arguments)")

	fs.StringVar(&opts.OutputFile, "output", "", "Output file: overlay (.png or .svg) for --find, background PNG for --composite")

	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode: subscribe to image sources and publish peaks")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable the HTTP server")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (0 uses http.port from the config)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "hilltop version: %s\n", Version)

	opts.FrameFiles = fs.Args()
	app.ApplyOptions(opts)

	switch {
	case opts.Find:
		return app.RunFind()
	case opts.Composite:
		return app.RunComposite()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	_, _ = fmt.Fprintln(out, "hilltop locates the strongest localized differences between two images.")
	_, _ = fmt.Fprintln(out, "Use --find --background=a.png --challenge=b.png to report peaks")
	_, _ = fmt.Fprintln(out, "Use --composite --frames='frames/*.png' --output=bg.png to build a background")
	_, _ = fmt.Fprintln(out, "Use --mqtt to run the MQTT service mode")
	_, _ = fmt.Fprintln(out, "Use --http to run the HTTP server")
	_, _ = fmt.Fprintln(out, "Use --mqtt --http to run both together")
	_, _ = fmt.Fprintln(out, "\nConfiguration:")
	_, _ = fmt.Fprintln(out, "  config.yaml - MQTT broker, detection defaults and image sources")
	return nil
}
