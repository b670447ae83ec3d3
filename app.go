package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/kwv/hilltop/hilltop"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *hilltop.Config
	StateTracker *hilltop.StateTracker
	MQTTClient   *hilltop.MQTTClient
	Publisher    *hilltop.Publisher
	Poller       *hilltop.Poller
	Out          io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile  string
	DataDir     string
	Background  string
	Challenge   string
	FeatureSize int
	TopN        int
	Workers     int
	Format      string
	GeoJSONFile string
	DiffMapFile string
	Frames      string
	FrameFiles  []string
	OutputFile  string
	HttpPort    int
	MqttMode    bool
	HttpMode    bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: hilltop.NewStateTracker(hilltop.DefaultBaselineFrames),
		Out:          os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.DataDir = opts.DataDir
	a.Background = opts.Background
	a.Challenge = opts.Challenge
	a.FeatureSize = opts.FeatureSize
	a.TopN = opts.TopN
	a.Workers = opts.Workers
	a.Format = opts.Format
	a.GeoJSONFile = opts.GeoJSONFile
	a.DiffMapFile = opts.DiffMapFile
	a.Frames = opts.Frames
	a.FrameFiles = opts.FrameFiles
	a.OutputFile = opts.OutputFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

func (a *App) params() hilltop.Params {
	return hilltop.Params{FeatureSize: a.FeatureSize, TopN: a.TopN, Workers: a.Workers}
}

// RunFind compares the background and challenge images, prints the peaks
// and writes any requested overlay, GeoJSON and heat map files.
func (a *App) RunFind() error {
	if a.Background == "" || a.Challenge == "" {
		return fmt.Errorf("--find needs both --background and --challenge")
	}
	bg, err := hilltop.LoadImage(a.Background)
	if err != nil {
		return err
	}
	ch, err := hilltop.LoadImage(a.Challenge)
	if err != nil {
		return err
	}

	params := a.params()
	res, err := hilltop.FindPeaks(bg, ch, params)
	if err != nil {
		return fmt.Errorf("finding peaks: %w", err)
	}

	if err := a.printResult(res); err != nil {
		return err
	}

	if a.OutputFile != "" {
		if err := a.writeOverlay(ch, res); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(a.Out, "Overlay saved to %s\n", a.OutputFile)
	}

	if a.GeoJSONFile != "" {
		data, err := json.MarshalIndent(hilltop.PeaksToFeatureCollection(res, "", params.FeatureSize), "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling GeoJSON: %w", err)
		}
		if err := os.WriteFile(a.GeoJSONFile, data, 0644); err != nil {
			return fmt.Errorf("writing GeoJSON: %w", err)
		}
		_, _ = fmt.Fprintf(a.Out, "GeoJSON saved to %s\n", a.GeoJSONFile)
	}

	if a.DiffMapFile != "" {
		// FindPeaks consumed its map; rebuild an untouched one for the heat map.
		dm, err := hilltop.BuildDiffMap(bg, ch, params.Workers)
		if err != nil {
			return err
		}
		if err := hilltop.SavePNG(a.DiffMapFile, hilltop.RenderDiffMap(dm.Grid)); err != nil {
			return fmt.Errorf("saving difference map: %w", err)
		}
		_, _ = fmt.Fprintf(a.Out, "Difference map saved to %s\n", a.DiffMapFile)
	}
	return nil
}

func (a *App) printResult(res *hilltop.Result) error {
	switch a.Format {
	case "json":
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "geojson":
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(hilltop.PeaksToFeatureCollection(res, "", a.FeatureSize))
	case "", "text":
		_, _ = fmt.Fprintf(a.Out, "Image: %dx%d, mean difference %d\n", res.Width, res.Height, res.MeanDifference)
		for i, p := range res.Peaks {
			_, _ = fmt.Fprintf(a.Out, "  #%d at (%d, %d) weight %d\n", i+1, p.X, p.Y, p.Weight)
		}
		if len(res.Peaks) > 1 {
			_, _ = fmt.Fprintf(a.Out, "Closest pair: %.1f px\n", hilltop.MinSeparation(res.Peaks))
		}
		return nil
	default:
		return fmt.Errorf("unknown --format %q (want text, json or geojson)", a.Format)
	}
}

// writeOverlay renders the peaks over the challenge image; an .svg output
// gets the vector overlay instead.
func (a *App) writeOverlay(challenge image.Image, res *hilltop.Result) error {
	if strings.EqualFold(filepath.Ext(a.OutputFile), ".svg") {
		f, err := os.Create(a.OutputFile)
		if err != nil {
			return fmt.Errorf("creating %s: %w", a.OutputFile, err)
		}
		defer func() { _ = f.Close() }()
		return hilltop.NewVectorOverlay(res, a.FeatureSize, hilltop.DefaultMarkerColor).RenderToSVG(f)
	}
	img := hilltop.RenderOverlay(challenge, res.Peaks, a.FeatureSize, hilltop.DefaultMarkerColor)
	if err := hilltop.SavePNG(a.OutputFile, img); err != nil {
		return fmt.Errorf("saving overlay: %w", err)
	}
	return nil
}

// frameFiles expands the --frames glob and appends positional frames.
func (a *App) frameFiles() ([]string, error) {
	var files []string
	if a.Frames != "" {
		matches, err := filepath.Glob(a.Frames)
		if err != nil {
			return nil, fmt.Errorf("expanding --frames: %w", err)
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return append(files, a.FrameFiles...), nil
}

// RunComposite merges frames into a single background image.
func (a *App) RunComposite() error {
	files, err := a.frameFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("--composite needs at least one frame")
	}
	output := a.OutputFile
	if output == "" {
		output = "background.png"
	}

	frames := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, err := hilltop.LoadImage(f)
		if err != nil {
			return err
		}
		frames = append(frames, img)
	}

	bg, err := hilltop.Composite(frames)
	if err != nil {
		return fmt.Errorf("compositing %d frames: %w", len(frames), err)
	}
	if err := hilltop.SavePNG(output, bg); err != nil {
		return fmt.Errorf("saving background: %w", err)
	}
	_, _ = fmt.Fprintf(a.Out, "Background (%dx%d) from %d frames saved to %s\n",
		bg.Bounds().Dx(), bg.Bounds().Dy(), len(frames), output)
	return nil
}

// processFrame feeds a frame into the source's baseline and, once there is
// one, searches the frame against it and publishes the report.
func (a *App) processFrame(sourceID string, img image.Image) {
	status, err := a.StateTracker.AddFrame(sourceID, img)
	if err != nil {
		log.Printf("Error adding frame for %s: %v", sourceID, err)
		return
	}
	if status.Baseline == nil {
		log.Printf("[DEBUG] %s: baseline %d/%d frames", sourceID, status.Collected, status.Needed)
		return
	}

	params := hilltop.DefaultParams()
	if a.Config != nil {
		params = a.Config.ParamsFor(a.Config.GetSourceByID(sourceID))
	}
	res, err := hilltop.FindPeaks(status.Baseline, status.Frame, params)
	if err != nil {
		log.Printf("Error finding peaks for %s: %v", sourceID, err)
		return
	}

	report := hilltop.NewPeakReport(sourceID, params.FeatureSize, res)
	a.StateTracker.SetReport(sourceID, &report)
	log.Printf("%s: %d peaks, mean difference %d", sourceID, len(res.Peaks), res.MeanDifference)

	if a.Publisher != nil {
		if err := a.Publisher.PublishReport(&report); err != nil {
			log.Printf("Error publishing peaks for %s: %v", sourceID, err)
		}
	}
}

// resetSource drops a source's baseline and its published report.
func (a *App) resetSource(sourceID string) error {
	if err := a.StateTracker.ResetBaseline(sourceID); err != nil {
		return err
	}
	if a.Publisher != nil {
		if err := a.Publisher.ClearReport(sourceID); err != nil {
			return fmt.Errorf("clearing report for %s: %w", sourceID, err)
		}
	}
	log.Printf("%s: baseline reset", sourceID)
	return nil
}

// RunService runs the MQTT and/or HTTP service until interrupted.
func (a *App) RunService() error {
	_, _ = fmt.Fprintln(a.Out, "Starting hilltop service...")

	// 1. Resolve the config relative to data-dir when it is the default
	resolvedConfig := a.ConfigFile
	if a.DataDir != "." && a.DataDir != "" && resolvedConfig == "config.yaml" {
		resolvedConfig = filepath.Join(a.DataDir, "config.yaml")
	}

	// 2. Load config.yaml (required)
	config, err := hilltop.LoadConfig(resolvedConfig)
	if err != nil {
		return fmt.Errorf("loading config (looked at %s): %w", resolvedConfig, err)
	}
	a.Config = config
	log.Printf("Loaded config from %s", resolvedConfig)

	// 3. State, with baselines persisted in the data dir
	ids := make([]string, len(config.Sources))
	for i, sc := range config.Sources {
		ids[i] = sc.ID
	}
	a.StateTracker = hilltop.NewStateTrackerWithDataDir(config.Baseline.Frames, a.DataDir, ids)
	for _, sc := range config.Sources {
		a.StateTracker.SetColor(sc.ID, sc.Color)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Start MQTT if enabled
	if a.MqttMode {
		messageHandler := func(sourceID string, img image.Image, err error) {
			if err != nil {
				log.Printf("Error receiving frame for %s: %v", sourceID, err)
				return
			}
			a.processFrame(sourceID, img)
		}

		mqttClient, err := hilltop.InitMQTT(config, messageHandler)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured in %s", resolvedConfig)
		}
		a.MQTTClient = mqttClient
		mqttClient.SetResetHandler(func(sourceID string) {
			if err := a.resetSource(sourceID); err != nil {
				log.Printf("Error resetting %s: %v", sourceID, err)
			}
		})

		a.Publisher = hilltop.NewPublisher(mqttClient.GetClient(), hilltop.PublishPrefix(config))
		_, _ = fmt.Fprintln(a.Out, "MQTT peak publisher initialized")
	}

	// 5. Poll HTTP snapshot sources
	a.Poller = hilltop.NewPoller(config.Sources, a.processFrame)
	if len(a.Poller.Sources()) > 0 {
		go func() {
			if err := a.Poller.Run(ctx); err != nil {
				log.Printf("[HTTP] Poller stopped: %v", err)
			}
		}()
	}

	// 6. Start HTTP server if enabled
	port := a.HttpPort
	if port == 0 {
		port = config.HTTP.Port
	}
	if a.HttpMode {
		httpServer := newHTTPServer(a.StateTracker, a.Config, a.resetSource)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", port)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	// 7. Print service info
	a.printServiceInfo(config, port)

	// 8. Wait for interrupt signal
	<-ctx.Done()

	_, _ = fmt.Fprintln(a.Out, "\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	_, _ = fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo(config *hilltop.Config, port int) {
	out := a.Out
	_, _ = fmt.Fprintln(out, "\nService Running")
	_, _ = fmt.Fprintln(out, "===============")

	if a.MqttMode {
		prefix := hilltop.PublishPrefix(config)
		_, _ = fmt.Fprintln(out, "\nMQTT:")
		_, _ = fmt.Fprintln(out, "  Subscribed topics:")
		for _, sc := range config.Sources {
			if sc.Topic != "" {
				_, _ = fmt.Fprintf(out, "    - %s (%s)\n", sc.Topic, sc.ID)
			}
		}
		_, _ = fmt.Fprintf(out, "  Publishing to: %s/{sourceID}/peaks\n", prefix)
		_, _ = fmt.Fprintf(out, "  Combined peaks: %s/peaks\n", prefix)
		_, _ = fmt.Fprintf(out, "  Baseline reset: %s/{sourceID}/reset\n", prefix)
	}

	if ids := a.Poller.Sources(); len(ids) > 0 {
		_, _ = fmt.Fprintf(out, "\nPolling snapshots for: %s\n", strings.Join(ids, ", "))
	}

	if a.HttpMode {
		_, _ = fmt.Fprintf(out, "\nHTTP endpoints (port %d):\n", port)
		_, _ = fmt.Fprintln(out, "  GET  /health                    - Health check")
		_, _ = fmt.Fprintln(out, "  POST /api/peaks                 - Find peaks in an uploaded image pair")
		_, _ = fmt.Fprintln(out, "  POST /api/composite             - Merge uploaded frames into a background")
		_, _ = fmt.Fprintln(out, "  GET  /sources                   - Source status")
		_, _ = fmt.Fprintln(out, "  GET  /sources/{id}/peaks.json   - Latest report")
		_, _ = fmt.Fprintln(out, "  GET  /sources/{id}/overlay.png  - Latest frame with peaks marked")
		_, _ = fmt.Fprintln(out, "  POST /sources/{id}/reset        - Collect a new baseline")
	}

	_, _ = fmt.Fprintln(out, "\nPress Ctrl+C to stop")
}
