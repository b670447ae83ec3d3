package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"

	"github.com/kwv/hilltop/hilltop"
)

type mockApp struct {
	opts   AppOptions
	called map[string]bool
	err    error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunFind() error               { m.called["RunFind"] = true; return m.err }
func (m *mockApp) RunComposite() error          { m.called["RunComposite"] = true; return m.err }
func (m *mockApp) RunService() error            { m.called["RunService"] = true; return m.err }

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Find",
			args:           []string{"--find", "--background", "bg.png", "--challenge", "ch.png", "--feature-size", "40", "--top-n", "3"},
			expectedCalled: "RunFind",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Background != "bg.png" || opts.Challenge != "ch.png" {
					t.Errorf("expected bg.png/ch.png, got %s/%s", opts.Background, opts.Challenge)
				}
				if opts.FeatureSize != 40 {
					t.Errorf("expected FeatureSize 40, got %d", opts.FeatureSize)
				}
				if opts.TopN != 3 {
					t.Errorf("expected TopN 3, got %d", opts.TopN)
				}
				if !opts.Find {
					t.Error("expected Find true")
				}
			},
		},
		{
			name:           "FindOutputs",
			args:           []string{"--find", "--output", "o.svg", "--geojson", "p.geojson", "--diff-map", "d.png", "--format", "json", "--workers", "2"},
			expectedCalled: "RunFind",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.OutputFile != "o.svg" || opts.GeoJSONFile != "p.geojson" || opts.DiffMapFile != "d.png" {
					t.Errorf("unexpected output files: %+v", opts)
				}
				if opts.Format != "json" {
					t.Errorf("expected Format json, got %s", opts.Format)
				}
				if opts.Workers != 2 {
					t.Errorf("expected Workers 2, got %d", opts.Workers)
				}
			},
		},
		{
			name:           "Composite",
			args:           []string{"--composite", "--frames", "frames/*.png", "--output", "bg.png", "extra1.png", "extra2.png"},
			expectedCalled: "RunComposite",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Frames != "frames/*.png" {
					t.Errorf("expected Frames frames/*.png, got %s", opts.Frames)
				}
				if opts.OutputFile != "bg.png" {
					t.Errorf("expected OutputFile bg.png, got %s", opts.OutputFile)
				}
				if len(opts.FrameFiles) != 2 || opts.FrameFiles[1] != "extra2.png" {
					t.Errorf("expected positional frames, got %v", opts.FrameFiles)
				}
			},
		},
		{
			name:           "MqttMode",
			args:           []string{"--mqtt", "--http-port", "9090", "--data-dir", "/tmp/data"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.MqttMode {
					t.Error("expected MqttMode true")
				}
				if opts.HttpPort != 9090 {
					t.Errorf("expected HttpPort 9090, got %d", opts.HttpPort)
				}
				if opts.DataDir != "/tmp/data" {
					t.Errorf("expected DataDir /tmp/data, got %s", opts.DataDir)
				}
			},
		},
		{
			name:           "HttpMode",
			args:           []string{"--http", "--config", "other.yaml"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if !opts.HttpMode || opts.MqttMode {
					t.Errorf("expected HttpMode only, got %+v", opts)
				}
				if opts.ConfigFile != "other.yaml" {
					t.Errorf("expected ConfigFile other.yaml, got %s", opts.ConfigFile)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_Defaults(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"--find"}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if app.opts.FeatureSize != hilltop.DefaultFeatureSize || app.opts.TopN != hilltop.DefaultTopN {
		t.Errorf("defaults = %d/%d, want %d/%d", app.opts.FeatureSize, app.opts.TopN,
			hilltop.DefaultFeatureSize, hilltop.DefaultTopN)
	}
	if app.opts.ConfigFile != "config.yaml" || app.opts.DataDir != "." {
		t.Errorf("unexpected path defaults: %+v", app.opts)
	}
}

func TestRun_PropagatesModeError(t *testing.T) {
	app := newMockApp()
	app.err = errors.New("boom")
	var out bytes.Buffer
	if err := run([]string{"--composite"}, &out, app); err == nil || err.Error() != "boom" {
		t.Errorf("run error = %v, want boom", err)
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("expected flag.ErrHelp from --help, got %v", err)
	}
	if !strings.Contains(out.String(), "Usage of hilltop") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
}

func TestRun_BadFlag(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"--top-n", "many"}, &out, newMockApp()); err == nil {
		t.Error("expected error for non-integer --top-n")
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "hilltop version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "Use --find") {
		t.Errorf("expected usage hints, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("no mode should run, got %v", app.called)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
