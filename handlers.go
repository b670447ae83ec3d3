package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"image"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/hilltop/hilltop"
)

// maxUploadBytes bounds multipart uploads to the /api endpoints.
const maxUploadBytes = 64 << 20

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *hilltop.StateTracker, config *hilltop.Config, reset func(sourceID string) error) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Sources   int       `json:"sources"`
			Reports   int       `json:"reports"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Sources:   len(stateTracker.SourceIDs()),
			Reports:   len(stateTracker.GetReports()),
		}
		writeJSON(w, status)
	})

	// One-off search over an uploaded image pair
	mux.HandleFunc("POST /api/peaks", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, fmt.Sprintf("Invalid upload: %v", err), http.StatusBadRequest)
			return
		}
		bg, err := formImage(r.MultipartForm, "background")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ch, err := formImage(r.MultipartForm, "challenge")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		params := hilltop.DefaultParams()
		if config != nil {
			params = config.ParamsFor(nil)
		}
		if params.FeatureSize, err = intValue(r, "featureSize", params.FeatureSize); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if params.TopN, err = intValue(r, "topN", params.TopN); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := hilltop.FindPeaks(bg, ch, params)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, hilltop.ErrInvalidInput) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}

		switch r.FormValue("format") {
		case "", "json":
			writeJSON(w, res)
		case "geojson":
			w.Header().Set("Content-Type", "application/geo+json")
			if err := json.NewEncoder(w).Encode(hilltop.PeaksToFeatureCollection(res, "", params.FeatureSize)); err != nil {
				log.Printf("Error encoding GeoJSON: %v", err)
			}
		default:
			http.Error(w, "format must be json or geojson", http.StatusBadRequest)
		}
	})

	// Merge uploaded frames into a background
	mux.HandleFunc("POST /api/composite", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, fmt.Sprintf("Invalid upload: %v", err), http.StatusBadRequest)
			return
		}
		headers := r.MultipartForm.File["frames"]
		if len(headers) == 0 {
			http.Error(w, "no frames uploaded", http.StatusBadRequest)
			return
		}
		frames := make([]image.Image, 0, len(headers))
		for _, fh := range headers {
			img, err := decodeUpload(fh)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			frames = append(frames, img)
		}
		bg, err := hilltop.Composite(frames)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writePNG(w, bg)
	})

	// Source status
	mux.HandleFunc("GET /sources", func(w http.ResponseWriter, r *http.Request) {
		type sourceStatus struct {
			ID            string     `json:"id"`
			HasBaseline   bool       `json:"hasBaseline"`
			PendingFrames int        `json:"pendingFrames"`
			LastFrameAt   *time.Time `json:"lastFrameAt,omitempty"`
			Peaks         int        `json:"peaks"`
		}
		out := []sourceStatus{}
		for _, id := range stateTracker.SourceIDs() {
			snap, _ := stateTracker.Snapshot(id)
			s := sourceStatus{ID: id, HasBaseline: snap.Baseline != nil, PendingFrames: snap.PendingFrames}
			if !snap.LastFrameAt.IsZero() {
				s.LastFrameAt = &snap.LastFrameAt
			}
			if snap.LastReport != nil {
				s.Peaks = len(snap.LastReport.Peaks)
			}
			out = append(out, s)
		}
		writeJSON(w, out)
	})

	// snapshot looks up a source and answers 404/503 itself when there is
	// nothing to serve
	snapshot := func(w http.ResponseWriter, r *http.Request) (hilltop.SourceSnapshot, bool) {
		id := r.PathValue("id")
		snap, ok := stateTracker.Snapshot(id)
		if !ok {
			if config != nil && config.GetSourceByID(id) != nil {
				http.Error(w, "No frames received yet", http.StatusServiceUnavailable)
			} else {
				http.NotFound(w, r)
			}
			return snap, false
		}
		return snap, true
	}

	mux.HandleFunc("GET /sources/{id}/peaks.json", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := snapshot(w, r)
		if !ok {
			return
		}
		if snap.LastReport == nil {
			http.Error(w, "No peaks available", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, snap.LastReport)
	})

	mux.HandleFunc("GET /sources/{id}/peaks.geojson", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := snapshot(w, r)
		if !ok {
			return
		}
		if snap.LastReport == nil {
			http.Error(w, "No peaks available", http.StatusServiceUnavailable)
			return
		}
		fc := hilltop.PeaksToFeatureCollection(&snap.LastReport.Result, snap.ID, snap.LastReport.FeatureSize)
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(fc); err != nil {
			log.Printf("Error encoding GeoJSON for %s: %v", snap.ID, err)
		}
	})

	mux.HandleFunc("GET /sources/{id}/overlay.png", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := snapshot(w, r)
		if !ok {
			return
		}
		if snap.LastFrame == nil || snap.LastReport == nil {
			http.Error(w, "No peaks available", http.StatusServiceUnavailable)
			return
		}
		writePNG(w, hilltop.RenderOverlay(snap.LastFrame, snap.LastReport.Peaks, snap.LastReport.FeatureSize, snap.Color))
	})

	mux.HandleFunc("GET /sources/{id}/overlay.svg", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := snapshot(w, r)
		if !ok {
			return
		}
		if snap.LastReport == nil {
			http.Error(w, "No peaks available", http.StatusServiceUnavailable)
			return
		}
		overlay := hilltop.NewVectorOverlay(&snap.LastReport.Result, snap.LastReport.FeatureSize, snap.Color)
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := overlay.RenderToSVG(w); err != nil {
			log.Printf("Error encoding overlay SVG for %s: %v", snap.ID, err)
		}
	})

	mux.HandleFunc("GET /sources/{id}/baseline.png", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := snapshot(w, r)
		if !ok {
			return
		}
		if snap.Baseline == nil {
			http.Error(w, fmt.Sprintf("Baseline not ready (%d frames collected)", snap.PendingFrames), http.StatusServiceUnavailable)
			return
		}
		writePNG(w, snap.Baseline)
	})

	mux.HandleFunc("GET /sources/{id}/diff.png", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := snapshot(w, r)
		if !ok {
			return
		}
		if snap.Baseline == nil || snap.LastFrame == nil {
			http.Error(w, "No frame to compare yet", http.StatusServiceUnavailable)
			return
		}
		dm, err := hilltop.BuildDiffMap(snap.Baseline, snap.LastFrame, 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writePNG(w, hilltop.RenderDiffMap(dm.Grid))
	})

	mux.HandleFunc("POST /sources/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if config != nil && config.GetSourceByID(id) == nil {
			http.NotFound(w, r)
			return
		}
		if err := reset(id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	// Default route serves an HTML page with every source's overlay
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if err := indexPage.Execute(w, stateTracker.SourceIDs()); err != nil {
			log.Printf("Error rendering index: %v", err)
		}
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

var indexPage = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>hilltop</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{background:#1a1a1a;color:#ddd;font-family:sans-serif;padding:1em}
figure{display:inline-block;margin:0 1em 1em 0}
img{display:block;max-width:45vw}
</style>
</head>
<body>
{{range .}}<figure><img src="/sources/{{.}}/overlay.png" alt="{{.}}"><figcaption>{{.}}</figcaption></figure>
{{else}}<p>No sources have reported yet.</p>
{{end}}</body>
</html>`))

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func writePNG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := hilltop.EncodePNG(w, img); err != nil {
		log.Printf("Error writing PNG response: %v", err)
	}
}

// formImage decodes the single file uploaded under field.
func formImage(form *multipart.Form, field string) (image.Image, error) {
	headers := form.File[field]
	if len(headers) != 1 {
		return nil, fmt.Errorf("expected one %q file, got %d", field, len(headers))
	}
	return decodeUpload(headers[0])
}

func decodeUpload(fh *multipart.FileHeader) (image.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
	}
	img, _, err := hilltop.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fh.Filename, err)
	}
	return img, nil
}

// intValue reads an optional integer form or query value.
func intValue(r *http.Request, key string, def int) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
