package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stevecastle/retouch/imageio"
	"github.com/stevecastle/retouch/presets"
	"github.com/stevecastle/retouch/renderer"
	"github.com/stevecastle/retouch/restore"
)

type homeData struct {
	Version string
	Presets []string
	Params  map[string]float64
	Jobs    any
}

func homeHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Use GET", http.StatusMethodNotAllowed)
			return
		}
		data := homeData{Version: deps.Version, Params: paramMap(deps.Defaults)}
		if deps.Presets != nil {
			data.Presets = deps.Presets.Names()
		}
		if deps.Queue != nil {
			data.Jobs = deps.Queue.GetJobs()
		}
		renderer.Render(w, "home", data)
	}
}

// paramMap keys params by wire name, leaving out the sharpenAmount alias.
func paramMap(p restore.Params) map[string]float64 {
	raw, _ := json.Marshal(p)
	m := map[string]float64{}
	_ = json.Unmarshal(raw, &m)
	return m
}

// requestParams resolves the preset field (or the configured defaults) and
// overlays the params JSON field on top.
func requestParams(deps *Dependencies, r *http.Request) (restore.Params, error) {
	p := deps.Defaults
	if name := strings.TrimSpace(r.FormValue("preset")); name != "" {
		if deps.Presets == nil {
			return p, fmt.Errorf("%w: %s", presets.ErrUnknownPreset, name)
		}
		var err error
		if p, err = deps.Presets.Get(name); err != nil {
			return p, err
		}
	}
	if raw := r.FormValue("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return p, fmt.Errorf("bad params: %w", err)
		}
	}
	return p.Clamped(), nil
}

// restoreHandler runs the pipeline on an uploaded image and responds with
// the encoded result. Every request recomputes from the original upload.
func restoreHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Use POST", http.StatusMethodNotAllowed)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
		if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "bad multipart form", http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		params, err := requestParams(deps, r)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, presets.ErrUnknownPreset) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		file, _, err := r.FormFile("image")
		if err != nil {
			http.Error(w, "missing image", http.StatusBadRequest)
			return
		}
		defer file.Close()

		decoded, _, err := imageio.Decode(file)
		if errors.Is(err, imageio.ErrTooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		img, err := imageio.ToImage(imageio.Fit(decoded, imageio.ClampMaxSide(deps.Restorer.MaxSide)))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		start := time.Now()
		out, err := deps.Restorer.Image(img, params)
		if err != nil {
			log.Error().Err(err).Msg("restore failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		elapsed := time.Since(start)

		format, contentType := "jpeg", "image/jpeg"
		if r.FormValue("format") == "png" {
			format, contentType = "png", "image/png"
		}
		var buf bytes.Buffer
		if err := imageio.Encode(&buf, out, format, deps.Restorer.Quality); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Restore-Duration", elapsed.String())
		w.Write(buf.Bytes())
	}
}
