// Package server handles HTTP requests and middleware.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/woozymasta/globeview/internal/geo"
	"github.com/woozymasta/globeview/internal/metrics"
	"github.com/woozymasta/globeview/internal/processor"
	"github.com/woozymasta/globeview/internal/remote"

	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
)

const etagCap = 64

// Routes registers every handler and wraps them with request logging.
func (s *ServerContext) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", s.HandleConfig)
	mux.HandleFunc("/api/project", s.HandleProject)
	mux.HandleFunc("/api/camera", s.HandleCamera)
	mux.HandleFunc("/api/cities", s.HandleCities)
	mux.HandleFunc("/api/weather", s.HandleWeather)
	mux.HandleFunc("/api/geocode", s.HandleGeocode)
	mux.HandleFunc("/api/sun", s.HandleSun)
	mux.HandleFunc("/tiles/", s.HandleTile)
	mux.HandleFunc("/globe/texture.webp", s.HandleTexture)
	mux.HandleFunc("/ws", s.HandleViewport)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/", s.HandleUnknownAPI)
	mux.HandleFunc("/", s.HandleIndex)

	return RequestLogger(mux)
}

// exactRoutes are the fixed paths registered in Routes, used as metric labels.
var exactRoutes = map[string]bool{
	"/":                   true,
	"/api/config":         true,
	"/api/project":        true,
	"/api/camera":         true,
	"/api/cities":         true,
	"/api/weather":        true,
	"/api/geocode":        true,
	"/api/sun":            true,
	"/globe/texture.webp": true,
	"/ws":                 true,
	"/metrics":            true,
}

// HandleUnknownAPI answers API paths no handler owns with a JSON 404.
func (s *ServerContext) HandleUnknownAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown endpoint " + r.URL.Path})
}

// HandleConfig serves the settings the browser needs to build its scene.
func (s *ServerContext) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Config)
}

// HandleIndex serves the main HTML application.
func (s *ServerContext) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && strings.Contains(r.URL.Path, ".") {
		http.NotFound(w, r)
		return
	}

	etag := fmt.Sprintf(`"%x"`, len(s.IndexHTML))

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	_, _ = w.Write(s.IndexHTML)
}

// HandleProject returns the scene point for ?lat=&lon=[&height=].
func (s *ServerContext) HandleProject(w http.ResponseWriter, r *http.Request) {
	at, err := coordinateParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	height, err := floatParam(r, "height", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	v, err := s.Projector.Project(at, height)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

type cameraResponse struct {
	Place      *remote.Place     `json:"place,omitempty"`
	Target     geo.CameraTarget  `json:"target"`
	Coordinate geo.GeoCoordinate `json:"coordinate"`
}

// HandleCamera frames ?lat=&lon= or the best geocoding match for ?q=.
func (s *ServerContext) HandleCamera(w http.ResponseWriter, r *http.Request) {
	var resp cameraResponse

	if q := r.URL.Query().Get("q"); q != "" {
		places, err := s.Lookup.Geocode(r.Context(), q)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if len(places) == 0 {
			writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("no place matches %q", q)})
			return
		}
		resp.Place = &places[0]
		resp.Coordinate = places[0].Coordinate
	} else {
		at, err := coordinateParams(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		resp.Coordinate = at
	}

	offset, err := floatParam(r, "offset", s.Config.Globe.CameraOffset)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp.Target, err = s.Projector.CameraTarget(resp.Coordinate, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp.Coordinate, _ = s.Projector.Normalize(resp.Coordinate)

	writeJSON(w, http.StatusOK, resp)
}

// HandleCities serves the city marker layer as GeoJSON.
func (s *ServerContext) HandleCities(w http.ResponseWriter, r *http.Request) {
	if !s.Config.Features.Cities || s.CitiesJSON == nil {
		http.NotFound(w, r)
		return
	}

	etag := fmt.Sprintf(`"c%x-%x"`, len(s.CitiesJSON), fnv32(s.CitiesJSON))
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	_, _ = w.Write(s.CitiesJSON)
}

// HandleWeather returns current conditions at ?lat=&lon=.
func (s *ServerContext) HandleWeather(w http.ResponseWriter, r *http.Request) {
	if !s.Config.Features.Weather {
		http.NotFound(w, r)
		return
	}

	at, err := coordinateParams(r)
	if err == nil {
		at, err = s.Projector.Normalize(at)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	weather, err := s.Lookup.Weather(r.Context(), at)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, weather)
}

// HandleGeocode lists places matching ?q=.
func (s *ServerContext) HandleGeocode(w http.ResponseWriter, r *http.Request) {
	places, err := s.Lookup.Geocode(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, places)
}

type sunResponse struct {
	Time      time.Time         `json:"time"`
	Subsolar  geo.GeoCoordinate `json:"subsolar"`
	Direction geo.Vector3       `json:"direction"`
}

// HandleSun returns the light direction for ?t= (RFC 3339, default now).
func (s *ServerContext) HandleSun(w http.ResponseWriter, r *http.Request) {
	if !s.Config.Features.Sun {
		http.NotFound(w, r)
		return
	}

	t := time.Now().UTC()
	if v := r.URL.Query().Get("t"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "t must be an RFC 3339 timestamp"})
			return
		}
		t = parsed.UTC()
	}

	writeJSON(w, http.StatusOK, sunResponse{
		Time:      t,
		Subsolar:  geo.SubsolarPoint(t),
		Direction: geo.SunDirection(t),
	})
}

// HandleTile serves /tiles/{layer}/{z}/{x}/{y}.webp, falling back to the
// other layers and then to a transparent tile.
func (s *ServerContext) HandleTile(w http.ResponseWriter, r *http.Request) {
	// parts: tiles, layer, z, x, y.webp
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 5 || !strings.HasSuffix(parts[4], ".webp") {
		http.NotFound(w, r)
		return
	}

	layer := parts[1]
	// allow only known layers to prevent path probing
	if !s.LayerNames[layer] {
		http.NotFound(w, r)
		return
	}

	var c geo.TileCoordinate
	var err1, err2, err3 error
	c.Z, err1 = strconv.Atoi(parts[2])
	c.X, err2 = strconv.Atoi(parts[3])
	c.Y, err3 = strconv.Atoi(strings.TrimSuffix(parts[4], ".webp"))
	if err1 != nil || err2 != nil || err3 != nil || c.Z < 0 || c.X < 0 || c.Y < 0 || c.Z > 30 {
		http.NotFound(w, r)
		return
	}

	if s.serveFile(w, r, processor.TilePath(s.TileRoot, layer, c), "image/webp") {
		return
	}

	for _, l := range s.Config.Layers {
		if l.Name == layer {
			continue
		}
		if s.serveFile(w, r, processor.TilePath(s.TileRoot, l.Name, c), "image/webp") {
			return
		}
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(s.TransparentTile)
}

// HandleTexture serves the globe texture written by the loader.
func (s *ServerContext) HandleTexture(w http.ResponseWriter, r *http.Request) {
	if !s.serveFile(w, r, s.TexturePath, "image/webp") {
		http.NotFound(w, r)
	}
}

// serveFile tries to serve a file from disk with ETag generation.
// It returns true if the file was found and served (or 304).
func (s *ServerContext) serveFile(w http.ResponseWriter, r *http.Request, path string, contentType string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}

	buf := make([]byte, 0, etagCap)
	buf = append(buf, '"')
	buf = strconv.AppendInt(buf, info.Size(), 16)
	buf = append(buf, '-')
	buf = strconv.AppendInt(buf, info.ModTime().UnixNano(), 16)
	buf = append(buf, '"')
	etag := string(buf)

	// check If-None-Match (client sent ETag)
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	http.ServeFile(w, r, filepath.Clean(path))
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

// paramError is a malformed query parameter.
type paramError struct {
	name string
	msg  string
}

func (e *paramError) Error() string {
	return e.name + ": " + e.msg
}

// writeError maps an error to a status code and a JSON body.
func (s *ServerContext) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var (
		pe *paramError
		ie *geo.InvalidInputError
		se *remote.StatusError
	)
	switch {
	case errors.As(err, &pe):
		status = http.StatusBadRequest
	case errors.As(err, &ie):
		status = http.StatusBadRequest
		metrics.ProjectionErrors.WithLabelValues(ie.Field).Inc()
	case errors.Is(err, remote.ErrEmptyQuery):
		status = http.StatusBadRequest
	case errors.Is(err, remote.ErrMissingAPIKey):
		status = http.StatusServiceUnavailable
	case errors.As(err, &se):
		status = http.StatusBadGateway
		if se.Code == http.StatusBadRequest {
			// the provider did not understand the location
			status = http.StatusNotFound
		}
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}

	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(v)
}

func marshalMinified(m *minify.M, mediatype string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return m.Bytes(mediatype, data)
}

func coordinateParams(r *http.Request) (geo.GeoCoordinate, error) {
	q := r.URL.Query()
	if q.Get("lat") == "" || q.Get("lon") == "" {
		return geo.GeoCoordinate{}, &paramError{name: "lat/lon", msg: "both are required"}
	}

	lat, err := floatParam(r, "lat", 0)
	if err != nil {
		return geo.GeoCoordinate{}, err
	}
	lon, err := floatParam(r, "lon", 0)
	if err != nil {
		return geo.GeoCoordinate{}, err
	}

	return geo.GeoCoordinate{Latitude: lat, Longitude: lon}, nil
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &paramError{name: name, msg: "not a number"}
	}
	return f, nil
}

func fnv32(b []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(b)
	return h.Sum32()
}
