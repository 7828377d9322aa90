package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/woozymasta/globeview/internal/config"
	"github.com/woozymasta/globeview/internal/geo"
	"github.com/woozymasta/globeview/internal/processor"
	"github.com/woozymasta/globeview/internal/remote"

	"github.com/gorilla/websocket"
)

type fakeLookup struct {
	weather *remote.Weather
	places  []remote.Place
	err     error
}

func (f *fakeLookup) Weather(_ context.Context, at geo.GeoCoordinate) (*remote.Weather, error) {
	if f.err != nil {
		return nil, f.err
	}
	w := *f.weather
	w.Coordinate = at
	return &w, nil
}

func (f *fakeLookup) Geocode(_ context.Context, query string) ([]remote.Place, error) {
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(query) == "" {
		return nil, remote.ErrEmptyQuery
	}
	return f.places, nil
}

func newTestServer(t *testing.T, lookup Lookup) *ServerContext {
	t.Helper()

	cfg := config.Default()
	cfg.Viewport.AutoRotateEnable = false
	cfg.Layers = []config.Layer{{Name: "osm"}, {Name: "sat"}}
	cfg.Cities = []config.City{
		{Name: "London", Country: "United Kingdom", Latitude: 51.5074, Longitude: -0.1278},
		{Name: "Sydney", Country: "Australia", Latitude: -33.8688, Longitude: 151.2093},
	}

	if lookup == nil {
		lookup = &fakeLookup{
			weather: &remote.Weather{Location: "London", Condition: "Sunny", TemperatureC: 18},
			places: []remote.Place{
				{Name: "Paris", Country: "France", Coordinate: geo.GeoCoordinate{Latitude: 48.87, Longitude: 2.33}},
			},
		}
	}

	s, err := NewServerContext(cfg, lookup, t.TempDir())
	if err != nil {
		t.Fatalf("NewServerContext: %v", err)
	}
	return s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHandleProject(t *testing.T) {
	h := newTestServer(t, nil).Routes()

	rec := get(t, h, "/api/project?lat=0&lon=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var v geo.Vector3
	decode(t, rec, &v)
	if math.Abs(v.X-5) > 1e-9 || math.Abs(v.Y) > 1e-9 || math.Abs(v.Z) > 1e-9 {
		t.Errorf("project(0,0) = %+v, want (5,0,0)", v)
	}

	rec = get(t, h, "/api/project?lat=90&lon=0&height=1")
	decode(t, rec, &v)
	if math.Abs(v.Y-6) > 1e-9 {
		t.Errorf("north pole at height 1: y = %v, want 6", v.Y)
	}
}

func TestHandleProjectRejectsBadInput(t *testing.T) {
	h := newTestServer(t, nil).Routes()

	for _, target := range []string{
		"/api/project?lat=91&lon=0",
		"/api/project?lat=0&lon=181",
		"/api/project?lat=abc&lon=0",
		"/api/project?lat=0",
		"/api/project?lat=0&lon=0&height=-1",
	} {
		rec := get(t, h, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
			continue
		}
		var body errorBody
		decode(t, rec, &body)
		if body.Error == "" {
			t.Errorf("%s: empty error message", target)
		}
	}
}

func TestHandleCamera(t *testing.T) {
	h := newTestServer(t, nil).Routes()

	rec := get(t, h, "/api/camera?lat=0&lon=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp cameraResponse
	decode(t, rec, &resp)
	if math.Abs(resp.Target.Position.X-15) > 1e-9 || math.Abs(resp.Target.Position.Length()-15) > 1e-9 {
		t.Errorf("camera position = %+v, want (15,0,0)", resp.Target.Position)
	}
	// the camera looks at the surface point below it
	if d := resp.Target.LookAt.Distance(geo.Project(0, 0, 5, 0)); d > 1e-9 {
		t.Errorf("look at = %+v, want (5,0,0)", resp.Target.LookAt)
	}

	rec = get(t, h, "/api/camera?q=paris")
	if rec.Code != http.StatusOK {
		t.Fatalf("q: status = %d, body %s", rec.Code, rec.Body)
	}
	resp = cameraResponse{}
	decode(t, rec, &resp)
	if resp.Place == nil || resp.Place.Name != "Paris" {
		t.Fatalf("place = %+v", resp.Place)
	}
	if resp.Coordinate.Latitude != 48.87 {
		t.Errorf("coordinate = %+v", resp.Coordinate)
	}
}

func TestHandleCameraNoMatch(t *testing.T) {
	h := newTestServer(t, &fakeLookup{}).Routes()

	if rec := get(t, h, "/api/camera?q=atlantis"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleWeatherErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{remote.ErrMissingAPIKey, http.StatusServiceUnavailable},
		{&remote.StatusError{Endpoint: "current.json", Code: http.StatusForbidden}, http.StatusBadGateway},
		{&remote.StatusError{Endpoint: "current.json", Code: http.StatusBadRequest}, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		h := newTestServer(t, &fakeLookup{err: tt.err}).Routes()
		if rec := get(t, h, "/api/weather?lat=10&lon=10"); rec.Code != tt.want {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestHandleWeather(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Routes()

	rec := get(t, h, "/api/weather?lat=51.5&lon=-0.12")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var w remote.Weather
	decode(t, rec, &w)
	if w.Location != "London" || w.Coordinate.Latitude != 51.5 {
		t.Errorf("weather = %+v", w)
	}

	s.Config.Features.Weather = false
	if rec := get(t, h, "/api/weather?lat=51.5&lon=-0.12"); rec.Code != http.StatusNotFound {
		t.Errorf("disabled feature: status = %d, want 404", rec.Code)
	}
}

func TestHandleGeocodeEmptyQuery(t *testing.T) {
	h := newTestServer(t, nil).Routes()

	if rec := get(t, h, "/api/geocode?q=%20"); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCities(t *testing.T) {
	h := newTestServer(t, nil).Routes()

	rec := get(t, h, "/api/cities")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("content type = %q", ct)
	}

	var fc geo.GeoJSONFeatureCollection
	decode(t, rec, &fc)
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(fc.Features))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/cities", nil)
	req.Header.Set("If-None-Match", rec.Header().Get("ETag"))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusNotModified {
		t.Errorf("revalidation status = %d, want 304", rec2.Code)
	}
}

func TestCitiesFile(t *testing.T) {
	dir := t.TempDir()

	for _, tt := range []struct {
		name    string
		file    string
		content string
		want    int
	}{
		{"missing file keeps inline cities", "absent.csv", "", 1},
		{"file cities are merged", "cities.csv", "name,lat,lon\nLima,-12.0464,-77.0428\nOslo,59.9139,10.7522\n", 3},
	} {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if tt.content != "" {
				if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			cfg := config.Default()
			cfg.CitiesFile = path
			cfg.Cities = []config.City{{Name: "Cairo", Latitude: 30.0444, Longitude: 31.2357}}

			s, err := NewServerContext(cfg, &fakeLookup{}, dir)
			if err != nil {
				t.Fatalf("NewServerContext: %v", err)
			}

			var fc geo.GeoJSONFeatureCollection
			decode(t, get(t, s.Routes(), "/api/cities"), &fc)
			if len(fc.Features) != tt.want {
				t.Errorf("features = %d, want %d", len(fc.Features), tt.want)
			}
		})
	}
}

func TestHandleSun(t *testing.T) {
	h := newTestServer(t, nil).Routes()

	rec := get(t, h, "/api/sun?t=2024-06-21T12:00:00Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp sunResponse
	decode(t, rec, &resp)
	if math.Abs(resp.Direction.Length()-1) > 1e-9 {
		t.Errorf("direction length = %v", resp.Direction.Length())
	}
	if math.Abs(resp.Subsolar.Latitude-23.44) > 0.1 {
		t.Errorf("solstice subsolar latitude = %v", resp.Subsolar.Latitude)
	}

	if rec := get(t, h, "/api/sun?t=noon"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad time: status = %d, want 400", rec.Code)
	}
}

func TestHandleTile(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Routes()

	c := geo.TileCoordinate{Z: 1, X: 0, Y: 1}
	path := processor.TilePath(s.TileRoot, "sat", c)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("sat-tile"), 0o600); err != nil {
		t.Fatal(err)
	}

	rec := get(t, h, "/tiles/sat/1/0/1.webp")
	if rec.Code != http.StatusOK || rec.Body.String() != "sat-tile" {
		t.Fatalf("direct: status %d body %q", rec.Code, rec.Body)
	}

	// missing in osm, served from sat
	rec = get(t, h, "/tiles/osm/1/0/1.webp")
	if rec.Body.String() != "sat-tile" {
		t.Errorf("fallback body = %q", rec.Body)
	}

	rec = get(t, h, "/tiles/osm/2/3/3.webp")
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), s.TransparentTile) {
		t.Errorf("missing tile should be transparent, status %d", rec.Code)
	}

	for _, target := range []string{"/tiles/unknown/1/0/1.webp", "/tiles/osm/1/0/x.webp", "/tiles/osm/1/0/1.png"} {
		if rec := get(t, h, target); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", target, rec.Code)
		}
	}
}

func TestHandleIndex(t *testing.T) {
	h := newTestServer(t, nil).Routes()

	rec := get(t, h, "/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<script") {
		t.Fatalf("index: status %d", rec.Code)
	}
	if rec := get(t, h, "/favicon.ico"); rec.Code != http.StatusNotFound {
		t.Errorf("favicon status = %d", rec.Code)
	}

	for _, target := range []string{"/api/does-not-exist", "/api/", "/api/project/extra"} {
		rec := get(t, h, target)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", target, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: content type = %q, want json", target, ct)
		}
	}
}

func TestRouteOf(t *testing.T) {
	tests := map[string]string{
		"/":                     "/",
		"/tiles/osm/1/2/3.webp": "/tiles",
		"/api/project":          "/api/project",
		"/api/sun":              "/api/sun",
		"/ws":                   "/ws",
		"/globe/texture.webp":   "/globe/texture.webp",
		"/wp-admin":             "other",
		"/api/rand1":            "other",
		"/api/project/extra":    "other",
		"/index.html":           "other",
	}
	for in, want := range tests {
		if got := routeOf(in); got != want {
			t.Errorf("routeOf(%q) = %q, want %q", in, got, want)
		}
	}
}

type wsClient struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []Event
}

func dialViewport(t *testing.T, s *ServerContext) *wsClient {
	t.Helper()

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(name string, data interface{}) {
	c.t.Helper()

	if err := c.conn.WriteJSON(Event{Name: name, Data: data}); err != nil {
		c.t.Fatalf("write %s: %v", name, err)
	}
}

// next returns the next event, splitting batched frames.
func (c *wsClient) next() Event {
	c.t.Helper()

	for len(c.pending) == 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.t.Fatalf("read: %v", err)
		}
		for _, line := range bytes.Split(data, newline) {
			var raw struct {
				Name string          `json:"name"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(line, &raw); err != nil {
				c.t.Fatalf("decode %q: %v", line, err)
			}
			c.pending = append(c.pending, Event{Name: raw.Name, Data: raw.Data})
		}
	}

	e := c.pending[0]
	c.pending = c.pending[1:]
	return e
}

type wireState struct {
	Focus      *geo.GeoCoordinate `json:"focus"`
	Camera     geo.Vector3        `json:"camera"`
	Distance   float64            `json:"distance"`
	RotationY  float64            `json:"rotation_y"`
	Dragging   bool               `json:"dragging"`
	AutoRotate bool               `json:"auto_rotate"`
}

func (c *wsClient) state() wireState {
	c.t.Helper()

	e := c.next()
	if e.Name != "state" {
		c.t.Fatalf("event = %s %s, want state", e.Name, e.Data)
	}
	var st wireState
	if err := json.Unmarshal(e.Data.(json.RawMessage), &st); err != nil {
		c.t.Fatal(err)
	}
	return st
}

func TestViewportSession(t *testing.T) {
	c := dialViewport(t, newTestServer(t, nil))

	st := c.state()
	if st.Distance != 15 || st.AutoRotate {
		t.Fatalf("initial state = %+v", st)
	}

	c.send("mouseDown", map[string]float64{"x": 100, "y": 100})
	if st = c.state(); !st.Dragging {
		t.Fatal("mouseDown did not start a drag")
	}

	c.send("mouseMove", map[string]float64{"x": 150, "y": 100})
	if st = c.state(); math.Abs(st.RotationY-0.5) > 1e-9 {
		t.Errorf("rotation y = %v, want 0.5", st.RotationY)
	}

	c.send("mouseUp", nil)
	c.state()

	c.send("wheel", map[string]float64{"delta_y": -100})
	if st = c.state(); st.Distance != 14 {
		t.Errorf("distance after zoom in = %v, want 14", st.Distance)
	}

	c.send("focus", map[string]float64{"lat": 0, "lon": 0})
	st = c.state()
	if st.Focus == nil || math.Abs(st.Camera.X-15) > 1e-9 {
		t.Errorf("focus state = %+v", st)
	}

	c.send("focusPlace", map[string]string{"query": "paris"})
	if st = c.state(); st.Focus == nil || st.Focus.Latitude != 48.87 {
		t.Errorf("focusPlace state = %+v", st.Focus)
	}

	c.send("sync", map[string]bool{"auto_rotate": true})
	if st = c.state(); !st.AutoRotate {
		t.Error("sync did not enable auto-rotation")
	}
}

func TestViewportSessionErrors(t *testing.T) {
	c := dialViewport(t, newTestServer(t, nil))
	c.state()

	c.send("focus", map[string]float64{"lat": 200, "lon": 0})
	if e := c.next(); e.Name != "error" {
		t.Errorf("out of range focus: event = %s", e.Name)
	}

	c.send("focus", map[string]float64{"lat": 1})
	if e := c.next(); e.Name != "error" {
		t.Errorf("partial focus: event = %s", e.Name)
	}

	c.send("teleport", nil)
	e := c.next()
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(e.Data.(json.RawMessage), &body)
	if e.Name != "error" || !strings.Contains(body.Message, "teleport") {
		t.Errorf("unknown event reply = %s %s", e.Name, body.Message)
	}
}
