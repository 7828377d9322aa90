// Package viewport keeps the interactive globe state of one viewer.
//
// A Controller owns exactly one State. Event handlers call Controller
// methods and read back copies through State, so nothing about the view
// lives in package globals.
package viewport

import (
	"math"
	"sync"
	"time"

	"github.com/woozymasta/globeview/internal/config"
	"github.com/woozymasta/globeview/internal/geo"
)

// frame is the animation step the rotation speeds are expressed in.
const frame = time.Second / 60

// Features selects the optional overlays of a viewport.
type Features struct {
	Weather bool `json:"weather"`
	Cities  bool `json:"cities"`
	MapSync bool `json:"map_sync"`
	Sun     bool `json:"sun"`
}

// Options tunes a Controller.
type Options struct {
	Features          Features
	Distance          float64
	MinDistance       float64
	MaxDistance       float64
	DragSensitivity   float64 // radians per pixel
	ZoomStep          float64 // scene units per wheel notch
	AutoRotate        float64 // radians per frame
	CameraOffset      float64
	MapSyncZoom       int
	AutoRotateEnabled bool
}

// OptionsFromConfig maps the config file sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Features: Features{
			Weather: cfg.Features.Weather,
			Cities:  cfg.Features.Cities,
			MapSync: cfg.Features.MapSync,
			Sun:     cfg.Features.Sun,
		},
		Distance:          cfg.Viewport.Distance,
		MinDistance:       cfg.Viewport.MinDistance,
		MaxDistance:       cfg.Viewport.MaxDistance,
		DragSensitivity:   cfg.Viewport.DragSensitivity,
		ZoomStep:          cfg.Viewport.ZoomStep,
		AutoRotate:        cfg.Viewport.AutoRotate,
		AutoRotateEnabled: cfg.Viewport.AutoRotateEnable,
		CameraOffset:      cfg.Globe.CameraOffset,
		MapSyncZoom:       cfg.Viewport.MapSyncZoom,
	}
}

// State is a snapshot of one viewer. The globe spins by RotationX/RotationY
// while the free camera sits on +Z at Distance; a focused camera uses Target.
type State struct {
	Target     *geo.CameraTarget   `json:"target,omitempty"`
	Focus      *geo.GeoCoordinate  `json:"focus,omitempty"`
	MapTile    *geo.TileCoordinate `json:"map_tile,omitempty"`
	Sun        *geo.Vector3        `json:"sun,omitempty"`
	Camera     geo.Vector3         `json:"camera"`
	Features   Features            `json:"features"`
	Distance   float64             `json:"distance"`
	RotationX  float64             `json:"rotation_x"`
	RotationY  float64             `json:"rotation_y"`
	LastX      float64             `json:"-"`
	LastY      float64             `json:"-"`
	Dragging   bool                `json:"dragging"`
	AutoRotate bool                `json:"auto_rotate"`
}

// Controller is the single owner of a State.
type Controller struct {
	projector *geo.Projector
	state     State
	opts      Options
	mu        sync.Mutex
}

// NewController returns a controller with the camera at the configured distance.
func NewController(p *geo.Projector, opts Options) *Controller {
	if opts.MinDistance <= p.Radius {
		opts.MinDistance = p.Radius * 1.2
	}
	if opts.MaxDistance < opts.MinDistance {
		opts.MaxDistance = opts.MinDistance
	}

	c := &Controller{
		projector: p,
		opts:      opts,
		state: State{
			Features:   opts.Features,
			AutoRotate: opts.AutoRotateEnabled,
		},
	}
	c.state.Distance = c.clampDistance(opts.Distance)
	c.refresh()

	return c
}

// State returns a copy safe to hand to another goroutine.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	if s.Target != nil {
		t := *s.Target
		s.Target = &t
	}
	if s.Focus != nil {
		f := *s.Focus
		s.Focus = &f
	}
	if s.MapTile != nil {
		m := *s.MapTile
		s.MapTile = &m
	}
	if s.Sun != nil {
		v := *s.Sun
		s.Sun = &v
	}
	return s
}

// MouseDown starts a drag at the pointer position.
func (c *Controller) MouseDown(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Dragging = true
	c.state.LastX, c.state.LastY = x, y
}

// MouseUp ends a drag.
func (c *Controller) MouseUp() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Dragging = false
}

// MouseMove spins the globe while dragging. Taking control drops the focus.
func (c *Controller) MouseMove(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Dragging {
		return
	}

	dx, dy := x-c.state.LastX, y-c.state.LastY
	c.state.RotationX += dy * c.opts.DragSensitivity
	c.state.RotationY += dx * c.opts.DragSensitivity
	c.state.LastX, c.state.LastY = x, y

	if dx != 0 || dy != 0 {
		c.state.Target = nil
		c.state.Focus = nil
	}
	c.refresh()
}

// Wheel zooms in for negative deltaY and out otherwise, like a browser wheel event.
func (c *Controller) Wheel(deltaY float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	step := c.opts.ZoomStep
	if deltaY < 0 {
		step = -step
	}
	c.state.Distance = c.clampDistance(c.state.Distance + step)
	c.refresh()
}

// Tick advances auto-rotation by dt.
func (c *Controller) Tick(dt time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.AutoRotate || c.state.Dragging || dt <= 0 {
		return
	}

	c.state.RotationY = math.Mod(c.state.RotationY+c.opts.AutoRotate*float64(dt)/float64(frame), 2*math.Pi)
	c.refresh()
}

// SetAutoRotate turns the idle spin on or off.
func (c *Controller) SetAutoRotate(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.AutoRotate = on
}

// FocusOn aims the camera at a coordinate. The globe rotation is reset so the
// target is expressed in the same frame as Project, and the idle spin stops.
func (c *Controller) FocusOn(at geo.GeoCoordinate) (geo.CameraTarget, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// MinDistance exceeds the radius, so the offset stays positive
	offset := c.clampDistance(c.projector.Radius+c.opts.CameraOffset) - c.projector.Radius

	focus, err := c.projector.Normalize(at)
	if err != nil {
		return geo.CameraTarget{}, err
	}

	target, err := c.projector.CameraTarget(focus, offset)
	if err != nil {
		return geo.CameraTarget{}, err
	}

	c.state.Target = &target
	c.state.Focus = &focus
	c.state.RotationX, c.state.RotationY = 0, 0
	c.state.AutoRotate = false
	c.state.Distance = target.Position.Length()
	c.refresh()

	return target, nil
}

// SetSun places the light source for instant t. No-op without the sun feature.
func (c *Controller) SetSun(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opts.Features.Sun {
		return
	}
	d := geo.SunDirection(t)
	c.state.Sun = &d
}

// Center returns the coordinate under the middle of the view.
func (c *Controller) Center() (geo.GeoCoordinate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.center()
}

func (c *Controller) center() (geo.GeoCoordinate, error) {
	if c.state.Focus != nil {
		return *c.state.Focus, nil
	}

	// undo the globe rotation (XYZ order) on the camera direction
	v := geo.Vector3{Z: 1}
	v = rotateX(v, -c.state.RotationX)
	v = rotateY(v, -c.state.RotationY)

	return geo.Unproject(v)
}

// refresh recomputes derived fields. Callers hold mu.
func (c *Controller) refresh() {
	if c.state.Target != nil {
		dir := c.state.Target.LookAt.Normalize()
		c.state.Target.Position = dir.Scale(c.state.Distance)
		c.state.Camera = c.state.Target.Position
	} else {
		c.state.Camera = geo.Vector3{Z: c.state.Distance}
	}

	if !c.opts.Features.MapSync {
		c.state.MapTile = nil
		return
	}
	if at, err := c.center(); err == nil {
		tile := geo.LatLonToTile(at.Latitude, at.Longitude, c.opts.MapSyncZoom)
		c.state.MapTile = &tile
	}
}

func (c *Controller) clampDistance(d float64) float64 {
	if d < c.opts.MinDistance {
		return c.opts.MinDistance
	}
	if d > c.opts.MaxDistance {
		return c.opts.MaxDistance
	}
	return d
}

func rotateX(v geo.Vector3, a float64) geo.Vector3 {
	s, cs := math.Sincos(a)
	return geo.Vector3{X: v.X, Y: v.Y*cs - v.Z*s, Z: v.Y*s + v.Z*cs}
}

func rotateY(v geo.Vector3, a float64) geo.Vector3 {
	s, cs := math.Sincos(a)
	return geo.Vector3{X: v.X*cs + v.Z*s, Y: v.Y, Z: -v.X*s + v.Z*cs}
}
