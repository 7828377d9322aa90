package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/woozymasta/globeview/internal/geo"
	"github.com/woozymasta/globeview/internal/metrics"
	"github.com/woozymasta/globeview/internal/viewport"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024

	// Upper bound for a place search started from the socket.
	lookupTimeout = 20 * time.Second
)

var newline = []byte{'\n'}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Event is one websocket message in either direction.
type Event struct {
	Name string      `json:"name"`
	Data interface{} `json:"data"`
}

type pointerPayload struct {
	X float64 `mapstructure:"x"`
	Y float64 `mapstructure:"y"`
}

type wheelPayload struct {
	DeltaY float64 `mapstructure:"delta_y"`
}

type focusPayload struct {
	Lat *float64 `mapstructure:"lat"`
	Lon *float64 `mapstructure:"lon"`
}

type placePayload struct {
	Query string `mapstructure:"query"`
}

type syncPayload struct {
	AutoRotate *bool `mapstructure:"auto_rotate"`
}

// Session binds one websocket connection to its own viewport controller.
type Session struct {
	server *ServerContext
	ctrl   *viewport.Controller
	conn   *websocket.Conn

	// Buffered channel of outbound messages. Only readPump sends on it.
	send chan []byte
}

// HandleViewport upgrades the request and starts a viewport session.
func (s *ServerContext) HandleViewport(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	sess := &Session{
		server: s,
		ctrl:   s.NewController(),
		conn:   conn,
		send:   make(chan []byte, 64),
	}
	sess.ctrl.SetSun(time.Now().UTC())

	metrics.ActiveViewports.Inc()
	log.Debug().Str("ip", r.RemoteAddr).Msg("Viewport session opened")

	sess.pushState()

	go sess.writePump()
	go sess.readPump()
}

// readPump applies client events to the controller and queues replies.
func (c *Session) readPump() {
	defer func() {
		close(c.send)
		_ = c.conn.Close()
		metrics.ActiveViewports.Dec()
		log.Debug().Msg("Viewport session closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("Viewport connection dropped")
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.pushError("malformed event")
			continue
		}
		c.processEvent(event)
	}
}

// processEvent executes instructions based on the event name.
func (c *Session) processEvent(event Event) {
	switch event.Name {
	case "mouseDown", "mouseMove":
		var p pointerPayload
		if err := mapstructure.Decode(event.Data, &p); err != nil {
			c.pushError(err.Error())
			return
		}
		if event.Name == "mouseDown" {
			c.ctrl.MouseDown(p.X, p.Y)
			break
		}
		// hover without a drag changes nothing
		if !c.ctrl.State().Dragging {
			return
		}
		c.ctrl.MouseMove(p.X, p.Y)

	case "mouseUp":
		c.ctrl.MouseUp()

	case "wheel":
		var p wheelPayload
		if err := mapstructure.Decode(event.Data, &p); err != nil {
			c.pushError(err.Error())
			return
		}
		c.ctrl.Wheel(p.DeltaY)

	case "focus":
		var p focusPayload
		if err := mapstructure.Decode(event.Data, &p); err != nil {
			c.pushError(err.Error())
			return
		}
		if p.Lat == nil || p.Lon == nil {
			c.pushError("focus needs lat and lon")
			return
		}
		if err := c.focus(*p.Lat, *p.Lon); err != nil {
			c.pushError(err.Error())
			return
		}

	case "focusPlace":
		var p placePayload
		if err := mapstructure.Decode(event.Data, &p); err != nil {
			c.pushError(err.Error())
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		places, err := c.server.Lookup.Geocode(ctx, p.Query)
		cancel()
		if err != nil {
			c.pushError(err.Error())
			return
		}
		if len(places) == 0 {
			c.pushError("no place matches " + p.Query)
			return
		}
		at := places[0].Coordinate
		if err := c.focus(at.Latitude, at.Longitude); err != nil {
			c.pushError(err.Error())
			return
		}

	case "sync":
		var p syncPayload
		if err := mapstructure.Decode(event.Data, &p); err != nil {
			c.pushError(err.Error())
			return
		}
		if p.AutoRotate != nil {
			c.ctrl.SetAutoRotate(*p.AutoRotate)
		}

	default:
		c.pushError("unknown event " + event.Name)
		return
	}

	c.pushState()
}

func (c *Session) focus(lat, lon float64) error {
	_, err := c.ctrl.FocusOn(geo.GeoCoordinate{Latitude: lat, Longitude: lon})

	var ie *geo.InvalidInputError
	if errors.As(err, &ie) {
		metrics.ProjectionErrors.WithLabelValues(ie.Field).Inc()
	}
	return err
}

func (c *Session) pushState() {
	c.push(Event{Name: "state", Data: c.ctrl.State()})
}

func (c *Session) pushError(msg string) {
	c.push(Event{Name: "error", Data: struct {
		Message string `json:"message"`
	}{msg}})
}

// push drops the message when the writer falls behind.
func (c *Session) push(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("event", e.Name).Msg("Failed to encode event")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Debug().Str("event", e.Name).Msg("Viewport send buffer full, message dropped")
	}
}

// writePump drains the send queue, keeps the connection alive and pushes
// auto-rotation frames.
func (c *Session) writePump() {
	ping := time.NewTicker(pingPeriod)
	interval := c.server.Config.Viewport.TickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	tick := time.NewTicker(interval)
	last := time.Now()

	defer func() {
		ping.Stop()
		tick.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Add queued messages to the current websocket message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				_, _ = w.Write(newline)
				_, _ = w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}

		case now := <-tick.C:
			dt := now.Sub(last)
			last = now

			st := c.ctrl.State()
			if !st.AutoRotate || st.Dragging {
				continue
			}
			c.ctrl.Tick(dt)
			c.ctrl.SetSun(now.UTC())

			data, err := json.Marshal(Event{Name: "state", Data: c.ctrl.State()})
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
