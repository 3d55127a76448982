package api

import (
	"strings"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/securescan/securescan/pkg/scan/progress"
)

type wsEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type scanErrorPayload struct {
	ScanID  string `json:"scanId"`
	Message string `json:"message"`
}

// RegisterWebsockets mounts the progress stream endpoint. Clients send
// "join-scan <id>" and "leave-scan <id>" text frames and receive
// scan-progress / scan-error JSON frames for the scans they joined.
func RegisterWebsockets(app *fiber.App, bus *progress.Bus) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(func(conn *websocket.Conn) {
		serveProgressSocket(conn, bus)
	}))
}

type progressSession struct {
	conn *websocket.Conn
	bus  *progress.Bus

	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[string]chan progress.Event
}

func serveProgressSocket(conn *websocket.Conn, bus *progress.Bus) {
	session := &progressSession{
		conn: conn,
		bus:  bus,
		subs: map[string]chan progress.Event{},
	}
	defer session.close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fields := strings.Fields(string(message))
		if len(fields) != 2 {
			log.Debug().Str("message", string(message)).Msg("Ignoring malformed websocket command")
			continue
		}
		switch fields[0] {
		case "join-scan":
			session.join(fields[1])
		case "leave-scan":
			session.leave(fields[1])
		default:
			log.Debug().Str("command", fields[0]).Msg("Unknown websocket command")
		}
	}
}

func (s *progressSession) join(scanID string) {
	s.mu.Lock()
	if _, joined := s.subs[scanID]; joined {
		s.mu.Unlock()
		return
	}
	ch := s.bus.Subscribe(scanID)
	s.subs[scanID] = ch
	s.mu.Unlock()

	go func() {
		for event := range ch {
			s.send(event)
		}
	}()
}

func (s *progressSession) leave(scanID string) {
	s.mu.Lock()
	ch, joined := s.subs[scanID]
	delete(s.subs, scanID)
	s.mu.Unlock()
	if joined {
		s.bus.Unsubscribe(scanID, ch)
	}
}

func (s *progressSession) close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = map[string]chan progress.Event{}
	s.mu.Unlock()
	for scanID, ch := range subs {
		s.bus.Unsubscribe(scanID, ch)
	}
}

// send serialises one bus event into the wire format: failed scans go out
// as scan-error, everything else as scan-progress.
func (s *progressSession) send(event progress.Event) {
	frame := wsEnvelope{Event: "scan-progress", Data: event}
	if event.Error != "" {
		frame = wsEnvelope{Event: "scan-error", Data: scanErrorPayload{ScanID: event.ScanID, Message: event.Error}}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		log.Debug().Err(err).Msg("Could not write websocket frame")
	}
}
