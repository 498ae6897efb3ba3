package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/jamblive/jamblive/internal/engine"
	"github.com/jamblive/jamblive/internal/scorecard"
)

// Connection is one player's WebSocket attachment. It owns a session
// engine and lives until the socket drops or the server shuts down.
type Connection struct {
	id        uuid.UUID
	sessionID uuid.UUID
	playerID  uuid.UUID

	ws   *websocket.Conn
	send chan []byte
	eng  *engine.Engine
	srv  *Server

	closeOnce sync.Once
}

func newConnection(srv *Server, ws *websocket.Conn, eng *engine.Engine, sessionID, playerID uuid.UUID) *Connection {
	return &Connection{
		id:        uuid.New(),
		sessionID: sessionID,
		playerID:  playerID,
		ws:        ws,
		send:      make(chan []byte, 256),
		eng:       eng,
		srv:       srv,
	}
}

func (c *Connection) start() {
	c.srv.register(c)
	go c.writePump()
	go c.noticePump()
	go c.readPump()
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.srv.unregister(c)
		c.eng.Close()
		// The send channel is left open; writePump exits on the next
		// failed write or ping against the closed socket.
		_ = c.ws.Close()
		log.Info().
			Str("connection_id", c.id.String()).
			Str("player_id", c.playerID.String()).
			Msg("connection closed")
	})
}

// enqueue drops the connection when its send buffer is full rather than
// letting one slow client stall the rest.
func (c *Connection) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		log.Warn().
			Str("connection_id", c.id.String()).
			Msg("send buffer full, closing connection")
		go c.close()
	}
}

func (c *Connection) sendEvent(ev Event) {
	ev.SentAt = time.Now()
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	c.enqueue(data)
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.id.String()).Msg("write failed")
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer c.close()

	c.ws.SetReadLimit(c.srv.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.ReadTimeout))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.id.String()).Msg("unexpected close")
			}
			return
		}
		c.handleCommand(message)
		_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.cfg.ReadTimeout))
	}
}

// noticePump forwards engine notices until the engine closes.
func (c *Connection) noticePump() {
	for notice := range c.eng.Notices() {
		c.sendEvent(Event{Type: EventNotice, Kind: notice.Kind, Message: notice.Message})
	}
}

func (c *Connection) handleCommand(message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.sendEvent(Event{Type: EventResult, Error: "malformed command"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.srv.cfg.CommandTimeout)
	defer cancel()

	var err error
	switch cmd.Type {
	case CmdRoll:
		err = c.eng.Roll(ctx)
	case CmdToggleLock:
		err = c.eng.ToggleLock(ctx, cmd.Index)
	case CmdAnnounce:
		err = c.eng.Announce(ctx, scorecard.Category(cmd.Category))
	case CmdAttemptScore:
		err = c.eng.AttemptScore(ctx, scorecard.Column(cmd.Column), scorecard.Category(cmd.Category), cmd.Value)
	case CmdReconnectNow:
		c.eng.ReconnectNow()
	case CmdSnapshot:
	default:
		c.sendEvent(Event{Type: EventResult, Command: cmd.Type, Error: "unknown command"})
		return
	}

	result := Event{Type: EventResult, Command: cmd.Type}
	if err != nil {
		result.Error = err.Error()
	}
	c.sendEvent(result)
	c.pushSnapshot(ctx)
}

func (c *Connection) pushSnapshot(ctx context.Context) {
	snapshot, err := c.srv.buildSnapshot(ctx, c.eng, c.sessionID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to build snapshot")
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot")
		return
	}
	c.sendEvent(Event{Type: EventSnapshot, Payload: payload})
}
