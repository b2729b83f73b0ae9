// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/chessboard_calibrator/internal/capture"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local operator UI
	},
}

// WSMessage is a command from a websocket client.
type WSMessage struct {
	Action string `json:"action"` // status, reset, recalibrate, finalize, arm, disarm
}

// WSResponse is everything sent to websocket clients.
type WSResponse struct {
	Type        string            `json:"type"` // guidance, calibration, session, status, error
	Guidance    *GuidanceEvent    `json:"guidance,omitempty"`
	Calibration *CalibrationEvent `json:"calibration,omitempty"`
	Status      *capture.Status   `json:"status,omitempty"`
	Session     string            `json:"session,omitempty"`
	Message     string            `json:"message,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSResponse
}

// Hub fans events out to every connected guidance client. Slow clients miss
// events rather than stall the capture loop.
type Hub struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{log: log.WithField("component", "ws"), clients: map[*wsClient]struct{}{}}
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues msg for every client without blocking.
func (h *Hub) Broadcast(msg WSResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.WithField("type", msg.Type).Debug("dropping event for slow client")
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// reply queues msg for one client. The client is still registered while its
// read loop runs, so send is open.
func (h *Hub) reply(c *wsClient, msg WSResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// Handler upgrades the request and serves one guidance client. Commands are
// executed against svc and answered on the same connection.
func (h *Hub) Handler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		c := &wsClient{conn: conn, send: make(chan WSResponse, wsSendBuffer)}
		h.register(c)
		go h.writeLoop(c)

		st := svc.Status()
		h.reply(c, WSResponse{Type: "status", Status: &st})

		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.WithError(err).Debug("websocket read error")
				}
				break
			}
			h.reply(c, h.execute(r.Context(), svc, msg))
		}
		h.unregister(c)
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			h.log.WithError(err).Debug("websocket write error")
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) execute(ctx context.Context, svc *Service, msg WSMessage) WSResponse {
	var err error
	switch msg.Action {
	case "status":
	case "reset":
		var id string
		if id, err = svc.Reset(ctx); err == nil {
			return WSResponse{Type: "session", Session: id}
		}
	case "recalibrate":
		_, err = svc.Recalibrate(ctx)
	case "finalize":
		_, err = svc.Finalize(ctx)
	case "arm":
		err = svc.Start(ctx)
	case "disarm":
		svc.Disarm(ctx)
	default:
		return WSResponse{Type: "error", Message: "unknown action " + msg.Action}
	}
	if err != nil {
		return WSResponse{Type: "error", Message: err.Error()}
	}
	st := svc.Status()
	return WSResponse{Type: "status", Status: &st}
}
