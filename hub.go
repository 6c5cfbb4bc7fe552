/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/estimate/internal/poker"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

var errHubClosed = errors.New("hub is shut down")

// ClientMessage is one frame sent by a browser.
type ClientMessage struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is one frame sent to a browser.
type ServerMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type Client struct {
	id   string
	conn *websocket.Conn
	send chan ServerMessage

	// room is the code the connection is subscribed to, if any.
	room string
}

type actionRequest struct {
	client *Client
	msg    ClientMessage
	err    error
}

type snapshotRequest struct {
	code  string
	reply chan snapshotResult
}

type snapshotResult struct {
	view poker.RoomView
	err  error
}

// Hub owns every websocket client and the room subscriptions. Its run
// loop is the only goroutine that drives the machine, so actions from
// all rooms are applied one at a time in arrival order.
type Hub struct {
	cfg     *Config
	machine *poker.Machine

	clients map[string]*Client
	rooms   map[string]map[string]bool

	register  chan *Client
	unreg     chan *Client
	actions   chan actionRequest
	snapshots chan snapshotRequest
	done      chan struct{}
}

func newHub(cfg *Config, registry *poker.Registry, logger *slog.Logger) *Hub {
	h := &Hub{
		cfg:       cfg,
		clients:   make(map[string]*Client),
		rooms:     make(map[string]map[string]bool),
		register:  make(chan *Client),
		unreg:     make(chan *Client),
		actions:   make(chan actionRequest),
		snapshots: make(chan snapshotRequest),
		done:      make(chan struct{}),
	}

	h.machine = poker.NewMachine(registry, h, poker.Options{Logger: logger})

	return h
}

func (h *Hub) run(ctx context.Context) {
	defer func() {
		h.closeAll()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c.id] = c

		case c := <-h.unreg:
			// Failures are already logged by the machine.
			_ = h.machine.Disconnect(context.WithoutCancel(ctx), c.id)

			h.drop(c)

			logf(h.cfg, "ROOMS: Connection %s closed", c.id)

		case req := <-h.actions:
			if req.err != nil {
				h.Unicast(req.client.id, poker.EventError, poker.MessagePayload{Message: poker.Message(req.err)})

				continue
			}

			_ = h.machine.Handle(context.WithoutCancel(ctx), req.client.id, req.msg.Action, req.msg.Payload)

		case req := <-h.snapshots:
			view, err := h.machine.Snapshot(ctx, req.code)
			req.reply <- snapshotResult{view: view, err: err}
		}
	}
}

// Broadcast sends an event to every connection subscribed to a room.
func (h *Hub) Broadcast(code, event string, payload any) {
	msg := ServerMessage{Event: event, Payload: payload}

	for id := range h.rooms[code] {
		if c, ok := h.clients[id]; ok {
			h.deliver(c, msg)
		}
	}
}

func (h *Hub) Unicast(id, event string, payload any) {
	if c, ok := h.clients[id]; ok {
		h.deliver(c, ServerMessage{Event: event, Payload: payload})
	}
}

func (h *Hub) Subscribe(id, code string) {
	c, ok := h.clients[id]
	if !ok {
		return
	}

	if h.rooms[code] == nil {
		h.rooms[code] = make(map[string]bool)
	}

	h.rooms[code][id] = true
	c.room = code
}

func (h *Hub) Unsubscribe(id, code string) {
	h.leaveRoom(id, code)

	if c, ok := h.clients[id]; ok && c.room == code {
		c.room = ""
	}
}

func (h *Hub) leaveRoom(id, code string) {
	delete(h.rooms[code], id)

	if len(h.rooms[code]) == 0 {
		delete(h.rooms, code)
	}
}

// deliver never blocks the run loop. A client whose buffer is full is
// disconnected; its read pump then reports it gone.
func (h *Hub) deliver(c *Client, msg ServerMessage) {
	select {
	case c.send <- msg:
	default:
		logf(h.cfg, "ROOMS: Dropping slow connection %s", c.id)

		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}

	delete(h.clients, c.id)

	if c.room != "" {
		h.leaveRoom(c.id, c.room)
	}

	close(c.send)
}

// closeAll disconnects every client. Used on shutdown.
func (h *Hub) closeAll() {
	for _, c := range h.clients {
		h.drop(c)
		_ = c.conn.Close()
	}
}

func (h *Hub) enqueue(req actionRequest) bool {
	select {
	case h.actions <- req:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unreg <- c:
	case <-h.done:
	}
}

// snapshot reads a room through the run loop.
func (h *Hub) snapshot(ctx context.Context, code string) (poker.RoomView, error) {
	req := snapshotRequest{code: code, reply: make(chan snapshotResult, 1)}

	select {
	case h.snapshots <- req:
	case <-h.done:
		return poker.RoomView{}, errHubClosed
	case <-ctx.Done():
		return poker.RoomView{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.view, res.err
	case <-ctx.Done():
		return poker.RoomView{}, ctx.Err()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(cfg *Config, h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "SERVE: Websocket upgrade for %s failed: %v", realIP(r), err)

			return
		}

		client := &Client{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan ServerMessage, sendBuffer),
		}

		select {
		case h.register <- client:
		case <-h.done:
			_ = conn.Close()

			return
		}

		logf(cfg, "SERVE: Connection %s opened by %s", client.id, realIP(r))

		go client.writePump()
		client.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(h.cfg.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		req := actionRequest{client: c}
		if err := json.Unmarshal(data, &req.msg); err != nil {
			req.err = poker.ErrInvalidPayload
		}

		if !h.enqueue(req) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
