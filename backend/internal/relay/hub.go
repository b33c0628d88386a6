package relay

import (
	"context"
	"log/slog"
)

// Hub forwards peer signals between the clients of a room.
// It owns all rooms and clients from a single goroutine (Run), so none of its
// state needs locking.
type Hub struct {
	// Rooms maps room IDs to Room instances.
	Rooms map[string]*Room

	// Register is a channel for registering new clients.
	Register chan *Client

	// Unregister is a channel for unregistering clients.
	Unregister chan *Client

	// Broadcast is a channel for clients to send messages to.
	// The hub will route them to their target peer.
	Broadcast chan *Message

	// done is closed when Run returns.
	done chan struct{}

	opts   Options
	logger *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(opts Options, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}

	return &Hub{
		Rooms:      make(map[string]*Room),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan *Message),
		done:       make(chan struct{}),
		opts:       opts,
		logger:     logger,
	}
}

// Attach hands a client to the hub. It returns false once the hub stopped.
func (h *Hub) Attach(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) broadcast(m *Message) bool {
	select {
	case h.Broadcast <- m:
		return true
	case <-h.done:
		return false
	}
}

// Run starts the hub's main processing loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		for _, room := range h.Rooms {
			for _, c := range room.Peers {
				h.closeClient(c)
			}
		}
		h.Rooms = make(map[string]*Room)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		// --- Client Register ---
		case client := <-h.Register:
			room, ok := h.Rooms[client.RoomID]
			if !ok {
				room = newRoom(client.RoomID)
				h.Rooms[client.RoomID] = room
			}

			// A participant reconnecting replaces its stale socket.
			if old, ok := room.Peers[client.PeerID]; ok && old != client {
				h.logger.Info("relay peer replaced", "room_id", room.ID, "peer_id", client.PeerID)
				h.closeClient(old)
			}
			room.Peers[client.PeerID] = client
			h.logger.Debug("relay peer registered", "room_id", room.ID, "peer_id", client.PeerID, "peers", len(room.Peers))

		// --- Client Unregister ---
		case client := <-h.Unregister:
			if room, ok := h.Rooms[client.RoomID]; ok {
				if room.Peers[client.PeerID] == client {
					delete(room.Peers, client.PeerID)
					h.logger.Debug("relay peer unregistered", "room_id", room.ID, "peer_id", client.PeerID)
				}
				if len(room.Peers) == 0 {
					delete(h.Rooms, room.ID)
				}
			}
			h.closeClient(client)

		// --- Route Message ---
		case message := <-h.Broadcast:
			h.route(message)
		}
	}
}

func (h *Hub) route(message *Message) {
	sender := message.client
	if sender == nil || sender.closed {
		return
	}

	switch message.Type {
	case MessageTypeSignal:
		if message.To == "" {
			h.deliver(sender, errorMessage("signal target is required", ""))
			return
		}

		var target *Client
		if room, ok := h.Rooms[sender.RoomID]; ok {
			target = room.Peers[message.To]
		}
		if target == nil {
			h.logger.Debug("relay target not connected", "room_id", sender.RoomID, "from", sender.PeerID, "to", message.To)
			h.deliver(sender, errorMessage("peer not connected", message.To))
			return
		}

		// The sender id is stamped by the hub so peers cannot spoof it.
		h.deliver(target, &Message{
			Type:    MessageTypeSignal,
			From:    sender.PeerID,
			To:      target.PeerID,
			Payload: message.Payload,
		})

	default:
		h.logger.Warn("unknown relay message type", "type", message.Type, "peer_id", sender.PeerID)
		h.deliver(sender, errorMessage("unknown message type", ""))
	}
}

// deliver queues a message without blocking the hub. A client whose queue is
// full is too slow to keep and gets disconnected.
func (h *Hub) deliver(c *Client, m *Message) {
	if c.closed {
		return
	}
	select {
	case c.Send <- m:
	default:
		h.logger.Warn("relay client too slow, dropping", "room_id", c.RoomID, "peer_id", c.PeerID)
		if room, ok := h.Rooms[c.RoomID]; ok && room.Peers[c.PeerID] == c {
			delete(room.Peers, c.PeerID)
			if len(room.Peers) == 0 {
				delete(h.Rooms, room.ID)
			}
		}
		h.closeClient(c)
	}
}

// closeClient stops the client's WritePump exactly once.
func (h *Hub) closeClient(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}
