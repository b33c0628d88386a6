package relay

// Room groups the relay clients of one signaling room. Signals only travel
// between peers of the same room.
type Room struct {
	// ID is the signaling room id.
	ID string

	// Peers maps participant ids to their live connection.
	Peers map[string]*Client
}

func newRoom(id string) *Room {
	return &Room{ID: id, Peers: make(map[string]*Client)}
}
