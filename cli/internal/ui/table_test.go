package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMembersView(t *testing.T) {
	view := MembersView("r1", []string{"alice", "bob"}, "bob")

	assert.Contains(t, view, "r1")
	assert.Contains(t, view, "alice")
	assert.Contains(t, view, "bob")
	assert.Contains(t, view, "you")
	assert.Contains(t, view, "2 online")
	assert.NotContains(t, view, "ONLINE")
}

func TestMembersViewEmpty(t *testing.T) {
	assert.Contains(t, MembersView("r1", nil, ""), "empty")
}

func TestSessionSummaryView(t *testing.T) {
	view := SessionSummaryView(SessionSummary{RoomID: "r1", Duration: 90 * time.Second, Sent: 3, Received: 5, Peers: 2})

	assert.Contains(t, view, "r1")
	assert.Contains(t, view, "1m30s")
	assert.Contains(t, view, "Messages received")
}

func TestSpinnerStopIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	sp := NewSimpleSpinner("Connecting...")
	sp.out = &buf
	sp.Start()
	sp.UpdateMessage("Joining...")
	sp.Success("Joined")
	sp.Stop()

	out := buf.String()
	assert.Contains(t, out, "ing...")
	assert.True(t, strings.HasSuffix(out, "Joined\n"), out)
}

func TestMediaIcons(t *testing.T) {
	assert.Equal(t, IconMic+" "+IconNoVideo, MediaIcons(true, false))
	assert.Equal(t, IconMuted+" "+IconVideo, MediaIcons(false, true))
}
