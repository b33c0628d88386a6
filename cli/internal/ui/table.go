package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const maxIDWidth = 40

// MembersView renders the members of a room as a table. self, when present
// in members, is marked.
func MembersView(roomID string, members []string, self string) string {
	if len(members) == 0 {
		return MutedStyle.Render(fmt.Sprintf("Room %s is empty", roomID))
	}

	tw := table.NewWriter()
	tw.SetTitle("%s %s", IconRoom, roomID)
	tw.AppendHeader(table.Row{"#", "Participant", ""})
	for i, id := range members {
		note := ""
		if id == self {
			note = "you"
		}
		tw.AppendRow(table.Row{i + 1, text.Trim(id, maxIDWidth), note})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d online", len(members)), ""})

	tw.SetStyle(table.StyleRounded)
	tw.Style().Color.Header = text.Colors{text.FgHiCyan, text.Bold}
	tw.Style().Color.Footer = text.Colors{text.FgHiBlack}
	tw.Style().Format.Footer = text.FormatDefault
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Colors: text.Colors{text.FgHiGreen}},
	})
	return tw.Render()
}

func RenderMembers(roomID string, members []string, self string) {
	fmt.Println(MembersView(roomID, members, self))
}

// SessionSummary is printed after leaving a room.
type SessionSummary struct {
	RoomID   string
	Duration time.Duration
	Sent     int
	Received int
	Peers    int
}

func SessionSummaryView(s SessionSummary) string {
	rows := [][]string{
		{"Room", s.RoomID},
		{"Duration", s.Duration.Round(time.Second).String()},
		{"Messages sent", fmt.Sprintf("%d", s.Sent)},
		{"Messages received", fmt.Sprintf("%d", s.Received)},
		{"Peers met", fmt.Sprintf("%d", s.Peers)},
	}

	tbl := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Metric", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func RenderSessionSummary(s SessionSummary) {
	fmt.Println(SessionSummaryView(s))
}

// RoomInfo is the banner shown before the chat starts.
type RoomInfo struct {
	RoomID   string
	RoomLink string
	Self     string
}

func (r RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Joining room\n\n%s Room ID:   %s\n%s Link:      %s\n%s You are:   %s",
		IconRoom,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
		IconPeer, r.Self,
	)

	return boxStyle.Render(content)
}
