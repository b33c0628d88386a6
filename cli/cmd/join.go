package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/BioHazard786/Warpmeet/cli/internal/chat"
	"github.com/BioHazard786/Warpmeet/cli/internal/logging"
	"github.com/BioHazard786/Warpmeet/cli/internal/orchestrator"
	"github.com/BioHazard786/Warpmeet/cli/internal/room"
	"github.com/BioHazard786/Warpmeet/cli/internal/roomname"
	"github.com/BioHazard786/Warpmeet/cli/internal/transport"
	"github.com/BioHazard786/Warpmeet/cli/internal/ui"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	dialTimeout  = 20 * time.Second
	leaveTimeout = 5 * time.Second
)

var (
	flagID            string
	flagSignalingOnly bool
	flagLogFile       string
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a room and talk to everyone in it",
	Long: `Join a room. Without a room name a new one is made up for you; share it
with the people you want to meet.

Inside the room type to chat. Commands: /mute, /unmute, /video on|off, /peers, /quit.

Examples:
  warpmeet join
  warpmeet join sleepy-otter-harbor --name Ada
  warpmeet join r1 --signaling-only --log-file warpmeet.log`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var roomID string
		if len(args) == 1 {
			roomID = args[0]
		} else {
			roomID = roomname.Generate(nil)
		}
		return joinRoom(cmd.Context(), roomID)
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagID, "id", "", "Participant id (random by default)")
	joinCmd.Flags().BoolVar(&flagSignalingOnly, "signaling-only", false, "Chat only, without a local audio track")
	joinCmd.Flags().StringVar(&flagLogFile, "log-file", "", "Write logs to this file while the room screen is open")
}

func joinRoom(ctx context.Context, roomID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	participantID := flagID
	if participantID == "" {
		participantID = uuid.NewString()
	}

	logger, closeLog, err := roomLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	fmt.Println(ui.RoomInfo{RoomID: roomID, RoomLink: cfg.GetRoomLink(roomID), Self: cfg.DisplayName}.View())

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	session, err := room.Dial(dialCtx, cfg, room.DialOptions{
		RoomID:        roomID,
		ParticipantID: participantID,
		SignalingOnly: flagSignalingOnly,
		Logger:        logger,
	})
	cancel()
	stopSpinner()
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}

	leave := func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		session.Stop(leaveCtx)
	}
	defer leave()

	screen := ui.NewChatModel(session)
	connectScreen(session, screen)

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("join room %s: %w", roomID, err)
	}
	started := time.Now()

	runErr := ui.RunChat(ctx, screen)
	leave()

	sent, received, peers := screen.Summary()
	fmt.Println()
	ui.RenderSessionSummary(ui.SessionSummary{
		RoomID:   roomID,
		Duration: time.Since(started),
		Sent:     sent,
		Received: received,
		Peers:    peers,
	})
	if runErr != nil {
		return runErr
	}
	ui.PrintSuccessf("%s Left %s", ui.IconGoodbye, roomID)
	return nil
}

// connectScreen forwards session callbacks to the chat screen.
func connectScreen(s *room.Session, screen *ui.ChatModel) {
	s.Chat().OnMessage(func(msg chat.Message) {
		screen.Push(ui.ChatUpdate{Type: ui.UpdateMessage, Message: msg})
	})
	s.Chat().OnMediaState(func(remote string, st chat.MediaState) {
		screen.Push(ui.ChatUpdate{Type: ui.UpdatePeerMedia, Remote: remote, Media: st})
	})
	s.Orchestrator().OnLinkStateChange(func(remote string, st orchestrator.LinkState) {
		screen.Push(ui.ChatUpdate{Type: ui.UpdateLink, Remote: remote, Link: st.String()})
	})

	status := func(text string) {
		screen.Push(ui.ChatUpdate{Type: ui.UpdateStatus, Status: text})
	}
	s.On(transport.KindConnected, func(transport.Event) {
		status(fmt.Sprintf("%s Connected", ui.IconConnect))
	})
	s.On(transport.KindReconnecting, func(ev transport.Event) {
		e := ev.(transport.Reconnecting)
		status(fmt.Sprintf("%s Reconnecting (attempt %d, in %s)...", ui.IconReconnect, e.Attempt, e.Delay))
	})
	s.On(transport.KindReconnected, func(transport.Event) {
		status(fmt.Sprintf("%s Reconnected", ui.IconConnect))
	})
	s.On(transport.KindConnectError, func(ev transport.Event) {
		screen.Push(ui.ChatUpdate{Type: ui.UpdateClosed, Err: ev.(transport.ConnectError).Err})
	})
	s.On(transport.KindReconnectFailed, func(ev transport.Event) {
		screen.Push(ui.ChatUpdate{Type: ui.UpdateClosed, Err: ev.(transport.ReconnectFailed).Err})
	})
}

// roomLogger sends logs to --log-file, or drops them while the room screen
// owns the terminal.
func roomLogger() (*slog.Logger, func(), error) {
	level := logging.ParseLevel(os.Getenv("LOG_LEVEL"), slog.LevelInfo)
	if flagLogFile == "" {
		return logging.InitWriter(io.Discard, level), func() {}, nil
	}
	f, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return logging.InitWriter(f, level), func() { f.Close() }, nil
}
