package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BioHazard786/Warpmeet/cli/internal/config"
	"github.com/BioHazard786/Warpmeet/cli/internal/ui"
	"github.com/BioHazard786/Warpmeet/cli/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagServer       string
	flagSTUN         string
	flagTURN         string
	flagTURNUser     string
	flagTURNPass     string
	flagRelay        bool
	flagName         string
	flagPollInterval time.Duration
	flagPolicy       string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warpmeet",
	Short: "Peer-to-peer rooms with audio and chat over WebRTC",
	Long: `Warpmeet joins you to a room where every participant is connected directly
to every other participant. A small signaling server tracks who is in the room;
audio and chat flow peer to peer.`,
	Version: version.Version,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServer, "server", "", "Signaling server URL (env WARPMEET_SERVER)")
	pf.StringVar(&flagSTUN, "stun", "", "STUN server (env STUN_SERVER)")
	pf.StringVar(&flagTURN, "turn", "", "TURN server host (env TURN_SERVER)")
	pf.StringVar(&flagTURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	pf.StringVar(&flagTURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	pf.BoolVar(&flagRelay, "relay", false, "Force TURN relay (env WARPMEET_FORCE_RELAY)")
	pf.StringVarP(&flagName, "name", "n", "", "Display name shown next to your messages (env WARPMEET_NAME)")
	pf.DurationVar(&flagPollInterval, "poll-interval", 0, "Presence poll interval (env WARPMEET_POLL_INTERVAL)")
	pf.StringVar(&flagPolicy, "toggle-policy", "", "When peers learn about mute toggles: optimistic or confirmed (env WARPMEET_TOGGLE_POLICY)")

	rootCmd.AddCommand(joinCmd, membersCmd, versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ServerURL:    flagServer,
		STUNServer:   flagSTUN,
		TURNServer:   flagTURN,
		TURNUser:     flagTURNUser,
		TURNPass:     flagTURNPass,
		ForceRelay:   flagRelay,
		DisplayName:  flagName,
		PollInterval: flagPollInterval,
		TogglePolicy: flagPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
