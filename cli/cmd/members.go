package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/BioHazard786/Warpmeet/cli/internal/signaling"
	"github.com/BioHazard786/Warpmeet/cli/internal/ui"
	"github.com/spf13/cobra"
)

var membersCmd = &cobra.Command{
	Use:     "members <room>",
	Aliases: []string{"m", "who"},
	Short:   "List who is in a room",
	Long: `List the participants currently present in a room.

Examples:
  warpmeet members sleepy-otter-harbor
  warpmeet members --server http://localhost:8080 r1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listMembers(cmd.Context(), args[0])
	},
}

func listMembers(ctx context.Context, roomID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stopSpinner := ui.RunConnectionSpinner("Asking the server...")
	defer stopSpinner()

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	users, err := signaling.NewEndpoint(cfg.EndpointURL, nil).Users(ctx, roomID, "")
	stopSpinner()
	if err != nil {
		return fmt.Errorf("list members of %s: %w", roomID, err)
	}

	ui.RenderMembers(roomID, users, "")
	return nil
}
