package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/b-editor/beutl-auth/deviceauth"
	"github.com/b-editor/beutl-auth/internal/config"
	bboltstorage "github.com/b-editor/beutl-auth/storage/bbolt"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reclaim expired sessions and refresh tokens, then exit",
	Long: `Deletes expired device-auth sessions and refresh tokens from the data
directory. The server runs this continuously; the command exists for
offline maintenance and cron-style setups.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		repo, err := bboltstorage.NewRepositoryFromFile(cfg.DataDir+"/auth.db", nil)
		if err != nil {
			return fmt.Errorf("failed to open auth storage: %w", err)
		}
		defer repo.Close()

		sessions, tokens, err := deviceauth.SweepOnce(cmd.Context(), repo, deviceauth.DefaultOrphanTTL)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}

		fmt.Printf("Removed %d expired sessions and %d expired refresh tokens\n", sessions, tokens)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
