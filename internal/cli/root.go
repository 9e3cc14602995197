// Package cli implements the pomociclo command-line interface using Cobra.
// Commands run the settlement engine in-process against the local database.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pomociclo/pomociclo/internal/daemon"
)

var userID string

var rootCmd = &cobra.Command{
	Use:   "pomo",
	Short: "pomociclo: gamified study tracking",
	Long: `pomociclo tracks timed study sessions and settles them into coins,
XP, levels, daily streaks, weekly quests and calendar completions.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	defaultUser := os.Getenv("POMO_USER")
	if defaultUser == "" {
		defaultUser = "local"
	}
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", defaultUser, "User id to act as")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version
	daemon.Version = version

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
