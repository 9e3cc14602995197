package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pomociclo/pomociclo/internal/app/settlement"
	"github.com/pomociclo/pomociclo/internal/daemon"
	"github.com/pomociclo/pomociclo/internal/domain"
)

func init() {
	startCmd.Flags().StringVarP(&startSubject, "subject", "s", "", "Subject id to study")
	endCmd.Flags().IntVarP(&endDuration, "duration", "d", 0, "Focused minutes reported by the timer")
	endCmd.Flags().BoolVar(&endSkipped, "skipped", false, "The block was ended early")
	_ = endCmd.MarkFlagRequired("duration")
	rootCmd.AddCommand(startCmd, endCmd)
}

var (
	startSubject string
	endDuration  int
	endSkipped   bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a study session",
	RunE:  runStart,
}

var endCmd = &cobra.Command{
	Use:   "end SESSION_ID",
	Short: "End and settle a study session",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnd,
}

func runStart(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	s, err := d.Settlement.StartSession(cmd.Context(), userID, startSubject)
	if err != nil {
		return err
	}

	fmt.Printf("Started session %s at %s\n", s.ID, s.StartTime.Format("15:04"))
	fmt.Printf("  End it with: pomo end %s --duration <minutes>\n", s.ID)
	return nil
}

func runEnd(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	res, err := d.Settlement.EndSession(cmd.Context(), settlement.Request{
		UserID:           userID,
		SessionID:        args[0],
		ReportedDuration: endDuration,
		Skipped:          endSkipped,
	})
	if errors.Is(err, domain.ErrAlreadySettled) {
		fmt.Printf("Session %s was already settled.\n", args[0])
		printResult(res)
		return nil
	}
	if err != nil {
		return err
	}

	printResult(res)
	return nil
}

func printResult(res settlement.Result) {
	state := "completed"
	if !res.Completed {
		state = "not completed"
	}
	fmt.Printf("%d min counted (%s)\n", res.CountedDuration, state)
	fmt.Printf("  +%d coins  +%d XP\n", res.CoinsEarned, res.XPEarned)
	if res.LeveledUp {
		fmt.Printf("  Level up! Now level %d\n", res.Level)
	}
	if res.StreakDays > 0 {
		fmt.Printf("  Streak: %d day(s)\n", res.StreakDays)
	}
	for _, q := range res.QuestsCompleted {
		fmt.Printf("  Quest complete: %s (+%d coins, +%d XP)\n", q.Title, q.Reward.Coins, q.Reward.XP)
	}
	if len(res.EventsCompleted) > 0 {
		fmt.Printf("  Calendar events completed: %s\n", strings.Join(res.EventsCompleted, ", "))
	}
}
