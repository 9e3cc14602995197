package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pomociclo/pomociclo/internal/daemon"
)

func init() {
	rootCmd.AddCommand(statusCmd, questsCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coins, level and streak",
	RunE:  runStatus,
}

var questsCmd = &cobra.Command{
	Use:   "quests",
	Short: "Show this week's quests",
	RunE:  runQuests,
}

const barWidth = 30 // Characters for the progress bar

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	st, err := d.Settlement.Progression(cmd.Context(), userID)
	if err != nil {
		return err
	}

	fmt.Printf("Level %d  %s %.0f%%  (%d / %d XP)\n",
		st.Level, renderBar(st.LevelProgressPct), st.LevelProgressPct, st.XP, st.NextLevelXP)
	fmt.Printf("Coins:  %d\n", st.Coins)
	fmt.Printf("Streak: %d day(s)", st.StreakDays)
	if st.LastStreakDate != "" {
		fmt.Printf(" (last %s)", st.LastStreakDate)
	}
	fmt.Println()
	return nil
}

func runQuests(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	doc, err := d.Settlement.Quests(cmd.Context(), userID)
	if err != nil {
		return err
	}

	fmt.Printf("Week %s\n", doc.WeekID)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUEST\tPROGRESS\tREWARD\tSTATUS")
	for _, q := range doc.Quests {
		status := "open"
		if q.Done {
			status = "done"
		}
		fmt.Fprintf(w, "%s\t%d / %d\t%d coins, %d XP\t%s\n",
			q.Title, q.Progress, q.Target, q.Reward.Coins, q.Reward.XP, status)
	}
	return w.Flush()
}

// renderBar draws [████░░░░] for a 0-100 percentage.
func renderBar(pct float64) string {
	pct = max(0, min(100, pct))
	filled := int(pct / 100 * barWidth)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"
}
