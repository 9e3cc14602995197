package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pomociclo/pomociclo/internal/daemon"
	"github.com/pomociclo/pomociclo/internal/domain"
)

func init() {
	seedSubjectCmd.Flags().StringVar(&seedSubjectID, "id", "", "Subject id (defaults to a new uuid)")
	seedSubjectCmd.Flags().IntVar(&seedGoal, "goal", 0, "Weekly goal in minutes")

	seedSettingsCmd.Flags().IntVar(&seedBlock, "block", domain.DefaultBlockMinutes, "Focus block length in minutes")
	seedSettingsCmd.Flags().IntVar(&seedBreak, "break", domain.DefaultBreakMinutes, "Break length in minutes")

	seedEventCmd.Flags().StringVarP(&seedEventSubject, "subject", "s", "", "Subject id the event is for")
	seedEventCmd.Flags().StringVar(&seedEventStart, "start", "", "Start time (RFC 3339)")
	seedEventCmd.Flags().IntVar(&seedEventMinutes, "minutes", 60, "Event length in minutes")
	seedEventCmd.Flags().StringVar(&seedEventType, "type", "study", "Event type")
	_ = seedEventCmd.MarkFlagRequired("start")

	seedCmd.AddCommand(seedSubjectCmd, seedSettingsCmd, seedEventCmd)
	rootCmd.AddCommand(seedCmd)
}

var (
	seedSubjectID    string
	seedGoal         int
	seedBlock        int
	seedBreak        int
	seedEventSubject string
	seedEventStart   string
	seedEventMinutes int
	seedEventType    string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create subjects, settings and calendar events",
	Long:  `Seed local data. Subject and calendar management live outside the engine; these helpers exist for development and demos.`,
}

var seedSubjectCmd = &cobra.Command{
	Use:   "subject NAME",
	Short: "Create a subject with a weekly goal",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeedSubject,
}

var seedSettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Set block and break lengths",
	RunE:  runSeedSettings,
}

var seedEventCmd = &cobra.Command{
	Use:   "event TITLE",
	Short: "Create a calendar event",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeedEvent,
}

func runSeedSubject(cmd *cobra.Command, args []string) error {
	if seedGoal < 0 {
		return fmt.Errorf("--goal must not be negative")
	}
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	id := seedSubjectID
	if id == "" {
		id = uuid.NewString()
	}
	err = d.DB.CreateSubject(cmd.Context(), domain.Subject{
		ID:              id,
		UserID:          userID,
		Name:            args[0],
		TimeGoalMinutes: seedGoal,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Created subject %s (%s), goal %d min/week\n", args[0], id, seedGoal)
	return nil
}

func runSeedSettings(cmd *cobra.Command, args []string) error {
	if seedBlock <= 0 || seedBreak < 0 {
		return fmt.Errorf("--block must be positive and --break must not be negative")
	}
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	err = d.DB.UpsertSettings(cmd.Context(), domain.UserSettings{
		UserID:       userID,
		BlockMinutes: seedBlock,
		BreakMinutes: seedBreak,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Settings saved: %d min blocks, %d min breaks\n", seedBlock, seedBreak)
	return nil
}

func runSeedEvent(cmd *cobra.Command, args []string) error {
	start, err := time.Parse(time.RFC3339, seedEventStart)
	if err != nil {
		return fmt.Errorf("parse --start: %w", err)
	}
	if seedEventMinutes <= 0 {
		return fmt.Errorf("--minutes must be positive")
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	ev := domain.CalendarEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		SubjectID: seedEventSubject,
		Title:     args[0],
		Start:     start.UTC(),
		End:       start.UTC().Add(time.Duration(seedEventMinutes) * time.Minute),
		EventType: seedEventType,
	}
	if err := d.DB.CreateEvent(cmd.Context(), ev); err != nil {
		return err
	}

	fmt.Printf("Created event %s (%s) %s-%s\n", ev.Title, ev.ID,
		ev.Start.Format("Mon 15:04"), ev.End.Format("15:04"))
	return nil
}
