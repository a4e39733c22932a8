package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/convoy-run/convoy/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions",
	Long:  `List all sessions under .convoy/sessions, most recently updated first.`,
	RunE:  runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	dirs, err := store.List()
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPHASE\tUPDATED\tID")
	for _, dir := range dirs {
		sess, err := store.Open(dir).LoadSession()
		if err != nil {
			// An unreadable session record still deserves a row.
			fmt.Fprintf(w, "?\t?\t?\t%s\n", dir)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			sess.Name, sess.Phase, formatAge(sess.UpdatedAt), sess.SessionID)
	}
	return w.Flush()
}

// formatAge returns a human-readable relative time string.
func formatAge(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return "just now"
	}

	minutes := int(duration.Minutes())
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}

	hours := int(duration.Hours())
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}

	days := hours / 24
	return fmt.Sprintf("%dd ago", days)
}
