package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/convoy-run/convoy/internal/analysis"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/task"
	"github.com/convoy-run/convoy/internal/tui"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status [session-name] [task-id]",
	Short: "Show the progress of a session",
	Long: `Status prints the session phase and a per-task progress table. With a
task id it prints that task's detail instead. With --watch it opens a live
view that follows the progress ledger. With no session name, the most
recently updated session is used.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "follow progress live")
}

func runStatus(cmd *cobra.Command, args []string) error {
	var dir string
	var err error
	if len(args) >= 1 {
		dir, err = store.Find(args[0])
	} else {
		dir, err = store.FindLatest()
	}
	if err != nil {
		return err
	}
	st := store.Open(dir)

	if len(args) == 2 {
		return printTaskDetail(st, args[1])
	}
	if statusWatch {
		return tui.Watch(st)
	}

	sess, err := st.LoadSession()
	if err != nil {
		return err
	}
	tasks, err := st.LoadTasks()
	if err != nil {
		return err
	}

	fmt.Printf("Session %s (%s) phase %s\n\n", sess.Name, sess.SessionID, sess.Phase)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tATTEMPTS\tNOTE")
	for i := range tasks {
		t := &tasks[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			t.ID, t.Title, t.Status, t.Execution.Attempts, taskNote(t))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	counts := countStatuses(tasks)
	fmt.Printf("\n%d/%d completed", counts[task.StatusCompleted], len(tasks))
	if n := counts[task.StatusFailed]; n > 0 {
		fmt.Printf(", %d failed", n)
	}
	if n := counts[task.StatusBlocked]; n > 0 {
		fmt.Printf(", %d blocked", n)
	}
	if n := counts[task.StatusSkipped]; n > 0 {
		fmt.Printf(", %d skipped", n)
	}
	fmt.Println()

	if counts[task.StatusFailed] > 0 || counts[task.StatusBlocked] > 0 || counts[task.StatusSkipped] > 0 {
		suggestions, err := analysis.NewAnalyzer(st).Analyze()
		if err == nil && len(suggestions) > 0 {
			fmt.Println()
			fmt.Print(analysis.FormatSuggestions(suggestions))
		}
	}
	return nil
}

func printTaskDetail(st *store.Store, id string) error {
	tasks, err := st.LoadTasks()
	if err != nil {
		return err
	}
	var t *task.Task
	for i := range tasks {
		if tasks[i].ID == id {
			t = &tasks[i]
			break
		}
	}
	if t == nil {
		return fmt.Errorf("no task %q in this session", id)
	}

	fmt.Printf("%s  %s\n", t.ID, t.Title)
	fmt.Printf("  status:    %s\n", t.Status)
	fmt.Printf("  type:      %s\n", t.Meta.Type)
	if t.Meta.Agent != "" {
		fmt.Printf("  agent:     %s\n", t.Meta.Agent)
	}
	if t.Meta.ExecutionGroup != "" {
		fmt.Printf("  group:     %s\n", t.Meta.ExecutionGroup)
	}
	if len(t.Context.DependsOn) > 0 {
		fmt.Printf("  depends:   %s\n", strings.Join(t.Context.DependsOn, ", "))
	}
	if len(t.FlowControl.TargetFiles) > 0 {
		fmt.Printf("  targets:   %s\n", strings.Join(t.FlowControl.TargetFiles, ", "))
	}
	fmt.Printf("  attempts:  %d\n", t.Execution.Attempts)
	if t.Execution.LastAttempt != nil {
		fmt.Printf("  last run:  %s\n", t.Execution.LastAttempt.Format("2006-01-02 15:04:05"))
	}
	if note := taskNote(t); note != "" {
		fmt.Printf("  note:      %s\n", note)
	}

	if st.HasSummary(id) {
		sum, err := st.LoadSummary(id)
		if err != nil {
			return err
		}
		fmt.Printf("\n  summary (%s): %s\n", sum.Status, sum.Summary)
		if len(sum.FilesModified) > 0 {
			fmt.Printf("  files:     %s\n", strings.Join(sum.FilesModified, ", "))
		}
		if sum.Notes != "" {
			fmt.Printf("  notes:     %s\n", sum.Notes)
		}
		for _, issue := range sum.Issues {
			fmt.Printf("  issue:     %s\n", issue)
		}
	}
	return nil
}

func taskNote(t *task.Task) string {
	if t.Execution.SkipReason != "" {
		return t.Execution.SkipReason
	}
	return t.Execution.InterruptionReason
}

func countStatuses(tasks []task.Task) map[task.Status]int {
	counts := make(map[task.Status]int)
	for i := range tasks {
		counts[tasks[i].Status]++
	}
	return counts
}
