// Package analysis mines a finished run for plan-improvement suggestions.
//
// The input is execution evidence the session already persists: the
// progress ledger, the task set, and worker completion summaries. The
// output is advice for the next plan, not a judgement on this run.
package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/convoy-run/convoy/internal/ledger"
	"github.com/convoy-run/convoy/internal/store"
	"github.com/convoy-run/convoy/internal/task"
)

// Suggestion is one piece of advice derived from run evidence.
type Suggestion struct {
	Category    string // e.g. "Retries", "Dependencies", "Reported Issues"
	Title       string
	Description string
}

// Analyzer generates suggestions from a session's execution data.
type Analyzer struct {
	store  *store.Store
	ledger *ledger.Ledger
}

// NewAnalyzer creates an analyzer over an opened session store.
func NewAnalyzer(st *store.Store) *Analyzer {
	return &Analyzer{store: st, ledger: ledger.Open(st.Dir())}
}

// Analyze examines the run and generates suggestions.
func (a *Analyzer) Analyze() ([]Suggestion, error) {
	tasks, err := a.store.LoadTasks()
	if err != nil {
		return nil, err
	}
	entries, err := a.ledger.Entries()
	if err != nil {
		return nil, err
	}

	var suggestions []Suggestion
	suggestions = append(suggestions, a.analyzeRetries(tasks, entries)...)
	suggestions = append(suggestions, a.analyzeSkipCascades(tasks)...)
	suggestions = append(suggestions, a.analyzeBlocked(tasks)...)
	suggestions = append(suggestions, a.analyzeReportedIssues(tasks)...)

	return deduplicate(suggestions), nil
}

// analyzeRetries flags tasks that needed more than one dispatch attempt.
func (a *Analyzer) analyzeRetries(tasks []task.Task, entries []ledger.Entry) []Suggestion {
	maxAttempt := make(map[string]int)
	for _, e := range entries {
		if e.Status == task.StatusInProgress && e.Attempt > maxAttempt[e.TaskID] {
			maxAttempt[e.TaskID] = e.Attempt
		}
	}

	var suggestions []Suggestion
	for i := range tasks {
		t := &tasks[i]
		if maxAttempt[t.ID] > 1 {
			suggestions = append(suggestions, Suggestion{
				Category:    "Retries",
				Title:       fmt.Sprintf("Task '%s' required %d attempts", t.Title, maxAttempt[t.ID]),
				Description: "Consider adding more specific acceptance criteria or breaking this task into smaller pieces.",
			})
		}
	}
	return suggestions
}

// analyzeSkipCascades flags failed tasks whose failure knocked out other work.
func (a *Analyzer) analyzeSkipCascades(tasks []task.Task) []Suggestion {
	cascaded := 0
	for i := range tasks {
		if tasks[i].Status == task.StatusSkipped &&
			tasks[i].Execution.SkipReason == task.SkipReasonDependencyFailed {
			cascaded++
		}
	}
	if cascaded == 0 {
		return nil
	}

	return []Suggestion{{
		Category:    "Dependencies",
		Title:       fmt.Sprintf("%d task(s) were skipped over a failed dependency", cascaded),
		Description: "High fan-out below fragile tasks amplifies failures. Consider moving risky tasks later or reducing what depends on them.",
	}}
}

// analyzeBlocked flags tasks that stopped on external dependencies.
func (a *Analyzer) analyzeBlocked(tasks []task.Task) []Suggestion {
	var suggestions []Suggestion
	for i := range tasks {
		t := &tasks[i]
		if t.Status != task.StatusBlocked {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			Category:    "Dependencies",
			Title:       fmt.Sprintf("Task '%s' blocked on an external dependency", t.Title),
			Description: "Declare external dependencies in the plan and resolve them before the run, or mark the task skippable.",
		})
	}
	return suggestions
}

// analyzeReportedIssues surfaces issues workers wrote into their summaries.
func (a *Analyzer) analyzeReportedIssues(tasks []task.Task) []Suggestion {
	var suggestions []Suggestion
	for i := range tasks {
		t := &tasks[i]
		if !a.store.HasSummary(t.ID) {
			continue
		}
		sum, err := a.store.LoadSummary(t.ID)
		if err != nil {
			continue
		}
		for _, issue := range sum.Issues {
			suggestions = append(suggestions, Suggestion{
				Category:    "Reported Issues",
				Title:       fmt.Sprintf("Task '%s': %s", t.Title, issue),
				Description: "A worker flagged this during execution. Fold it into the next plan if it is not already handled.",
			})
		}
	}
	return suggestions
}

// deduplicate removes suggestions with identical titles.
func deduplicate(suggestions []Suggestion) []Suggestion {
	seen := make(map[string]bool)
	var result []Suggestion
	for _, s := range suggestions {
		key := s.Category + "|" + s.Title
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, s)
	}
	return result
}

// FormatSuggestions renders suggestions grouped by category.
func FormatSuggestions(suggestions []Suggestion) string {
	if len(suggestions) == 0 {
		return ""
	}

	byCategory := make(map[string][]Suggestion)
	for _, s := range suggestions {
		byCategory[s.Category] = append(byCategory[s.Category], s)
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var sb strings.Builder
	sb.WriteString("Suggestions for the next plan:\n")
	for _, c := range categories {
		sb.WriteString(fmt.Sprintf("\n## %s\n", c))
		for _, s := range byCategory[c] {
			sb.WriteString(fmt.Sprintf("- %s\n", s.Title))
			sb.WriteString(fmt.Sprintf("  %s\n", s.Description))
		}
	}
	return sb.String()
}
