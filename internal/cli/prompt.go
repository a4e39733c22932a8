package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/convoy-run/convoy/internal/orchestrator"
)

// stdinPrompter asks the operator what to do when a task fails.
type stdinPrompter struct{}

func (stdinPrompter) OnTaskFailure(taskID string, cause error) orchestrator.Decision {
	fmt.Fprintf(os.Stderr, "\nTask %s failed: %v\n", taskID, cause)
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Fprint(os.Stderr, "[r]etry, [s]kip dependents and continue, or [a]bort? ")
		line, err := reader.ReadString('\n')
		if err != nil {
			// Non-interactive stdin: fall back to the autonomous default.
			return orchestrator.DecisionContinue
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "r", "retry":
			return orchestrator.DecisionRetry
		case "s", "skip", "":
			return orchestrator.DecisionContinue
		case "a", "abort":
			return orchestrator.DecisionAbort
		}
	}
}
