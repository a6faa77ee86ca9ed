package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Iron-Ham/stepflow/internal/process"
	"github.com/Iron-Ham/stepflow/internal/workflow"
	"github.com/spf13/cobra"
)

var runInputs []string

var runCmd = &cobra.Command{
	Use:   "run <step-id>",
	Short: "Run one step interactively",
	Long: `Snapshot the project and run step-id's script in a pseudo-terminal.
Script output is shown as it arrives and lines typed on stdin are sent to
the script. If the script fails, or does not write its success marker, the
project is rolled back. Ctrl+C terminates the script and rolls back.

Inputs are given as key=value, where key is the input's position (0, 1,
...), its name, or its argument flag:
  stepflow run convert --input source=data/in.csv --input 1=out.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "step input as key=value (repeatable)")
	rootCmd.AddCommand(runCmd)
}

// resolveInputs maps key=value pairs onto the input keys of step.
func resolveInputs(step *workflow.Step, pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q: expected key=value", pair)
		}
		idx := inputIndex(step, key)
		if idx < 0 {
			return nil, fmt.Errorf("step %s has no input %q", step.ID, key)
		}
		values[workflow.InputKey(step.ID, idx)] = value
	}
	return values, nil
}

func inputIndex(step *workflow.Step, key string) int {
	if i, err := strconv.Atoi(key); err == nil {
		if i >= 0 && i < len(step.Inputs) {
			return i
		}
		return -1
	}
	for i, in := range step.Inputs {
		if strings.EqualFold(in.Name, key) ||
			in.Arg == key ||
			strings.TrimLeft(in.Arg, "-") == key ||
			workflow.InputKey(step.ID, i) == key {
			return i
		}
	}
	return -1
}

func runRun(cmd *cobra.Command, args []string) error {
	id := args[0]

	a, err := openProject()
	if err != nil {
		return err
	}
	defer a.Close()

	step, err := a.def.Step(id)
	if err != nil {
		return err
	}
	inputs, err := resolveInputs(step, runInputs)
	if err != nil {
		return err
	}

	defer report(a.bus, cmd.OutOrStdout())()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.orch.RunStep(id, inputs); err != nil {
		return err
	}

	ok, err := drive(a, id, cmd.InOrStdin(), cmd.OutOrStdout(), sigCh)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("step %s failed; the project was rolled back", id)
	}
	return nil
}

// drive pumps a started step until it finishes or is interrupted: each
// tick drains one output burst, stdin lines are forwarded as input, and
// CompleteStep is called exactly once when the result arrives.
func drive(a *app, id string, in io.Reader, out io.Writer, sigCh <-chan os.Signal) (bool, error) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	output := a.orch.Output()
	results := a.orch.Results()
	opts := a.drainOptions()

	interval := a.cfg.Runner.PollInterval()
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Fprintln(out, "\nInterrupted, terminating step")
			if !a.orch.TerminateStep(id) {
				a.logger.WithStep(id).Warn("terminate found nothing to stop")
			}
			return false, nil

		case line, open := <-lines:
			if !open {
				lines = nil
				continue
			}
			if err := a.orch.SendInput(line); err != nil {
				a.logger.WithStep(id).Warn("input dropped", "error", err.Error())
			}

		case <-ticker.C:
			chunk, _ := process.Drain(output, opts)
			_, _ = io.WriteString(out, chunk)

			select {
			case res := <-results:
				flush(output, out, opts)
				return a.orch.CompleteStep(id, res)
			default:
			}
		}
	}
}

// flush writes the output still buffered after the result arrived.
func flush(output <-chan string, out io.Writer, opts process.DrainOptions) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		chunk, closed := process.Drain(output, opts)
		_, _ = io.WriteString(out, chunk)
		if closed {
			return
		}
	}
}
