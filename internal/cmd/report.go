package cmd

import (
	"fmt"
	"io"

	"github.com/Iron-Ham/stepflow/internal/event"
)

// report prints lifecycle and sync events from bus to out. The returned
// func removes the subscriptions.
func report(bus *event.Bus, out io.Writer) func() {
	st := newStyles(out)
	ids := []string{
		bus.Subscribe(event.TypeStepStarted, func(e event.Event) {
			ev := e.(event.StepStartedEvent)
			fmt.Fprintln(out, st.header.Render(fmt.Sprintf("Running %s (run %d)", ev.StepID, ev.Run)))
		}),
		bus.Subscribe(event.TypeStepFinished, func(e event.Event) {
			ev := e.(event.StepFinishedEvent)
			switch {
			case ev.Succeeded:
			case ev.ExitCode != 0:
				fmt.Fprintln(out, st.fail.Render(fmt.Sprintf("\nStep %s failed with exit code %d; the project was rolled back", ev.StepID, ev.ExitCode)))
			case !ev.MarkerFound:
				fmt.Fprintln(out, st.fail.Render(fmt.Sprintf("\nStep %s wrote no success marker; the project was rolled back", ev.StepID)))
			}
		}),
		bus.Subscribe(event.TypeStepCompleted, func(e event.Event) {
			ev := e.(event.StepCompletedEvent)
			fmt.Fprintln(out, st.ok.Render(fmt.Sprintf("\nStep %s completed (run %d)", ev.StepID, ev.Run)))
		}),
		bus.Subscribe(event.TypeStepTerminated, func(e event.Event) {
			ev := e.(event.StepTerminatedEvent)
			fmt.Fprintln(out, st.warn.Render(fmt.Sprintf("Step %s terminated; the project was rolled back", ev.StepID)))
		}),
		bus.Subscribe(event.TypeStepsSkipped, func(e event.Event) {
			ev := e.(event.StepsSkippedEvent)
			fmt.Fprintf(out, "Skipped to %s (%d step(s) skipped)\n", ev.Target, len(ev.Skipped))
		}),
		bus.Subscribe(event.TypeUndoApplied, func(e event.Event) {
			ev := e.(event.UndoAppliedEvent)
			if ev.Reverted {
				fmt.Fprintf(out, "Undid %s\n", ev.StepID)
			} else {
				fmt.Fprintf(out, "Undid run %d of %s\n", ev.Run, ev.StepID)
			}
		}),
		bus.Subscribe(event.TypeSkipUndone, func(e event.Event) {
			ev := e.(event.SkipUndoneEvent)
			fmt.Fprintf(out, "Undid skip to %s\n", ev.Target)
		}),
		bus.Subscribe(event.TypeSyncFinished, func(e event.Event) {
			ev := e.(event.SyncFinishedEvent)
			line := fmt.Sprintf("sync %s: copied %d, deleted %d", ev.Direction, ev.Copied, ev.Deleted)
			if !ev.Succeeded {
				line += " (with errors)"
			}
			fmt.Fprintln(out, st.dim.Render(line))
		}),
	}
	return func() {
		for _, id := range ids {
			bus.Unsubscribe(id)
		}
	}
}
