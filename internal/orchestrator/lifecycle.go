package orchestrator

import (
	"os"
	"strconv"

	sferrors "github.com/Iron-Ham/stepflow/internal/errors"
	"github.com/Iron-Ham/stepflow/internal/event"
	"github.com/Iron-Ham/stepflow/internal/history"
	"github.com/Iron-Ham/stepflow/internal/logging"
	"github.com/Iron-Ham/stepflow/internal/process"
	"github.com/Iron-Ham/stepflow/internal/snapshot"
	"github.com/Iron-Ham/stepflow/internal/workflow"
)

// SkipSnapshotPrefix names the safety archive taken before a skip.
const SkipSnapshotPrefix = "skip_to_"

// RunStep snapshots the project and launches step id's script with the
// declared inputs found in inputs (keyed by workflow.InputKey). It returns
// as soon as the script has started; the caller must drain the output and
// call CompleteStep once the result arrives.
func (o *Orchestrator) RunStep(id string, inputs map[string]string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	step, err := o.def.Step(id)
	if err != nil {
		return err
	}
	if o.closed {
		return sferrors.NewStepError("orchestrator is closed", sferrors.ErrNotRunning).WithStepID(id)
	}
	if o.running != "" || o.runner.IsRunning() {
		return sferrors.NewStepError("another step is running", sferrors.ErrAlreadyRunning).WithStepID(o.running)
	}
	if !step.AllowRerun {
		if st, err := o.history.Status(id); err == nil && st == history.StatusCompleted {
			return sferrors.NewStepError("step is completed and does not allow reruns", sferrors.ErrInvalidInput).WithStepID(id)
		}
	}

	// Check the script before spending an archive on a run that can't start.
	script := o.ScriptPath(step)
	if fi, err := os.Stat(script); err != nil || fi.IsDir() {
		return sferrors.NewStepError("cannot run step",
			sferrors.NewNotFoundError("script", script).WithCause(sferrors.ErrScriptNotFound),
		).WithStepID(id)
	}

	if o.mirror != nil && !o.mirror.SyncDown() {
		o.logger.WithStep(id).Warn("sync down failed, running against local copy")
	}

	n := o.snapshots.NextRunNumber(id, step.AllowRerun)
	logger := o.logger.WithStep(id).WithRun(n)

	if n == 1 && len(step.SnapshotItems) > 0 {
		if err := o.snapshots.TakeSelective(id, step.SnapshotItems); err != nil {
			logger.Warn("selective snapshot failed", "error", err.Error())
		}
	}

	runName := snapshot.RunName(id, n)
	if err := o.snapshots.TakeComplete(runName); err != nil {
		return sferrors.NewStepError("failed to snapshot before run", err).WithStepID(id).WithRun(n)
	}

	o.removeMarker(step, logger)

	args := step.BuildArgs(inputs)
	if err := o.runner.Start(script, args); err != nil {
		if delErr := o.snapshots.Delete(runName); delErr != nil {
			logger.Warn("failed to discard unused run snapshot", "error", delErr.Error())
		}
		return sferrors.NewStepError("failed to start script", err).WithStepID(id).WithRun(n)
	}

	o.running = id
	o.runs[id] = n
	logger.Info("step started", "script", script, "args", args)
	o.bus.Publish(event.NewStepStartedEvent(id, n, script, args))
	return nil
}

// CompleteStep classifies a finished run of id. A run succeeds only if
// result.Succeeded and the success marker exists; the step is then
// recorded as completed. Otherwise the project is rolled back to the run's
// before-snapshot and the step is left pending. The returned bool is the
// success verdict.
func (o *Orchestrator) CompleteStep(id string, result process.RunResult) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	step, err := o.def.Step(id)
	if err != nil {
		return false, err
	}

	n := o.currentRun(id)
	logger := o.logger.WithStep(id).WithRun(n)
	if o.running == id {
		o.running = ""
	}

	marker := o.MarkerPath(step)
	found := markerExists(marker)
	if !result.Succeeded {
		logger.Warn("script did not succeed", "exit_code", result.ExitCode, "terminated", result.Terminated)
	}
	if !found {
		logger.Warn("success marker missing", "path", marker)
	}
	succeeded := result.Succeeded && found
	o.bus.Publish(event.NewStepFinishedEvent(id, n, succeeded, result.ExitCode, found))

	if !succeeded {
		o.rollback(step, n, logger)
		delete(o.runs, id)
		if err := o.history.SetStatus(id, history.StatusPending); err != nil {
			logger.Error("failed to record pending status", "error", err.Error())
		}
		return false, nil
	}

	if err := o.history.SetStatus(id, history.StatusCompleted); err != nil {
		return false, sferrors.NewStepError("failed to record completion", err).WithStepID(id).WithRun(n)
	}
	delete(o.runs, id)
	logger.Info("step completed")
	o.bus.Publish(event.NewStepCompletedEvent(id, n))

	o.syncUp(logger, "completion")
	return true, nil
}

// TerminateStep kills the running script of id and rolls the project back
// to that run's before-snapshot. It returns false, changing nothing, when
// no script is running or id is not the running step.
func (o *Orchestrator) TerminateStep(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running == "" && !o.runner.IsRunning() {
		return false
	}
	if o.running != id {
		o.logger.Warn("terminate requested for a step that is not running",
			"requested", id,
			"running", o.running,
		)
		return false
	}

	if err := o.runner.Terminate(); err != nil {
		o.logger.WithStep(id).Error("failed to terminate script", "error", err.Error())
	}
	o.running = ""

	step, err := o.def.Step(id)
	if err != nil {
		o.logger.Error("terminated unknown step", "step_id", id)
		return true
	}

	n := o.currentRun(id)
	logger := o.logger.WithStep(id).WithRun(n)
	o.rollback(step, n, logger)
	delete(o.runs, id)
	o.removeMarker(step, logger)
	if err := o.history.SetStatus(id, history.StatusPending); err != nil {
		logger.Error("failed to record pending status", "error", err.Error())
	}

	logger.Info("step terminated")
	o.bus.Publish(event.NewStepTerminatedEvent(id))
	return true
}

// rollback restores the project to its state before run n of step,
// trying the run archive, then the older whole-project archive named by
// the step id, then the selective archive. The run's archives are removed
// whether or not a restore succeeded.
func (o *Orchestrator) rollback(step *workflow.Step, n int, logger *logging.Logger) bool {
	id := step.ID
	restored := false

	name, err := o.restoreFirst(logger, snapshot.RunName(id, n), id)
	switch {
	case err == nil:
		logger.Info("rolled back", "snapshot", name)
		restored = true
	case !sferrors.IsNotFound(err):
		logger.Error("rollback failed", "snapshot", name, "error", err.Error())
	case len(step.SnapshotItems) > 0:
		if err := o.snapshots.RestoreSelective(id, step.SnapshotItems); err != nil {
			if sferrors.IsNotFound(err) {
				logger.Error("no snapshot to roll back to")
			} else {
				logger.Error("rollback from selective snapshot failed", "error", err.Error())
			}
		} else {
			logger.Info("rolled back", "tier", "selective", "snapshot", id)
			restored = true
		}
	default:
		logger.Error("no snapshot to roll back to")
	}

	if err := o.snapshots.RemoveRunsFrom(id, n); err != nil {
		logger.Warn("failed to remove run snapshot", "error", err.Error())
	}
	return restored
}

// restoreFirst restores the first of names that exists and returns its
// name. A missing archive moves on to the next name; any other failure
// stops the search.
func (o *Orchestrator) restoreFirst(logger *logging.Logger, names ...string) (string, error) {
	var err error
	for _, name := range names {
		if err = o.snapshots.RestoreComplete(name); err == nil {
			return name, nil
		}
		if !sferrors.IsNotFound(err) {
			return name, err
		}
		logger.Debug("snapshot missing", "snapshot", name)
	}
	return "", err
}

// SkipToStep marks every step before target as skipped and target and
// everything after it as pending, overwriting prior statuses. A safety
// snapshot named SkipSnapshotPrefix+target is taken first and the
// overwritten statuses are kept in the history record, so Undo can revert
// the skip as long as nothing has completed since.
func (o *Orchestrator) SkipToStep(target string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.def.Step(target); err != nil {
		return err
	}
	if o.running != "" || o.runner.IsRunning() {
		return sferrors.NewStepError("cannot skip while a step is running", sferrors.ErrStepRunning).WithStepID(o.running)
	}

	name := SkipSnapshotPrefix + target
	if o.snapshots.Exists(name) {
		name += "_" + strconv.Itoa(len(o.history.Skips())+1)
	}
	if err := o.snapshots.TakeComplete(name); err != nil {
		return sferrors.NewStepError("failed to snapshot before skip", err).WithStepID(target)
	}

	idx := o.def.Index(target)
	statuses := make(map[string]history.Status, len(o.def.Steps))
	var skipped []string
	for i, step := range o.def.Steps {
		if i < idx {
			statuses[step.ID] = history.StatusSkipped
			skipped = append(skipped, step.ID)
		} else {
			statuses[step.ID] = history.StatusPending
		}
	}
	if err := o.history.RecordSkip(target, name, statuses); err != nil {
		if delErr := o.snapshots.Delete(name); delErr != nil {
			o.logger.Warn("failed to discard skip snapshot", "error", delErr.Error())
		}
		return sferrors.NewStepError("failed to record skip", err).WithStepID(target)
	}

	o.logger.Info("skipped ahead", "target", target, "skipped", len(skipped))
	o.bus.Publish(event.NewStepsSkippedEvent(target, skipped))
	o.syncUp(o.logger.WithStep(target), "skip")
	return nil
}

// Undo rolls back the most recent change. A skip with no completion
// after it is reverted first: the tree and the overwritten statuses come
// back. Otherwise the most recent completion is undone. If that step has
// more than one retained run, only the latest run is undone and the step
// stays completed; otherwise the project goes back to before its first run
// and the step becomes pending. Undo reports false when there is nothing
// to undo or any part of the rollback fails.
func (o *Orchestrator) Undo() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running != "" || o.runner.IsRunning() {
		o.logger.Warn("undo refused while a step is running")
		return false
	}

	if rec, ok := o.history.PendingSkip(); ok {
		return o.undoSkip(rec)
	}

	id, ok := o.history.LastCompletedChronological()
	if !ok {
		o.logger.Info("nothing to undo")
		return false
	}

	n := o.snapshots.EffectiveRunNumber(id)
	logger := o.logger.WithStep(id).WithRun(n)
	delete(o.runs, id)

	names := []string{id}
	if n > 0 {
		names = []string{snapshot.RunName(id, n)}
		if n == 1 {
			names = append(names, id)
		}
	}
	name, err := o.restoreFirst(logger, names...)
	if err != nil {
		if sferrors.IsNotFound(err) {
			logger.Error("undo failed, no snapshot", "snapshots", names)
		} else {
			logger.Error("undo failed", "snapshot", name, "error", err.Error())
		}
		return false
	}

	if n > 1 {
		if err := o.snapshots.RemoveRunsFrom(id, n); err != nil {
			logger.Error("undo failed to remove run snapshot", "error", err.Error())
			return false
		}
		if _, err := o.history.PopLastCompletion(id); err != nil {
			logger.Error("undo failed to update completion log", "error", err.Error())
			return false
		}
		logger.Info("undid run", "snapshot", name, "remaining_runs", n-1)
		o.bus.Publish(event.NewUndoAppliedEvent(id, n, false))
		o.syncUp(logger, "undo")
		return true
	}

	if err := o.snapshots.RemoveAllRuns(id); err != nil {
		logger.Error("undo failed to remove run snapshots", "error", err.Error())
		return false
	}
	if step, err := o.def.Step(id); err == nil {
		o.removeMarker(step, logger)
	}
	if err := o.history.SetStatus(id, history.StatusPending); err != nil {
		logger.Error("undo failed to record pending status", "error", err.Error())
		return false
	}
	if _, err := o.history.PopLastCompletion(id); err != nil {
		logger.Error("undo failed to update completion log", "error", err.Error())
		return false
	}

	logger.Info("undid step", "snapshot", name)
	o.bus.Publish(event.NewUndoAppliedEvent(id, n, true))
	o.syncUp(logger, "undo")
	return true
}

// undoSkip restores the tree saved before rec's skip and puts back the
// statuses it overwrote. A missing archive only loses the tree, which the
// skip itself never changed, so the statuses are still restored.
func (o *Orchestrator) undoSkip(rec history.SkipRecord) bool {
	logger := o.logger.WithStep(rec.Target)

	if err := o.snapshots.RestoreComplete(rec.Snapshot); err != nil {
		if !sferrors.IsNotFound(err) {
			logger.Error("undo skip failed", "snapshot", rec.Snapshot, "error", err.Error())
			return false
		}
		logger.Warn("skip snapshot missing, restoring statuses only", "snapshot", rec.Snapshot)
	}
	if _, err := o.history.RevertSkip(); err != nil {
		logger.Error("undo skip failed to restore statuses", "error", err.Error())
		return false
	}
	if err := o.snapshots.Delete(rec.Snapshot); err != nil {
		logger.Warn("failed to remove skip snapshot", "error", err.Error())
	}

	logger.Info("undid skip", "snapshot", rec.Snapshot)
	o.bus.Publish(event.NewSkipUndoneEvent(rec.Target))
	o.syncUp(logger, "undo")
	return true
}

// syncUp pushes the local tree to the network share after a change the
// next SyncDown must not overwrite.
func (o *Orchestrator) syncUp(logger *logging.Logger, after string) {
	if o.mirror != nil && !o.mirror.SyncUp() {
		logger.Warn("sync up failed", "after", after)
	}
}
