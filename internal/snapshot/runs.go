package snapshot

import (
	"os"
	"sort"
	"strconv"
	"strings"

	sferrors "github.com/Iron-Ham/stepflow/internal/errors"
)

const afterSuffix = "_after"

// RunName returns the archive name of the before-snapshot for run n of
// stepID.
func RunName(stepID string, n int) string {
	return stepID + "_run_" + strconv.Itoa(n)
}

// afterName is the archive name older layouts wrote once a run finished.
func afterName(stepID string, n int) string {
	return RunName(stepID, n) + afterSuffix
}

// RunNumbers returns the run numbers of stepID that still have a
// before-snapshot, ascending.
func (s *Store) RunNumbers(stepID string) []int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("failed to list snapshot dir", "error", err.Error())
		return nil
	}

	prefix := stepID + "_run_"
	var runs []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, completeSuffix) {
			continue
		}
		digits := strings.TrimSuffix(strings.TrimPrefix(name, prefix), completeSuffix)
		n, err := strconv.Atoi(digits)
		if err != nil || n < 1 || strconv.Itoa(n) != digits {
			continue
		}
		runs = append(runs, n)
	}
	sort.Ints(runs)
	return runs
}

// EffectiveRunNumber returns the highest run of stepID whose
// before-snapshot still exists, or 0.
func (s *Store) EffectiveRunNumber(stepID string) int {
	runs := s.RunNumbers(stepID)
	if len(runs) == 0 {
		return 0
	}
	return runs[len(runs)-1]
}

// NextRunNumber returns the number the next run of stepID should use:
// always 1 for steps that can't be re-run, otherwise one past the highest
// retained run.
func (s *Store) NextRunNumber(stepID string, allowRerun bool) int {
	if !allowRerun {
		return 1
	}
	return s.EffectiveRunNumber(stepID) + 1
}

// RemoveRunsFrom deletes the before-snapshots of stepID for run n and any
// later runs, together with their after artifacts. Removing from the top
// keeps the remaining runs contiguous.
func (s *Store) RemoveRunsFrom(stepID string, n int) error {
	var errs []error
	for _, run := range s.RunNumbers(stepID) {
		if run < n {
			continue
		}
		if err := s.Delete(RunName(stepID, run)); err != nil {
			errs = append(errs, err)
		}
		if run != n {
			if err := s.Delete(afterName(stepID, run)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.Delete(afterName(stepID, n)); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("removed run snapshots", "step_id", stepID, "from_run", n)
	return sferrors.Join(errs...)
}

// RemoveAllRuns deletes every before-snapshot and after artifact of
// stepID.
func (s *Store) RemoveAllRuns(stepID string) error {
	var errs []error
	for _, run := range s.RunNumbers(stepID) {
		if err := s.Delete(RunName(stepID, run)); err != nil {
			errs = append(errs, err)
		}
		if err := s.Delete(afterName(stepID, run)); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("removed all run snapshots", "step_id", stepID)
	return sferrors.Join(errs...)
}
