package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Iron-Ham/stepflow/internal/config"
	"github.com/Iron-Ham/stepflow/internal/event"
	"github.com/Iron-Ham/stepflow/internal/lock"
	"github.com/Iron-Ham/stepflow/internal/syncmirror"
	"github.com/spf13/cobra"
)

var errNoMirror = errors.New("mirroring is not configured: set sync.local_dir (and sync.network_dir unless the project is on a network path)")

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the project between the network share and the local copy",
	Long: `Run one synchronisation pass by hand, or watch the local copy and push
changes up as they settle. Normally stepflow syncs down before each step,
up after each completion, and once more on exit.`,
}

var syncDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Make the local copy match the network share",
	Args:  cobra.NoArgs,
	RunE:  syncRunner(func(m *syncmirror.Mirror) bool { return m.SyncDown() }),
}

var syncUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Make the network share match the local copy",
	Args:  cobra.NoArgs,
	RunE:  syncRunner(func(m *syncmirror.Mirror) bool { return m.SyncUp() }),
}

var syncInitialCmd = &cobra.Command{
	Use:   "initial",
	Short: "Populate the local copy from the network share",
	Args:  cobra.NoArgs,
	RunE:  syncRunner(func(m *syncmirror.Mirror) bool { return m.InitialSync() }),
}

var syncFinalCmd = &cobra.Command{
	Use:   "final",
	Short: "Push the local copy to the network share before shutting down",
	Args:  cobra.NoArgs,
	RunE:  syncRunner(func(m *syncmirror.Mirror) bool { return m.FinalSync() }),
}

var syncWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Push local changes up until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runSyncWatch,
}

func init() {
	syncCmd.AddCommand(syncDownCmd)
	syncCmd.AddCommand(syncUpCmd)
	syncCmd.AddCommand(syncInitialCmd)
	syncCmd.AddCommand(syncFinalCmd)
	syncCmd.AddCommand(syncWatchCmd)
	rootCmd.AddCommand(syncCmd)
}

// openMirror builds the project's mirror under the project lock. The
// returned release func must be called when done.
func openMirror(cmd *cobra.Command) (*syncmirror.Mirror, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	project, err := projectDir()
	if err != nil {
		return nil, nil, err
	}
	network, ok := mirrorSource(cfg, project)
	if !ok {
		return nil, nil, errNoMirror
	}
	local, err := filepath.Abs(cfg.Sync.LocalDir)
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg, local)
	if err != nil {
		return nil, nil, err
	}
	lk, err := lock.Acquire(project, logger)
	if err != nil {
		_ = logger.Close()
		return nil, nil, err
	}
	release := func() {
		_ = lk.Release()
		_ = logger.Close()
	}

	bus := event.NewBus(logger)
	report(bus, cmd.OutOrStdout())

	m, err := newMirror(cfg, network, local, bus, logger)
	if err != nil {
		release()
		return nil, nil, err
	}
	return m, release, nil
}

func syncRunner(op func(*syncmirror.Mirror) bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		m, release, err := openMirror(cmd)
		if err != nil {
			return err
		}
		defer release()

		if !op(m) {
			return fmt.Errorf("%s failed; see %s", cmd.Name(), filepath.Join(m.LocalDir(), syncmirror.SyncLogName))
		}
		return nil
	}
}

func runSyncWatch(cmd *cobra.Command, args []string) error {
	m, release, err := openMirror(cmd)
	if err != nil {
		return err
	}
	defer release()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w, err := syncmirror.NewWatcher(m, cfg.Sync.WatchDebounce(), func(ok bool) {
		if !ok {
			fmt.Fprintln(out, "sync up failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", m.LocalDir(), err)
	}
	w.Start()
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", m.LocalDir())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	<-sigCh

	return w.Close()
}
