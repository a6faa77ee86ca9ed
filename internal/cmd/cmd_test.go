package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/stepflow/internal/config"
	"github.com/Iron-Ham/stepflow/internal/testutil"
	"github.com/Iron-Ham/stepflow/internal/workflow"
	"github.com/spf13/cobra"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

// isolateConfig keeps the user's own config file and environment out of
// the command under test.
func isolateConfig(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	runInputs = nil
}

const testWorkflow = `workflow_name: Demo
steps:
  - id: prepare
    name: Prepare data
    script: prepare.sh
  - id: convert
    name: Convert
    script: convert.sh
    allow_rerun: true
    inputs:
      - type: file
        name: Source
        arg: --source
`

// setupProject creates a project whose prepare step appends to data.txt
// and marks itself successful, and whose convert step fails.
func setupProject(t *testing.T) string {
	t.Helper()
	return testutil.SetupProject(t, map[string]string{
		"workflow.yaml": testWorkflow,
		"data.txt":      "v1\n",
		"scripts/prepare.sh": "echo preparing\n" +
			"echo v2 >> data.txt\n" +
			"mkdir -p .workflow_status && touch .workflow_status/prepare.success\n",
		"scripts/convert.sh": "echo \"args: $*\"\necho broken > data.txt\nexit 1\n",
	})
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "stepflow" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "stepflow")
	}

	expectedCmds := []string{"run", "undo", "status", "skip", "sync", "snapshots", "config"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}

	syncSubs := make(map[string]bool)
	for _, cmd := range syncCmd.Commands() {
		syncSubs[cmd.Name()] = true
	}
	for _, expected := range []string{"down", "up", "initial", "final", "watch"} {
		if !syncSubs[expected] {
			t.Errorf("expected sync subcommand %q not found", expected)
		}
	}
}

func TestResolveInputs(t *testing.T) {
	step := &workflow.Step{
		ID: "convert",
		Inputs: []workflow.Input{
			{Type: "file", Name: "Source", Arg: "--source"},
			{Type: "file", Name: "Target", Arg: "--target"},
		},
	}

	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{"by index", []string{"0=a.csv", "1=b.csv"}, map[string]string{"convert_input_0": "a.csv", "convert_input_1": "b.csv"}, false},
		{"by name", []string{"source=a.csv"}, map[string]string{"convert_input_0": "a.csv"}, false},
		{"by flag", []string{"--target=b.csv"}, map[string]string{"convert_input_1": "b.csv"}, false},
		{"by bare flag", []string{"target=b.csv"}, map[string]string{"convert_input_1": "b.csv"}, false},
		{"by full key", []string{"convert_input_1=b.csv"}, map[string]string{"convert_input_1": "b.csv"}, false},
		{"value with equals", []string{"0=a=b"}, map[string]string{"convert_input_0": "a=b"}, false},
		{"missing equals", []string{"source"}, nil, true},
		{"unknown key", []string{"dest=x"}, nil, true},
		{"index out of range", []string{"2=x"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveInputs(step, tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveInputs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("resolveInputs() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("resolveInputs()[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestMirrorSource(t *testing.T) {
	tests := []struct {
		name    string
		network string
		local   string
		project string
		want    string
		ok      bool
	}{
		{"not configured", "", "", "/work/project", "", false},
		{"explicit network dir", "/mnt/share/p", "/tmp/stage", "/work/project", "/mnt/share/p", true},
		{"local project without network dir", "", "/tmp/stage", "/work/project", "", false},
		{"project on a share", "", "/tmp/stage", `\\server\share\project`, `\\server\share\project`, true},
		{"network dir without local dir", "/mnt/share/p", "", "/work/project", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Sync.NetworkDir = tt.network
			cfg.Sync.LocalDir = tt.local

			got, ok := mirrorSource(cfg, tt.project)
			if got != tt.want || ok != tt.ok {
				t.Errorf("mirrorSource() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.n); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestStatusCommand(t *testing.T) {
	isolateConfig(t)
	dir := setupProject(t)

	output, err := executeCommand(rootCmd, "status", "--project", dir)
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, output)
	}
	for _, want := range []string{"Demo", "prepare", "convert", "pending"} {
		if !strings.Contains(output, want) {
			t.Errorf("status output missing %q:\n%s", want, output)
		}
	}
}

func TestStatusCommand_MissingWorkflow(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()

	if _, err := executeCommand(rootCmd, "status", "--project", dir); err == nil {
		t.Error("status should fail without a workflow file")
	}
}

func TestRunUndoCommands(t *testing.T) {
	testutil.SkipIfNoBash(t)
	isolateConfig(t)
	dir := setupProject(t)

	output, err := executeCommand(rootCmd, "run", "prepare", "--project", dir)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, output)
	}
	for _, want := range []string{"Running prepare (run 1)", "preparing", "Step prepare completed (run 1)"} {
		if !strings.Contains(output, want) {
			t.Errorf("run output missing %q:\n%s", want, output)
		}
	}
	testutil.AssertFileContent(t, filepath.Join(dir, "data.txt"), "v1\nv2\n")

	output, err = executeCommand(rootCmd, "status", "--project", dir)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(output, "completed") {
		t.Errorf("status should show prepare completed:\n%s", output)
	}

	output, err = executeCommand(rootCmd, "snapshots", "--project", dir)
	if err != nil {
		t.Fatalf("snapshots failed: %v", err)
	}
	if !strings.Contains(output, "prepare_run_1_complete.zip") {
		t.Errorf("snapshots output missing run archive:\n%s", output)
	}

	output, err = executeCommand(rootCmd, "undo", "--project", dir)
	if err != nil {
		t.Fatalf("undo failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Undid prepare") {
		t.Errorf("undo output = %q", output)
	}
	testutil.AssertFileContent(t, filepath.Join(dir, "data.txt"), "v1\n")

	output, err = executeCommand(rootCmd, "undo", "--project", dir)
	if err != nil {
		t.Fatalf("second undo failed: %v", err)
	}
	if !strings.Contains(output, "Nothing to undo") {
		t.Errorf("second undo output = %q", output)
	}

	if _, err := os.Stat(filepath.Join(dir, ".stepflow.lock")); !os.IsNotExist(err) {
		t.Error("lock file should be released after each command")
	}
}

func TestRunCommand_FailureRollsBack(t *testing.T) {
	testutil.SkipIfNoBash(t)
	isolateConfig(t)
	dir := setupProject(t)

	output, err := executeCommand(rootCmd, "run", "convert", "--project", dir, "--input", "source=in.csv")
	if err == nil {
		t.Fatalf("run of a failing step should return an error\n%s", output)
	}
	if !strings.Contains(output, "args: --source in.csv") {
		t.Errorf("script should receive its input flag:\n%s", output)
	}
	if !strings.Contains(output, "Step convert failed with exit code 1") {
		t.Errorf("run output should report the failure:\n%s", output)
	}
	testutil.AssertFileContent(t, filepath.Join(dir, "data.txt"), "v1\n")
}

func TestSkipCommand(t *testing.T) {
	isolateConfig(t)
	dir := setupProject(t)

	output, err := executeCommand(rootCmd, "skip", "convert", "--project", dir)
	if err != nil {
		t.Fatalf("skip failed: %v", err)
	}
	if !strings.Contains(output, "Skipped to convert (1 step(s) skipped)") {
		t.Errorf("skip output = %q", output)
	}
	output, err = executeCommand(rootCmd, "status", "--project", dir)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(output, "skipped") {
		t.Errorf("status should show prepare skipped:\n%s", output)
	}

	output, err = executeCommand(rootCmd, "undo", "--project", dir)
	if err != nil {
		t.Fatalf("undo failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Undid skip to convert") {
		t.Errorf("undo output = %q", output)
	}
	output, err = executeCommand(rootCmd, "status", "--project", dir)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if strings.Contains(output, "skipped") {
		t.Errorf("undo should restore prepare to pending:\n%s", output)
	}

	if _, err := executeCommand(rootCmd, "skip", "nope", "--project", dir); err == nil {
		t.Error("skip to an unknown step should fail")
	}
}

func TestSyncCommand_NotConfigured(t *testing.T) {
	isolateConfig(t)
	dir := setupProject(t)

	_, err := executeCommand(rootCmd, "sync", "up", "--project", dir)
	if err != errNoMirror {
		t.Errorf("sync up error = %v, want errNoMirror", err)
	}
}

func TestConfigCommands(t *testing.T) {
	isolateConfig(t)

	output, err := executeCommand(rootCmd, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(output, "snapshot_dir: .snapshots") {
		t.Errorf("config show output missing defaults:\n%s", output)
	}

	if _, err := executeCommand(rootCmd, "config", "init"); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(config.ConfigFile()); err != nil {
		t.Errorf("config init should create %s: %v", config.ConfigFile(), err)
	}
	if _, err := executeCommand(rootCmd, "config", "init"); err == nil {
		t.Error("second config init should refuse to overwrite")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		s     string
		width int
		want  string
	}{
		{"hello", 0, "hello"},
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"\x1b[1mhello world\x1b[0m", 8, "\x1b[1mhello...\x1b[0m"},
	}
	for _, tt := range tests {
		if got := truncate(tt.s, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.s, tt.width, got, tt.want)
		}
	}
}
