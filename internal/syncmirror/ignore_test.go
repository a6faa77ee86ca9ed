package syncmirror

import "testing"

func TestIgnoreSet(t *testing.T) {
	s, err := NewIgnoreSet(DefaultIgnorePatterns...)
	if err != nil {
		t.Fatalf("NewIgnoreSet failed: %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{".DS_Store", true},
		{"sub/.DS_Store", true},
		{"._resource", true},
		{"notes.txt.swp", true},
		{"backup.txt~", true},
		{".git/objects/ab", true},
		{"pkg/__pycache__/m.pyc", true},
		{"m.pyc", true},
		{".vscode/settings.json", true},
		{"data/file.csv", false},
		{".snapshots/s1_run_1_complete.zip", false},
		{".workflow_status/step.success", false},
		{"workflow_state.json", false},
		{"gitignore", false},
	}

	for _, tt := range tests {
		if got := s.Match(tt.path); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestNewIgnoreSet_InvalidPattern(t *testing.T) {
	if _, err := NewIgnoreSet("[unclosed"); err == nil {
		t.Error("expected error for invalid glob")
	}
}

func TestRequiresMirroring(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{`\\server\share\project`, true},
		{"//server/share/project", true},
		{`D:\projects\p1`, true},
		{`c:\projects\p1`, false},
		{`C:\projects\p1`, false},
		{"/home/user/project", false},
		{"relative/path", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := RequiresMirroring(tt.path, "C:"); got != tt.want {
			t.Errorf("RequiresMirroring(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
