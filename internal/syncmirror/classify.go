package syncmirror

import "strings"

// RequiresMirroring reports whether path lives somewhere slow enough to
// warrant a local staging copy: a UNC share (\\server\share or
// //server/share) or a drive other than systemDrive ("C:"). Ordinary local
// paths never qualify.
func RequiresMirroring(path, systemDrive string) bool {
	if strings.HasPrefix(path, `\\`) || strings.HasPrefix(path, "//") {
		return len(strings.Trim(path, `\/`)) > 0
	}
	if drive, ok := driveLetter(path); ok {
		sys, ok := driveLetter(systemDrive)
		if !ok {
			return true
		}
		return !strings.EqualFold(drive, sys)
	}
	return false
}

func driveLetter(path string) (string, bool) {
	if len(path) < 2 || path[1] != ':' {
		return "", false
	}
	c := path[0]
	if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return path[:2], true
	}
	return "", false
}
