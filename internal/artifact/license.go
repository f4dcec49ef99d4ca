package artifact

import (
	"path/filepath"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/specialistvlad/lorapack/internal/fsutil"
	"github.com/specialistvlad/lorapack/internal/incident"
)

// LicenseFile is the name of the license inside an artifact.
const LicenseFile = "LICENSE"

// License statuses recorded in the descriptor.
const (
	LicenseCopied  = "copied"
	LicenseMissing = "missing"
)

// MissingLicensePrefix names missing-license incident logs.
const MissingLicensePrefix = "missing_license"

// licenseCandidates are looked up in the base model directory in order.
var licenseCandidates = []string{"LICENSE", "LICENSE.txt", "LICENSE.md", "COPYING"}

// findLicense returns the first license file of the base model, or "".
func findLicense(modelDir string) string {
	for _, name := range licenseCandidates {
		path := filepath.Join(modelDir, name)
		if fsutil.Exists(path) && !fsutil.IsDir(path) {
			return path
		}
	}
	return ""
}

// copyLicenseOrLog copies the base model's license into dir, or records a
// missing-license incident under logsDir. finalDir is the artifact location
// named in the incident.
func copyLicenseOrLog(modelDir, dir, finalDir, logsDir string, now time.Time) (License, error) {
	if src := findLicense(modelDir); src != "" {
		if err := fsutil.CopyFile(src, filepath.Join(dir, LicenseFile)); err != nil {
			return License{}, err
		}
		return License{Status: LicenseCopied, File: LicenseFile, Source: src}, nil
	}

	body := heredoc.Docf(`
		================================================================================
		MISSING LICENSE WARNING
		================================================================================

		Timestamp: %s
		Source Model: %s
		Output Directory: %s

		WARNING: No LICENSE file found in source model.
		This may indicate licensing compliance issues.
		Please verify the licensing terms before distribution.
	`, now.Format(time.DateTime), modelDir, finalDir)

	path, err := incident.Write(logsDir, MissingLicensePrefix, now, []byte(body))
	if err != nil {
		return License{}, err
	}
	return License{Status: LicenseMissing, IncidentLog: path}, nil
}
