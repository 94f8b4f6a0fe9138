package katana

import (
	"os"
	"path/filepath"
)

// writeExtractedFile implements §4.7 steps 4-5: create parent
// directories on demand, overwrite existing files by default, write
// the payload, and best-effort restore the modification time,
// ignoring errors from the mtime call non-fatally.
func writeExtractedFile(destPath string, ef ExtractedFile) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errIO(destPath, err)
	}
	if err := os.WriteFile(destPath, ef.Data, 0o644); err != nil {
		return errIO(destPath, err)
	}
	if ef.Record.HasMTime {
		mt := unixToTime(ef.Record.MTimeSecs, ef.Record.MTimeNanos)
		_ = os.Chtimes(destPath, mt, mt)
	}
	return nil
}
