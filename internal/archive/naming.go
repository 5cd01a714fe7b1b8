package archive

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	forbiddenChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	collapseRuns   = regexp.MustCompile(`[\s.]+`)
)

// SanitizeFileName makes a name safe for use inside an archive and on
// common filesystems: forbidden characters become underscores, runs of
// whitespace and dots collapse to one underscore, and the result is
// trimmed to 50 characters.
func SanitizeFileName(name string) string {
	name = forbiddenChars.ReplaceAllString(name, "_")
	name = collapseRuns.ReplaceAllString(name, "_")
	if len(name) > 50 {
		name = name[:50]
	}
	name = strings.Trim(name, "_")
	if name == "" {
		name = "file"
	}
	return name
}

// ArchiveBaseName derives the download name for a batch. A single-file
// batch is named after the document and target language; multi-file
// batches carry the shared target language, or a generic name when the
// batch mixes languages (langOut empty). A timestamp keeps repeated
// downloads distinct.
func ArchiveBaseName(filenames []string, langOut string, now time.Time) string {
	ts := now.Format("20060102_150405")
	if len(filenames) == 1 {
		stem := strings.TrimSuffix(filepath.Base(filenames[0]), filepath.Ext(filenames[0]))
		return fmt.Sprintf("%s_%s_%s", SanitizeFileName(stem), langOut, ts)
	}
	if langOut != "" {
		return fmt.Sprintf("translated_documents_%s_%s", langOut, ts)
	}
	return fmt.Sprintf("translated_documents_%s", ts)
}
