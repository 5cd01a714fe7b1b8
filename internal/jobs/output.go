package jobs

import (
	"os"
	"path/filepath"
	"strings"
)

// InferOutputFile classifies an engine output file by its name. The
// engine encodes the variant into the filename:
//
//	report.glossary.csv          extracted glossary
//	report.no_watermark.mono.pdf translated only, clean
//	report.no_watermark.dual.pdf side by side, clean
//	report.mono.pdf              translated only, watermarked
//	report.dual.pdf              side by side, watermarked
//
// Anything else is treated as a watermarked mono output.
func InferOutputFile(path string) OutputFile {
	name := strings.ToLower(filepath.Base(path))

	out := OutputFile{Path: path}
	switch {
	case strings.HasSuffix(name, ".glossary.csv"):
		out.Type = OutputGlossary
	case strings.Contains(name, ".no_watermark.") && strings.Contains(name, ".dual."):
		out.Type = OutputDualNoWatermark
	case strings.Contains(name, ".no_watermark."):
		// Covers both ".no_watermark.mono." and a bare ".no_watermark.".
		out.Type = OutputMonoNoWatermark
	case strings.Contains(name, ".mono."):
		out.Type = OutputMono
		out.HasWatermark = true
	case strings.Contains(name, ".dual."):
		out.Type = OutputDual
		out.HasWatermark = true
	default:
		out.Type = OutputMono
		out.HasWatermark = true
	}

	if info, err := os.Stat(path); err == nil {
		out.SizeBytes = info.Size()
	}
	return out
}
