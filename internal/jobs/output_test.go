package jobs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferOutputFile(t *testing.T) {
	tests := []struct {
		name          string
		wantType      OutputFileType
		wantWatermark bool
	}{
		{"report.glossary.csv", OutputGlossary, false},
		{"report.no_watermark.mono.pdf", OutputMonoNoWatermark, false},
		{"report.no_watermark.dual.pdf", OutputDualNoWatermark, false},
		{"report.no_watermark.pdf", OutputMonoNoWatermark, false},
		{"report.mono.pdf", OutputMono, true},
		{"report.dual.pdf", OutputDual, true},
		{"Report.MONO.pdf", OutputMono, true},
		{"report.pdf", OutputMono, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := InferOutputFile("/results/job1/" + tc.name)
			assert.Equal(t, tc.wantType, got.Type)
			assert.Equal(t, tc.wantWatermark, got.HasWatermark)
		})
	}
}

func TestInferOutputFile_RecordsSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.mono.pdf")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o644))

	got := InferOutputFile(path)
	assert.Equal(t, int64(5), got.SizeBytes)
}
