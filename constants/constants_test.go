package constants

import "testing"

func TestDetectFormat(t *testing.T) {
	zip := []byte{0x50, 0x4B, 0x03, 0x04, 0x00}
	tests := []struct {
		name string
		hint string
		file string
		data []byte
		want FileFormat
	}{
		{"hint wins", "csv", "data.xlsx", zip, FormatCSV},
		{"hint excel", "excel", "data", nil, FormatXLSX},
		{"extension csv", "", "report.CSV", nil, FormatCSV},
		{"extension xlsx", "", "report.xlsx", nil, FormatXLSX},
		{"extension xlsm", "", "macro.xlsm", nil, FormatXLSX},
		{"zip magic", "", "upload.bin", zip, FormatXLSX},
		{"delimited sniff", "", "upload", []byte("a,b,c\n1,2,3\n"), FormatCSV},
		{"binary junk", "", "upload", []byte{0x00, 0x01, 0x02}, ""},
		{"nothing to go on", "", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectFormat(tt.hint, tt.file, tt.data); got != tt.want {
				t.Errorf("DetectFormat(%q, %q) = %q, want %q", tt.hint, tt.file, got, tt.want)
			}
		})
	}
}

func TestFileFormatExtAndContentType(t *testing.T) {
	if FormatCSV.Ext() != "csv" || FormatXLSX.Ext() != "xlsx" {
		t.Error("Ext mismatch")
	}
	if FormatCSV.ContentType() != "text/csv" {
		t.Errorf("csv content type = %q", FormatCSV.ContentType())
	}
}

func TestIsTerminal(t *testing.T) {
	for s, want := range map[JobStatus]bool{
		JobStatusPending:   false,
		JobStatusRunning:   false,
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	} {
		if s.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, !want, want)
		}
	}
}

func TestStepProgress(t *testing.T) {
	tests := []struct {
		step     JobStep
		fraction float64
		want     int
	}{
		{StepParse, 0, 0},
		{StepParse, 1, 20},
		{StepCompile, 0.5, 30},
		{StepTransform, 0, 40},
		{StepTransform, 1, 90},
		{StepExport, 1, 100},
		{StepExport, -1, 90},
		{StepExport, 2, 100},
		{JobStep("bogus"), 0.5, 0},
	}
	for _, tt := range tests {
		if got := StepProgress(tt.step, tt.fraction); got != tt.want {
			t.Errorf("StepProgress(%s, %v) = %d, want %d", tt.step, tt.fraction, got, tt.want)
		}
	}
}
