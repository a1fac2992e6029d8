package result

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/Zikki-Qing/tabmend/constants"
	"github.com/Zikki-Qing/tabmend/internal/blob"
	"github.com/Zikki-Qing/tabmend/internal/common"
	"github.com/Zikki-Qing/tabmend/internal/tabular"
)

func newService(t *testing.T) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	blobs, err := blob.NewFSStore(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(blobs, tabular.NewWriter(logger), logger)
}

func TestResultName(t *testing.T) {
	tests := []struct {
		original string
		format   constants.FileFormat
		want     string
	}{
		{"data.csv", constants.FormatCSV, "processed_data.csv"},
		{"Report Q3.xlsx", constants.FormatXLSX, "processed_Report Q3.xlsx"},
		{"uploads/nested/file.csv", constants.FormatCSV, "processed_file.csv"},
		{"noext", constants.FormatCSV, "processed_noext.csv"},
		{"", constants.FormatXLSX, "processed_result.xlsx"},
		{"macro.xlsm", constants.FormatXLSX, "processed_macro.xlsx"},
	}
	for _, tt := range tests {
		if got := ResultName(tt.original, tt.format); got != tt.want {
			t.Errorf("ResultName(%q, %s) = %q, want %q", tt.original, tt.format, got, tt.want)
		}
	}
}

func TestSourceKey(t *testing.T) {
	id := uuid.New()
	key := SourceKey(id, constants.FormatXLSX)
	if !strings.HasPrefix(key, id.String()+"/") || !strings.HasSuffix(key, "source.xlsx") {
		t.Errorf("key = %q", key)
	}
}

func TestSaveLoadDiscard(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	jobID := uuid.New()

	table := &tabular.Table{
		Columns: []string{"a"},
		Rows:    []tabular.Row{{"a": tabular.StringCell("1")}},
	}
	name, err := svc.SaveTable(ctx, jobID, table, constants.FormatCSV, "input.csv")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if name != "processed_input.csv" {
		t.Errorf("name = %q", name)
	}

	data, err := svc.Load(ctx, jobID, name)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != "a\n1\n" {
		t.Errorf("data = %q", data)
	}

	if err := svc.Discard(ctx, jobID, name); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := svc.Load(ctx, jobID, name); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("load after discard: %v, want ErrNotFound", err)
	}
}
