// Package result persists transformed tables back into the blob store in the
// format the user uploaded: CSV stays CSV, XLSX stays XLSX.
package result

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/Zikki-Qing/tabmend/constants"
	"github.com/Zikki-Qing/tabmend/internal/blob"
	"github.com/Zikki-Qing/tabmend/internal/tabular"
)

// Service is a small façade over the writer and the blob store.
type Service struct {
	blobs  blob.Store
	writer *tabular.Writer
	logger *slog.Logger
}

func NewService(blobs blob.Store, writer *tabular.Writer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{blobs: blobs, writer: writer, logger: logger}
}

// SourceKey returns the blob key of a job's uploaded file.
func SourceKey(jobID uuid.UUID, format constants.FileFormat) string {
	return jobID.String() + "/source." + format.Ext()
}

// ResultName derives the downloadable file name from the original name,
// keeping the format's canonical extension.
func ResultName(originalName string, format constants.FileFormat) string {
	stem := strings.TrimSuffix(path.Base(originalName), path.Ext(originalName))
	if stem == "" {
		stem = "result"
	}
	return "processed_" + stem + "." + format.Ext()
}

// SaveTable serializes the table and stores it as the job's result blob.
// Returns the result file name recorded on the job. A serialization failure
// propagates so the orchestrator fails the job instead of truncating output.
func (s *Service) SaveTable(ctx context.Context, jobID uuid.UUID, table *tabular.Table, format constants.FileFormat, originalName string) (string, error) {
	data, err := s.writer.Write(table, format)
	if err != nil {
		return "", err
	}
	name := ResultName(originalName, format)
	if err := s.blobs.Put(ctx, resultKey(jobID, name), data); err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	s.logger.Info("result stored", "job_id", jobID, "name", name, "bytes", len(data))
	return name, nil
}

// Load fetches a stored result blob by job id and recorded name.
func (s *Service) Load(ctx context.Context, jobID uuid.UUID, name string) ([]byte, error) {
	return s.blobs.Get(ctx, resultKey(jobID, name))
}

// Discard removes a result blob whose completion lost the ownership race
// (e.g. output arriving after a timeout transition).
func (s *Service) Discard(ctx context.Context, jobID uuid.UUID, name string) error {
	return s.blobs.Delete(ctx, resultKey(jobID, name))
}

func resultKey(jobID uuid.UUID, name string) string {
	return jobID.String() + "/" + name
}
