package usecase

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/example/cutout/internal/logging"
)

// BatchInput is one file of a batch removal request.
type BatchInput struct {
	Name string
	Data []byte
}

// RemoveBatch processes every input through the removal pipeline and packs
// the resulting PNGs into a single ZIP archive. The first pipeline failure
// aborts the batch.
func (uc *RemovalUseCase) RemoveBatch(ctx context.Context, inputs []BatchInput) (string, []byte, error) {
	batchID := ksuid.New().String()
	opLogger := logging.WithOperation(uc.logger, "usecase.remove_batch", batchID)
	opLogger.Info("processing batch", zap.Int("files", len(inputs)))

	buf := &bytes.Buffer{}
	archive := zip.NewWriter(buf)

	for _, input := range inputs {
		_, pngBytes, err := uc.Remove(ctx, input.Data)
		if err != nil {
			_ = archive.Close()
			return "", nil, err
		}

		entry, err := archive.Create(archiveEntryName(input.Name))
		if err != nil {
			_ = archive.Close()
			return "", nil, logging.NewOperationError("usecase.batch_archive", batchID, err)
		}
		if _, err := entry.Write(pngBytes); err != nil {
			_ = archive.Close()
			return "", nil, logging.NewOperationError("usecase.batch_archive", batchID, err)
		}
	}

	if err := archive.Close(); err != nil {
		return "", nil, logging.NewOperationError("usecase.batch_archive", batchID, err)
	}
	return batchID, buf.Bytes(), nil
}

// archiveEntryName builds a collision-free PNG member name from the uploaded
// filename. Uploads may repeat names within one batch.
func archiveEntryName(uploaded string) string {
	stem := strings.TrimSuffix(filepath.Base(uploaded), filepath.Ext(uploaded))
	stem = strings.Trim(stem, ". ")
	if stem == "" {
		stem = "image"
	}
	return fmt.Sprintf("%s_%s.png", stem, ksuid.New().String())
}
