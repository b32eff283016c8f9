package server

import (
	"bytes"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"pdf-form-drop/internal/logger"
)

// pdfPageCount returns nil when data does not parse as a PDF. Acceptance only
// looks at the declared content type, so unparseable uploads are expected.
func pdfPageCount(data []byte, log *zap.Logger) *int {
	count, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		log.Debug("pdf page count unavailable", logger.ErrorField(err))
		return nil
	}
	return &count
}
