package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pdf-form-drop/internal/catalog"
	"pdf-form-drop/internal/logger"
	"pdf-form-drop/internal/store"
)

const (
	// multipartMemory is how much of a form is buffered in memory before
	// spilling to temporary files.
	multipartMemory = 32 << 20

	msgUserNotFound = "User not found"
	msgFileNotFound = "File not found"

	mirrorTimeout  = 30 * time.Second
	catalogTimeout = 5 * time.Second
)

// createSubmission handles POST /details: multipart fields name and age plus
// the PDF file field attachment.
func (s *Server) createSubmission(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r)

	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}

	in, err := readSubmission(r)
	if err != nil {
		s.metrics.Rejections.WithLabelValues(rejectionReason(err)).Inc()
		log.Info("submission rejected", logger.ErrorField(err))
		respondError(w, MapHTTPStatus(err), err.Error())
		return
	}

	sub, err := s.store.Create(r.Context(), in)
	if err != nil {
		status := MapHTTPStatus(err)
		if status == http.StatusBadRequest {
			s.metrics.Rejections.WithLabelValues(rejectionReason(err)).Inc()
			respondError(w, status, err.Error())
			return
		}
		log.Error("store submission", logger.ErrorField(err))
		respondError(w, http.StatusInternalServerError, errInternal.Error())
		return
	}

	s.metrics.Created.Inc()
	s.metrics.UploadBytes.Observe(float64(sub.SizeBytes))
	s.afterCreate(r, log, sub, in.Attachment.Data)

	respondJSON(w, http.StatusOK, map[string]string{"id": sub.ID})
}

// readSubmission extracts the form. A body that is not multipart yields an
// empty input, which the store then rejects as incomplete.
func readSubmission(r *http.Request) (store.CreateInput, error) {
	var in store.CreateInput

	err := r.ParseMultipartForm(multipartMemory)
	switch {
	case errors.Is(err, http.ErrNotMultipart):
		return in, nil
	case isBodyTooLarge(err):
		return in, errBodyTooLarge
	case err != nil:
		return in, errMalformedForm
	}

	// Query parameters are not part of the submission.
	in.Name = r.PostFormValue("name")
	in.Age = r.PostFormValue("age")

	file, header, err := r.FormFile("attachment")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil
	}
	if err != nil {
		return in, errMalformedForm
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return in, errMalformedForm
	}

	in.Attachment = &store.Attachment{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	return in, nil
}

func rejectionReason(err error) string {
	var ve *store.ValidationError
	switch {
	case errors.Is(err, errBodyTooLarge):
		return "too_large"
	case errors.Is(err, errMalformedForm):
		return "malformed"
	case errors.As(err, &ve):
		return "invalid_" + ve.Field
	default:
		return "other"
	}
}

// afterCreate indexes and mirrors a stored submission. Neither step affects
// the response.
func (s *Server) afterCreate(r *http.Request, log *zap.Logger, sub store.Submission, pdf []byte) {
	if s.catalog == nil && s.mirror == nil {
		return
	}

	sum := sha256.Sum256(pdf)
	entry := catalog.Entry{
		ID:         sub.ID,
		Name:       sub.Name,
		Age:        sub.Age,
		FileName:   sub.FileName,
		SizeBytes:  sub.SizeBytes,
		SHA256Hex:  hex.EncodeToString(sum[:]),
		PageCount:  pdfPageCount(pdf, log),
		RemoteAddr: s.ips.clientIP(r),
		RequestID:  RequestIDFromContext(r.Context()),
	}

	if s.mirror != nil {
		entry.Mirrored = s.replicate(r.Context(), log, sub, pdf)
	}

	if s.catalog != nil {
		ctx, cancel := context.WithTimeout(r.Context(), catalogTimeout)
		defer cancel()
		if err := s.catalog.Record(ctx, entry); err != nil {
			s.metrics.CatalogFailures.Inc()
			log.Warn("catalog record failed", zap.String("id", sub.ID), logger.ErrorField(err))
		}
	}
}

func (s *Server) replicate(ctx context.Context, log *zap.Logger, sub store.Submission, pdf []byte) bool {
	meta, err := os.ReadFile(filepath.Join(sub.Dir, store.MetadataFile))
	if err != nil {
		s.metrics.MirrorFailures.Inc()
		log.Warn("read metadata for mirror", zap.String("id", sub.ID), logger.ErrorField(err))
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	err = s.mirror.Replicate(ctx, sub.ID, map[string][]byte{
		store.MetadataFile: meta,
		sub.FileName:       pdf,
	})
	if err != nil {
		s.metrics.MirrorFailures.Inc()
		log.Warn("mirror failed", zap.String("id", sub.ID), logger.ErrorField(err))
		return false
	}
	return true
}

// getSubmission handles GET /details/{id}.
func (s *Server) getSubmission(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.lookupFailed(w, r, "details", err, msgUserNotFound)
		return
	}

	s.metrics.Lookups.WithLabelValues("details", "found").Inc()
	respondJSON(w, http.StatusOK, rec)
}

// downloadSubmission handles GET /download/{id}, streaming the PDF as an
// attachment.
func (s *Server) downloadSubmission(w http.ResponseWriter, r *http.Request) {
	path, err := s.store.ResolveDownloadPath(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.lookupFailed(w, r, "download", err, msgFileNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = store.ErrNotFound
		}
		s.lookupFailed(w, r, "download", err, msgFileNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.lookupFailed(w, r, "download", err, msgFileNotFound)
		return
	}

	name := filepath.Base(path)
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if disposition == "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", store.PDFMimeType)
	w.Header().Set("Content-Disposition", disposition)

	s.metrics.Lookups.WithLabelValues("download", "found").Inc()
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// lookupFailed answers a failed read with notFoundMsg or a generic 500.
func (s *Server) lookupFailed(w http.ResponseWriter, r *http.Request, op string, err error, notFoundMsg string) {
	if MapHTTPStatus(err) == http.StatusNotFound {
		s.metrics.Lookups.WithLabelValues(op, "not_found").Inc()
		respondText(w, http.StatusNotFound, notFoundMsg)
		return
	}

	s.metrics.Lookups.WithLabelValues(op, "error").Inc()
	s.requestLogger(r).Error("lookup failed", zap.String("op", op), logger.ErrorField(err))
	respondText(w, http.StatusInternalServerError, errInternal.Error())
}
