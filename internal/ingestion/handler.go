package ingestion

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
	httperr "github.com/aevon-lab/dimledger/internal/core/errors"
	"github.com/aevon-lab/dimledger/internal/pipeline"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgBodyTooLarge   = "Request body exceeds maximum allowed size"
	msgRunFailed      = "Batch run failed"
)

// ingestionError carries the structured HTTP error shape from a helper back to the handler.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// SnapshotHandler accepts a customer snapshot batch (YAML or JSON) and merges it.
func (s *Service) SnapshotHandler(c *gin.Context) {
	body, ierr := s.readBody(c)
	if ierr != nil {
		writeError(c, ierr)
		return
	}

	snap, err := s.decoder.DecodeSnapshot(bytes.NewReader(body))
	if err != nil {
		slog.Warn("[Ingestion] Invalid snapshot batch", "error", err, "payload_size", len(body))
		writeError(c, invalidBatch(err))
		return
	}

	slog.Info("[Ingestion] Received snapshot batch",
		"business_date", snap.BusinessDate.Format(dimension.DateLayout),
		"rows", len(snap.Rows),
		"payload_size", len(body))

	res, err := s.runner.RunSnapshot(c.Request.Context(), snap)
	writeResult(c, res, err)
}

// TransactionsHandler accepts a transactions batch (YAML or JSON) and aggregates it.
func (s *Service) TransactionsHandler(c *gin.Context) {
	body, ierr := s.readBody(c)
	if ierr != nil {
		writeError(c, ierr)
		return
	}

	txns, err := s.decoder.DecodeTransactions(bytes.NewReader(body))
	if err != nil {
		slog.Warn("[Ingestion] Invalid transactions batch", "error", err, "payload_size", len(body))
		writeError(c, invalidBatch(err))
		return
	}

	slog.Info("[Ingestion] Received transactions batch",
		"business_date", txns.BusinessDate.Format(dimension.DateLayout),
		"rows", len(txns.Rows),
		"payload_size", len(body))

	res, err := s.runner.RunTransactions(c.Request.Context(), txns)
	writeResult(c, res, err)
}

// readBody reads the request body up to the configured limit.
func (s *Service) readBody(c *gin.Context) ([]byte, *ingestionError) {
	maxBytes := int64(s.maxBodySizeBytes)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBytes+1)) // +1 to detect oversized requests
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return nil, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}
	if int64(len(body)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(body), "max", maxBytes)
		return nil, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidBatchError,
			message:    msgBodyTooLarge,
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}
	return body, nil
}

func invalidBatch(err error) *ingestionError {
	return &ingestionError{
		statusCode: http.StatusBadRequest,
		errorType:  httperr.HttpInvalidBatchError,
		message:    err.Error(),
	}
}

// writeResult maps a run outcome to a response: rejected batches are 422 and
// failed runs 500, both carrying the run result as details.
func writeResult(c *gin.Context, res pipeline.RunResult, err error) {
	if err == nil {
		c.JSON(http.StatusOK, res)
		return
	}
	if errors.Is(err, pipeline.ErrRejected) {
		writeError(c, &ingestionError{
			statusCode: http.StatusUnprocessableEntity,
			errorType:  httperr.HttpBatchRejected,
			message:    err.Error(),
			details:    res,
		})
		return
	}
	slog.Error("[Ingestion] Batch run failed", "run_id", res.RunID, "error", err)
	writeError(c, &ingestionError{
		statusCode: http.StatusInternalServerError,
		errorType:  httperr.HttpInternalError,
		message:    msgRunFailed,
		details:    res,
	})
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
