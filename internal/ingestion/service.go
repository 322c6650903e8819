package ingestion

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/aevon-lab/dimledger/internal/core/batch"
	"github.com/aevon-lab/dimledger/internal/pipeline"
)

// BatchRunner runs decoded batches through the pipeline.
type BatchRunner interface {
	RunSnapshot(ctx context.Context, snap batch.Snapshot) (pipeline.RunResult, error)
	RunTransactions(ctx context.Context, txns batch.Transactions) (pipeline.RunResult, error)
}

type Service struct {
	decoder          *Decoder
	runner           BatchRunner
	maxBodySizeBytes int
}

func NewService(dec *Decoder, runner BatchRunner, maxBodySizeMB int) *Service {
	if dec == nil {
		panic("ingestion: decoder must not be nil")
	}
	if runner == nil {
		panic("ingestion: runner must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 16
	}
	return &Service{
		decoder:          dec,
		runner:           runner,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the batch intake routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/batches/snapshot", s.SnapshotHandler)
	r.POST("/v1/batches/transactions", s.TransactionsHandler)
}
