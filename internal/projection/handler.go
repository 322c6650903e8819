package projection

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
	httperr "github.com/aevon-lab/dimledger/internal/core/errors"
	"github.com/aevon-lab/dimledger/internal/core/storage"
)

// RegisterRoutes registers all projection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/customers/:natural_key/versions", s.HandleCustomerHistory)
	r.GET("/v1/customers/:natural_key/as-of", s.HandleCustomerAsOf)
	r.GET("/v1/facts/bookings", s.HandleBookings)
	r.GET("/v1/runs", s.HandleRuns)
}

// HandleCustomerHistory handles GET /v1/customers/:natural_key/versions
func (s *Service) HandleCustomerHistory(c *gin.Context) {
	resp, err := s.CustomerHistory(c.Request.Context(), c.Param("natural_key"))
	if err != nil {
		writeQueryError(c, err, "Failed to read customer history")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCustomerAsOf handles GET /v1/customers/:natural_key/as-of
// Query parameters: date (YYYY-MM-DD)
func (s *Service) HandleCustomerAsOf(c *gin.Context) {
	resp, err := s.CustomerAsOf(c.Request.Context(), c.Param("natural_key"), c.Query("date"))
	if err != nil {
		writeQueryError(c, err, "Failed to read customer version")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleBookings handles GET /v1/facts/bookings
// Query parameters: date (YYYY-MM-DD), group_by (optional, "category")
func (s *Service) HandleBookings(c *gin.Context) {
	resp, err := s.Bookings(c.Request.Context(), c.Query("date"), c.Query("group_by"))
	if err != nil {
		writeQueryError(c, err, "Failed to read bookings")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleRuns handles GET /v1/runs
// Query parameters: limit (optional)
func (s *Service) HandleRuns(c *gin.Context) {
	var limit int
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidQueryError,
				Message:   "Invalid query parameters",
				Details:   "limit must be an integer",
			})
			return
		}
		limit = n
	}

	runs, err := s.Runs(c.Request.Context(), limit)
	if err != nil {
		writeQueryError(c, err, "Failed to list runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func writeQueryError(c *gin.Context, err error, internalMsg string) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query",
			Details:   err.Error(),
		})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   err.Error(),
		})
	case errors.Is(err, dimension.ErrConsistency):
		c.JSON(http.StatusConflict, httperr.ErrorResponse{
			ErrorType: httperr.HttpConsistencyError,
			Message:   "Dimension consistency violation",
			Details:   err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   internalMsg,
			Details:   err.Error(),
		})
	}
}
