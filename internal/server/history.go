package server

import (
	"errors"
	"net/http"

	"github.com/alkime/companion/internal/history"
	"github.com/gin-gonic/gin"
)

type recordHistoryRequest struct {
	CompanionID string `json:"companion_id" binding:"required"`
}

type listHistoryQuery struct {
	CompanionID string `form:"companion_id"`
	Limit       int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

func (s *Server) handleRecordHistory(c *gin.Context) {
	var req recordHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": history.ErrMissingCompanion.Error()})
		return
	}

	entry, err := s.history.Add(req.CompanionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, history.ErrMissingCompanion) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("Recorded session history",
		"companion_id", entry.CompanionID,
		"entry_id", entry.ID.String(),
	)
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleListHistory(c *gin.Context) {
	var query listHistoryQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": s.history.List(query.CompanionID, query.Limit),
	})
}
