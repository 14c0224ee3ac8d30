package handlers

import (
	"net/http"

	"sales-insight-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// AnalyticsHandler は分析レポートエンドポイントのハンドラです。
type AnalyticsHandler struct {
	sessions *services.SessionService
}

// NewAnalyticsHandler 新しいAnalyticsHandlerを生成
func NewAnalyticsHandler(sessions *services.SessionService) *AnalyticsHandler {
	return &AnalyticsHandler{sessions: sessions}
}

// GetReport runs the full analytics workflow for the session and returns the
// coordinator's envelope (report sections plus generated insights).
func (h *AnalyticsHandler) GetReport(c *gin.Context) {
	sessionID := c.Query("session_id")
	coordinator, ok := h.sessions.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "指定されたセッションが見つかりません。"})
		return
	}

	result := coordinator.RunAnalytics()

	c.JSON(http.StatusOK, gin.H{
		"success":  result.Success,
		"response": result.Response,
		"analysis": result.Analysis,
		"error":    result.Error,
		"workflow": result.Workflow,
	})
}
