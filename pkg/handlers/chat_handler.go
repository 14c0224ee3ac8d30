package handlers

import (
	"net/http"

	"sales-insight-api/pkg/models"
	"sales-insight-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// ChatHandler はチャットエンドポイントのハンドラです。
type ChatHandler struct {
	sessions *services.SessionService
}

// NewChatHandler 新しいChatHandlerを生成
func NewChatHandler(sessions *services.SessionService) *ChatHandler {
	return &ChatHandler{sessions: sessions}
}

// Chat handles one conversational turn. The coordinator's envelope is
// returned as-is (success flag inside) so callers can render Response
// directly; HTTP errors are reserved for malformed requests.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストの形式が正しくありません: " + err.Error()})
		return
	}

	// セッションIDが指定されていない場合は新規生成
	sessionID, coordinator := h.sessions.GetOrCreate(req.SessionID)

	result := coordinator.Handle(req.Message)

	c.JSON(http.StatusOK, models.ChatResponse{
		Success:   result.Success,
		SessionID: sessionID,
		Response:  result.Response,
		Data:      result.Data,
		Analysis:  result.Analysis,
		Error:     result.Error,
		Workflow:  result.Workflow,
	})
}

// ResetSession はセッションの状態（ロード済みフラグと会話履歴）を初期化します。
func (h *ChatHandler) ResetSession(c *gin.Context) {
	var req models.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id が必要です。"})
		return
	}

	if !h.sessions.Reset(req.SessionID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "指定されたセッションが見つかりません。"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": req.SessionID})
}
