package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"sales-insight-api/pkg/models"
	"sales-insight-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DataHandler はデータセットの読み込み・アップロード・要約のハンドラです。
type DataHandler struct {
	sessions  *services.SessionService
	uploadDir string
}

// NewDataHandler 新しいDataHandlerを生成
func NewDataHandler(sessions *services.SessionService, uploadDir string) *DataHandler {
	return &DataHandler{sessions: sessions, uploadDir: uploadDir}
}

// Load loads the session's configured data source.
func (h *DataHandler) Load(c *gin.Context) {
	var req models.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストの形式が正しくありません: " + err.Error()})
		return
	}

	sessionID, coordinator := h.sessions.GetOrCreate(req.SessionID)
	result := coordinator.Initialize("")

	c.JSON(http.StatusOK, gin.H{
		"success":    result.Success,
		"session_id": sessionID,
		"response":   result.Response,
		"data_info":  result.DataInfo,
		"error":      result.Error,
		"workflow":   result.Workflow,
	})
}

// Upload accepts a multipart CSV/XLSX file, stores it in the upload
// directory and loads it into the session's dataset. The stored path becomes
// the session's data source, so a later "load data" reloads the same file.
func (h *DataHandler) Upload(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(10 << 20); err != nil { // 10MB limit
		c.JSON(http.StatusBadRequest, gin.H{"error": "マルチパートフォームの解析に失敗しました: " + err.Error()})
		return
	}

	file, fileHeader, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ファイルの取得に失敗しました。"})
		return
	}
	defer file.Close()

	fileName := strings.ToLower(fileHeader.Filename)
	if !strings.HasSuffix(fileName, ".csv") && !strings.HasSuffix(fileName, ".xlsx") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "サポートされていないファイル形式です。.csvまたは.xlsxをアップロードしてください。"})
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "アップロードディレクトリの作成に失敗しました。"})
		return
	}

	// 衝突しないようにUUIDをプレフィックスにして保存
	savedPath := filepath.Join(h.uploadDir, fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(fileHeader.Filename)))
	out, err := os.Create(savedPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ファイルの保存に失敗しました。"})
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ファイルの書き込みに失敗しました。"})
		return
	}
	out.Close()

	sessionID, coordinator := h.sessions.GetOrCreate(c.PostForm("session_id"))
	result := coordinator.Initialize(savedPath)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{
		"success":    result.Success,
		"session_id": sessionID,
		"file_name":  fileHeader.Filename,
		"response":   result.Response,
		"data_info":  result.DataInfo,
		"error":      result.Error,
		"workflow":   result.Workflow,
	})
}

// GetCustomers は顧客ビュー（集計 + 上位顧客）を返します。
func (h *DataHandler) GetCustomers(c *gin.Context) {
	sessionID := c.Query("session_id")
	coordinator, ok := h.sessions.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "指定されたセッションが見つかりません。"})
		return
	}

	summary, err := coordinator.Dataset().CustomerSummary()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "顧客データがまだ構築されていません。先に load data を実行してください。"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "customers": summary})
}

// GetSummary returns the dataset summary for a session.
func (h *DataHandler) GetSummary(c *gin.Context) {
	sessionID := c.Query("session_id")
	coordinator, ok := h.sessions.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "指定されたセッションが見つかりません。"})
		return
	}

	summary, err := coordinator.Dataset().Summary()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "データが読み込まれていません。先に load data を実行してください。"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}
