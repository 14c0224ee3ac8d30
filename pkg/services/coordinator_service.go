package services

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"sales-insight-api/pkg/models"
)

// 意図解析用の固定パターン。キーワードは全てリテラル部分一致で、
// ステミングや曖昧一致は行わない。
var (
	initializationKeywords = []string{"load data", "prepare data", "initialize"}
	trendKeywords          = []string{"revenue trend", "sales trend", "growth"}
	topProductKeywords     = []string{"top product", "best seller", "highest revenue"}
	analyticsKeywords      = []string{"analyze", "analysis", "report", "visualize", "chart"}

	// profit margin クエリの年抽出（2010〜2029に限定）
	marginYearPattern = regexp.MustCompile(`\b(20[12]\d)\b`)
	// top products クエリの年抽出（2000〜2099）
	productYearPattern = regexp.MustCompile(`\b(20\d{2})\b`)
)

// ParseIntent parses free-form user text into a structured intent.
// Pure function of the lowercased input; the rule order below is load-bearing
// and the first matching rule always wins.
func ParseIntent(userText string) models.Intent {
	lower := strings.ToLower(userText)

	// 1. データ読み込み
	for _, keyword := range initializationKeywords {
		if strings.Contains(lower, keyword) {
			return models.Intent{Type: models.IntentInitialization}
		}
	}

	// 2. 利益率クエリ
	if strings.Contains(lower, "profit margin") {
		return models.Intent{
			Type:      models.IntentDataQuery,
			QueryType: models.QueryProfitMarginByYear,
			Year:      extractYear(marginYearPattern, userText),
		}
	}

	// 3. 売上トレンド
	for _, keyword := range trendKeywords {
		if strings.Contains(lower, keyword) {
			return models.Intent{
				Type:      models.IntentDataQuery,
				QueryType: models.QueryRevenueTrends,
			}
		}
	}

	// 4. トップ製品
	for _, keyword := range topProductKeywords {
		if strings.Contains(lower, keyword) {
			return models.Intent{
				Type:      models.IntentDataQuery,
				QueryType: models.QueryTopProducts,
				Year:      extractYear(productYearPattern, userText),
				Limit:     5,
			}
		}
	}

	// 5. 分析リクエスト
	for _, keyword := range analyticsKeywords {
		if strings.Contains(lower, keyword) {
			return models.Intent{Type: models.IntentAnalytics}
		}
	}

	// 6. 一般会話
	return models.Intent{Type: models.IntentConversation}
}

// extractYear は4桁年の最初のマッチを返します。なければ nil（=全年対象）。
func extractYear(pattern *regexp.Regexp, text string) *int {
	match := pattern.FindString(text)
	if match == "" {
		return nil
	}
	year, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &year
}

// CoordinatorService is the single entry point that routes a user message
// through the dataset, analytics and conversation services and merges their
// outputs into one response envelope.
// 状態は dataLoaded フラグのみ（あとは各サービスへの委譲）。
// 1セッションにつき1インスタンス。同一session_idのリクエストは並行して
// 届くため、公開メソッドはmuで逐次化する。
type CoordinatorService struct {
	mu           sync.Mutex
	dataset      *DatasetService
	analytics    *AnalyticsService
	conversation *ConversationService
	dataPath     string
	dataLoaded   bool
}

// NewCoordinatorService 新しいコーディネーターを作成
func NewCoordinatorService(dataset *DatasetService, analytics *AnalyticsService, conversation *ConversationService, dataPath string) *CoordinatorService {
	return &CoordinatorService{
		dataset:      dataset,
		analytics:    analytics,
		conversation: conversation,
		dataPath:     dataPath,
	}
}

// DataLoaded reports whether initialization has succeeded.
func (co *CoordinatorService) DataLoaded() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.dataLoaded
}

// Dataset exposes the underlying dataset service (read-only use).
func (co *CoordinatorService) Dataset() *DatasetService {
	return co.dataset
}

// SetDataPath は以降の初期化で使うデータソースを差し替えます（アップロード用）。
func (co *CoordinatorService) SetDataPath(path string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.dataPath = path
}

// Handle processes one user message end to end and always returns a
// workflow-tagged envelope, never an error.
func (co *CoordinatorService) Handle(userText string) models.WorkflowResult {
	log.Printf("[Coordinator] リクエストを処理: %s...", logPreview(userText))

	co.mu.Lock()
	defer co.mu.Unlock()

	intent := ParseIntent(userText)

	switch intent.Type {
	case models.IntentInitialization:
		return co.initialize("")
	case models.IntentDataQuery:
		return co.handleDataQuery(intent, userText)
	case models.IntentAnalytics:
		return co.runAnalytics()
	default:
		return co.handleConversation(userText)
	}
}

// logPreview はログ用に先頭50文字を返します。バイトではなくルーン単位で
// 切り詰める（マルチバイト文字を壊さない）。
func logPreview(text string) string {
	runes := []rune(text)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return string(runes)
}

// Initialize loads the data source (the configured path when path is empty)
// and flips dataLoaded only on success. A failed load leaves the previous
// state untouched, so a later valid load still succeeds.
func (co *CoordinatorService) Initialize(path string) models.WorkflowResult {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.initialize(path)
}

func (co *CoordinatorService) initialize(path string) models.WorkflowResult {
	if path == "" {
		path = co.dataPath
	}

	info, err := co.dataset.LoadAndPrepare(path)
	if err != nil {
		return models.WorkflowResult{
			Success:  false,
			Response: fmt.Sprintf("❌ Failed to load data: %v", err),
			Error:    err.Error(),
			Workflow: []string{models.WorkflowDataset},
		}
	}

	co.dataLoaded = true
	co.dataPath = path

	response := fmt.Sprintf(
		"✅ Data loaded successfully!\n"+
			"📊 %d records from %s to %s\n"+
			"You can now ask questions like:\n"+
			"- 'What was the profit margin in 2015?'\n"+
			"- 'Show me revenue trends'\n"+
			"- 'Analyze top products for 2016'",
		info.Rows, info.DateRange.Start, info.DateRange.End,
	)

	return models.WorkflowResult{
		Success:  true,
		Response: response,
		DataInfo: info,
		Workflow: []string{models.WorkflowDataset},
	}
}

// handleDataQuery はデータクエリを解決します。クエリ失敗は会話による説明へ
// 柔らかく降格させる（ハードエラーにしない）。
func (co *CoordinatorService) handleDataQuery(intent models.Intent, userText string) models.WorkflowResult {
	if !co.dataLoaded {
		return co.notLoadedResult()
	}

	var result any
	var err error

	switch intent.QueryType {
	case models.QueryProfitMarginByYear:
		result, err = co.dataset.ProfitMarginByYear(intent.Year)
	case models.QueryRevenueTrends:
		result, err = co.dataset.RevenueTrends(nil, nil)
	case models.QueryTopProducts:
		result = co.dataset.TopProducts(intent.Year, intent.Limit)
	default:
		err = fmt.Errorf("unknown query type: %s", intent.QueryType)
	}

	if err != nil {
		// 失敗はカジュアルパスで会話的に説明する
		errorContext := fmt.Sprintf("Query failed: %v", err)
		chat := co.conversation.CasualChat(userText, errorContext)
		return models.WorkflowResult{
			Success:  chat.Success,
			Response: chat.Response,
			Error:    fmt.Sprintf("query failed: %v", err),
			Workflow: []string{models.WorkflowDataset, models.WorkflowConversation},
		}
	}

	explanation := co.conversation.ExplainResults(result)
	return models.WorkflowResult{
		Success:  true,
		Data:     result,
		Response: explanation.Response,
		Workflow: []string{models.WorkflowDataset, models.WorkflowConversation},
	}
}

// RunAnalytics runs the full report. Runner failures are reported directly,
// without a conversational fallback.
func (co *CoordinatorService) RunAnalytics() models.WorkflowResult {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.runAnalytics()
}

func (co *CoordinatorService) runAnalytics() models.WorkflowResult {
	if !co.dataLoaded {
		return co.notLoadedResult()
	}

	report := co.analytics.RunFullReport(co.dataset)
	if !report.Success {
		return models.WorkflowResult{
			Success:  false,
			Response: fmt.Sprintf("Analysis failed: %s", report.Error),
			Error:    report.Error,
			Workflow: []string{models.WorkflowAnalytics},
		}
	}

	insights := co.conversation.GenerateInsights(report.Sections)
	return models.WorkflowResult{
		Success:  true,
		Analysis: report,
		Response: insights.Response,
		Workflow: []string{models.WorkflowDataset, models.WorkflowAnalytics, models.WorkflowConversation},
	}
}

// handleConversation は一般会話を処理します。データがあれば要約を文脈として渡す。
func (co *CoordinatorService) handleConversation(userText string) models.WorkflowResult {
	contextInfo := ""
	if co.dataLoaded {
		if summary, err := co.dataset.Summary(); err == nil {
			contextInfo = fmt.Sprintf("Available data: %v | Total revenue: $%.2f",
				summary.YearsAvailable, summary.TotalRevenue)
		}
	}

	chat := co.conversation.Chat(userText, contextInfo)
	return models.WorkflowResult{
		Success:  chat.Success,
		Response: chat.Response,
		Error:    chat.Error,
		Workflow: []string{models.WorkflowConversation},
	}
}

// notLoadedResult データ未ロード時の固定応答。データ系コンポーネントには触れない。
func (co *CoordinatorService) notLoadedResult() models.WorkflowResult {
	return models.WorkflowResult{
		Success:  false,
		Response: "⚠️ Data not loaded. Please load data first by saying 'load data' or 'initialize'.",
		Workflow: []string{},
	}
}

// Reset clears the loaded flag and the conversation history. The dataset
// itself stays until the next successful load replaces it.
func (co *CoordinatorService) Reset() {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.dataLoaded = false
	co.conversation.ClearHistory()
}
