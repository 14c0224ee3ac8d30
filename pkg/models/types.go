package models

// Intent types produced by the coordinator's intent parser.
const (
	IntentInitialization = "initialization"
	IntentDataQuery      = "data_query"
	IntentAnalytics      = "analytics"
	IntentConversation   = "conversation"
)

// Query types for data_query intents.
const (
	QueryProfitMarginByYear = "profit_margin_by_year"
	QueryRevenueTrends      = "revenue_trends"
	QueryTopProducts        = "top_products"
)

// Workflow component tags attached to every response envelope.
const (
	WorkflowDataset      = "dataset_service"
	WorkflowAnalytics    = "analytics_service"
	WorkflowConversation = "conversation_service"
)

// Intent represents the parsed classification of a free-text request.
// 1リクエストの間だけ生存し、永続化はしない。
type Intent struct {
	Type      string `json:"type"`
	QueryType string `json:"query_type,omitempty"`
	Year      *int   `json:"year,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// WorkflowResult is the response envelope returned by the coordinator.
// Workflow には実際に呼び出したコンポーネント名を順番に記録する（観測性のため必須）。
type WorkflowResult struct {
	Success  bool      `json:"success"`
	Response string    `json:"response"`
	Data     any       `json:"data,omitempty"`
	Analysis any       `json:"analysis,omitempty"`
	DataInfo *LoadInfo `json:"data_info,omitempty"`
	Error    string    `json:"error,omitempty"`
	Workflow []string  `json:"workflow"`
}

// DateRange 日付範囲（表示用フォーマット済み）
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// LoadInfo summarizes a completed load_and_prepare run.
type LoadInfo struct {
	Rows      int       `json:"rows"`
	Columns   int       `json:"columns"`
	Skipped   int       `json:"skipped,omitempty"` // パースできずに除外した行数
	DateRange DateRange `json:"date_range"`
}

// SalesRecord is one row of the prepared sales dataset.
type SalesRecord struct {
	Date            string   `json:"date"` // YYYY-MM-DD
	Year            int      `json:"year"`
	Month           int      `json:"month"`
	Quarter         int      `json:"quarter"`
	CustomerAge     int      `json:"customer_age"`
	CustomerGender  string   `json:"customer_gender"`
	Country         string   `json:"country"`
	State           string   `json:"state"`
	ProductCategory string   `json:"product_category"`
	SubCategory     string   `json:"sub_category,omitempty"`
	Product         string   `json:"product"`
	OrderQuantity   int      `json:"order_quantity"`
	UnitCost        float64  `json:"unit_cost"`
	UnitPrice       float64  `json:"unit_price"`
	Revenue         float64  `json:"revenue"`
	Cost            float64  `json:"cost"`
	Profit          float64  `json:"profit"`
	ProfitMargin    *float64 `json:"profit_margin"`                // Revenue == 0 のとき欠損（nil）
	MarkupPct       *float64 `json:"markup_pct,omitempty"`         // Unit_Cost == 0 のとき欠損
	RevenuePerUnit  *float64 `json:"revenue_per_unit,omitempty"`   // Order_Quantity == 0 のとき欠損
	ProfitPerUnit   *float64 `json:"profit_per_unit,omitempty"`
	CustomerID      string   `json:"customer_id"`
}

// CustomerRecord is one row of the customer projection (aggregated per Customer_ID).
type CustomerRecord struct {
	CustomerID    string  `json:"customer_id"`
	Age           int     `json:"customer_age"`
	Gender        string  `json:"customer_gender"`
	Country       string  `json:"country"`
	State         string  `json:"state"`
	TotalRevenue  float64 `json:"total_revenue"`
	TotalOrders   int     `json:"total_orders"`
	TotalProfit   float64 `json:"total_profit"`
	AvgOrderValue float64 `json:"avg_order_value"`
	RecencyDays   int     `json:"recency_days"`
	Frequency     int     `json:"frequency"`
	MonetaryValue float64 `json:"monetary_value"`
}

// YearFinancials 年単位の財務サマリー（profit_margin_by_year クエリの結果）
type YearFinancials struct {
	Year            string   `json:"year"` // "2015" または全年集計の "all"
	Revenue         float64  `json:"revenue"`
	Profit          float64  `json:"profit"`
	Cost            float64  `json:"cost"`
	ProfitMargin    *float64 `json:"profit_margin"` // Revenue == 0 のとき nil
	OrderCount      int      `json:"order_count"`
	UniqueCustomers int      `json:"unique_customers"`
}

// YearTrend 年次トレンドの1行（revenue_trends クエリの結果）
type YearTrend struct {
	Year             int      `json:"year"`
	Revenue          float64  `json:"revenue"`
	Profit           float64  `json:"profit"`
	Orders           int      `json:"orders"`
	Customers        int      `json:"customers"`
	ProfitMargin     *float64 `json:"profit_margin"`
	RevenueGrowthPct *float64 `json:"revenue_growth_pct"` // 先頭行と前年売上0のときは nil（pct_change 準拠）
}

// ProductRevenue 製品別の売上集計（top_products クエリの結果）
type ProductRevenue struct {
	Product string  `json:"product"`
	Revenue float64 `json:"revenue"`
	Profit  float64 `json:"profit"`
	Orders  int     `json:"orders"`
}

// TopCustomer 顧客サマリー内の上位顧客1件
type TopCustomer struct {
	CustomerID   string  `json:"customer_id"`
	TotalRevenue float64 `json:"total_revenue"`
	TotalOrders  int     `json:"total_orders"`
}

// CustomerSummary 顧客プロジェクションの集計結果
type CustomerSummary struct {
	TotalCustomers       int           `json:"total_customers"`
	TotalRevenue         float64       `json:"total_revenue"`
	AvgCustomerValue     float64       `json:"avg_customer_value"`
	AvgOrdersPerCustomer float64       `json:"avg_orders_per_customer"`
	TopCustomers         []TopCustomer `json:"top_customers"`
}

// DataSummary is the overall dataset summary used as conversation context.
type DataSummary struct {
	TotalRecords    int       `json:"total_records"`
	DateRange       DateRange `json:"date_range"`
	YearsAvailable  []int     `json:"years_available"`
	TotalRevenue    float64   `json:"total_revenue"`
	TotalProfit     float64   `json:"total_profit"`
	UniqueProducts  int       `json:"unique_products"`
	UniqueCustomers int       `json:"unique_customers"`
	Countries       []string  `json:"countries"`
}

// ChatResult is the outcome of one conversational exchange.
type ChatResult struct {
	Success   bool   `json:"success"`
	Response  string `json:"response,omitempty"`
	Mode      string `json:"mode,omitempty"`       // "casual" または "business"
	ModelUsed string `json:"model_used,omitempty"` // ビジネスモードで実際に応答したモデル
	Error     string `json:"error,omitempty"`
}

// ConversationTurn 会話履歴の1ターン
type ConversationTurn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// CorrelationResult 2変数間のピアソン相関の結果
type CorrelationResult struct {
	FieldX         string  `json:"field_x"`
	FieldY         string  `json:"field_y"`
	Coefficient    float64 `json:"coefficient"`
	Interpretation string  `json:"interpretation"`
}

// SegmentStat セグメント別の売上集計（カテゴリ別・国別）
type SegmentStat struct {
	Segment string  `json:"segment"`
	Revenue float64 `json:"revenue"`
	Profit  float64 `json:"profit"`
	Orders  int     `json:"orders"`
}

// KPISection レポートの主要KPIセクション
type KPISection struct {
	TotalRevenue    float64  `json:"total_revenue"`
	TotalProfit     float64  `json:"total_profit"`
	TotalCost       float64  `json:"total_cost"`
	AvgProfitMargin *float64 `json:"avg_profit_margin"`
	TotalOrders     int      `json:"total_orders"`
	UniqueCustomers int      `json:"unique_customers"`
	UniqueProducts  int      `json:"unique_products"`
}

// AnalyticsReport is the structured multi-section report produced by the
// analytics runner. Sections is keyed by section name
// (kpis / correlations / yearly_trends / segmentation).
type AnalyticsReport struct {
	Success     bool           `json:"success"`
	Sections    map[string]any `json:"sections,omitempty"`
	Error       string         `json:"error,omitempty"`
	GeneratedAt string         `json:"generated_at,omitempty"`
}

// --- HTTPリクエスト/レスポンス ---

// ChatRequest represents an incoming chat request
type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id,omitempty"` // セッションIDで会話を紐付け
}

// ChatResponse represents the response from the chat API
type ChatResponse struct {
	Success   bool     `json:"success"`
	SessionID string   `json:"session_id"`
	Response  string   `json:"response"`
	Data      any      `json:"data,omitempty"`
	Analysis  any      `json:"analysis,omitempty"`
	Error     string   `json:"error,omitempty"`
	Workflow  []string `json:"workflow"`
}

// SessionRequest セッションIDのみを持つリクエスト（reset / load など）
type SessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}
