package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"sales-insight-api/pkg/mistral"
	"sales-insight-api/pkg/models"
)

// ChatCompleter is the exchange contract the conversation service needs from
// the language-model client.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, model string, messages []mistral.ChatMessage) (string, error)
}

// 会話モード
const (
	ModeCasual   = "casual"
	ModeBusiness = "business"
)

// 直近何件の履歴をモデルに渡すか。それより古い履歴は保持はするが再送しない。
const historyWindow = 5

// casualSystemPrompt / businessSystemPrompt 2つのペルソナ
const casualSystemPrompt = "You are a friendly assistant for general conversation. " +
	"Be polite, concise, and natural. Avoid giving business data " +
	"or analysis unless the user specifically asks about sales or data."

const businessSystemPrompt = "You are a smart business analytics assistant. You analyze company sales, " +
	"customer, and revenue data, explain patterns, and give actionable insights. " +
	"Be concise and data-driven. Always format numbers clearly (e.g. $1,200.50, 12.4%)."

// salesKeywords ビジネスモードを選択させる固定キーワード集合
var salesKeywords = map[string]bool{
	"sales": true, "revenue": true, "profit": true, "margin": true,
	"income": true, "customer": true, "marketing": true, "lead": true,
	"conversion": true, "growth": true, "forecast": true,
}

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// ConversationService turns free-text messages or structured results into
// natural language via the Mistral API, with a casual/business persona split
// and capacity-based model fallback.
// 会話履歴はこのインスタンスが排他的に所有する。他コンポーネントから直接
// 読み書きしてはならない。同一session_idのHTTPリクエストが並行して届くため、
// 履歴へのアクセスはmuで保護する。
type ConversationService struct {
	client         ChatCompleter
	casualModel    string
	businessModels []string

	mu      sync.Mutex
	history []mistral.ChatMessage
}

// NewConversationService 新しい会話サービスを作成
func NewConversationService(client ChatCompleter, casualModel string, businessModels []string) *ConversationService {
	return &ConversationService{
		client:         client,
		casualModel:    casualModel,
		businessModels: businessModels,
	}
}

// Chat classifies the message and routes to the casual or business persona.
func (cs *ConversationService) Chat(message, contextInfo string) models.ChatResult {
	if isSalesRelated(message) {
		return cs.businessChat(message, contextInfo)
	}
	return cs.CasualChat(message, contextInfo)
}

// CasualChat handles general questions with the single fixed casual model.
// コーディネーターはクエリ失敗の救済にもこのパスを使う（contextInfoにエラー文脈を渡す）。
func (cs *ConversationService) CasualChat(message, contextInfo string) models.ChatResult {
	messages := cs.buildMessages(casualSystemPrompt, contextInfo, message)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	response, err := cs.client.ChatCompletion(ctx, cs.casualModel, messages)
	if err != nil {
		return models.ChatResult{Success: false, Mode: ModeCasual, Error: err.Error()}
	}

	cs.appendExchange(message, response)
	return models.ChatResult{
		Success:   true,
		Response:  response,
		Mode:      ModeCasual,
		ModelUsed: cs.casualModel,
	}
}

// businessChat はモデルリストを順に試します。容量エラー（429/capacity）のときだけ
// 次のモデルへフォールバックし、それ以外の失敗は即座に返します。
func (cs *ConversationService) businessChat(message, contextInfo string) models.ChatResult {
	messages := cs.buildMessages(businessSystemPrompt, contextInfo, message)

	for _, model := range cs.businessModels {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		response, err := cs.client.ChatCompletion(ctx, model, messages)
		cancel()

		if err != nil {
			if mistral.IsCapacityError(err) {
				log.Printf("⚠️ モデル %s が容量超過のため次を試します: %v", model, err)
				continue
			}
			return models.ChatResult{Success: false, Mode: ModeBusiness, Error: err.Error()}
		}

		cs.appendExchange(message, response)
		return models.ChatResult{
			Success:   true,
			Response:  response,
			Mode:      ModeBusiness,
			ModelUsed: model,
		}
	}

	// 全モデル枯渇。呼び出し側に panic ではなく終端結果として返す。
	return models.ChatResult{
		Success: false,
		Mode:    ModeBusiness,
		Error:   ErrModelUnavailable.Error() + ": please try again later",
	}
}

// ExplainResults explains a structured query result in natural language.
func (cs *ConversationService) ExplainResults(results any) models.ChatResult {
	contextInfo := "Analysis Results:\n" + formatStructured(results)
	prompt := "Explain the following business analysis results in simple terms. " +
		"Focus on key insights, trends, and actionable recommendations."
	return cs.businessChat(prompt, contextInfo)
}

// GenerateInsights produces recommendations from a structured report.
func (cs *ConversationService) GenerateInsights(data any) models.ChatResult {
	contextInfo := "Business Data:\n" + formatStructured(data)
	prompt := "Based on this data, provide 3-5 insights and recommendations " +
		"for improving sales or business performance."
	return cs.businessChat(prompt, contextInfo)
}

// ClearHistory 会話履歴を消去
func (cs *ConversationService) ClearHistory() {
	cs.mu.Lock()
	cs.history = nil
	cs.mu.Unlock()
	log.Printf("会話履歴をクリアしました")
}

// History returns a copy of the full conversation log.
func (cs *ConversationService) History() []models.ConversationTurn {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]models.ConversationTurn, len(cs.history))
	for i, msg := range cs.history {
		out[i] = models.ConversationTurn{Role: msg.Role, Content: msg.Content}
	}
	return out
}

// buildMessages はシステムプロンプト + 文脈 + 直近履歴 + ユーザー発話を組み立てます。
func (cs *ConversationService) buildMessages(systemPrompt, contextInfo, message string) []mistral.ChatMessage {
	messages := []mistral.ChatMessage{{Role: "system", Content: systemPrompt}}
	if contextInfo != "" {
		messages = append(messages, mistral.ChatMessage{Role: "system", Content: "Context: " + contextInfo})
	}

	cs.mu.Lock()
	start := len(cs.history) - historyWindow
	if start < 0 {
		start = 0
	}
	messages = append(messages, cs.history[start:]...)
	cs.mu.Unlock()

	return append(messages, mistral.ChatMessage{Role: "user", Content: message})
}

// appendExchange 成功した往復を履歴に追記（user → assistant の順）
func (cs *ConversationService) appendExchange(userMessage, assistantMessage string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.history = append(cs.history,
		mistral.ChatMessage{Role: "user", Content: userMessage},
		mistral.ChatMessage{Role: "assistant", Content: assistantMessage},
	)
}

// isSalesRelated は単語集合と固定キーワードの共通部分でビジネス文脈を判定します。
// 部分文字列ではなく単語単位で照合する。
func isSalesRelated(text string) bool {
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if salesKeywords[word] {
			return true
		}
	}
	return false
}

// formatStructured は構造化された結果をモデルに渡せるテキストに整形します。
// JSON経由でマップ化し、キーをソートして決定的な出力にする。
func formatStructured(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}

	var b strings.Builder
	writeStructured(&b, decoded, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeStructured(b *strings.Builder, v any, depth int) {
	indent := strings.Repeat("  ", depth)
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch child := value[k].(type) {
			case map[string]any, []any:
				fmt.Fprintf(b, "%s%s:\n", indent, k)
				writeStructured(b, child, depth+1)
			case float64:
				fmt.Fprintf(b, "%s%s: %.2f\n", indent, k, child)
			default:
				fmt.Fprintf(b, "%s%s: %v\n", indent, k, child)
			}
		}
	case []any:
		for _, item := range value {
			switch child := item.(type) {
			case map[string]any, []any:
				fmt.Fprintf(b, "%s-\n", indent)
				writeStructured(b, child, depth+1)
			default:
				fmt.Fprintf(b, "%s- %v\n", indent, child)
			}
		}
	default:
		fmt.Fprintf(b, "%s%v\n", indent, value)
	}
}
