package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"sales-insight-api/pkg/mistral"

	"github.com/stretchr/testify/assert"
)

// scriptedCompleter はモデル名ごとに決められた応答/エラーを返すテスト用クライアントです。
type scriptedCompleter struct {
	script       map[string]scriptEntry
	calls        []string
	lastMessages []mistral.ChatMessage
}

type scriptEntry struct {
	text string
	err  error
}

func (s *scriptedCompleter) ChatCompletion(_ context.Context, model string, messages []mistral.ChatMessage) (string, error) {
	s.calls = append(s.calls, model)
	s.lastMessages = messages
	entry, ok := s.script[model]
	if !ok {
		return "ok", nil
	}
	return entry.text, entry.err
}

func newTestConversation(completer *scriptedCompleter) *ConversationService {
	return NewConversationService(completer, "casual-model", []string{"model-a", "model-b", "model-c"})
}

func TestChatModeSelection(t *testing.T) {
	testCases := []struct {
		name         string
		message      string
		expectedMode string
	}{
		{"casual greeting", "hello, how are you today?", ModeCasual},
		{"business keyword revenue", "how did revenue develop?", ModeBusiness},
		{"business keyword forecast", "give me a forecast please", ModeBusiness},
		// 部分文字列ではなく単語単位で照合すること（"margins" は "margin" ではない）
		{"substring does not match", "many margins of error", ModeCasual},
		{"case insensitive", "REVENUE please", ModeBusiness},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			completer := &scriptedCompleter{}
			cs := newTestConversation(completer)

			result := cs.Chat(tc.message, "")
			assert.True(t, result.Success)
			assert.Equal(t, tc.expectedMode, result.Mode)
		})
	}
}

func TestBusinessChatFallbackOnCapacity(t *testing.T) {
	completer := &scriptedCompleter{
		script: map[string]scriptEntry{
			"model-a": {err: &mistral.APIError{StatusCode: 429, Message: "rate limited"}},
			"model-b": {err: errors.New("service at capacity")},
			"model-c": {text: "answer from c"},
		},
	}
	cs := newTestConversation(completer)

	result := cs.Chat("show me revenue numbers", "")

	assert.True(t, result.Success)
	assert.Equal(t, "answer from c", result.Response)
	// Cで成功し、それ以上は試さないこと
	assert.Equal(t, "model-c", result.ModelUsed)
	assert.Equal(t, []string{"model-a", "model-b", "model-c"}, completer.calls)
}

func TestBusinessChatNonCapacityErrorIsImmediate(t *testing.T) {
	completer := &scriptedCompleter{
		script: map[string]scriptEntry{
			"model-a": {err: errors.New("invalid request")},
		},
	}
	cs := newTestConversation(completer)

	result := cs.Chat("what was the profit this quarter", "")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "invalid request")
	// 容量エラー以外ではフォールバックしないこと
	assert.Equal(t, []string{"model-a"}, completer.calls)
}

func TestBusinessChatAllModelsExhausted(t *testing.T) {
	capacityErr := &mistral.APIError{StatusCode: 429, Message: "capacity exceeded"}
	completer := &scriptedCompleter{
		script: map[string]scriptEntry{
			"model-a": {err: capacityErr},
			"model-b": {err: capacityErr},
			"model-c": {err: capacityErr},
		},
	}
	cs := newTestConversation(completer)

	result := cs.Chat("sales question", "")

	// 全モデル枯渇は終端結果として返る（panicしない）
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "capacity")
	assert.Len(t, completer.calls, 3)

	// 失敗した往復は履歴に残らないこと
	assert.Empty(t, cs.History())
}

func TestConversationHistoryWindow(t *testing.T) {
	completer := &scriptedCompleter{}
	cs := newTestConversation(completer)

	// 4往復 = 履歴8件を蓄積
	for i := 0; i < 4; i++ {
		result := cs.Chat(fmt.Sprintf("hello %d", i), "")
		assert.True(t, result.Success)
	}
	assert.Len(t, cs.History(), 8)

	// 次の呼び出しではシステムプロンプト + 直近5件 + 新しい発話のみが送られる
	cs.Chat("hello again", "")
	assert.Len(t, completer.lastMessages, 1+historyWindow+1)

	// 直近5件の先頭は3往復目のassistant応答
	assert.Equal(t, "assistant", completer.lastMessages[1].Role)
	// 最後は常に新しいユーザー発話
	last := completer.lastMessages[len(completer.lastMessages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "hello again", last.Content)
}

func TestClearHistory(t *testing.T) {
	completer := &scriptedCompleter{}
	cs := newTestConversation(completer)

	cs.Chat("hello", "")
	assert.NotEmpty(t, cs.History())

	cs.ClearHistory()
	assert.Empty(t, cs.History())
}

func TestCasualChatUsesContext(t *testing.T) {
	completer := &scriptedCompleter{}
	cs := newTestConversation(completer)

	result := cs.CasualChat("what happened?", "Query failed: no data found for year 2099")
	assert.True(t, result.Success)
	assert.Equal(t, "casual-model", result.ModelUsed)

	// 文脈は2つ目のsystemメッセージとして渡される
	assert.Equal(t, "system", completer.lastMessages[1].Role)
	assert.Contains(t, completer.lastMessages[1].Content, "no data found for year 2099")
}

func TestExplainResultsUsesBusinessPath(t *testing.T) {
	completer := &scriptedCompleter{
		script: map[string]scriptEntry{
			"model-a": {text: "explained"},
		},
	}
	cs := newTestConversation(completer)

	result := cs.ExplainResults(map[string]any{"revenue": 1000.0, "profit": 200.0})
	assert.True(t, result.Success)
	assert.Equal(t, ModeBusiness, result.Mode)
	assert.Equal(t, "explained", result.Response)

	// 構造化された結果が文脈として整形されていること
	assert.Contains(t, completer.lastMessages[1].Content, "revenue: 1000.00")
	assert.Contains(t, completer.lastMessages[1].Content, "profit: 200.00")
}

// countingCompleter は並行呼び出しに安全なテスト用クライアントです。
type countingCompleter struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCompleter) ChatCompletion(_ context.Context, _ string, _ []mistral.ChatMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "ok", nil
}

func TestChatConcurrentHistoryAccess(t *testing.T) {
	completer := &countingCompleter{}
	cs := NewConversationService(completer, "casual-model", []string{"model-a"})

	// 同一session_idのHTTPリクエストが並行して届くケース。
	// go test -race で履歴の競合を検出する。
	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := cs.Chat("hello there", "")
			assert.True(t, result.Success)
		}()
	}
	wg.Wait()

	// 全往復が履歴に記録されていること（user + assistant で2件ずつ）
	assert.Len(t, cs.History(), workers*2)
	assert.Equal(t, workers, completer.calls)
}

func TestFormatStructuredDeterministic(t *testing.T) {
	input := map[string]any{
		"b_field": 2.5,
		"a_field": "text",
		"nested":  map[string]any{"z": 1, "a": 2},
	}

	first := formatStructured(input)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, formatStructured(input))
	}
	// キーはソートされている
	assert.Contains(t, first, "a_field: text")
}
