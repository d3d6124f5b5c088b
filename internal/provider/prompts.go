package provider

import (
	"fmt"
	"strings"
)

// The system prompts steer every model toward the output shapes the
// normalizer knows how to extract: a json fence when the model cooperates,
// a fenced code block plus a "说明:" section otherwise. Keeping them here,
// shared by all adapters, guarantees provider switches never change the
// contract the normalizer relies on.

const generateSystemPrompt = `你是一个专业的编程助手。请根据需求生成代码。
优先以如下 JSON 格式输出（放在 ` + "```json" + ` 代码块中）:
{"generatedCode": "...", "explanation": "...", "alternatives": []}
如果无法输出 JSON，请将代码放在代码块中，并以 "说明:" 开头给出解释。`

const analyzeSystemPrompt = `你是一个严格的代码审查员。请分析代码质量并评分。
优先以如下 JSON 格式输出（放在 ` + "```json" + ` 代码块中）:
{"score": 0-100, "issues": [{"severity": "error|warning|info", "message": "...", "fix": "..."}], "strengths": [], "summary": "..."}
如果无法输出 JSON，请逐行列出问题，每行以 [severity] 开头。`

const optimizeSystemPrompt = `你是一个资深的性能优化专家。请优化给定代码。
优先以如下 JSON 格式输出（放在 ` + "```json" + ` 代码块中）:
{"optimizedCode": "...", "changes": [], "improvementSummary": "..."}
如果无法输出 JSON，请将优化后的代码放在代码块中，并以 "说明:" 开头总结改进点。`

const chatSystemPrompt = `你是 CodeGenius 平台的 AI 编程助手，帮助开发者解答与项目代码相关的问题。回答保持简洁、准确。`

// generateMessages builds the conversation for a generation call.
func generateMessages(req GenerateRequest) []ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "目标语言: %s\n", req.Language)
	if req.Context != "" {
		fmt.Fprintf(&b, "相关代码上下文:\n```%s\n%s\n```\n", req.Language, req.Context)
	}
	fmt.Fprintf(&b, "需求: %s", req.Prompt)

	return []ChatMessage{
		{Role: "system", Content: generateSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

// analyzeMessages builds the conversation for an analysis call.
func analyzeMessages(req AnalyzeRequest) []ChatMessage {
	user := fmt.Sprintf("请分析以下 %s 代码:\n```%s\n%s\n```", req.Language, req.Language, req.Code)
	return []ChatMessage{
		{Role: "system", Content: analyzeSystemPrompt},
		{Role: "user", Content: user},
	}
}

// optimizeMessages builds the conversation for an optimization call.
func optimizeMessages(req OptimizeRequest) []ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "请优化以下 %s 代码:\n```%s\n%s\n```", req.Language, req.Language, req.Code)
	if len(req.Goals) > 0 {
		fmt.Fprintf(&b, "\n优化目标: %s", strings.Join(req.Goals, "、"))
	}
	return []ChatMessage{
		{Role: "system", Content: optimizeSystemPrompt},
		{Role: "user", Content: b.String()},
	}
}

// chatMessages prepends the assistant persona unless the caller already
// supplied a system turn.
func chatMessages(req ChatRequest) []ChatMessage {
	if len(req.Messages) > 0 && req.Messages[0].Role == "system" {
		return req.Messages
	}
	out := make([]ChatMessage, 0, len(req.Messages)+1)
	out = append(out, ChatMessage{Role: "system", Content: chatSystemPrompt})
	out = append(out, req.Messages...)
	return out
}

// PromptText serializes messages to plain text for token estimation.
func PromptText(messages []ChatMessage) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}
