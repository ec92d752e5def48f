package agent

import (
	"context"
	"strings"

	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/pkg/models"
)

// DefaultTitle is used when title generation fails or yields nothing.
const DefaultTitle = "新对话"

const titlePrompt = `根据用户的第一条消息，为这段对话生成一个简短的标题。` +
	`要求：5到10个字，概括主题，不要使用引号或标点，直接输出标题本身。`

// quotePairs are wrappers models like to put around titles.
var quotePairs = [][2]string{
	{`"`, `"`},
	{"'", "'"},
	{"“", "”"}, // “ ”
	{"‘", "’"}, // ‘ ’
	{"「", "」"},
	{"『", "』"},
}

// GenerateTitle asks the provider for a short conversation title based
// on the user's first message. Any failure falls back to DefaultTitle;
// a title run must never surface an error to the caller.
func (l *Loop) GenerateTitle(ctx context.Context, firstMessage string) string {
	resp, err := l.provider.Chat(ctx, &llm.Request{
		Messages: []*models.Message{
			{Role: models.RoleSystem, Content: titlePrompt},
			{Role: models.RoleUser, Content: firstMessage},
		},
	})
	if err != nil {
		l.logger.Warn("title generation failed", "error", err)
		return DefaultTitle
	}

	title := cleanTitle(resp.Content)
	if title == "" {
		return DefaultTitle
	}
	return title
}

// cleanTitle trims whitespace and strips one matching pair of
// surrounding quotes.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	for _, pair := range quotePairs {
		if strings.HasPrefix(title, pair[0]) && strings.HasSuffix(title, pair[1]) && len(title) >= len(pair[0])+len(pair[1]) {
			title = strings.TrimSpace(title[len(pair[0]) : len(title)-len(pair[1])])
			break
		}
	}
	return title
}
