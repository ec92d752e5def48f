// Package contextmgr fits conversations into a token budget by
// trimming old history and standing in a summary message for the
// trimmed portion.
package contextmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/pkg/models"
)

const (
	// DefaultMaxTokens is the default context window budget.
	DefaultMaxTokens = 8000

	// DefaultReservedTokens is reserved for the model's response.
	DefaultReservedTokens = 1000

	// summaryReserveRatio is the share of the history budget held back
	// for the summary message itself.
	summaryReserveRatio = 0.2

	// minKeptMessages is the minimum number of history messages kept
	// when trimming, even if they alone exceed the budget.
	minKeptMessages = 2

	// summaryTurnLimit truncates each transcript turn fed to the
	// summarizer.
	summaryTurnLimit = 500

	// summaryInputLimit truncates the whole transcript fed to the
	// summarizer.
	summaryInputLimit = 3000

	// fallbackPrefixLen truncates each user-message prefix in the
	// fallback summary.
	fallbackPrefixLen = 100

	// fallbackMaxEntries bounds the fallback summary listing.
	fallbackMaxEntries = 5
)

// Manager assembles a budget-fitting message list from a system
// prompt, prior history, and the current turn.
type Manager struct {
	maxTokens      int
	reservedTokens int
	logger         *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxTokens sets the total token budget.
func WithMaxTokens(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxTokens = n
		}
	}
}

// WithReservedTokens sets the tokens held back for the response.
func WithReservedTokens(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.reservedTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a context manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		maxTokens:      DefaultMaxTokens,
		reservedTokens: DefaultReservedTokens,
		logger:         slog.Default().With("component", "contextmgr"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EstimateTokens estimates the token cost of a message: the ceiling of
// content length (plus tool-calls JSON length, if any) divided by
// three. The heuristic is deliberately coarse and conservative for
// mixed ASCII/CJK text; budgets across the runtime depend on it being
// applied uniformly.
func EstimateTokens(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	chars := len(msg.Content)
	if len(msg.ToolCalls) > 0 {
		if data, err := json.Marshal(msg.ToolCalls); err == nil {
			chars += len(data)
		}
	}
	return int(math.Ceil(float64(chars) / 3))
}

func estimateAll(msgs []*models.Message) int {
	total := 0
	for _, msg := range msgs {
		total += EstimateTokens(msg)
	}
	return total
}

// Trim returns an ordered message list [system, summary?, ...kept,
// ...current] that fits maxTokens - reservedTokens. The system message
// and current-turn messages are never trimmed. When history must be
// cut, a system-role summary message stands in for the trimmed
// portion; summarizer may be nil, in which case the fallback listing
// is used directly. Summary failures never abort the request.
func (m *Manager) Trim(ctx context.Context, system *models.Message, history, current []*models.Message, summarizer llm.Provider) []*models.Message {
	budget := m.maxTokens - m.reservedTokens

	fixed := EstimateTokens(system) + estimateAll(current)
	if fixed >= budget {
		m.logger.Warn("system prompt and current turn alone exceed context budget",
			"fixed_tokens", fixed,
			"budget", budget)
		return concat(system, nil, nil, current)
	}

	historyBudget := budget - fixed
	if estimateAll(history) <= historyBudget {
		return concat(system, nil, history, current)
	}

	kept, trimmed := splitHistory(history, historyBudget)
	if len(trimmed) == 0 {
		return concat(system, nil, kept, current)
	}
	summary := m.summarize(ctx, trimmed, summarizer)

	return concat(system, summary, kept, current)
}

// splitHistory walks history newest to oldest, keeping messages while
// the running total stays within 80% of the history budget (the rest
// is reserved for the summary). At least the last two messages are
// kept when available.
func splitHistory(history []*models.Message, historyBudget int) (kept, trimmed []*models.Message) {
	keepBudget := summaryKeepBudget(historyBudget)

	cut := len(history)
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		next := EstimateTokens(history[i])
		if total+next > keepBudget {
			break
		}
		total += next
		cut = i
	}

	if len(history)-cut < minKeptMessages {
		cut = len(history) - minKeptMessages
		if cut < 0 {
			cut = 0
		}
	}

	return history[cut:], history[:cut]
}

func summaryKeepBudget(historyBudget int) int {
	return int(float64(historyBudget) * (1 - summaryReserveRatio))
}

// summarize produces the system-role message that stands in for the
// trimmed history. The LLM path is best effort; on any failure the
// fallback listing is used.
func (m *Manager) summarize(ctx context.Context, trimmed []*models.Message, summarizer llm.Provider) *models.Message {
	if summarizer != nil {
		if text, err := m.llmSummary(ctx, trimmed, summarizer); err == nil {
			return summaryMessage(text)
		} else {
			m.logger.Warn("history summarization failed, using fallback", "error", err)
		}
	}
	return summaryMessage(fallbackSummary(trimmed))
}

func (m *Manager) llmSummary(ctx context.Context, trimmed []*models.Message, summarizer llm.Provider) (string, error) {
	var transcript strings.Builder
	for _, msg := range trimmed {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			continue
		}
		turn := truncateBytes(msg.Content, summaryTurnLimit)
		line := fmt.Sprintf("%s: %s\n", msg.Role, turn)
		if transcript.Len()+len(line) > summaryInputLimit {
			remaining := summaryInputLimit - transcript.Len()
			if remaining > 0 {
				transcript.WriteString(truncateBytes(line, remaining))
			}
			break
		}
		transcript.WriteString(line)
	}

	prompt := "Summarize the following conversation in 200 characters or less. " +
		"Keep key facts, decisions, and open questions.\n\n" + transcript.String()

	reply, err := summarizer.Chat(ctx, &llm.Request{
		Messages: []*models.Message{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(reply.Content)
	if text == "" {
		return "", fmt.Errorf("summarizer returned empty content")
	}
	return text, nil
}

// fallbackSummary lists the most recent user-message prefixes from the
// trimmed set, newest first, with a total count.
func fallbackSummary(trimmed []*models.Message) string {
	var prefixes []string
	for i := len(trimmed) - 1; i >= 0 && len(prefixes) < fallbackMaxEntries; i-- {
		msg := trimmed[i]
		if msg.Role != models.RoleUser {
			continue
		}
		prefixes = append(prefixes, "- "+truncateBytes(msg.Content, fallbackPrefixLen))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Earlier conversation trimmed (%d messages). Recent user topics:\n", len(trimmed))
	b.WriteString(strings.Join(prefixes, "\n"))
	return b.String()
}

// truncateBytes caps s at limit bytes without splitting a multi-byte
// rune; the cut backs up to the rune boundary.
func truncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

func summaryMessage(text string) *models.Message {
	return &models.Message{
		Role:    models.RoleSystem,
		Content: "Summary of earlier conversation: " + text,
	}
}

func concat(system, summary *models.Message, kept, current []*models.Message) []*models.Message {
	out := make([]*models.Message, 0, len(kept)+len(current)+2)
	if system != nil {
		out = append(out, system)
	}
	if summary != nil {
		out = append(out, summary)
	}
	out = append(out, kept...)
	out = append(out, current...)
	return out
}
