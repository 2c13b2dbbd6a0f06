package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	historyLimit   = 10
	promptHistory  = 5
	knowledgeTopK  = 5
	summaryTTL     = 30 * time.Minute
	summaryCleanup = time.Hour
)

var languageInstructions = map[string]string{
	"en": "Respond in English",
	"zh": "请用中文回答",
	"ja": "日本語で回答してください",
	"ko": "한국어로 답변해주세요",
}

// Assistant answers restaurant questions in process. It is the server side
// of the chat widget and also backs the TUI when no backend URL is set.
type Assistant struct {
	name      string
	history   HistoryStore
	knowledge *KnowledgeBase
	index     VectorIndex
	generator Generator
	menu      RecordStore
	details   RecordStore
	summaries *cache.Cache
	now       func() time.Time
}

type AssistantDeps struct {
	RestaurantName string
	History        HistoryStore
	Embedder       Embedder
	Index          VectorIndex
	Generator      Generator
	Menu           RecordStore
	Details        RecordStore
}

func NewAssistant(d AssistantDeps) *Assistant {
	return &Assistant{
		name:      firstNonEmpty(d.RestaurantName, "our restaurant"),
		history:   d.History,
		knowledge: NewKnowledgeBase(d.Embedder, d.Index, d.Menu, d.Details),
		index:     d.Index,
		generator: d.Generator,
		menu:      d.Menu,
		details:   d.Details,
		summaries: cache.New(summaryTTL, summaryCleanup),
		now:       time.Now,
	}
}

func (a *Assistant) Send(ctx context.Context, req ChatRequest) (ChatReply, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" || strings.TrimSpace(req.SessionID) == "" {
		var missing []string
		if query == "" {
			missing = append(missing, "Query")
		}
		if strings.TrimSpace(req.SessionID) == "" {
			missing = append(missing, "Session_ID")
		}
		return ChatReply{}, &ValidationError{Fields: missing}
	}
	lang := normalizeLanguage(req.Language)

	history, err := a.history.Recent(ctx, req.SessionID, historyLimit)
	if err != nil {
		return ChatReply{}, fmt.Errorf("load history: %w", err)
	}

	matches, err := a.knowledge.Search(ctx, query, lang, knowledgeTopK)
	if err != nil {
		// an answer without retrieved context beats no answer
		log.Printf("knowledge search failed: %v", err)
		matches = nil
	}
	log.Printf("chat %s: %d history, %d knowledge pieces", req.SessionID, len(history), len(matches))

	knowledge := make([]string, len(matches))
	for i, m := range matches {
		knowledge[i] = m.Chunk.Text
	}
	prompt := a.chatPrompt(query, lang, knowledge, history)

	text, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		return ChatReply{}, &UpstreamError{Err: err}
	}

	now := a.now().UTC()
	in := Interaction{SessionID: req.SessionID, Query: query, Response: text, Language: lang, Timestamp: now}
	if err := a.history.Append(ctx, in); err != nil {
		log.Printf("store interaction for %s: %v", req.SessionID, err)
	}
	return ChatReply{Text: text, SessionID: req.SessionID, Timestamp: now}, nil
}

func (a *Assistant) chatPrompt(query, lang string, knowledge []string, history []Interaction) string {
	knowledgeText := "No specific restaurant information available."
	if len(knowledge) > 0 {
		knowledgeText = strings.Join(knowledge, "\n")
	}

	conversation := "This is the start of a new conversation."
	if len(history) > 0 {
		if len(history) > promptHistory {
			history = history[len(history)-promptHistory:]
		}
		var lines []string
		for _, h := range history {
			lines = append(lines, "User: "+h.Query, "Assistant: "+h.Response)
		}
		conversation = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(`You are a helpful assistant for a restaurant called %q. You specialize in providing information about the restaurant's menu, services, hours, and general dining experience.

%s.

Restaurant Knowledge (USE THIS INFORMATION TO ANSWER):
%s

Conversation History:
%s

Current User Question: %s

Instructions:
- Be friendly, helpful, and professional
- Focus on restaurant-related topics
- ALWAYS use the Restaurant Knowledge provided above to answer questions
- Only suggest contacting the restaurant if the specific information is not in the Restaurant Knowledge
- Keep responses concise but informative
- STRICTLY follow the language instructions provided
- Maintain the conversational context from previous messages

Response:`, a.name, languageInstruction(lang), knowledgeText, conversation, query)
}

func languageInstruction(lang string) string {
	if s, ok := languageInstructions[lang]; ok {
		return s
	}
	return languageInstructions["en"]
}

// Summary asks the model to review both tables for gaps. Answers are
// cached per language until the next knowledge sync.
func (a *Assistant) Summary(ctx context.Context, language string) (string, error) {
	lang := normalizeLanguage(language)
	if v, ok := a.summaries.Get(lang); ok {
		return v.(string), nil
	}

	menu, err := a.menu.List(ctx)
	if err != nil {
		return "", err
	}
	details, err := a.details.List(ctx)
	if err != nil {
		return "", err
	}

	text, err := a.generator.Generate(ctx, summaryPrompt(lang, menu, details))
	if err != nil {
		return "", &UpstreamError{Err: err}
	}
	a.summaries.Set(lang, text, cache.DefaultExpiration)
	return text, nil
}

func summaryPrompt(lang string, menu, details []Record) string {
	var sb strings.Builder
	sb.WriteString(`You are a restaurant menu and information database analyst specializing in identifying weak points and providing actionable improvements.
- Identify any missing or lacking information (working hours, customization options, dietary info)
- Missing metadata such as opening hours, contact info or location
- Lack of dietary labels and allergy warnings
- No indication of portion sizes or nutritional information
- Inconsistent or unclear naming and description formats
- Missing menu categories, combo options or upsell suggestions
- Missing language/localization consistency
`)
	fmt.Fprintf(&sb, "- STRICTLY Respond in the language: %s (%s)\n\n", lang, languageInstruction(lang))

	fmt.Fprintf(&sb, "Menu Items (%d):\n", len(menu))
	for _, r := range menu {
		fmt.Fprintf(&sb, "- %s (Price: %s)\n  Description: %s\n", r.Get("name"), r.Get("price"), r.Get("description"))
	}
	fmt.Fprintf(&sb, "\nRestaurant Details (%d):\n", len(details))
	for _, r := range details {
		fmt.Fprintf(&sb, "- %s\n  Description: %s\n", r.Get("details"), r.Get("description"))
	}
	sb.WriteString("\nSummarize and suggest improvements for the restaurant based on the data above.\n")
	return sb.String()
}

// SyncKnowledge rebuilds the index from the current rows. Cached summaries
// describe the old rows and are dropped.
func (a *Assistant) SyncKnowledge(ctx context.Context) (int, error) {
	n, err := a.knowledge.Sync(ctx)
	if err != nil {
		return 0, err
	}
	a.summaries.Flush()
	return n, nil
}

func (a *Assistant) ForgetSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return &ValidationError{Fields: []string{"session_id"}}
	}
	return a.history.Clear(ctx, sessionID)
}

// Health reports which collaborators answer.
func (a *Assistant) Health(ctx context.Context) map[string]bool {
	services := map[string]bool{
		"database":  a.history.Ping(ctx) == nil,
		"index":     false,
		"generator": a.generator != nil,
	}
	if _, err := a.index.Count(ctx); err == nil {
		services["index"] = true
	}
	return services
}

var _ assistantBackend = (*Assistant)(nil)

func isValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
