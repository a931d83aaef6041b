package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"charachat/internal/util"
	"charachat/pkg/ai"
	"charachat/pkg/domain"
	"charachat/pkg/plugin"
	"charachat/pkg/rag"
	"charachat/pkg/store"
	"charachat/services/chat/internal/tools"
)

const (
	// NoCharacterText is streamed when a conversation has no character
	// member to respond.
	NoCharacterText = "There is no character in this conversation who could reply."
	// ErrorMarker is streamed inline when generation fails.
	ErrorMarker = "[the character could not finish responding]"

	defaultHistoryLimit  = 20
	defaultMaxToolRounds = 4
	previewRunes         = 120
)

// Config holds runtime configuration for the chat core.
type Config struct {
	DatabaseURL     string
	EmbeddingDim    int
	Store           store.Store
	Streamer        ai.ChatStreamer
	Embedder        ai.Embedder
	SearchThreshold float64
	PluginTimeout   time.Duration
	HistoryLimit    int
	MaxToolRounds   int
}

// App orchestrates conversation turns: it persists the user message, builds
// the tool set from the character's knowledge and the user's plugins, and
// streams the character's answer.
type App struct {
	store         store.Store
	streamer      ai.ChatStreamer
	retriever     *rag.Retriever
	toolBuilder   *tools.Builder
	historyLimit  int
	maxToolRounds int
}

// New constructs the chat service core.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Streamer == nil {
		return nil, fmt.Errorf("chat streamer required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	maxToolRounds := cfg.MaxToolRounds
	if maxToolRounds <= 0 {
		maxToolRounds = defaultMaxToolRounds
	}
	retriever := rag.NewRetriever(dataStore, cfg.Embedder)
	return &App{
		store:         dataStore,
		streamer:      cfg.Streamer,
		retriever:     retriever,
		toolBuilder:   tools.NewBuilder(retriever, plugin.NewSandbox(cfg.PluginTimeout), cfg.SearchThreshold),
		historyLimit:  historyLimit,
		maxToolRounds: maxToolRounds,
	}, nil
}

// Search runs a synchronous retrieval query.
func (a *App) Search(ctx context.Context, query string, kbIDs []string, threshold float64, limit int) ([]domain.ScoredChunk, error) {
	return a.retriever.Search(ctx, query, kbIDs, threshold, limit)
}

// EnsureConversation returns the user's private conversation with the
// character, creating it on first contact.
func (a *App) EnsureConversation(userID, characterID string) (domain.Conversation, error) {
	if _, ok, err := a.store.GetCharacter(characterID); err != nil {
		return domain.Conversation{}, fmt.Errorf("load character: %w", err)
	} else if !ok {
		return domain.Conversation{}, domain.ErrNotFound
	}
	return a.store.EnsurePrivateConversation(userID, characterID)
}

// History returns the latest messages of a conversation in chronological
// order. Only the owner may read.
func (a *App) History(userID, conversationID string, limit int) ([]domain.Message, error) {
	conv, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !ok || conv.OwnerID != userID {
		return nil, domain.ErrNotFound
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return a.store.ListRecentMessages(conversationID, limit)
}

// StreamMessage runs one conversation turn. Text increments flow through
// emit as they are generated. The user message is persisted before any
// generation starts; the character's reply is persisted in a deferred block
// so a consumer disconnect cannot lose a fully generated answer.
func (a *App) StreamMessage(ctx context.Context, conversationID, senderID string, parts []domain.ContentPart, emit func(string)) error {
	conv, ok, err := a.store.GetConversation(conversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if !ok || conv.OwnerID != senderID {
		return domain.ErrNotFound
	}

	userMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversationID,
		SenderType:     domain.SenderUser,
		SenderID:       senderID,
		Parts:          parts,
		CreatedAt:      time.Now().UTC(),
	}
	if strings.TrimSpace(userMsg.Text()) == "" {
		return fmt.Errorf("message text required")
	}
	if err := a.store.AppendMessage(userMsg); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}

	characterID := firstCharacterMember(conv)
	if characterID == "" {
		emit(NoCharacterText)
		return nil
	}
	character, ok, err := a.store.GetCharacter(characterID)
	if err != nil {
		return fmt.Errorf("load character: %w", err)
	}
	if !ok {
		emit(NoCharacterText)
		return nil
	}

	registry, err := a.buildRegistry(character.ID, conv.OwnerID)
	if err != nil {
		return err
	}
	messages, err := a.buildPrompt(character, conversationID, registry.Definitions())
	if err != nil {
		return err
	}

	var reply strings.Builder
	defer func() {
		a.finalize(conversationID, character.ID, reply.String())
	}()

	onText := func(delta string) {
		reply.WriteString(delta)
		emit(delta)
	}
	for round := 0; round < a.maxToolRounds; round++ {
		msg, err := a.streamer.StreamChat(ctx, messages, registry.Definitions(), onText)
		if err != nil {
			slog.Warn("generation failed", "conversation_id", conversationID, "err", err)
			emit(ErrorMarker)
			return nil
		}
		if len(msg.ToolCalls) == 0 {
			return nil
		}
		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			result, err := registry.Invoke(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				slog.Warn("tool invocation failed", "tool", call.Function.Name, "err", err)
				result = fmt.Sprintf("tool failed: %v", err)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}
	// tool budget exhausted; one final round without tools forces an answer
	if _, err := a.streamer.StreamChat(ctx, messages, nil, onText); err != nil {
		slog.Warn("generation failed", "conversation_id", conversationID, "err", err)
		emit(ErrorMarker)
	}
	return nil
}

// finalize persists the character's reply and the conversation preview. It
// runs on every exit path; an empty reply leaves no assistant row.
func (a *App) finalize(conversationID, characterID, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	msg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversationID,
		SenderType:     domain.SenderCharacter,
		SenderID:       characterID,
		Parts:          []domain.ContentPart{{Type: domain.PartText, Text: text}},
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.AppendMessage(msg); err != nil {
		slog.Error("save character message failed", "conversation_id", conversationID, "err", err)
		return
	}
	if err := a.store.SetConversationPreview(conversationID, preview(text)); err != nil {
		slog.Error("update conversation preview failed", "conversation_id", conversationID, "err", err)
	}
}

func (a *App) buildRegistry(characterID, userID string) (*tools.Registry, error) {
	subs, err := a.store.ListKnowledgeSubscriptions(characterID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge subscriptions: %w", err)
	}
	kbIDs := make([]string, 0, len(subs))
	for _, sub := range subs {
		kbIDs = append(kbIDs, sub.KnowledgeBaseID)
	}
	plugins, err := a.store.ListActivePlugins(userID)
	if err != nil {
		return nil, fmt.Errorf("list active plugins: %w", err)
	}
	return a.toolBuilder.Build(kbIDs, plugins), nil
}

func (a *App) buildPrompt(character domain.Character, conversationID string, toolDefs []openai.Tool) ([]openai.ChatCompletionMessage, error) {
	history, err := a.store.ListRecentMessages(conversationID, a.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(character, toolDefs),
	})
	for _, msg := range history {
		role := openai.ChatMessageRoleUser
		if msg.SenderType == domain.SenderCharacter {
			role = openai.ChatMessageRoleAssistant
		}
		text := msg.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: text})
	}
	return messages, nil
}

func systemPrompt(character domain.Character, toolDefs []openai.Tool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s. Stay in character at all times.\n", character.Name)
	if strings.TrimSpace(character.Persona) != "" {
		sb.WriteString("\nPersona:\n")
		sb.WriteString(character.Persona)
		sb.WriteString("\n")
	}
	if strings.TrimSpace(character.Origin) != "" {
		sb.WriteString("\nOrigin:\n")
		sb.WriteString(character.Origin)
		sb.WriteString("\n")
	}
	if len(toolDefs) > 0 {
		sb.WriteString("\nYou can call these tools:\n")
		for _, tool := range toolDefs {
			if tool.Function == nil {
				continue
			}
			fmt.Fprintf(&sb, "- %s: %s\n", tool.Function.Name, tool.Function.Description)
		}
	}
	sb.WriteString("\nWhen the user asks about facts from your background or domain, ")
	sb.WriteString("search your knowledge bases before answering. ")
	sb.WriteString("Ground factual claims in retrieved passages; if nothing relevant is found, say so instead of guessing.")
	return sb.String()
}

func firstCharacterMember(conv domain.Conversation) string {
	for _, m := range conv.Members {
		if m.MemberType == domain.SenderCharacter {
			return m.MemberID
		}
	}
	return ""
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "…"
}
