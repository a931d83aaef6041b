package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"charachat/pkg/domain"
	"charachat/pkg/store"
	"charachat/services/chat/internal/tools"
)

type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fixedEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return f.vec, nil
}

// scriptStep drives one StreamChat round of the scripted streamer.
type scriptStep struct {
	text      []string
	toolCalls []openai.ToolCall
	err       error
}

type scriptedStreamer struct {
	steps     []scriptStep
	calls     [][]openai.ChatCompletionMessage
	toolsSeen [][]openai.Tool
}

func (s *scriptedStreamer) StreamChat(_ context.Context, messages []openai.ChatCompletionMessage, toolDefs []openai.Tool, onText func(string)) (openai.ChatCompletionMessage, error) {
	s.calls = append(s.calls, append([]openai.ChatCompletionMessage(nil), messages...))
	s.toolsSeen = append(s.toolsSeen, toolDefs)
	if len(s.steps) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}, nil
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	var content strings.Builder
	for _, t := range step.text {
		content.WriteString(t)
		onText(t)
	}
	return openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		Content:   content.String(),
		ToolCalls: step.toolCalls,
	}, step.err
}

func newApp(t *testing.T, st *store.MemoryStore, streamer *scriptedStreamer) *App {
	t.Helper()
	a, err := New(Config{
		Store:           st,
		Streamer:        streamer,
		Embedder:        &fixedEmbedder{vec: []float32{1, 0, 0}},
		SearchThreshold: 0.1,
		PluginTimeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func seedConversation(t *testing.T, st *store.MemoryStore) domain.Conversation {
	t.Helper()
	if err := st.SaveCharacter(domain.Character{ID: "ch1", Name: "Mira", Persona: "a dry-witted archivist"}); err != nil {
		t.Fatalf("SaveCharacter: %v", err)
	}
	conv, err := st.EnsurePrivateConversation("u1", "ch1")
	if err != nil {
		t.Fatalf("EnsurePrivateConversation: %v", err)
	}
	return conv
}

func textParts(s string) []domain.ContentPart {
	return []domain.ContentPart{{Type: domain.PartText, Text: s}}
}

func TestStreamMessagePersistsBothSides(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)
	streamer := &scriptedStreamer{steps: []scriptStep{{text: []string{"Hello", " there."}}}}
	a := newApp(t, st, streamer)

	var emitted strings.Builder
	err := a.StreamMessage(context.Background(), conv.ID, "u1", textParts("hi"), func(s string) {
		emitted.WriteString(s)
	})
	if err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if emitted.String() != "Hello there." {
		t.Fatalf("emitted %q", emitted.String())
	}

	msgs, err := st.ListRecentMessages(conv.ID, 10)
	if err != nil {
		t.Fatalf("ListRecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].SenderType != domain.SenderUser || msgs[0].Text() != "hi" {
		t.Fatalf("user message not persisted first: %+v", msgs[0])
	}
	if msgs[1].SenderType != domain.SenderCharacter || msgs[1].Text() != "Hello there." {
		t.Fatalf("character reply not persisted: %+v", msgs[1])
	}
	got, _, err := st.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.LastMessagePreview != "Hello there." {
		t.Fatalf("preview = %q", got.LastMessagePreview)
	}
}

func TestStreamMessageIncludesHistoryAndPersona(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)
	seed := domain.Message{
		ID: "m0", ConversationID: conv.ID,
		SenderType: domain.SenderCharacter, SenderID: "ch1",
		Parts: textParts("Welcome back."), CreatedAt: time.Now().Add(-time.Minute),
	}
	if err := st.AppendMessage(seed); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	streamer := &scriptedStreamer{steps: []scriptStep{{text: []string{"ok"}}}}
	a := newApp(t, st, streamer)

	if err := a.StreamMessage(context.Background(), conv.ID, "u1", textParts("hi"), func(string) {}); err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if len(streamer.calls) != 1 {
		t.Fatalf("expected 1 generation round, got %d", len(streamer.calls))
	}
	prompt := streamer.calls[0]
	if prompt[0].Role != openai.ChatMessageRoleSystem || !strings.Contains(prompt[0].Content, "Mira") || !strings.Contains(prompt[0].Content, "archivist") {
		t.Fatalf("system prompt missing character identity: %q", prompt[0].Content)
	}
	var sawHistory, sawCurrent bool
	for _, m := range prompt[1:] {
		if m.Role == openai.ChatMessageRoleAssistant && m.Content == "Welcome back." {
			sawHistory = true
		}
		if m.Role == openai.ChatMessageRoleUser && m.Content == "hi" {
			sawCurrent = true
		}
	}
	if !sawHistory || !sawCurrent {
		t.Fatalf("prompt missing history or current message: %+v", prompt)
	}
}

func TestSystemPromptListsTools(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)
	if err := st.CreateKnowledgeBase(domain.KnowledgeBase{ID: "kb1", Name: "lore"}); err != nil {
		t.Fatalf("CreateKnowledgeBase: %v", err)
	}
	if err := st.SaveKnowledgeSubscription(domain.KnowledgeSubscription{CharacterID: "ch1", KnowledgeBaseID: "kb1"}); err != nil {
		t.Fatalf("SaveKnowledgeSubscription: %v", err)
	}
	if err := st.SavePlugin(domain.Plugin{
		ID: "p1", Name: "Dice Roller", Description: "rolls dice",
		Schema: `{"type":"object"}`, Code: `function run(args) return "ok" end`,
		Status: domain.PluginApproved,
	}); err != nil {
		t.Fatalf("SavePlugin: %v", err)
	}
	if err := st.SavePluginSubscription(domain.PluginSubscription{UserID: "u1", PluginID: "p1", IsActive: true}); err != nil {
		t.Fatalf("SavePluginSubscription: %v", err)
	}
	streamer := &scriptedStreamer{steps: []scriptStep{{text: []string{"ok"}}}}
	a := newApp(t, st, streamer)

	if err := a.StreamMessage(context.Background(), conv.ID, "u1", textParts("hi"), func(string) {}); err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	prompt := streamer.calls[0][0].Content
	if !strings.Contains(prompt, tools.SearchToolName) {
		t.Fatalf("system prompt missing search tool: %q", prompt)
	}
	if !strings.Contains(prompt, "dice_roller") || !strings.Contains(prompt, "rolls dice") {
		t.Fatalf("system prompt missing plugin tool listing: %q", prompt)
	}
}

func TestStreamMessageNoCharacterMember(t *testing.T) {
	st := store.NewMemoryStore()
	conv := domain.Conversation{
		ID:      "conv-empty",
		OwnerID: "u1",
		Members: []domain.ConversationMember{{MemberType: domain.SenderUser, MemberID: "u1"}},
	}
	if err := st.SaveConversation(conv); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	streamer := &scriptedStreamer{}
	a := newApp(t, st, streamer)

	var emitted strings.Builder
	if err := a.StreamMessage(context.Background(), conv.ID, "u1", textParts("anyone?"), func(s string) {
		emitted.WriteString(s)
	}); err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if emitted.String() != NoCharacterText {
		t.Fatalf("emitted %q, want sentinel", emitted.String())
	}
	if len(streamer.calls) != 0 {
		t.Fatalf("no generation should run without a character")
	}
	msgs, _ := st.ListRecentMessages(conv.ID, 10)
	if len(msgs) != 1 || msgs[0].SenderType != domain.SenderUser {
		t.Fatalf("only the user message should be persisted, got %+v", msgs)
	}
}

func TestStreamMessageToolRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)
	if err := st.CreateKnowledgeBase(domain.KnowledgeBase{ID: "kb1", Name: "lore"}); err != nil {
		t.Fatalf("CreateKnowledgeBase: %v", err)
	}
	if err := st.InsertChunks("f1", []domain.Chunk{
		{ID: "c1", KnowledgeBaseID: "kb1", Content: "the dragon guards the gate", Embedding: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}
	if err := st.SaveKnowledgeSubscription(domain.KnowledgeSubscription{CharacterID: "ch1", KnowledgeBaseID: "kb1", Priority: 1}); err != nil {
		t.Fatalf("SaveKnowledgeSubscription: %v", err)
	}

	streamer := &scriptedStreamer{steps: []scriptStep{
		{toolCalls: []openai.ToolCall{{
			ID:   "call1",
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tools.SearchToolName,
				Arguments: `{"query": "dragon"}`,
			},
		}}},
		{text: []string{"The dragon guards the gate."}},
	}}
	a := newApp(t, st, streamer)

	if err := a.StreamMessage(context.Background(), conv.ID, "u1", textParts("who guards the gate?"), func(string) {}); err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if len(streamer.calls) != 2 {
		t.Fatalf("expected 2 generation rounds, got %d", len(streamer.calls))
	}
	if len(streamer.toolsSeen[0]) != 1 || streamer.toolsSeen[0][0].Function.Name != tools.SearchToolName {
		t.Fatalf("search tool not offered: %+v", streamer.toolsSeen[0])
	}
	second := streamer.calls[1]
	var sawResult bool
	for _, m := range second {
		if m.Role == openai.ChatMessageRoleTool && m.ToolCallID == "call1" && strings.Contains(m.Content, "the dragon guards the gate") {
			sawResult = true
		}
	}
	if !sawResult {
		t.Fatalf("tool result not fed back into the prompt: %+v", second)
	}
	msgs, _ := st.ListRecentMessages(conv.ID, 10)
	if len(msgs) != 2 || msgs[1].Text() != "The dragon guards the gate." {
		t.Fatalf("final reply not persisted: %+v", msgs)
	}
}

func TestStreamMessageToolBudgetForcesAnswer(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)
	if err := st.CreateKnowledgeBase(domain.KnowledgeBase{ID: "kb1", Name: "lore"}); err != nil {
		t.Fatalf("CreateKnowledgeBase: %v", err)
	}
	if err := st.SaveKnowledgeSubscription(domain.KnowledgeSubscription{CharacterID: "ch1", KnowledgeBaseID: "kb1"}); err != nil {
		t.Fatalf("SaveKnowledgeSubscription: %v", err)
	}
	call := openai.ToolCall{
		ID:   "loop",
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      tools.SearchToolName,
			Arguments: `{"query": "again"}`,
		},
	}
	streamer := &scriptedStreamer{steps: []scriptStep{
		{toolCalls: []openai.ToolCall{call}},
		{toolCalls: []openai.ToolCall{call}},
		{toolCalls: []openai.ToolCall{call}},
		{toolCalls: []openai.ToolCall{call}},
		{text: []string{"done"}},
	}}
	a := newApp(t, st, streamer)

	if err := a.StreamMessage(context.Background(), conv.ID, "u1", textParts("loop"), func(string) {}); err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if len(streamer.calls) != 5 {
		t.Fatalf("expected 4 tool rounds plus a forced final round, got %d", len(streamer.calls))
	}
	if streamer.toolsSeen[4] != nil {
		t.Fatalf("final round should offer no tools")
	}
	msgs, _ := st.ListRecentMessages(conv.ID, 10)
	if len(msgs) != 2 || msgs[1].Text() != "done" {
		t.Fatalf("forced answer not persisted: %+v", msgs)
	}
}

func TestStreamMessagePartialFailureKeepsText(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)
	streamer := &scriptedStreamer{steps: []scriptStep{
		{text: []string{"The gate is guarded by"}, err: errors.New("upstream reset")},
	}}
	a := newApp(t, st, streamer)

	var emitted strings.Builder
	if err := a.StreamMessage(context.Background(), conv.ID, "u1", textParts("go on"), func(s string) {
		emitted.WriteString(s)
	}); err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if !strings.HasSuffix(emitted.String(), ErrorMarker) {
		t.Fatalf("error marker not emitted: %q", emitted.String())
	}
	msgs, _ := st.ListRecentMessages(conv.ID, 10)
	if len(msgs) != 2 || msgs[1].Text() != "The gate is guarded by" {
		t.Fatalf("partial text should be persisted as-is: %+v", msgs)
	}
}

func TestStreamMessageFailureWithoutTextLeavesNoReply(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)
	streamer := &scriptedStreamer{steps: []scriptStep{{err: errors.New("upstream down")}}}
	a := newApp(t, st, streamer)

	var emitted strings.Builder
	if err := a.StreamMessage(context.Background(), conv.ID, "u1", textParts("hello?"), func(s string) {
		emitted.WriteString(s)
	}); err != nil {
		t.Fatalf("StreamMessage: %v", err)
	}
	if emitted.String() != ErrorMarker {
		t.Fatalf("emitted %q, want error marker only", emitted.String())
	}
	msgs, _ := st.ListRecentMessages(conv.ID, 10)
	if len(msgs) != 1 {
		t.Fatalf("no character row should exist for an empty reply: %+v", msgs)
	}
}

func TestStreamMessageOwnerOnly(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)
	a := newApp(t, st, &scriptedStreamer{})

	err := a.StreamMessage(context.Background(), conv.ID, "intruder", textParts("hi"), func(string) {})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not-found for foreign sender, got %v", err)
	}
	msgs, _ := st.ListRecentMessages(conv.ID, 10)
	if len(msgs) != 0 {
		t.Fatalf("nothing should be persisted: %+v", msgs)
	}
}

func TestStreamMessageRejectsEmptyText(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)
	a := newApp(t, st, &scriptedStreamer{})

	if err := a.StreamMessage(context.Background(), conv.ID, "u1", textParts("   "), func(string) {}); err == nil {
		t.Fatalf("expected error for blank message")
	}
	msgs, _ := st.ListRecentMessages(conv.ID, 10)
	if len(msgs) != 0 {
		t.Fatalf("blank message must not be persisted: %+v", msgs)
	}
}

func TestEnsureConversationIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	seedConversation(t, st)
	a := newApp(t, st, &scriptedStreamer{})

	first, err := a.EnsureConversation("u2", "ch1")
	if err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}
	second, err := a.EnsureConversation("u2", "ch1")
	if err != nil {
		t.Fatalf("EnsureConversation again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same conversation, got %s and %s", first.ID, second.ID)
	}
	if _, err := a.EnsureConversation("u2", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not-found for unknown character, got %v", err)
	}
}

func TestHistoryOwnerOnly(t *testing.T) {
	st := store.NewMemoryStore()
	conv := seedConversation(t, st)
	if err := st.AppendMessage(domain.Message{
		ID: "m1", ConversationID: conv.ID,
		SenderType: domain.SenderUser, SenderID: "u1",
		Parts: textParts("hello"), CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	a := newApp(t, st, &scriptedStreamer{})

	msgs, err := a.History("u1", conv.ID, 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("owner read failed: %v, %d messages", err, len(msgs))
	}
	if _, err := a.History("intruder", conv.ID, 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not-found for foreign reader, got %v", err)
	}
}
