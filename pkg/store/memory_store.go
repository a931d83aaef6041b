package store

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"charachat/internal/util"
	"charachat/pkg/domain"
)

// MemoryStore implements Store in memory for tests and local development.
// Similarity search is a brute-force cosine scan.
type MemoryStore struct {
	mu            sync.Mutex
	bases         map[string]domain.KnowledgeBase
	files         map[string]domain.KnowledgeFile
	chunks        map[string]domain.Chunk
	subs          map[string][]domain.KnowledgeSubscription
	plugins       map[string]domain.Plugin
	pluginSubs    map[string][]domain.PluginSubscription
	characters    map[string]domain.Character
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bases:         make(map[string]domain.KnowledgeBase),
		files:         make(map[string]domain.KnowledgeFile),
		chunks:        make(map[string]domain.Chunk),
		subs:          make(map[string][]domain.KnowledgeSubscription),
		plugins:       make(map[string]domain.Plugin),
		pluginSubs:    make(map[string][]domain.PluginSubscription),
		characters:    make(map[string]domain.Character),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

func (s *MemoryStore) CreateKnowledgeBase(kb domain.KnowledgeBase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bases[kb.ID] = kb
	return nil
}

func (s *MemoryStore) GetKnowledgeBase(id string) (domain.KnowledgeBase, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kb, ok := s.bases[id]
	return kb, ok, nil
}

func (s *MemoryStore) DeleteKnowledgeBase(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bases, id)
	for fid, f := range s.files {
		if f.KnowledgeBaseID == id {
			delete(s.files, fid)
		}
	}
	for cid, c := range s.chunks {
		if c.KnowledgeBaseID == id {
			delete(s.chunks, cid)
		}
	}
	for characterID, subs := range s.subs {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.KnowledgeBaseID != id {
				kept = append(kept, sub)
			}
		}
		s.subs[characterID] = kept
	}
	return nil
}

func (s *MemoryStore) CreateFile(f domain.KnowledgeFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.files[f.ID]; exists {
		return fmt.Errorf("file %s already exists", f.ID)
	}
	s.files[f.ID] = f
	return nil
}

func (s *MemoryStore) GetFile(id string) (domain.KnowledgeFile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	return f, ok, nil
}

func (s *MemoryStore) ListFilesByKnowledgeBase(kbID string) ([]domain.KnowledgeFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.KnowledgeFile
	for _, f := range s.files {
		if f.KnowledgeBaseID == kbID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ClaimNextPendingFile() (domain.KnowledgeFile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *domain.KnowledgeFile
	for id := range s.files {
		f := s.files[id]
		if f.Status != domain.FilePending {
			continue
		}
		if oldest == nil || f.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &f
		}
	}
	if oldest == nil {
		return domain.KnowledgeFile{}, false, nil
	}
	claimed := *oldest
	claimed.Status = domain.FileProcessing
	claimed.ErrorMessage = ""
	claimed.UpdatedAt = time.Now().UTC()
	s.files[claimed.ID] = claimed
	return claimed, true, nil
}

func (s *MemoryStore) ClaimFile(id string) (domain.KnowledgeFile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.Status != domain.FilePending {
		return domain.KnowledgeFile{}, false, nil
	}
	f.Status = domain.FileProcessing
	f.ErrorMessage = ""
	f.UpdatedAt = time.Now().UTC()
	s.files[id] = f
	return f, true, nil
}

func (s *MemoryStore) MarkFileCompleted(id string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return fmt.Errorf("file %s not found", id)
	}
	f.Status = domain.FileCompleted
	f.ErrorMessage = ""
	f.ChunkCount = chunkCount
	f.UpdatedAt = time.Now().UTC()
	s.files[id] = f
	return nil
}

func (s *MemoryStore) MarkFileFailed(id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return fmt.Errorf("file %s not found", id)
	}
	f.Status = domain.FileFailed
	f.ErrorMessage = errMsg
	f.UpdatedAt = time.Now().UTC()
	s.files[id] = f
	return nil
}

func (s *MemoryStore) ResetFileForIngest(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok || f.Status != domain.FileFailed {
		return false, nil
	}
	f.Status = domain.FilePending
	f.ErrorMessage = ""
	f.ChunkCount = 0
	f.UpdatedAt = time.Now().UTC()
	s.files[id] = f
	return true, nil
}

func (s *MemoryStore) InsertChunks(fileID string, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.FileID == fileID {
			delete(s.chunks, id)
		}
	}
	for _, chunk := range chunks {
		chunk.FileID = fileID
		s.chunks[chunk.ID] = chunk
	}
	return nil
}

func (s *MemoryStore) CountChunksByFile(fileID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, c := range s.chunks {
		if c.FileID == fileID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SearchChunks(kbIDs []string, embedding []float32, threshold float64, limit int) ([]domain.ScoredChunk, error) {
	if limit <= 0 || len(kbIDs) == 0 {
		return []domain.ScoredChunk{}, nil
	}
	scope := make(map[string]bool, len(kbIDs))
	for _, id := range kbIDs {
		scope[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScoredChunk
	for _, chunk := range s.chunks {
		if !scope[chunk.KnowledgeBaseID] || len(chunk.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(embedding, chunk.Embedding)
		if sim > threshold {
			out = append(out, domain.ScoredChunk{Chunk: chunk, Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []domain.ScoredChunk{}
	}
	return out, nil
}

func (s *MemoryStore) SaveCharacter(c domain.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.characters[c.ID] = c
	return nil
}

func (s *MemoryStore) GetCharacter(id string) (domain.Character, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.characters[id]
	return c, ok, nil
}

func (s *MemoryStore) SaveKnowledgeSubscription(sub domain.KnowledgeSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[sub.CharacterID]
	for i, existing := range subs {
		if existing.KnowledgeBaseID == sub.KnowledgeBaseID {
			subs[i] = sub
			return nil
		}
	}
	s.subs[sub.CharacterID] = append(subs, sub)
	return nil
}

func (s *MemoryStore) ListKnowledgeSubscriptions(characterID string) ([]domain.KnowledgeSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := append([]domain.KnowledgeSubscription(nil), s.subs[characterID]...)
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Priority != subs[j].Priority {
			return subs[i].Priority > subs[j].Priority
		}
		return subs[i].KnowledgeBaseID < subs[j].KnowledgeBaseID
	})
	return subs, nil
}

func (s *MemoryStore) SavePlugin(p domain.Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plugins[p.ID] = p
	return nil
}

func (s *MemoryStore) GetPlugin(id string) (domain.Plugin, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plugins[id]
	return p, ok, nil
}

func (s *MemoryStore) SavePluginSubscription(sub domain.PluginSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.pluginSubs[sub.UserID]
	for i, existing := range subs {
		if existing.PluginID == sub.PluginID {
			subs[i] = sub
			return nil
		}
	}
	s.pluginSubs[sub.UserID] = append(subs, sub)
	return nil
}

func (s *MemoryStore) ListActivePlugins(userID string) ([]domain.Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Plugin
	for _, sub := range s.pluginSubs[userID] {
		if !sub.IsActive {
			continue
		}
		p, ok := s.plugins[sub.PluginID]
		if !ok || p.Status != domain.PluginApproved {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) EnsurePrivateConversation(ownerID, characterID string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.conversations {
		if conv.OwnerID != ownerID || conv.IsGroup {
			continue
		}
		hasUser, hasCharacter := false, false
		for _, m := range conv.Members {
			if m.MemberType == domain.SenderUser && m.MemberID == ownerID {
				hasUser = true
			}
			if m.MemberType == domain.SenderCharacter && m.MemberID == characterID {
				hasCharacter = true
			}
		}
		if hasUser && hasCharacter {
			return conv, nil
		}
	}
	now := time.Now().UTC()
	conv := domain.Conversation{
		ID:      util.NewID(),
		OwnerID: ownerID,
		Members: []domain.ConversationMember{
			{MemberType: domain.SenderUser, MemberID: ownerID},
			{MemberType: domain.SenderCharacter, MemberID: characterID},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	return conv, ok, nil
}

// SaveConversation stores a conversation directly; used to seed tests.
func (s *MemoryStore) SaveConversation(conv domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return nil
}

func (s *MemoryStore) AppendMessage(msg domain.Message) error {
	if err := msg.ValidateSender(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

func (s *MemoryStore) ListRecentMessages(conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (s *MemoryStore) SetConversationPreview(id string, preview string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	conv.LastMessagePreview = preview
	conv.UpdatedAt = time.Now().UTC()
	s.conversations[id] = conv
	return nil
}

// CosineSimilarity computes the cosine similarity of two vectors. Mismatched
// or zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
