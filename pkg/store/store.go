package store

import (
	"charachat/pkg/domain"
)

// Store defines persistence for knowledge bases, files, chunks, plugins,
// characters and conversations.
type Store interface {
	// knowledge bases
	CreateKnowledgeBase(kb domain.KnowledgeBase) error
	GetKnowledgeBase(id string) (domain.KnowledgeBase, bool, error)
	// DeleteKnowledgeBase removes the base and cascades to its files,
	// chunks and subscriptions.
	DeleteKnowledgeBase(id string) error

	// knowledge files
	CreateFile(f domain.KnowledgeFile) error
	GetFile(id string) (domain.KnowledgeFile, bool, error)
	ListFilesByKnowledgeBase(kbID string) ([]domain.KnowledgeFile, error)
	// ClaimNextPendingFile atomically moves the oldest pending file to
	// processing and returns it. The claim is the mutual-exclusion boundary
	// between concurrently running workers.
	ClaimNextPendingFile() (domain.KnowledgeFile, bool, error)
	// ClaimFile claims one specific file if it is still pending.
	ClaimFile(id string) (domain.KnowledgeFile, bool, error)
	MarkFileCompleted(id string, chunkCount int) error
	MarkFileFailed(id string, errMsg string) error
	// ResetFileForIngest moves a failed file back to pending. Returns false
	// when the file does not exist or is not failed.
	ResetFileForIngest(id string) (bool, error)

	// chunks
	// InsertChunks replaces all chunks for a file in one transaction; either
	// every chunk becomes visible or none do.
	InsertChunks(fileID string, chunks []domain.Chunk) error
	CountChunksByFile(fileID string) (int, error)
	// SearchChunks ranks embedded chunks in the given knowledge bases by
	// similarity (1 - cosine distance), keeping results strictly above
	// threshold, ordered by similarity descending with id as tiebreak.
	SearchChunks(kbIDs []string, embedding []float32, threshold float64, limit int) ([]domain.ScoredChunk, error)

	// characters and knowledge subscriptions
	SaveCharacter(c domain.Character) error
	GetCharacter(id string) (domain.Character, bool, error)
	SaveKnowledgeSubscription(sub domain.KnowledgeSubscription) error
	// ListKnowledgeSubscriptions returns a character's subscriptions ordered
	// by priority descending.
	ListKnowledgeSubscriptions(characterID string) ([]domain.KnowledgeSubscription, error)

	// plugins
	SavePlugin(p domain.Plugin) error
	GetPlugin(id string) (domain.Plugin, bool, error)
	SavePluginSubscription(sub domain.PluginSubscription) error
	// ListActivePlugins returns approved plugins the user holds an active
	// subscription for.
	ListActivePlugins(userID string) ([]domain.Plugin, error)

	// conversations
	// EnsurePrivateConversation returns the existing private chat between
	// the user and character, creating it on first request.
	EnsurePrivateConversation(ownerID, characterID string) (domain.Conversation, error)
	GetConversation(id string) (domain.Conversation, bool, error)
	AppendMessage(msg domain.Message) error
	// ListRecentMessages returns up to limit latest messages in
	// chronological order.
	ListRecentMessages(conversationID string, limit int) ([]domain.Message, error)
	SetConversationPreview(id string, preview string) error
}
