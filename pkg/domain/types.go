package domain

import "time"

type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type PluginStatus string

const (
	PluginPending  PluginStatus = "pending"
	PluginRejected PluginStatus = "rejected"
	PluginApproved PluginStatus = "approved"
	PluginArchived PluginStatus = "archived"
)

// SenderType tags the sender of a message. A message is sent by exactly one
// of a user or a character, never both.
type SenderType string

const (
	SenderUser      SenderType = "user"
	SenderCharacter SenderType = "character"
)

type KnowledgeBase struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"ownerId"`
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type KnowledgeFile struct {
	ID              string     `json:"id"`
	KnowledgeBaseID string     `json:"knowledgeBaseId"`
	StorageKey      string     `json:"-"`
	Name            string     `json:"name"`
	SizeBytes       int64      `json:"sizeBytes"`
	ContentType     string     `json:"contentType"`
	Status          FileStatus `json:"status"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	ChunkCount      int        `json:"chunkCount"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Chunk is a bounded text segment with its embedding vector. FileID is empty
// for chunks that did not originate from an uploaded file.
type Chunk struct {
	ID              string            `json:"id"`
	KnowledgeBaseID string            `json:"knowledgeBaseId"`
	FileID          string            `json:"fileId,omitempty"`
	Content         string            `json:"content"`
	Metadata        map[string]string `json:"metadata"`
	Embedding       []float32         `json:"-"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// ScoredChunk is a retrieval result; Similarity is 1 - cosine distance.
type ScoredChunk struct {
	Chunk
	Similarity float64 `json:"similarity"`
}

// KnowledgeSubscription attaches a knowledge base to a character. Priority
// orders inclusion when the retrieval scope is assembled (highest first); it
// does not weight similarity scores.
type KnowledgeSubscription struct {
	CharacterID     string    `json:"characterId"`
	KnowledgeBaseID string    `json:"knowledgeBaseId"`
	Priority        int       `json:"priority"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Plugin struct {
	ID          string       `json:"id"`
	AuthorID    string       `json:"authorId"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Version     string       `json:"version"`
	Schema      string       `json:"schema"`
	Code        string       `json:"-"`
	Status      PluginStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type PluginSubscription struct {
	UserID    string    `json:"userId"`
	PluginID  string    `json:"pluginId"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

type Character struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Persona   string    `json:"persona"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ConversationMember struct {
	MemberType SenderType `json:"memberType"`
	MemberID   string     `json:"memberId"`
}

type Conversation struct {
	ID                 string               `json:"id"`
	OwnerID            string               `json:"ownerId"`
	IsGroup            bool                 `json:"isGroup"`
	Members            []ConversationMember `json:"members"`
	LastMessagePreview string               `json:"lastMessagePreview,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one typed element of a message body. Message content is
// always a sequence of parts, never a bare string.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"imageUrl,omitempty"`
}

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderType     SenderType    `json:"senderType"`
	SenderID       string        `json:"senderId"`
	Parts          []ContentPart `json:"parts"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Text concatenates the textual parts of a message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// ValidateSender enforces the sender union: a known sender type with a
// non-empty id.
func (m Message) ValidateSender() error {
	if m.SenderID == "" {
		return ErrInvalidSender
	}
	switch m.SenderType {
	case SenderUser, SenderCharacter:
		return nil
	}
	return ErrInvalidSender
}
