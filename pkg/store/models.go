package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type KnowledgeBaseModel struct {
	ID         string `gorm:"primaryKey"`
	OwnerID    string `gorm:"not null;index"`
	Name       string `gorm:"not null"`
	Visibility string `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}

type KnowledgeFileModel struct {
	ID              string `gorm:"primaryKey"`
	KnowledgeBaseID string `gorm:"not null;index"`
	StorageKey      string `gorm:"not null"`
	Name            string `gorm:"not null"`
	SizeBytes       int64  `gorm:"not null"`
	ContentType     string
	Status          string `gorm:"not null;index"`
	ErrorMessage    string
	ChunkCount      int       `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"not null;index"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type ChunkModel struct {
	ID              string           `gorm:"primaryKey"`
	KnowledgeBaseID string           `gorm:"not null;index"`
	FileID          *string          `gorm:"index"`
	Content         string           `gorm:"type:text;not null"`
	Metadata        datatypes.JSON   `gorm:"type:jsonb"`
	Embedding       *pgvector.Vector `gorm:"type:vector(1024)"`
	CreatedAt       time.Time        `gorm:"not null;index"`
}

type KnowledgeSubscriptionModel struct {
	CharacterID     string    `gorm:"primaryKey"`
	KnowledgeBaseID string    `gorm:"primaryKey;index"`
	Priority        int       `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"not null"`
}

type PluginModel struct {
	ID          string `gorm:"primaryKey"`
	AuthorID    string `gorm:"not null;index"`
	Name        string `gorm:"not null"`
	Description string
	Version     string
	Schema      string `gorm:"type:text"`
	Code        string `gorm:"type:text;not null"`
	Status      string `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

type PluginSubscriptionModel struct {
	UserID    string    `gorm:"primaryKey"`
	PluginID  string    `gorm:"primaryKey;index"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
}

type CharacterModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Persona   string `gorm:"type:text"`
	Origin    string `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type ConversationModel struct {
	ID                 string `gorm:"primaryKey"`
	OwnerID            string `gorm:"not null;index"`
	IsGroup            bool   `gorm:"not null;default:false"`
	LastMessagePreview string
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

type ConversationMemberModel struct {
	ConversationID string    `gorm:"primaryKey;index"`
	MemberType     string    `gorm:"primaryKey"`
	MemberID       string    `gorm:"primaryKey"`
	CreatedAt      time.Time `gorm:"not null"`
}

// MessageModel stores the sender as a tagged pair; a check constraint added
// at migration time rejects rows whose tag is not exactly user or character.
type MessageModel struct {
	ID             string         `gorm:"primaryKey"`
	ConversationID string         `gorm:"not null;index"`
	SenderType     string         `gorm:"not null"`
	SenderID       string         `gorm:"not null"`
	Parts          datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time      `gorm:"not null;index"`
}
