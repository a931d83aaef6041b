package store

import (
	"encoding/json"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"

	"charachat/pkg/domain"
)

func knowledgeBaseToModel(kb domain.KnowledgeBase) KnowledgeBaseModel {
	return KnowledgeBaseModel{
		ID:         kb.ID,
		OwnerID:    kb.OwnerID,
		Name:       kb.Name,
		Visibility: string(kb.Visibility),
		CreatedAt:  kb.CreatedAt,
		UpdatedAt:  kb.UpdatedAt,
	}
}

func knowledgeBaseFromModel(m KnowledgeBaseModel) domain.KnowledgeBase {
	return domain.KnowledgeBase{
		ID:         m.ID,
		OwnerID:    m.OwnerID,
		Name:       m.Name,
		Visibility: domain.Visibility(m.Visibility),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func fileToModel(f domain.KnowledgeFile) KnowledgeFileModel {
	return KnowledgeFileModel{
		ID:              f.ID,
		KnowledgeBaseID: f.KnowledgeBaseID,
		StorageKey:      f.StorageKey,
		Name:            f.Name,
		SizeBytes:       f.SizeBytes,
		ContentType:     f.ContentType,
		Status:          string(f.Status),
		ErrorMessage:    f.ErrorMessage,
		ChunkCount:      f.ChunkCount,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
}

func fileFromModel(m KnowledgeFileModel) domain.KnowledgeFile {
	return domain.KnowledgeFile{
		ID:              m.ID,
		KnowledgeBaseID: m.KnowledgeBaseID,
		StorageKey:      m.StorageKey,
		Name:            m.Name,
		SizeBytes:       m.SizeBytes,
		ContentType:     m.ContentType,
		Status:          domain.FileStatus(m.Status),
		ErrorMessage:    m.ErrorMessage,
		ChunkCount:      m.ChunkCount,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func chunkToModel(chunk domain.Chunk) (ChunkModel, error) {
	meta, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return ChunkModel{}, err
	}
	model := ChunkModel{
		ID:              chunk.ID,
		KnowledgeBaseID: chunk.KnowledgeBaseID,
		Content:         chunk.Content,
		Metadata:        datatypes.JSON(meta),
		CreatedAt:       chunk.CreatedAt,
	}
	if chunk.FileID != "" {
		fid := chunk.FileID
		model.FileID = &fid
	}
	if len(chunk.Embedding) > 0 {
		vec := pgvector.NewVector(chunk.Embedding)
		model.Embedding = &vec
	}
	return model, nil
}

func characterToModel(c domain.Character) CharacterModel {
	return CharacterModel{
		ID:        c.ID,
		Name:      c.Name,
		Persona:   c.Persona,
		Origin:    c.Origin,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func characterFromModel(m CharacterModel) domain.Character {
	return domain.Character{
		ID:        m.ID,
		Name:      m.Name,
		Persona:   m.Persona,
		Origin:    m.Origin,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func pluginToModel(p domain.Plugin) PluginModel {
	return PluginModel{
		ID:          p.ID,
		AuthorID:    p.AuthorID,
		Name:        p.Name,
		Description: p.Description,
		Version:     p.Version,
		Schema:      p.Schema,
		Code:        p.Code,
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func pluginFromModel(m PluginModel) domain.Plugin {
	return domain.Plugin{
		ID:          m.ID,
		AuthorID:    m.AuthorID,
		Name:        m.Name,
		Description: m.Description,
		Version:     m.Version,
		Schema:      m.Schema,
		Code:        m.Code,
		Status:      domain.PluginStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:                 m.ID,
		OwnerID:            m.OwnerID,
		IsGroup:            m.IsGroup,
		LastMessagePreview: m.LastMessagePreview,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return MessageModel{}, err
	}
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderType:     string(msg.SenderType),
		SenderID:       msg.SenderID,
		Parts:          datatypes.JSON(parts),
		CreatedAt:      msg.CreatedAt,
	}, nil
}

func messageFromModel(m MessageModel) (domain.Message, error) {
	var parts []domain.ContentPart
	if len(m.Parts) > 0 {
		if err := json.Unmarshal(m.Parts, &parts); err != nil {
			return domain.Message{}, err
		}
	}
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderType:     domain.SenderType(m.SenderType),
		SenderID:       m.SenderID,
		Parts:          parts,
		CreatedAt:      m.CreatedAt,
	}, nil
}
