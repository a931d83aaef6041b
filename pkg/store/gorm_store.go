package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"charachat/internal/util"
	"charachat/pkg/domain"
)

const migrateLockID int64 = 84118411

const (
	defaultEmbeddingDim      = 1024
	canonicalEmbeddingDimEnv = "CHARACHAT_EMBEDDING_DIM"
)

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres with pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim, err := resolveEmbeddingDim(opts.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(
			&KnowledgeBaseModel{},
			&KnowledgeFileModel{},
			&ChunkModel{},
			&KnowledgeSubscriptionModel{},
			&PluginModel{},
			&PluginSubscriptionModel{},
			&CharacterModel{},
			&ConversationModel{},
			&ConversationMemberModel{},
			&MessageModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'chunk_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := ensureConstraints(tx); err != nil {
			return err
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func ensureConstraints(tx *gorm.DB) error {
	type fk struct {
		table, name, definition string
	}
	fks := []fk{
		{"knowledge_file_models", "knowledge_file_models_kb_fkey",
			"FOREIGN KEY (knowledge_base_id) REFERENCES knowledge_base_models(id) ON DELETE CASCADE"},
		{"chunk_models", "chunk_models_kb_fkey",
			"FOREIGN KEY (knowledge_base_id) REFERENCES knowledge_base_models(id) ON DELETE CASCADE"},
		{"chunk_models", "chunk_models_file_fkey",
			"FOREIGN KEY (file_id) REFERENCES knowledge_file_models(id) ON DELETE CASCADE"},
		{"knowledge_subscription_models", "knowledge_subscription_models_kb_fkey",
			"FOREIGN KEY (knowledge_base_id) REFERENCES knowledge_base_models(id) ON DELETE CASCADE"},
		{"conversation_member_models", "conversation_member_models_conversation_fkey",
			"FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE"},
		{"message_models", "message_models_conversation_fkey",
			"FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE"},
	}
	for _, c := range fks {
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = '%s'
				AND constraint_name = '%s'
			) THEN
				ALTER TABLE %s ADD CONSTRAINT %s %s;
			END IF;
			END $$;
		`, c.table, c.name, c.table, c.name, c.definition)).Error; err != nil {
			return fmt.Errorf("ensure constraint %s: %w", c.name, err)
		}
	}
	// Sender union: exactly one known sender tag with a non-empty id.
	if err := tx.Exec(`
		DO $$
		BEGIN
		IF NOT EXISTS (
			SELECT 1 FROM information_schema.table_constraints
			WHERE table_schema = 'public'
			AND table_name = 'message_models'
			AND constraint_name = 'message_models_sender_check'
		) THEN
			ALTER TABLE message_models
			ADD CONSTRAINT message_models_sender_check
			CHECK (sender_type IN ('user', 'character') AND sender_id <> '');
		END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure sender check: %w", err)
	}
	return nil
}

func resolveEmbeddingDim(configValue int) (int, error) {
	if configValue > 0 {
		return configValue, nil
	}
	raw := strings.TrimSpace(os.Getenv(canonicalEmbeddingDimEnv))
	if raw == "" {
		return defaultEmbeddingDim, nil
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", canonicalEmbeddingDimEnv, raw)
	}
	return dim, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateKnowledgeBase inserts or updates a knowledge base.
func (s *GormStore) CreateKnowledgeBase(kb domain.KnowledgeBase) error {
	model := knowledgeBaseToModel(kb)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "visibility", "updated_at"}),
	}).Create(&model).Error
}

// GetKnowledgeBase returns a knowledge base by ID.
func (s *GormStore) GetKnowledgeBase(id string) (domain.KnowledgeBase, bool, error) {
	var model KnowledgeBaseModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.KnowledgeBase{}, false, nil
		}
		return domain.KnowledgeBase{}, false, err
	}
	return knowledgeBaseFromModel(model), true, nil
}

// DeleteKnowledgeBase removes the base; files, chunks and subscriptions go
// with it in the same transaction.
func (s *GormStore) DeleteKnowledgeBase(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "knowledge_base_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&KnowledgeFileModel{}, "knowledge_base_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&KnowledgeSubscriptionModel{}, "knowledge_base_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&KnowledgeBaseModel{}, "id = ?", id).Error
	})
}

// CreateFile registers an uploaded file.
func (s *GormStore) CreateFile(f domain.KnowledgeFile) error {
	model := fileToModel(f)
	return s.db.Create(&model).Error
}

// GetFile returns a file by ID.
func (s *GormStore) GetFile(id string) (domain.KnowledgeFile, bool, error) {
	var model KnowledgeFileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.KnowledgeFile{}, false, nil
		}
		return domain.KnowledgeFile{}, false, err
	}
	return fileFromModel(model), true, nil
}

// ListFilesByKnowledgeBase returns files ordered oldest-first.
func (s *GormStore) ListFilesByKnowledgeBase(kbID string) ([]domain.KnowledgeFile, error) {
	var models []KnowledgeFileModel
	if err := s.db.Where("knowledge_base_id = ?", kbID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	files := make([]domain.KnowledgeFile, 0, len(models))
	for _, model := range models {
		files = append(files, fileFromModel(model))
	}
	return files, nil
}

// ClaimNextPendingFile claims the oldest pending file with a single
// conditional update. SKIP LOCKED keeps concurrent workers from blocking on
// the same row; at most one claimer observes the pending row.
func (s *GormStore) ClaimNextPendingFile() (domain.KnowledgeFile, bool, error) {
	var model KnowledgeFileModel
	res := s.db.Raw(`
		UPDATE knowledge_file_models
		SET status = ?, error_message = '', updated_at = ?
		WHERE id = (
			SELECT id FROM knowledge_file_models
			WHERE status = ?
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, string(domain.FileProcessing), time.Now().UTC(), string(domain.FilePending)).Scan(&model)
	if res.Error != nil {
		return domain.KnowledgeFile{}, false, res.Error
	}
	if res.RowsAffected == 0 || model.ID == "" {
		return domain.KnowledgeFile{}, false, nil
	}
	return fileFromModel(model), true, nil
}

// ClaimFile claims one specific file if it is still pending.
func (s *GormStore) ClaimFile(id string) (domain.KnowledgeFile, bool, error) {
	res := s.db.Model(&KnowledgeFileModel{}).
		Where("id = ? AND status = ?", id, string(domain.FilePending)).
		Updates(map[string]any{
			"status":        string(domain.FileProcessing),
			"error_message": "",
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.KnowledgeFile{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.KnowledgeFile{}, false, nil
	}
	file, ok, err := s.GetFile(id)
	if err != nil || !ok {
		return domain.KnowledgeFile{}, false, err
	}
	return file, true, nil
}

// MarkFileCompleted records the terminal completed state and chunk count.
func (s *GormStore) MarkFileCompleted(id string, chunkCount int) error {
	return s.db.Model(&KnowledgeFileModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":        string(domain.FileCompleted),
		"error_message": "",
		"chunk_count":   chunkCount,
		"updated_at":    time.Now().UTC(),
	}).Error
}

// MarkFileFailed records the terminal failed state with the error verbatim.
func (s *GormStore) MarkFileFailed(id string, errMsg string) error {
	return s.db.Model(&KnowledgeFileModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":        string(domain.FileFailed),
		"error_message": errMsg,
		"updated_at":    time.Now().UTC(),
	}).Error
}

// ResetFileForIngest moves a failed file back to pending.
func (s *GormStore) ResetFileForIngest(id string) (bool, error) {
	res := s.db.Model(&KnowledgeFileModel{}).
		Where("id = ? AND status = ?", id, string(domain.FileFailed)).
		Updates(map[string]any{
			"status":        string(domain.FilePending),
			"error_message": "",
			"chunk_count":   0,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// InsertChunks replaces all chunks for a file in one transaction.
func (s *GormStore) InsertChunks(fileID string, chunks []domain.Chunk) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "file_id = ?", fileID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			if err := s.validateEmbeddingDim(chunk.Embedding); err != nil {
				return err
			}
			model, err := chunkToModel(chunk)
			if err != nil {
				return err
			}
			fid := fileID
			model.FileID = &fid
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// CountChunksByFile returns the number of persisted chunks for a file.
func (s *GormStore) CountChunksByFile(fileID string) (int, error) {
	var count int64
	if err := s.db.Model(&ChunkModel{}).Where("file_id = ?", fileID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

type scoredChunkRow struct {
	ID              string
	KnowledgeBaseID string
	FileID          *string
	Content         string
	Metadata        []byte
	CreatedAt       time.Time
	Similarity      float64
}

// SearchChunks ranks chunks by cosine similarity, strictly above threshold.
func (s *GormStore) SearchChunks(kbIDs []string, embedding []float32, threshold float64, limit int) ([]domain.ScoredChunk, error) {
	if limit <= 0 || len(kbIDs) == 0 {
		return []domain.ScoredChunk{}, nil
	}
	if err := s.validateEmbeddingDim(embedding); err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	var rows []scoredChunkRow
	if err := s.db.Raw(`
		SELECT id, knowledge_base_id, file_id, content, metadata, created_at,
			1 - (embedding <=> ?) AS similarity
		FROM chunk_models
		WHERE knowledge_base_id IN ? AND embedding IS NOT NULL
			AND 1 - (embedding <=> ?) > ?
		ORDER BY similarity DESC, id ASC
		LIMIT ?
	`, vec, kbIDs, vec, threshold, limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.ScoredChunk, 0, len(rows))
	for _, row := range rows {
		meta := map[string]string{}
		if len(row.Metadata) > 0 {
			_ = json.Unmarshal(row.Metadata, &meta)
		}
		chunk := domain.Chunk{
			ID:              row.ID,
			KnowledgeBaseID: row.KnowledgeBaseID,
			Content:         row.Content,
			Metadata:        meta,
			CreatedAt:       row.CreatedAt,
		}
		if row.FileID != nil {
			chunk.FileID = *row.FileID
		}
		out = append(out, domain.ScoredChunk{Chunk: chunk, Similarity: row.Similarity})
	}
	return out, nil
}

// SaveCharacter inserts or updates a character profile.
func (s *GormStore) SaveCharacter(c domain.Character) error {
	model := characterToModel(c)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "persona", "origin", "updated_at"}),
	}).Create(&model).Error
}

// GetCharacter returns a character by ID.
func (s *GormStore) GetCharacter(id string) (domain.Character, bool, error) {
	var model CharacterModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Character{}, false, nil
		}
		return domain.Character{}, false, err
	}
	return characterFromModel(model), true, nil
}

// SaveKnowledgeSubscription inserts or updates a subscription.
func (s *GormStore) SaveKnowledgeSubscription(sub domain.KnowledgeSubscription) error {
	model := KnowledgeSubscriptionModel{
		CharacterID:     sub.CharacterID,
		KnowledgeBaseID: sub.KnowledgeBaseID,
		Priority:        sub.Priority,
		CreatedAt:       sub.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "character_id"}, {Name: "knowledge_base_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"priority"}),
	}).Create(&model).Error
}

// ListKnowledgeSubscriptions returns subscriptions by priority descending.
func (s *GormStore) ListKnowledgeSubscriptions(characterID string) ([]domain.KnowledgeSubscription, error) {
	var models []KnowledgeSubscriptionModel
	if err := s.db.Where("character_id = ?", characterID).
		Order("priority DESC, knowledge_base_id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	subs := make([]domain.KnowledgeSubscription, 0, len(models))
	for _, model := range models {
		subs = append(subs, domain.KnowledgeSubscription{
			CharacterID:     model.CharacterID,
			KnowledgeBaseID: model.KnowledgeBaseID,
			Priority:        model.Priority,
			CreatedAt:       model.CreatedAt,
		})
	}
	return subs, nil
}

// SavePlugin inserts or updates a plugin. Status is stored as given; editing
// an approved plugin does not reset it.
func (s *GormStore) SavePlugin(p domain.Plugin) error {
	model := pluginToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "version", "schema", "code", "status", "updated_at"}),
	}).Create(&model).Error
}

// GetPlugin returns a plugin by ID.
func (s *GormStore) GetPlugin(id string) (domain.Plugin, bool, error) {
	var model PluginModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Plugin{}, false, nil
		}
		return domain.Plugin{}, false, err
	}
	return pluginFromModel(model), true, nil
}

// SavePluginSubscription inserts or updates a plugin subscription.
func (s *GormStore) SavePluginSubscription(sub domain.PluginSubscription) error {
	model := PluginSubscriptionModel{
		UserID:    sub.UserID,
		PluginID:  sub.PluginID,
		IsActive:  sub.IsActive,
		CreatedAt: sub.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "plugin_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_active"}),
	}).Create(&model).Error
}

// ListActivePlugins returns approved plugins with an active subscription.
func (s *GormStore) ListActivePlugins(userID string) ([]domain.Plugin, error) {
	var models []PluginModel
	if err := s.db.
		Joins("JOIN plugin_subscription_models s ON s.plugin_id = plugin_models.id").
		Where("s.user_id = ? AND s.is_active = true AND plugin_models.status = ?", userID, string(domain.PluginApproved)).
		Order("plugin_models.name ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	plugins := make([]domain.Plugin, 0, len(models))
	for _, model := range models {
		plugins = append(plugins, pluginFromModel(model))
	}
	return plugins, nil
}

// EnsurePrivateConversation returns the private chat between user and
// character, creating it on first request. Repeat requests return the same
// conversation.
func (s *GormStore) EnsurePrivateConversation(ownerID, characterID string) (domain.Conversation, error) {
	var model ConversationModel
	err := s.db.Raw(`
		SELECT c.* FROM conversation_models c
		JOIN conversation_member_models mu
			ON mu.conversation_id = c.id AND mu.member_type = 'user' AND mu.member_id = ?
		JOIN conversation_member_models mc
			ON mc.conversation_id = c.id AND mc.member_type = 'character' AND mc.member_id = ?
		WHERE c.owner_id = ? AND c.is_group = false
		ORDER BY c.created_at ASC
		LIMIT 1
	`, ownerID, characterID, ownerID).Scan(&model).Error
	if err != nil {
		return domain.Conversation{}, err
	}
	if model.ID != "" {
		return s.loadConversation(model)
	}

	now := time.Now().UTC()
	model = ConversationModel{
		ID:        util.NewID(),
		OwnerID:   ownerID,
		IsGroup:   false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	members := []ConversationMemberModel{
		{ConversationID: model.ID, MemberType: string(domain.SenderUser), MemberID: ownerID, CreatedAt: now},
		{ConversationID: model.ID, MemberType: string(domain.SenderCharacter), MemberID: characterID, CreatedAt: now},
	}
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Create(&members).Error
	}); err != nil {
		return domain.Conversation{}, err
	}
	return s.loadConversation(model)
}

// GetConversation returns a conversation with its members.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	conv, err := s.loadConversation(model)
	if err != nil {
		return domain.Conversation{}, false, err
	}
	return conv, true, nil
}

func (s *GormStore) loadConversation(model ConversationModel) (domain.Conversation, error) {
	var members []ConversationMemberModel
	if err := s.db.Where("conversation_id = ?", model.ID).
		Order("created_at ASC").Find(&members).Error; err != nil {
		return domain.Conversation{}, err
	}
	conv := conversationFromModel(model)
	for _, m := range members {
		conv.Members = append(conv.Members, domain.ConversationMember{
			MemberType: domain.SenderType(m.MemberType),
			MemberID:   m.MemberID,
		})
	}
	return conv, nil
}

// AppendMessage validates the sender union and appends the message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	if err := msg.ValidateSender(); err != nil {
		return err
	}
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListRecentMessages returns up to limit latest messages, chronological.
func (s *GormStore) ListRecentMessages(conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	var models []MessageModel
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msg, err := messageFromModel(models[i])
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// SetConversationPreview caches the last-message preview for list views.
func (s *GormStore) SetConversationPreview(id string, preview string) error {
	return s.db.Model(&ConversationModel{}).Where("id = ?", id).Updates(map[string]any{
		"last_message_preview": preview,
		"updated_at":           time.Now().UTC(),
	}).Error
}

func (s *GormStore) validateEmbeddingDim(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	return nil
}
