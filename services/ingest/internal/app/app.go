package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"charachat/internal/util"
	"charachat/pkg/ai"
	"charachat/pkg/domain"
	"charachat/pkg/storage"
	"charachat/pkg/store"
)

const defaultPollInterval = 3 * time.Second

// WakeQueue publishes and consumes ingestion wake-ups. The file row in the
// store is the job state; the queue only shortens the latency between
// registration and the first claim attempt.
type WakeQueue interface {
	Enqueue(ctx context.Context, fileID string) error
	Start(ctx context.Context, concurrency int, handler func(context.Context, string) error)
}

// Config holds runtime configuration.
type Config struct {
	DatabaseURL  string
	EmbeddingDim int
	Store        store.Store
	Objects      storage.ObjectStore
	Embedder     ai.Embedder
	Queue        WakeQueue
	ChunkSize    int
	ChunkOverlap int
	PollInterval time.Duration
	Concurrency  int
}

// App runs the ingestion pipeline: it registers uploaded files and drives
// claimed files through parse, chunk, embed and the atomic chunk insert.
type App struct {
	store        store.Store
	objects      storage.ObjectStore
	embedder     ai.Embedder
	queue        WakeQueue
	parser       *Parser
	chunker      *Chunker
	pollInterval time.Duration
	concurrency  int
}

// New constructs the ingest service.
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
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &App{
		store:        dataStore,
		objects:      cfg.Objects,
		embedder:     cfg.Embedder,
		queue:        cfg.Queue,
		parser:       NewParser(),
		chunker:      NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		pollInterval: pollInterval,
		concurrency:  concurrency,
	}, nil
}

// RegisterFile stores the uploaded bytes, creates the pending file row and
// wakes a worker. The returned file is always pending; parsing happens
// asynchronously.
func (a *App) RegisterFile(ctx context.Context, kbID, name, contentType string, data []byte) (domain.KnowledgeFile, error) {
	kbID = strings.TrimSpace(kbID)
	if kbID == "" {
		return domain.KnowledgeFile{}, fmt.Errorf("knowledgeBaseId required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.KnowledgeFile{}, fmt.Errorf("file name required")
	}
	if len(data) == 0 {
		return domain.KnowledgeFile{}, fmt.Errorf("file content required")
	}
	if _, ok, err := a.store.GetKnowledgeBase(kbID); err != nil {
		return domain.KnowledgeFile{}, fmt.Errorf("load knowledge base: %w", err)
	} else if !ok {
		return domain.KnowledgeFile{}, domain.ErrNotFound
	}

	now := time.Now().UTC()
	file := domain.KnowledgeFile{
		ID:              util.NewID(),
		KnowledgeBaseID: kbID,
		Name:            name,
		SizeBytes:       int64(len(data)),
		ContentType:     contentType,
		Status:          domain.FilePending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	file.StorageKey = kbID + "/" + file.ID + strings.ToLower(filepath.Ext(name))
	if err := a.objects.Put(ctx, file.StorageKey, bytes.NewReader(data), file.SizeBytes, contentType); err != nil {
		return domain.KnowledgeFile{}, fmt.Errorf("store upload: %w", err)
	}
	if err := a.store.CreateFile(file); err != nil {
		return domain.KnowledgeFile{}, fmt.Errorf("create file record: %w", err)
	}
	a.wake(ctx, file.ID)
	return file, nil
}

// Reingest moves a failed file back to pending and wakes a worker. Returns
// false when the file does not exist or is not failed.
func (a *App) Reingest(ctx context.Context, fileID string) (bool, error) {
	ok, err := a.store.ResetFileForIngest(fileID)
	if err != nil || !ok {
		return false, err
	}
	a.wake(ctx, fileID)
	return true, nil
}

// GetFile returns a file by id.
func (a *App) GetFile(id string) (domain.KnowledgeFile, bool, error) {
	return a.store.GetFile(id)
}

// ListFiles returns the files of a knowledge base, oldest first.
func (a *App) ListFiles(kbID string) ([]domain.KnowledgeFile, error) {
	return a.store.ListFilesByKnowledgeBase(kbID)
}

// DeleteKnowledgeBase removes the base with all files and chunks, then
// cleans the stored blobs best-effort in the background.
func (a *App) DeleteKnowledgeBase(id string) error {
	if _, ok, err := a.store.GetKnowledgeBase(id); err != nil {
		return err
	} else if !ok {
		return domain.ErrNotFound
	}
	if err := a.store.DeleteKnowledgeBase(id); err != nil {
		return fmt.Errorf("delete knowledge base: %w", err)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := a.objects.DeletePrefix(ctx, id+"/"); err != nil {
			slog.Warn("blob cleanup failed", "knowledge_base_id", id, "err", err)
		}
	}()
	return nil
}

// Start launches the queue consumers and the polling fallback. Wake-ups cut
// pickup latency; the poller guarantees progress when wake-ups are lost.
func (a *App) Start(ctx context.Context) {
	if a.queue != nil {
		a.queue.Start(ctx, a.concurrency, a.handleWake)
	}
	go a.pollLoop(ctx)
}

func (a *App) wake(ctx context.Context, fileID string) {
	if a.queue == nil {
		return
	}
	if err := a.queue.Enqueue(ctx, fileID); err != nil {
		// the poller will pick the file up
		slog.Warn("enqueue wake-up failed", "file_id", fileID, "err", err)
	}
}

// handleWake processes one wake-up. Losing the claim means another worker
// owns the file, so the message is simply consumed.
func (a *App) handleWake(ctx context.Context, fileID string) error {
	file, claimed, err := a.store.ClaimFile(fileID)
	if err != nil {
		slog.Error("claim file failed", "file_id", fileID, "err", err)
		return nil
	}
	if !claimed {
		return nil
	}
	a.process(ctx, file)
	return nil
}

func (a *App) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			file, claimed, err := a.store.ClaimNextPendingFile()
			if err != nil {
				slog.Error("claim next pending file failed", "err", err)
				break
			}
			if !claimed {
				break
			}
			a.process(ctx, file)
		}
	}
}

// process runs one claimed file to a terminal state. Every failure path
// records the error verbatim on the file row.
func (a *App) process(ctx context.Context, file domain.KnowledgeFile) {
	started := time.Now()
	chunkCount, err := a.ingest(ctx, file)
	if err != nil {
		slog.Warn("ingestion failed", "file_id", file.ID, "name", file.Name, "err", err)
		if markErr := a.store.MarkFileFailed(file.ID, err.Error()); markErr != nil {
			slog.Error("mark file failed errored", "file_id", file.ID, "err", markErr)
		}
		return
	}
	if err := a.store.MarkFileCompleted(file.ID, chunkCount); err != nil {
		slog.Error("mark file completed errored", "file_id", file.ID, "err", err)
		return
	}
	slog.Info("file ingested", "file_id", file.ID, "name", file.Name,
		"chunks", chunkCount, "elapsed", time.Since(started).String())
}

func (a *App) ingest(ctx context.Context, file domain.KnowledgeFile) (int, error) {
	data, err := a.objects.Get(ctx, file.StorageKey)
	if err != nil {
		return 0, fmt.Errorf("download file: %w", err)
	}
	blocks, err := a.parser.Parse(data, file.ContentType, file.Name)
	if err != nil {
		return 0, err
	}

	type pendingChunk struct {
		text string
		meta map[string]string
	}
	var pending []pendingChunk
	for _, block := range blocks {
		parts, err := a.chunker.Split(block.Text)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyContent) {
				continue
			}
			return 0, err
		}
		for _, part := range parts {
			meta := map[string]string{"source": file.Name}
			for k, v := range block.Metadata {
				meta[k] = v
			}
			pending = append(pending, pendingChunk{text: part, meta: meta})
		}
	}
	if len(pending) == 0 {
		return 0, domain.ErrEmptyContent
	}

	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = p.text
	}
	embeddings, err := a.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(embeddings) != len(pending) {
		return 0, fmt.Errorf("%w: embedding count mismatch: got %d, want %d",
			domain.ErrEmbeddingProvider, len(embeddings), len(pending))
	}

	now := time.Now().UTC()
	chunks := make([]domain.Chunk, len(pending))
	for i, p := range pending {
		p.meta["chunk_index"] = strconv.Itoa(i)
		p.meta["chunk_total"] = strconv.Itoa(len(pending))
		chunks[i] = domain.Chunk{
			ID:              util.NewID(),
			KnowledgeBaseID: file.KnowledgeBaseID,
			FileID:          file.ID,
			Content:         p.text,
			Metadata:        p.meta,
			Embedding:       embeddings[i],
			CreatedAt:       now,
		}
	}
	if err := a.store.InsertChunks(file.ID, chunks); err != nil {
		return 0, fmt.Errorf("%w: insert chunks: %v", domain.ErrStore, err)
	}
	return len(chunks), nil
}
