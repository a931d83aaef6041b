package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"charachat/pkg/domain"
	"charachat/pkg/storage"
	"charachat/pkg/store"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

type insertFailStore struct {
	*store.MemoryStore
}

func (s *insertFailStore) InsertChunks(string, []domain.Chunk) error {
	return errors.New("connection reset")
}

func newTestApp(t *testing.T, dataStore store.Store, embedder *fakeEmbedder) *App {
	t.Helper()
	a, err := New(Config{
		Store:        dataStore,
		Objects:      storage.NewMemoryObjectStore(),
		Embedder:     embedder,
		ChunkSize:    100,
		ChunkOverlap: 20,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func seedKB(t *testing.T, st store.Store) {
	t.Helper()
	if err := st.CreateKnowledgeBase(domain.KnowledgeBase{ID: "kb1", Name: "lore"}); err != nil {
		t.Fatalf("CreateKnowledgeBase: %v", err)
	}
}

func TestRegisterAndIngestFile(t *testing.T) {
	st := store.NewMemoryStore()
	seedKB(t, st)
	a := newTestApp(t, st, &fakeEmbedder{})
	ctx := context.Background()

	text := strings.Repeat("the dragon sleeps beneath the mountain. ", 20)
	file, err := a.RegisterFile(ctx, "kb1", "lore.txt", "text/plain", []byte(text))
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	if file.Status != domain.FilePending {
		t.Fatalf("registered file should be pending, got %s", file.Status)
	}

	if err := a.handleWake(ctx, file.ID); err != nil {
		t.Fatalf("handleWake: %v", err)
	}
	got, ok, err := st.GetFile(file.ID)
	if err != nil || !ok {
		t.Fatalf("GetFile: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.FileCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.ChunkCount == 0 {
		t.Fatalf("completed file should record its chunk count")
	}
	count, err := st.CountChunksByFile(file.ID)
	if err != nil {
		t.Fatalf("CountChunksByFile: %v", err)
	}
	if count != got.ChunkCount {
		t.Fatalf("chunk count mismatch: recorded %d, stored %d", got.ChunkCount, count)
	}
}

func TestRegisterFileUnknownKnowledgeBase(t *testing.T) {
	a := newTestApp(t, store.NewMemoryStore(), &fakeEmbedder{})
	_, err := a.RegisterFile(context.Background(), "missing", "x.txt", "text/plain", []byte("hi"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIngestUnsupportedFormatMarksFailed(t *testing.T) {
	st := store.NewMemoryStore()
	seedKB(t, st)
	a := newTestApp(t, st, &fakeEmbedder{})
	ctx := context.Background()

	file, err := a.RegisterFile(ctx, "kb1", "slides.pptx", "", []byte("binary"))
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	if err := a.handleWake(ctx, file.ID); err != nil {
		t.Fatalf("handleWake: %v", err)
	}
	got, _, _ := st.GetFile(file.ID)
	if got.Status != domain.FileFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatalf("failed file should carry the error message")
	}
}

func TestIngestEmbedderFailureMarksFailed(t *testing.T) {
	st := store.NewMemoryStore()
	seedKB(t, st)
	a := newTestApp(t, st, &fakeEmbedder{err: domain.ErrEmbeddingProvider})
	ctx := context.Background()

	file, err := a.RegisterFile(ctx, "kb1", "lore.txt", "text/plain", []byte("some text"))
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	if err := a.handleWake(ctx, file.ID); err != nil {
		t.Fatalf("handleWake: %v", err)
	}
	got, _, _ := st.GetFile(file.ID)
	if got.Status != domain.FileFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	count, _ := st.CountChunksByFile(file.ID)
	if count != 0 {
		t.Fatalf("no chunks should exist after an embedding failure, got %d", count)
	}
}

func TestIngestInsertFailureLeavesNoChunks(t *testing.T) {
	st := &insertFailStore{MemoryStore: store.NewMemoryStore()}
	seedKB(t, st)
	a := newTestApp(t, st, &fakeEmbedder{})
	ctx := context.Background()

	file, err := a.RegisterFile(ctx, "kb1", "lore.txt", "text/plain", []byte("some text"))
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	if err := a.handleWake(ctx, file.ID); err != nil {
		t.Fatalf("handleWake: %v", err)
	}
	got, _, _ := st.GetFile(file.ID)
	if got.Status != domain.FileFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "connection reset") {
		t.Fatalf("error message should carry the store failure: %q", got.ErrorMessage)
	}
	count, _ := st.CountChunksByFile(file.ID)
	if count != 0 {
		t.Fatalf("insert must be all-or-nothing, found %d chunks", count)
	}
}

func TestWakeLosesClaimToConcurrentWorker(t *testing.T) {
	st := store.NewMemoryStore()
	seedKB(t, st)
	emb := &fakeEmbedder{}
	a := newTestApp(t, st, emb)
	ctx := context.Background()

	file, err := a.RegisterFile(ctx, "kb1", "lore.txt", "text/plain", []byte("some text"))
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	// another worker claimed the file already
	if _, claimed, err := st.ClaimFile(file.ID); err != nil || !claimed {
		t.Fatalf("seed claim failed: claimed=%v err=%v", claimed, err)
	}
	if err := a.handleWake(ctx, file.ID); err != nil {
		t.Fatalf("handleWake: %v", err)
	}
	if emb.calls != 0 {
		t.Fatalf("losing the claim must not process the file")
	}
	got, _, _ := st.GetFile(file.ID)
	if got.Status != domain.FileProcessing {
		t.Fatalf("file should stay with the claiming worker, got %s", got.Status)
	}
}

func TestReingest(t *testing.T) {
	st := store.NewMemoryStore()
	seedKB(t, st)
	a := newTestApp(t, st, &fakeEmbedder{})
	ctx := context.Background()

	file, err := a.RegisterFile(ctx, "kb1", "slides.pptx", "", []byte("binary"))
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}

	// pending files cannot be reingested
	if ok, err := a.Reingest(ctx, file.ID); err != nil || ok {
		t.Fatalf("pending reingest: ok=%v err=%v", ok, err)
	}

	if err := a.handleWake(ctx, file.ID); err != nil {
		t.Fatalf("handleWake: %v", err)
	}
	if ok, err := a.Reingest(ctx, file.ID); err != nil || !ok {
		t.Fatalf("failed reingest: ok=%v err=%v", ok, err)
	}
	got, _, _ := st.GetFile(file.ID)
	if got.Status != domain.FilePending {
		t.Fatalf("reingested file should be pending, got %s", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("reingest should clear the error message")
	}
}

func TestDeleteKnowledgeBaseCascades(t *testing.T) {
	st := store.NewMemoryStore()
	seedKB(t, st)
	a := newTestApp(t, st, &fakeEmbedder{})
	ctx := context.Background()

	file, err := a.RegisterFile(ctx, "kb1", "lore.txt", "text/plain", []byte("the dragon sleeps"))
	if err != nil {
		t.Fatalf("RegisterFile: %v", err)
	}
	if err := a.handleWake(ctx, file.ID); err != nil {
		t.Fatalf("handleWake: %v", err)
	}
	if err := a.DeleteKnowledgeBase("kb1"); err != nil {
		t.Fatalf("DeleteKnowledgeBase: %v", err)
	}
	if _, ok, _ := st.GetFile(file.ID); ok {
		t.Fatalf("files should be deleted with their knowledge base")
	}
	count, _ := st.CountChunksByFile(file.ID)
	if count != 0 {
		t.Fatalf("chunks should be deleted with their knowledge base")
	}
	if err := a.DeleteKnowledgeBase("kb1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete should report ErrNotFound, got %v", err)
	}
}
