package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/pgvector/pgvector-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"

	"research-notes/internal/middleware"
	"research-notes/internal/models"
)

const chunkWords = 500

// ErrQueueFull is returned when the embedding queue has no room
var ErrQueueFull = errors.New("embedding queue is full")

var embeddingJobs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "embedding_jobs_total",
	Help: "Page embedding jobs by result",
}, []string{"result"})

// EmbeddingJob asks for the chunks of a page to be re-embedded
type EmbeddingJob struct {
	PageID string
}

// EmbeddingServiceImpl keeps page embeddings in step with page content using
// a fixed pool of workers fed from a bounded queue.
type EmbeddingServiceImpl struct {
	embedder Embedder
	embRepo  EmbeddingRepository
	pages    PageReader

	jobs    chan EmbeddingJob
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	// page ids waiting in the queue, so repeated saves collapse into one job
	pending map[string]bool
	mu      sync.Mutex
}

// NewEmbeddingService creates the worker pool; Start launches it
func NewEmbeddingService(embedder Embedder, embRepo EmbeddingRepository, pages PageReader, numWorkers, queueSize int) *EmbeddingServiceImpl {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &EmbeddingServiceImpl{
		embedder: embedder,
		embRepo:  embRepo,
		pages:    pages,
		jobs:     make(chan EmbeddingJob, queueSize),
		workers:  numWorkers,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]bool),
	}
}

// Start spawns the workers
func (s *EmbeddingServiceImpl) Start() {
	log.Printf("🔧 Starting embedding worker pool with %d workers", s.workers)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	log.Println("✓ Embedding worker pool started")
}

func (s *EmbeddingServiceImpl) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			log.Printf("  Worker %d shutting down", id)
			return

		case job := <-s.jobs:
			s.mu.Lock()
			delete(s.pending, job.PageID)
			s.mu.Unlock()

			if err := s.processEmbedding(s.ctx, job); err != nil {
				embeddingJobs.WithLabelValues("error").Inc()
				log.Printf("  Worker %d error: %v", id, err)
				continue
			}
			embeddingJobs.WithLabelValues("ok").Inc()
		}
	}
}

// SubmitJob queues a page without blocking. A page that is already queued is
// not queued twice.
func (s *EmbeddingServiceImpl) SubmitJob(job EmbeddingJob) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("service is shutting down")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[job.PageID] {
		return nil
	}

	select {
	case s.jobs <- job:
		s.pending[job.PageID] = true
		return nil
	default:
		embeddingJobs.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// OnSave queues the page when a save touched its content
func (s *EmbeddingServiceImpl) OnSave(userID, pageID string, patch models.DocPatch) {
	if _, ok := patch[models.FieldContent]; !ok {
		return
	}
	if err := s.SubmitJob(EmbeddingJob{PageID: pageID}); err != nil {
		log.Printf("⚠️  Could not queue embeddings for page %s: %v", pageID, err)
	}
}

// processEmbedding re-chunks the current content of the page and replaces its
// stored vectors
func (s *EmbeddingServiceImpl) processEmbedding(ctx context.Context, job EmbeddingJob) error {
	ctx, span := middleware.StartSpan(ctx, "Embedding.Process", attribute.String("page_id", job.PageID))
	defer span.End()

	page, err := s.pages.GetByID(ctx, job.PageID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return fmt.Errorf("failed to load page %s: %w", job.PageID, err)
	}
	if page.Linked() {
		// linked copies are answered from the source page
		return nil
	}

	chunks := chunkText(page.Content, chunkWords)
	embeddings := make([]*models.Embedding, 0, len(chunks))

	if len(chunks) > 0 {
		vectors, err := s.embedder.CreateEmbeddings(ctx, chunks)
		if err != nil {
			middleware.AddSpanError(ctx, err)
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		for i, chunk := range chunks {
			embeddings = append(embeddings, &models.Embedding{
				PageID:     job.PageID,
				ChunkIndex: i,
				ChunkText:  chunk,
				Embedding:  pgvector.NewVector(vectors[i]),
			})
		}
	}

	if err := s.embRepo.ReplaceEmbeddings(ctx, job.PageID, embeddings); err != nil {
		middleware.AddSpanError(ctx, err)
		return err
	}

	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	log.Printf("  Generated %d embeddings for page %s", len(chunks), job.PageID)
	return nil
}

// chunkText splits text into chunks of at most maxWords words
func chunkText(text string, maxWords int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	for i := 0; i < len(words); i += maxWords {
		end := i + maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// Shutdown stops the workers after their current job
func (s *EmbeddingServiceImpl) Shutdown() {
	log.Println("🛑 Shutting down embedding service...")
	s.cancel()
	s.wg.Wait()
	log.Println("✓ Embedding service shutdown complete")
}

// GetQueueLength returns current number of pending jobs
func (s *EmbeddingServiceImpl) GetQueueLength() int {
	return len(s.jobs)
}
