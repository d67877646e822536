package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"research-notes/internal/middleware"
	"research-notes/internal/models"
	"research-notes/internal/openai"
)

const (
	maxContextChunks  = 5
	maxFallbackChars  = 6000
	maxChatTitleRunes = 60
)

var (
	ErrEmptyQuestion = errors.New("question is required")
	ErrRateLimited   = errors.New("too many assistant requests")
	ErrPageForbidden = errors.New("page is not accessible")
)

// AskRequest is a question about one page. SelectedText narrows the question
// to a passage the user highlighted.
type AskRequest struct {
	PageID       string `json:"page_id"`
	ChatID       string `json:"chat_id,omitempty"`
	Question     string `json:"question"`
	SelectedText string `json:"selected_text,omitempty"`
}

// PageAnswer is the assistant's reply and the chunks it was grounded on
type PageAnswer struct {
	ChatID  string                 `json:"chat_id"`
	Answer  string                 `json:"answer"`
	Sources []*models.SearchResult `json:"sources"`
}

// Assistant answers questions about a page from its embedded chunks and keeps
// the exchange as a chat.
type Assistant struct {
	llm      ChatCompleter
	embedder Embedder
	embRepo  EmbeddingRepository
	pages    PageReader
	chats    ChatRepository
	limiter  *rate.Limiter
	timeout  time.Duration
}

// NewAssistant creates an assistant allowing ratePerMinute questions with a
// small burst; every question is bounded by timeout.
func NewAssistant(llm ChatCompleter, embedder Embedder, embRepo EmbeddingRepository, pages PageReader, chats ChatRepository, ratePerMinute int, timeout time.Duration) *Assistant {
	if ratePerMinute <= 0 {
		ratePerMinute = 20
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Assistant{
		llm:      llm,
		embedder: embedder,
		embRepo:  embRepo,
		pages:    pages,
		chats:    chats,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 3),
		timeout:  timeout,
	}
}

// AskAboutPage retrieves the chunks of the page closest to the question, asks
// the model and stores both turns in the chat, creating it when ChatID is empty.
func (a *Assistant) AskAboutPage(ctx context.Context, userID string, req AskRequest) (*PageAnswer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if !a.limiter.Allow() {
		return nil, ErrRateLimited
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ctx, span := middleware.StartSpan(ctx, "Assistant.AskAboutPage",
		attribute.String("page_id", req.PageID),
		attribute.Int("question_length", len(question)),
	)
	defer span.End()

	page, err := a.pages.GetByID(ctx, req.PageID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to load page: %w", err)
	}
	if page.UserID != userID && !page.IsPublic {
		return nil, ErrPageForbidden
	}

	chat, err := a.openChat(ctx, userID, req.ChatID, page.ID, question)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	query := question
	if sel := strings.TrimSpace(req.SelectedText); sel != "" {
		query = fmt.Sprintf("Text: %s\n\nQuestion: %s", sel, question)
	}
	if _, err := a.chats.CreateMessage(ctx, chat.ID, userID, models.RoleUser, query); err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	sources, err := a.retrieve(ctx, page, query)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	answer, err := a.llm.ChatCompletion(ctx, []openai.ChatMessage{
		{Role: models.RoleSystem, Content: "You are a research assistant. Answer using the provided notes and say so when they do not contain the answer."},
		{Role: models.RoleUser, Content: buildPagePrompt(page, sources, query)},
	})
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}

	if _, err := a.chats.CreateMessage(ctx, chat.ID, userID, models.RoleAssistant, answer); err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}

	middleware.AddSpanEvent(ctx, "answer_stored",
		attribute.Int("context_chunks", len(sources)),
		attribute.Int("answer_length", len(answer)),
	)
	return &PageAnswer{ChatID: chat.ID, Answer: answer, Sources: sources}, nil
}

func (a *Assistant) openChat(ctx context.Context, userID, chatID, pageID, question string) (*models.Chat, error) {
	if chatID != "" {
		return a.chats.GetChat(ctx, userID, chatID)
	}
	return a.chats.CreateChat(ctx, userID, chatTitle(question), &pageID)
}

// retrieve returns the chunks most similar to the query. The page being
// linked means its chunks are stored under the source page.
func (a *Assistant) retrieve(ctx context.Context, page *models.Page, query string) ([]*models.SearchResult, error) {
	pageID := page.ID
	if page.Linked() {
		pageID = *page.LinkedTo
	}

	vectors, err := a.embedder.CreateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	return a.embRepo.SearchPage(ctx, pageID, vectors[0], maxContextChunks)
}

// buildPagePrompt grounds the question on the retrieved chunks, or on the
// start of the page when it has not been embedded yet
func buildPagePrompt(page *models.Page, sources []*models.SearchResult, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Notes from the page %q:\n\n", page.Title)

	if len(sources) == 0 {
		content := page.Content
		if len(content) > maxFallbackChars {
			content = content[:maxFallbackChars]
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	for i, s := range sources {
		fmt.Fprintf(&b, "[Excerpt %d]\n%s\n\n", i+1, s.ChunkText)
	}

	fmt.Fprintf(&b, "\n%s", query)
	return b.String()
}

func chatTitle(question string) string {
	r := []rune(question)
	if len(r) <= maxChatTitleRunes {
		return question
	}
	return string(r[:maxChatTitleRunes]) + "…"
}
