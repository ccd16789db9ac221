package sink

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/jomei/notionapi"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
	"github.com/Coderopp/vc-thesis-scraper/pkg/types"
)

// Notion imposes hard limits on rich text blocks; chunk bodies accordingly.
const (
	notionChunkSize = 1900
	notionMaxBlocks = 10
)

// NotionSink mirrors records into a Notion database. Each article becomes a
// page with theme tags and a content hash used to skip already-synced
// articles on later runs.
type NotionSink struct {
	pages      notionapi.PageService
	databases  notionapi.DatabaseService
	databaseID notionapi.DatabaseID
	logger     *slog.Logger
}

// NewNotionSink builds a sink from configuration.
func NewNotionSink(cfg config.NotionConfig, logger *slog.Logger) *NotionSink {
	if logger == nil {
		logger = slog.Default()
	}
	client := notionapi.NewClient(notionapi.Token(cfg.Token))
	return &NotionSink{
		pages:      client.Page,
		databases:  client.Database,
		databaseID: notionapi.DatabaseID(cfg.DatabaseID),
		logger:     logger,
	}
}

// Name implements Sink.
func (s *NotionSink) Name() string { return "notion" }

// Write implements Sink. A failure on one record does not stop the rest; the
// first error is reported after all records were attempted.
func (s *NotionSink) Write(ctx context.Context, records []types.ArticleRecord) error {
	var firstErr error
	synced, skipped := 0, 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		hash := contentHash(rec.Content)

		exists, err := s.exists(ctx, hash)
		if err != nil {
			s.logger.Warn("notion existence check failed", "url", rec.URL, "error", err)
		} else if exists {
			skipped++
			continue
		}

		if err := s.createPage(ctx, rec, hash); err != nil {
			s.logger.Error("notion page create failed", "url", rec.URL, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		synced++
	}
	s.logger.Info("notion sync finished", "synced", synced, "skipped", skipped)
	return firstErr
}

func (s *NotionSink) exists(ctx context.Context, hash string) (bool, error) {
	resp, err := s.databases.Query(ctx, s.databaseID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Content Hash",
			RichText: &notionapi.TextFilterCondition{Equals: hash},
		},
	})
	if err != nil {
		return false, fmt.Errorf("query by content hash: %w", err)
	}
	return len(resp.Results) > 0, nil
}

func (s *NotionSink) createPage(ctx context.Context, rec types.ArticleRecord, hash string) error {
	title := rec.Title
	if title == "" {
		title = "Untitled"
	}
	title = truncateUTF8(title, 100)

	properties := notionapi.Properties{
		"Title":        notionapi.TitleProperty{Title: richText(title)},
		"VC Firm":      notionapi.SelectProperty{Select: notionapi.Option{Name: rec.Firm}},
		"URL":          notionapi.URLProperty{URL: rec.URL},
		"Content Hash": notionapi.RichTextProperty{RichText: richText(hash)},
		"Status":       notionapi.SelectProperty{Select: notionapi.Option{Name: "New"}},
		"Source":       notionapi.SelectProperty{Select: notionapi.Option{Name: "Auto-Scraped"}},
	}

	themes := DetectThemes(rec.Content)
	options := make([]notionapi.Option, 0, len(themes))
	for _, theme := range themes {
		options = append(options, notionapi.Option{Name: theme})
	}
	properties["Investment Theme"] = notionapi.MultiSelectProperty{MultiSelect: options}

	if company := ExtractCompany(rec.Title, rec.Content); company != "" {
		properties["Company"] = notionapi.RichTextProperty{RichText: richText(company)}
	}

	if rec.Published != "" {
		if t, err := time.Parse("2006-01-02", rec.Published); err == nil {
			start := notionapi.Date(t)
			properties["Date"] = notionapi.DateProperty{Date: &notionapi.DateObject{Start: &start}}
		}
	}

	_, err := s.pages.Create(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: s.databaseID,
		},
		Properties: properties,
		Children:   contentBlocks(rec),
	})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	return nil
}

// contentBlocks renders the body as paragraph blocks, a source link first,
// capped at the Notion block limit.
func contentBlocks(rec types.ArticleRecord) []notionapi.Block {
	blocks := []notionapi.Block{
		paragraph("Source: " + rec.URL),
	}
	content := rec.Content
	for len(content) > 0 && len(blocks) < notionMaxBlocks {
		chunk := truncateUTF8(content, notionChunkSize)
		content = content[len(chunk):]
		blocks = append(blocks, paragraph(chunk))
	}
	return blocks
}

// truncateUTF8 shortens s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func paragraph(text string) notionapi.Block {
	return notionapi.ParagraphBlock{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeParagraph,
		},
		Paragraph: notionapi.Paragraph{RichText: richText(text)},
	}
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{{Text: &notionapi.Text{Content: content}}}
}

func contentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
