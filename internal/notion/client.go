// Package notion adapts a Notion database into the remote task store.
package notion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/starford/todosync/internal/apperr"
	"github.com/starford/todosync/internal/ident"
	"github.com/starford/todosync/internal/models"
)

// FallbackTag tags records when neither a project tag nor a workspace root is known.
const FallbackTag = "vscode"

// Property names of the tasks database.
const (
	PropName     = "Name"
	PropFileName = "File Name"
	PropFilePath = "File Path"
	PropPosition = "Position"
	PropStatus   = "Status"
	PropTags     = "Tags"

	DefaultCheckboxProperty = "VS Code Todo"
)

// CustomProperty is an operator-defined classification applied to every write.
type CustomProperty struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

func (c CustomProperty) set() bool {
	return c.Name != "" && c.Value != ""
}

// Config configures the adapter.
type Config struct {
	APIKey            string
	DatabaseID        string
	ProjectTag        string
	CheckboxProperty  string
	ExcludeCompleted  bool
	RequestTimeout    time.Duration
	CustomSelect      CustomProperty
	CustomMultiSelect CustomProperty
}

type databaseQuerier interface {
	Query(ctx context.Context, id notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

type pageWriter interface {
	Create(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	Update(ctx context.Context, id notionapi.PageID, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// Client reads and writes task records.
type Client struct {
	cfg    Config
	db     databaseQuerier
	pages  pageWriter
	logger *slog.Logger
}

// New creates a Client talking to the Notion API.
func New(cfg Config, logger *slog.Logger, opts ...notionapi.ClientOption) *Client {
	api := notionapi.NewClient(notionapi.Token(cfg.APIKey), opts...)
	return newClient(cfg, api.Database, api.Page, logger)
}

func newClient(cfg Config, db databaseQuerier, pages pageWriter, logger *slog.Logger) *Client {
	if cfg.CheckboxProperty == "" {
		cfg.CheckboxProperty = DefaultCheckboxProperty
	}
	if cfg.ProjectTag == "" {
		cfg.ProjectTag = FallbackTag
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, db: db, pages: pages, logger: logger}
}

// ProjectTag returns the tag scoping this workspace's records.
func (c *Client) ProjectTag() string {
	return c.cfg.ProjectTag
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// Query returns every open record of this project keyed by normalized id.
func (c *Client) Query(ctx context.Context) (map[string]models.ToDo, error) {
	if c.cfg.DatabaseID == "" {
		return nil, fmt.Errorf("%w: no Notion database id given", apperr.ErrConfiguration)
	}

	out := make(map[string]models.ToDo)
	req := &notionapi.DatabaseQueryRequest{Filter: c.filter()}
	for {
		qctx, cancel := c.withTimeout(ctx)
		res, err := c.db.Query(qctx, notionapi.DatabaseID(c.cfg.DatabaseID), req)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrRemoteQuery, err)
		}
		for _, page := range res.Results {
			td, err := pageToToDo(page)
			if err != nil {
				c.logger.Warn("notion: skipping record", slog.String("page_id", string(page.ID)), slog.String("error", err.Error()))
				continue
			}
			out[td.ExternalID] = td
		}
		if !res.HasMore || res.NextCursor == "" {
			break
		}
		req.StartCursor = res.NextCursor
	}

	c.logger.Debug("notion: queried", slog.Int("records", len(out)))
	return out, nil
}

func (c *Client) filter() notionapi.Filter {
	and := notionapi.AndCompoundFilter{
		notionapi.PropertyFilter{
			Property: c.cfg.CheckboxProperty,
			Checkbox: &notionapi.CheckboxFilterCondition{Equals: true},
		},
		notionapi.PropertyFilter{
			Property:    PropTags,
			MultiSelect: &notionapi.MultiSelectFilterCondition{Contains: c.cfg.ProjectTag},
		},
	}
	if c.cfg.ExcludeCompleted {
		and = append(and, notionapi.PropertyFilter{
			Property: PropStatus,
			Select:   &notionapi.SelectFilterCondition{DoesNotEqual: string(models.StatusCompleted)},
		})
	}
	return and
}

// Create inserts a new record and returns its normalized id and URL.
func (c *Client) Create(ctx context.Context, td models.ToDo) (string, string, error) {
	if c.cfg.DatabaseID == "" {
		return "", "", fmt.Errorf("%w: no Notion database id given", apperr.ErrConfiguration)
	}

	props := c.properties(td)
	props[PropStatus] = selectProperty(string(models.StatusNotStarted))

	cctx, cancel := c.withTimeout(ctx)
	defer cancel()
	page, err := c.pages.Create(cctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(c.cfg.DatabaseID),
		},
		Properties: props,
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: create %q: %w", apperr.ErrRemoteWrite, td.Text, err)
	}

	id, err := ident.Normalize(string(page.ID))
	if err != nil {
		return "", "", fmt.Errorf("%w: created page has unusable id: %w", apperr.ErrRemoteWrite, err)
	}
	c.logger.Info("notion: created", slog.String("id", id), slog.String("text", td.Text))
	return id, page.URL, nil
}

// Update overwrites the record's fields with td. An empty id is a no-op.
func (c *Client) Update(ctx context.Context, id string, td models.ToDo) error {
	if id == "" {
		return nil
	}
	props := c.properties(td)
	if td.Status != models.StatusNone {
		props[PropStatus] = selectProperty(string(td.Status))
	}
	if err := c.update(ctx, id, props); err != nil {
		return err
	}
	c.logger.Info("notion: updated", slog.String("id", id), slog.String("text", td.Text))
	return nil
}

// MarkCompleted sets only the status of the record to Completed.
func (c *Client) MarkCompleted(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	props := notionapi.Properties{PropStatus: selectProperty(string(models.StatusCompleted))}
	if err := c.update(ctx, id, props); err != nil {
		return err
	}
	c.logger.Info("notion: completed", slog.String("id", id))
	return nil
}

func (c *Client) update(ctx context.Context, id string, props notionapi.Properties) error {
	uctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.pages.Update(uctx, notionapi.PageID(id), &notionapi.PageUpdateRequest{Properties: props}); err != nil {
		return fmt.Errorf("%w: update %s: %w", apperr.ErrRemoteWrite, id, err)
	}
	return nil
}

// properties builds the fields shared by create and update.
func (c *Client) properties(td models.ToDo) notionapi.Properties {
	props := notionapi.Properties{
		PropName:     notionapi.TitleProperty{Title: richText(td.Text)},
		PropFileName: notionapi.RichTextProperty{RichText: richText(td.Source.Filename)},
		PropFilePath: notionapi.RichTextProperty{RichText: richText(td.Source.RelativePath)},
		PropPosition: notionapi.RichTextProperty{RichText: richText(td.Span.String())},

		c.cfg.CheckboxProperty: notionapi.CheckboxProperty{Checkbox: true},
		PropTags:               notionapi.MultiSelectProperty{MultiSelect: []notionapi.Option{{Name: c.cfg.ProjectTag}}},
	}
	if cs := c.cfg.CustomSelect; cs.set() {
		props[cs.Name] = selectProperty(cs.Value)
	}
	if cm := c.cfg.CustomMultiSelect; cm.set() {
		props[cm.Name] = notionapi.MultiSelectProperty{MultiSelect: []notionapi.Option{{Name: cm.Value}}}
	}
	return props
}

func selectProperty(name string) notionapi.SelectProperty {
	return notionapi.SelectProperty{Select: notionapi.Option{Name: name}}
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{{
		Text:      &notionapi.Text{Content: s},
		PlainText: s,
	}}
}

var errNoTitle = errors.New("record has no title")

// pageToToDo maps a database record onto the entity shape used locally.
func pageToToDo(page notionapi.Page) (models.ToDo, error) {
	id, err := ident.Normalize(string(page.ID))
	if err != nil {
		return models.ToDo{}, err
	}
	title := plainText(page.Properties[PropName])
	if title == "" {
		return models.ToDo{}, errNoTitle
	}

	td := models.ToDo{
		Text: title,
		Source: models.SourceFile{
			Filename:     plainText(page.Properties[PropFileName]),
			RelativePath: plainText(page.Properties[PropFilePath]),
		},
		LastChanged:  page.LastEditedTime,
		Status:       models.ParseStatus(selectName(page.Properties[PropStatus])),
		ExternalID:   id,
		ExternalLink: page.URL,
	}
	if span, err := models.ParseSpan(plainText(page.Properties[PropPosition])); err == nil {
		td.Span = span
	}
	return td, nil
}

func plainText(p notionapi.Property) string {
	var rts []notionapi.RichText
	switch v := p.(type) {
	case *notionapi.TitleProperty:
		rts = v.Title
	case notionapi.TitleProperty:
		rts = v.Title
	case *notionapi.RichTextProperty:
		rts = v.RichText
	case notionapi.RichTextProperty:
		rts = v.RichText
	}
	var b strings.Builder
	for _, rt := range rts {
		switch {
		case rt.PlainText != "":
			b.WriteString(rt.PlainText)
		case rt.Text != nil:
			b.WriteString(rt.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

func selectName(p notionapi.Property) string {
	switch v := p.(type) {
	case *notionapi.SelectProperty:
		return v.Select.Name
	case notionapi.SelectProperty:
		return v.Select.Name
	}
	return ""
}
