package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/this-is-us/civicd/internal/enrich"
	"github.com/this-is-us/civicd/internal/review"
	"github.com/this-is-us/civicd/internal/store"
	"github.com/this-is-us/civicd/internal/textsource"
	"github.com/this-is-us/civicd/internal/worker"
)

// OpsStore is the read surface the ops endpoints need.
type OpsStore interface {
	GetCivicItem(ctx context.Context, id string) (store.CivicItem, bool, error)
	ListVerifications(ctx context.Context, itemID string, caps store.Capabilities) ([]store.VerificationRecord, error)
	ListTopicsForItem(ctx context.Context, itemID string) ([]store.HotTopic, []store.HotTopicLink, error)
	ListSponsors(ctx context.Context, itemID string) ([]store.Sponsor, error)
}

// ReviewRunner reviews a single bill on demand.
type ReviewRunner interface {
	Review(ctx context.Context, itemID string) (review.Outcome, error)
}

// ScanRunner triggers a batch scan on demand.
type ScanRunner interface {
	ScanOnce(ctx context.Context, opts worker.ScanOptions) (worker.ScanReport, error)
}

// TextAcquirer walks the text ladder for a bill.
type TextAcquirer interface {
	Acquire(ctx context.Context, item store.CivicItem) textsource.Text
}

// OpenTagger runs open-vocabulary topic extraction.
type OpenTagger interface {
	TagOpenVocab(ctx context.Context, item store.CivicItem, text string) ([]enrich.OpenTag, error)
}

// OpsHandler exposes the internal operations API.
type OpsHandler struct {
	Store    OpsStore
	Caps     store.Capabilities
	Pipeline ReviewRunner
	Scanner  ScanRunner
	Ladder   TextAcquirer
	Tagger   OpenTagger
}

// Register mounts the ops routes on the group.
func (h *OpsHandler) Register(g *echo.Group) {
	g.POST("/scan", h.scan)
	g.POST("/review/:id", h.reviewOne)
	g.GET("/bills/:id/verification", h.verification)
	g.POST("/bills/:id/topics/open", h.openTopics)
	g.GET("/prompts/citizen", h.citizenPrompt)
}

type scanRequest struct {
	Sources []string `json:"sources"`
	Session string   `json:"session"`
	Force   bool     `json:"force"`
	Limit   int      `json:"limit"`
}

func (h *OpsHandler) scan(c echo.Context) error {
	var req scanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scan request")
	}
	report, err := h.Scanner.ScanOnce(c.Request().Context(), worker.ScanOptions{
		Sources: req.Sources,
		Session: req.Session,
		Force:   req.Force,
		Limit:   req.Limit,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

type reviewResponse struct {
	ItemID           string   `json:"item_id"`
	Status           string   `json:"status"`
	TextSource       string   `json:"text_source"`
	StructuralIssues []string `json:"structural_issues,omitempty"`
	AIIssues         []string `json:"ai_issues,omitempty"`
	Confidence       float64  `json:"confidence"`
	Summary          string   `json:"summary,omitempty"`
	SummaryNote      string   `json:"summary_note,omitempty"`
	Topics           []string `json:"topics,omitempty"`
}

func (h *OpsHandler) reviewOne(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing bill id")
	}
	outcome, err := h.Pipeline.Review(c.Request().Context(), id)
	if err != nil {
		return err
	}

	resp := reviewResponse{
		ItemID:           outcome.ItemID,
		Status:           outcome.Status,
		TextSource:       outcome.TextSource,
		StructuralIssues: outcome.StructuralIssues,
		AIIssues:         outcome.AIIssues,
		Confidence:       outcome.Confidence,
		Summary:          outcome.Summary.PlainSummary,
		SummaryNote:      outcome.Summary.Note,
	}
	for _, a := range outcome.Topics.Assigned {
		resp.Topics = append(resp.Topics, a.Slug)
	}
	return c.JSON(http.StatusOK, resp)
}

type verificationResponse struct {
	ItemID     string               `json:"item_id"`
	BillNumber string               `json:"bill_number"`
	Session    string               `json:"session"`
	Title      string               `json:"title"`
	Status     string               `json:"status"`
	Summary    string               `json:"summary,omitempty"`
	AINotice   string               `json:"ai_notice,omitempty"`
	Checks     []verificationCheck  `json:"checks"`
	Topics     []verificationTopic  `json:"topics,omitempty"`
	Sponsors   []store.Sponsor      `json:"sponsors,omitempty"`
	ScannedAt  *time.Time           `json:"last_scanned_at,omitempty"`
}

type verificationCheck struct {
	CheckType         string    `json:"check_type"`
	Status            string    `json:"status"`
	StatusReason      string    `json:"status_reason,omitempty"`
	Issues            []string  `json:"issues,omitempty"`
	Confidence        float64   `json:"confidence"`
	IsWyoming         *bool     `json:"is_wyoming,omitempty"`
	HasSummary        *bool     `json:"has_summary,omitempty"`
	HasWyomingSponsor *bool     `json:"has_wyoming_sponsor,omitempty"`
	StructuralOK      *bool     `json:"structural_ok,omitempty"`
	CheckedAt         time.Time `json:"checked_at"`
}

func nullBoolPtr(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	return &b.Bool
}

type verificationTopic struct {
	Slug       string  `json:"slug"`
	Label      string  `json:"label"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
	Snippet    string  `json:"trigger_snippet,omitempty"`
}

func (h *OpsHandler) verification(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	item, ok, err := h.Store.GetCivicItem(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}

	resp := verificationResponse{
		ItemID:     item.ID,
		BillNumber: item.BillNumber,
		Session:    item.Session,
		Title:      item.Title,
		Status:     item.Status,
		Summary:    item.AISummary,
		ScannedAt:  item.LastScannedAt,
	}
	if item.AISummary != "" {
		resp.AINotice = enrich.SummaryNotice(item.AIGeneratedAt)
	}

	if h.Caps.VerificationTable {
		recs, err := h.Store.ListVerifications(ctx, id, h.Caps)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			resp.Checks = append(resp.Checks, verificationCheck{
				CheckType:         rec.CheckType,
				Status:            rec.Status,
				StatusReason:      rec.StatusReason,
				Issues:            rec.Issues,
				Confidence:        rec.Confidence,
				IsWyoming:         nullBoolPtr(rec.IsWyoming),
				HasSummary:        nullBoolPtr(rec.HasSummary),
				HasWyomingSponsor: nullBoolPtr(rec.HasWyomingSponsor),
				StructuralOK:      nullBoolPtr(rec.StructuralOK),
				CheckedAt:         rec.CheckedAt,
			})
		}
	}

	if h.Caps.HotTopicsTables {
		topics, links, err := h.Store.ListTopicsForItem(ctx, id)
		if err != nil {
			return err
		}
		byID := make(map[string]store.HotTopic, len(topics))
		for _, t := range topics {
			byID[t.ID] = t
		}
		for _, link := range links {
			t := byID[link.TopicID]
			resp.Topics = append(resp.Topics, verificationTopic{
				Slug:       t.Slug,
				Label:      t.Label,
				Method:     link.Method,
				Confidence: link.Confidence,
				Snippet:    link.TriggerSnippet,
			})
		}
	}

	if h.Caps.SponsorsTable {
		sponsors, err := h.Store.ListSponsors(ctx, id)
		if err != nil {
			return err
		}
		resp.Sponsors = sponsors
	}

	return c.JSON(http.StatusOK, resp)
}

type openTopicsResponse struct {
	ItemID     string           `json:"item_id"`
	TextSource string           `json:"text_source"`
	Tags       []enrich.OpenTag `json:"tags"`
}

func (h *OpsHandler) openTopics(c echo.Context) error {
	if h.Tagger == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "topic tables unavailable")
	}
	ctx := c.Request().Context()
	id := c.Param("id")

	item, ok, err := h.Store.GetCivicItem(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "bill not found")
	}

	text := h.Ladder.Acquire(ctx, item)
	if text.Content == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no text available for tagging")
	}

	tags, err := h.Tagger.TagOpenVocab(ctx, item, text.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, openTopicsResponse{ItemID: item.ID, TextSource: text.Source, Tags: tags})
}

func (h *OpsHandler) citizenPrompt(c echo.Context) error {
	bill := c.QueryParam("bill")
	topic := c.QueryParam("topic")
	if bill == "" || topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "bill and topic query params are required")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"prompt": enrich.BuildCitizenPrompt(bill, topic),
	})
}
