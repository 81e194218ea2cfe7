package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	systemActor     = "system"
)

// TimelineParams is the query shape shared by both timeline reads.
type TimelineParams struct {
	FromAt     pgtype.Timestamptz
	ToAt       pgtype.Timestamptz
	Actor      pgtype.Text
	Entity     pgtype.Text
	Action     pgtype.Text
	OffsetRows int32
	LimitRows  int32
}

// TimelineRecord is a raw audit_logs row joined with the actor's email.
type TimelineRecord struct {
	At       pgtype.Timestamptz
	ActorID  int64
	Actor    pgtype.Text
	Action   string
	Entity   string
	EntityID string
	Meta     []byte
}

// Repository reads audit_logs.
type Repository interface {
	TimelineWindow(ctx context.Context, arg TimelineParams) ([]TimelineRecord, error)
	TimelineAll(ctx context.Context, arg TimelineParams) ([]TimelineRecord, error)
}

// Result wraps one page of the timeline.
type Result struct {
	Rows   []TimelineRow
	Paging PagingInfo
}

// Service reads the audit trail for the admin screens.
type Service struct {
	repo Repository
}

// NewService builds Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of audit entries, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	params := baseParams(filters)
	params.OffsetRows = int32((page - 1) * pageSize)
	params.LimitRows = int32(pageSize + 1)
	records, err := s.repo.TimelineWindow(ctx, params)
	if err != nil {
		return Result{}, fmt.Errorf("audit: timeline: %w", err)
	}
	hasNext := len(records) > pageSize
	if hasNext {
		records = records[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: mapRecords(records), Paging: paging}, nil
}

// Export returns every matching entry without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	records, err := s.repo.TimelineAll(ctx, baseParams(filters))
	if err != nil {
		return nil, fmt.Errorf("audit: export: %w", err)
	}
	return mapRecords(records), nil
}

func baseParams(filters TimelineFilters) TimelineParams {
	params := TimelineParams{
		FromAt: toPgTime(filters.From),
		Actor:  optionalText(filters.Actor),
		Entity: optionalText(filters.Entity),
		Action: optionalText(filters.Action),
	}
	// To is a calendar day and includes the whole day.
	if !filters.To.IsZero() {
		params.ToAt = toPgTime(filters.To.Add(24 * time.Hour))
	}
	return params
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func mapRecords(records []TimelineRecord) []TimelineRow {
	rows := make([]TimelineRow, 0, len(records))
	for _, rec := range records {
		row := TimelineRow{
			ActorID:  rec.ActorID,
			Actor:    systemActor,
			Action:   rec.Action,
			Entity:   rec.Entity,
			EntityID: rec.EntityID,
			Meta:     string(rec.Meta),
		}
		if rec.At.Valid {
			row.At = rec.At.Time
		}
		if rec.Actor.Valid {
			row.Actor = rec.Actor.String
		} else if rec.ActorID != 0 {
			row.Actor = fmt.Sprintf("user #%d", rec.ActorID)
		}
		rows = append(rows, row)
	}
	return rows
}
