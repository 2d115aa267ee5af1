package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"kpi/internal/platform/querier"
)

const (
	ActionAssignmentCreate = "kpi.assignment.create"
	ActionAssignmentUpdate = "kpi.assignment.update"
	ActionAssignmentDelete = "kpi.assignment.delete"
	ActionMetricCreate     = "kpi.metric.create"
	ActionMetricDeactivate = "kpi.metric.deactivate"
	ActionPeriodTransition = "kpi.period.transition"
	ActionCalculate        = "kpi.calculate"
	ActionCalibrate        = "kpi.calibrate"
)

type Event struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actorId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	RequestID  string          `json:"requestId"`
	IP         string          `json:"ip"`
	CreatedAt  time.Time       `json:"createdAt"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}

// Filter narrows the trail. An Action ending in ".*" matches every action
// under that prefix, e.g. "kpi.assignment.*".
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	ActorUser  string
	Since      time.Time
	Until      time.Time
}

type ListOptions struct {
	IncludeDetails bool
	Limit          int
	Offset         int
}

type Service struct {
	DB querier.Querier
}

func New(db querier.Querier) *Service {
	return &Service{DB: db}
}

func snapshot(label string, v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrapf(err, "audit: encode %s", label)
	}
	return payload, nil
}

func (s *Service) Record(ctx context.Context, tenantID, actorID, action, entityType, entityID, requestID, ip string, before, after any) error {
	beforeJSON, err := snapshot("before", before)
	if err != nil {
		return err
	}
	afterJSON, err := snapshot("after", after)
	if err != nil {
		return err
	}

	if _, err := s.DB.Exec(ctx, `
    INSERT INTO audit_events (tenant_id, actor_user_id, action, entity_type, entity_id, before_json, after_json, request_id, ip)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
  `, tenantID, actorID, action, entityType, entityID, beforeJSON, afterJSON, requestID, ip); err != nil {
		return eris.Wrapf(err, "audit: record %s", action)
	}
	return nil
}

func (s *Service) Count(ctx context.Context, tenantID string, filter Filter) (int, error) {
	where, args := whereClause(tenantID, filter)
	var total int
	if err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM audit_events WHERE "+where, args...).Scan(&total); err != nil {
		return 0, eris.Wrap(err, "audit: count")
	}
	return total, nil
}

const (
	eventColumns  = "id, actor_user_id, action, entity_type, entity_id, request_id, ip, created_at"
	detailColumns = ", before_json, after_json"
)

func (s *Service) List(ctx context.Context, tenantID string, filter Filter, opts ListOptions) ([]Event, error) {
	cols := eventColumns
	if opts.IncludeDetails {
		cols += detailColumns
	}
	where, args := whereClause(tenantID, filter)
	query := fmt.Sprintf("SELECT %s FROM audit_events WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		cols, where, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "audit: list")
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var evt Event
		dest := []any{&evt.ID, &evt.ActorID, &evt.Action, &evt.EntityType, &evt.EntityID, &evt.RequestID, &evt.IP, &evt.CreatedAt}
		if opts.IncludeDetails {
			dest = append(dest, &evt.Before, &evt.After)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "audit: scan event")
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func whereClause(tenantID string, filter Filter) (string, []any) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if prefix, ok := strings.CutSuffix(filter.Action, ".*"); ok {
		add("action LIKE $%d", prefix+".%")
	} else if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.ActorUser != "" {
		add("actor_user_id::text = $%d", filter.ActorUser)
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("created_at < $%d", filter.Until)
	}
	return strings.Join(conds, " AND "), args
}
