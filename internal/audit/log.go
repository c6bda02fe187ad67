package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medgate.org/internal/ids"
	"medgate.org/internal/obs"
)

// Action tags for privileged operations.
const (
	ActionSelfDeleteAccount      = "self_delete_account"
	ActionPrivilegedSignIn       = "privileged_sign_in"
	ActionPrivilegedSignInFailed = "privileged_sign_in_failed"
	TargetTypeUser               = "user"
	TargetTypeGlobalID           = "global_id"
)

// Entry is an append-only record of a privileged action.
type Entry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Detail     map[string]any `json:"detail"`
	RequestID  string         `json:"request_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Store persists audit entries. Append must set OccurredAt from the store's
// clock and must never update an existing entry.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Log writes audit entries to a durable store.
type Log struct {
	store Store
}

// NewLog constructs a Log backed by store.
func NewLog(store Store) (*Log, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	return &Log{store: store}, nil
}

// Record appends entry and returns it as stored. The structured audit line
// is only emitted once the append succeeded.
func (l *Log) Record(ctx context.Context, entry Entry) (Entry, error) {
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.Action == "" {
		return Entry{}, errors.New("audit: action is required")
	}
	if entry.TargetType == "" || entry.TargetID == "" {
		return Entry{}, errors.New("audit: target is required")
	}
	entry.ID = ids.New()
	entry.RequestID = requestIDFromContext(ctx)
	detail := make(map[string]any, len(entry.Detail))
	for k, v := range entry.Detail {
		detail[k] = v
	}
	entry.Detail = detail

	if err := l.store.Append(ctx, &entry); err != nil {
		return Entry{}, fmt.Errorf("audit: append %s: %w", entry.Action, err)
	}

	obs.Logger().Info().
		Str("type", "audit").
		Str("event", entry.Action).
		Str("audit_id", entry.ID).
		Str("request_id", entry.RequestID).
		Str("actor_id", entry.ActorID).
		Str("target_type", entry.TargetType).
		Str("target_id", entry.TargetID).
		Fields(map[string]any{"fields": entry.Detail}).
		Msg("audit")
	return entry, nil
}
