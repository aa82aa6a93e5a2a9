// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dalemusser/coedit/internal/app/store/audit"
	"github.com/dalemusser/coedit/internal/app/system/ratelimit"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Destinations for a category of events.
const (
	ModeAll = "all" // MongoDB + zap
	ModeDB  = "db"
	ModeLog = "log"
	ModeOff = "off"
)

// Config holds audit logging configuration.
type Config struct {
	// Access covers grants, revocations and denied manage attempts.
	Access string
	// Content covers creation, archival, renames and saved versions.
	Content string
}

// ValidMode reports whether s is a known destination.
func ValidMode(s string) bool {
	switch s {
	case ModeAll, ModeDB, ModeLog, ModeOff:
		return true
	}
	return false
}

// Logger records audit events to MongoDB (via audit.Store) and to structured
// logs (via zap). A nil *Logger is a no-op.
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	return &Logger{store: store, zapLog: zapLog, config: config}
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.String("content_id", event.ContentID.Hex()),
		zap.String("actor_id", event.ActorID),
		zap.Bool("success", event.Success),
	}
	if event.SubjectID != "" {
		fields = append(fields, zap.String("subject_id", event.SubjectID))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records an audit event according to its category's mode. Unknown
// categories go everywhere.
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}

	var setting string
	switch event.Category {
	case audit.CategoryAccess:
		setting = l.config.Access
	case audit.CategoryContent:
		setting = l.config.Content
	default:
		setting = ModeAll
	}
	if setting == "" {
		setting = ModeAll
	}
	if setting == ModeOff {
		return
	}

	if setting == ModeAll || setting == ModeLog {
		l.logToZap(event)
	}
	if (setting == ModeAll || setting == ModeDB) && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType))
		}
	}
}

// subject renders a grant target; nil is the all-users grant.
func subject(userID *string) string {
	if userID == nil {
		return "all"
	}
	return *userID
}

// --- Access Events ---

// PermissionGranted logs a role being set on a content item.
func (l *Logger) PermissionGranted(ctx context.Context, r *http.Request, contentID primitive.ObjectID, actorID string, userID *string, role string) {
	l.Log(ctx, audit.Event{
		ContentID: contentID,
		Category:  audit.CategoryAccess,
		EventType: audit.EventPermissionGranted,
		ActorID:   actorID,
		SubjectID: subject(userID),
		IP:        ratelimit.ClientIP(r),
		Success:   true,
		Details:   map[string]string{"role": role},
	})
}

// PermissionRevoked logs a grant being removed.
func (l *Logger) PermissionRevoked(ctx context.Context, r *http.Request, contentID primitive.ObjectID, actorID string, userID *string) {
	l.Log(ctx, audit.Event{
		ContentID: contentID,
		Category:  audit.CategoryAccess,
		EventType: audit.EventPermissionRevoked,
		ActorID:   actorID,
		SubjectID: subject(userID),
		IP:        ratelimit.ClientIP(r),
		Success:   true,
	})
}

// AccessDenied logs a refused attempt to manage access.
func (l *Logger) AccessDenied(ctx context.Context, r *http.Request, contentID primitive.ObjectID, actorID, action string) {
	l.Log(ctx, audit.Event{
		ContentID:     contentID,
		Category:      audit.CategoryAccess,
		EventType:     audit.EventAccessDenied,
		ActorID:       actorID,
		IP:            ratelimit.ClientIP(r),
		Success:       false,
		FailureReason: "not permitted",
		Details:       map[string]string{"action": action},
	})
}

// --- Content Events ---

// ContentCreated logs a new content item.
func (l *Logger) ContentCreated(ctx context.Context, r *http.Request, contentID primitive.ObjectID, actorID, title string) {
	l.Log(ctx, audit.Event{
		ContentID: contentID,
		Category:  audit.CategoryContent,
		EventType: audit.EventContentCreated,
		ActorID:   actorID,
		IP:        ratelimit.ClientIP(r),
		Success:   true,
		Details:   map[string]string{"title": title},
	})
}

// ContentArchived logs a content item being archived.
func (l *Logger) ContentArchived(ctx context.Context, r *http.Request, contentID primitive.ObjectID, actorID string) {
	l.Log(ctx, audit.Event{
		ContentID: contentID,
		Category:  audit.CategoryContent,
		EventType: audit.EventContentArchived,
		ActorID:   actorID,
		IP:        ratelimit.ClientIP(r),
		Success:   true,
	})
}

// TitleChanged logs a rename.
func (l *Logger) TitleChanged(ctx context.Context, r *http.Request, contentID primitive.ObjectID, actorID, title string) {
	l.Log(ctx, audit.Event{
		ContentID: contentID,
		Category:  audit.CategoryContent,
		EventType: audit.EventTitleChanged,
		ActorID:   actorID,
		IP:        ratelimit.ClientIP(r),
		Success:   true,
		Details:   map[string]string{"title": title},
	})
}

// VersionSaved logs an explicit save. saved is false when the save was a
// no-op because the latest snapshot already matched.
func (l *Logger) VersionSaved(ctx context.Context, r *http.Request, contentID primitive.ObjectID, actorID string, version int64, saved bool) {
	l.Log(ctx, audit.Event{
		ContentID: contentID,
		Category:  audit.CategoryContent,
		EventType: audit.EventVersionSaved,
		ActorID:   actorID,
		IP:        ratelimit.ClientIP(r),
		Success:   true,
		Details: map[string]string{
			"version": strconv.FormatInt(version, 10),
			"saved":   strconv.FormatBool(saved),
		},
	})
}
