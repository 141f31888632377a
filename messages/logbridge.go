package messages

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/citizenweb/kraken/storage"
)

// FieldKey marks a zap field carrying a *Notification payload for the
// bridge core.
const FieldKey = "notification"

// Field attaches a notification to a log call so the bridge persists and
// publishes it verbatim:
//
//	logger.With(messages.Field(n)).Info(n.Message)
func Field(n *Notification) zap.Field {
	return zap.Any(FieldKey, n)
}

// BridgeCore is a zap core that turns log entries into notifications. It is
// meant to be teed alongside the normal output cores: entries carrying a
// notification field are stored and published as-is, plain entries are
// wrapped as complete runtime notifications. Store failures are swallowed;
// logging must never fail because the store is down.
type BridgeCore struct {
	zapcore.LevelEnabler
	store storage.Store
}

// NewBridgeCore creates a bridge sending entries at or above level.
func NewBridgeCore(store storage.Store, level zapcore.LevelEnabler) *BridgeCore {
	return &BridgeCore{
		LevelEnabler: level,
		store:        store,
	}
}

// With implements zapcore.Core. The bridge keeps no field state; fields are
// inspected per entry in Write.
func (c *BridgeCore) With(fields []zapcore.Field) zapcore.Core {
	for _, f := range fields {
		if f.Key == FieldKey {
			if n, ok := f.Interface.(*Notification); ok {
				return &boundCore{BridgeCore: c, notification: n}
			}
		}
	}
	return c
}

// Check implements zapcore.Core.
func (c *BridgeCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

// Write implements zapcore.Core.
func (c *BridgeCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if !c.Enabled(entry.Level) {
		return nil
	}
	c.emit(entry, notificationFromFields(fields))
	return nil
}

// Sync implements zapcore.Core. Writes are not buffered.
func (c *BridgeCore) Sync() error { return nil }

func (c *BridgeCore) emit(entry zapcore.Entry, attached *Notification) {
	var n Notification
	if attached != nil {
		// Work on a copy: the caller keeps its value, free of the defaults
		// filled in below, and may log it again.
		n = *attached
	} else {
		n = Notification{
			Component: "Unknown",
			Class:     "runtime",
			Message:   entry.Message,
			Complete:  true,
		}
	}
	if n.Level == "" {
		n.Level = levelFor(entry.Level)
	}
	if n.Time.IsZero() {
		n.Time = entry.Time.UTC()
	}
	if n.ID == "" {
		n.ID = randomID(idLength)
	}
	if n.MessageID == "" {
		n.MessageID = n.ID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = persist(ctx, c.store, &n)
}

// boundCore carries a notification attached via With through to Write.
type boundCore struct {
	*BridgeCore
	notification *Notification
}

func (c *boundCore) With(fields []zapcore.Field) zapcore.Core {
	if n := notificationFromFields(fields); n != nil {
		return &boundCore{BridgeCore: c.BridgeCore, notification: n}
	}
	return c
}

func (c *boundCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *boundCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if !c.Enabled(entry.Level) {
		return nil
	}
	n := notificationFromFields(fields)
	if n == nil {
		n = c.notification
	}
	c.emit(entry, n)
	return nil
}

func notificationFromFields(fields []zapcore.Field) *Notification {
	for _, f := range fields {
		if f.Key != FieldKey {
			continue
		}
		if n, ok := f.Interface.(*Notification); ok {
			return n
		}
	}
	return nil
}

func levelFor(l zapcore.Level) Level {
	switch {
	case l <= zapcore.DebugLevel:
		return LevelDebug
	case l == zapcore.InfoLevel:
		return LevelInfo
	case l == zapcore.WarnLevel:
		return LevelWarning
	default:
		return LevelError
	}
}
