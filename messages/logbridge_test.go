package messages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/citizenweb/kraken/storage/storagetest"
)

func TestBridgeWrapsPlainEntries(t *testing.T) {
	store := storagetest.New()
	logger := zap.New(NewBridgeCore(store, zapcore.InfoLevel))

	logger.Error("disk almost full")

	list, err := List(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, list, 1)

	n := list[0]
	assert.Equal(t, "Unknown", n.Component)
	assert.Equal(t, "runtime", n.Class)
	assert.Equal(t, LevelError, n.Level)
	assert.Equal(t, "disk almost full", n.Message)
	assert.True(t, n.Complete)
	assert.Len(t, n.ID, 16)
}

func TestBridgeSendsAttachedNotification(t *testing.T) {
	store := storagetest.New()
	logger := zap.New(NewBridgeCore(store, zapcore.InfoLevel))

	n := New(LevelSuccess, "Certificates", "Certificate renewed")
	n.Title = "Renewed"
	logger.Info(n.Message, Field(n))

	list, err := List(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, LevelSuccess, got.Level)
	assert.Equal(t, "Certificates", got.Component)
	assert.Equal(t, "Renewed", got.Title)
	assert.Len(t, got.ID, 16)
}

func TestBridgeHonorsWith(t *testing.T) {
	store := storagetest.New()
	logger := zap.New(NewBridgeCore(store, zapcore.InfoLevel))

	n := New(LevelWarning, "Security", "Firewall rule missing")
	logger.With(Field(n)).Warn(n.Message)

	list, err := List(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, LevelWarning, list[0].Level)
	assert.Equal(t, "Security", list[0].Component)
}

func TestBridgeFiltersBelowLevel(t *testing.T) {
	store := storagetest.New()
	logger := zap.New(NewBridgeCore(store, zapcore.InfoLevel))

	logger.Debug("noisy internals")

	list, err := List(context.Background(), store)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBridgeLeavesAttachedValueUntouched(t *testing.T) {
	store := storagetest.New()
	logger := zap.New(NewBridgeCore(store, zapcore.InfoLevel))

	n := New(LevelInfo, "Backups", "Backup finished")
	logger.Info(n.Message, Field(n))
	logger.Info(n.Message, Field(n))

	// The caller's value is never rewritten, so each log call is its own
	// event.
	assert.Empty(t, n.ID)
	assert.True(t, n.Time.IsZero())

	list, err := List(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.NotEqual(t, list[0].ID, list[1].ID)
}

func TestBridgeOneNotificationPerEntry(t *testing.T) {
	store := storagetest.New()
	logger := zap.New(NewBridgeCore(store, zapcore.InfoLevel))

	logger.Info("first")
	logger.Info("second")

	list, err := List(context.Background(), store)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
