package messages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/citizenweb/kraken/am"
	"github.com/citizenweb/kraken/errors"
	"github.com/citizenweb/kraken/jobs"
	"github.com/citizenweb/kraken/storage/storagetest"
)

func TestSendStandalone(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	n := New(LevelInfo, "Certificates", "Certificate installed")
	n.Title = "Done"
	require.NoError(t, Send(ctx, store, n))
	require.Len(t, n.ID, 16)
	assert.Equal(t, n.ID, n.MessageID)
	assert.True(t, n.Complete)

	got, err := GetNotification(ctx, store, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, LevelInfo, got.Level)
	assert.Equal(t, "Certificates", got.Component)
	assert.Equal(t, "Certificate installed", got.Message)
	assert.Equal(t, "Done", got.Title)
	assert.True(t, got.Complete)
	assert.WithinDuration(t, time.Now(), got.Time, time.Minute)
}

func TestSendPublishes(t *testing.T) {
	store := storagetest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := store.Subscribe(ctx, Channel)
	require.NoError(t, err)

	require.NoError(t, Send(ctx, store, New(LevelSuccess, "Backups", "Backup finished")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, Channel, msg.Channel)
		assert.Contains(t, msg.Payload, `"level":"success"`)
	case <-time.After(time.Second):
		t.Fatal("notification not published")
	}
}

func TestThreadKeepsChronologicalHistory(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	thread := NewThread(store)
	require.NoError(t, thread.Update(ctx, New(LevelInfo, "Websites", "Downloading")))
	require.NoError(t, thread.Update(ctx, New(LevelInfo, "Websites", "Installing")))
	require.NoError(t, thread.Complete(ctx, New(LevelSuccess, "Websites", "Site created")))

	events, err := GetThread(ctx, store, thread.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "Downloading", events[0].Message)
	assert.Equal(t, "Installing", events[1].Message)
	assert.Equal(t, "Site created", events[2].Message)
	assert.False(t, events[0].Complete)
	assert.False(t, events[1].Complete)
	assert.True(t, events[2].Complete)
	for _, e := range events {
		assert.Equal(t, thread.ID, e.ID)
		assert.Len(t, e.MessageID, 10)
	}

	last, err := Latest(ctx, store, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, events[2].MessageID, last.MessageID)
}

func TestThreadMirrorsIntoJob(t *testing.T) {
	store := storagetest.New()
	runner := jobs.NewRunner(store, am.JobsConfig{}, zap.NewNop().Sugar())
	runner.Start(context.Background())
	defer runner.Stop()

	done := make(chan struct{})
	id, err := runner.Submit(context.Background(), func(ctx context.Context, job *jobs.Job) error {
		defer close(done)
		thread := NewThread(store).WithJob(job)
		n := New(LevelInfo, "Websites", "Configuring database")
		n.Class = "info"
		n.Title = "Creating site"
		return thread.Update(ctx, n)
	})
	require.NoError(t, err)
	<-done

	require.Eventually(t, func() bool {
		all, err := store.GetAll(context.Background(), jobs.KeyPrefix+id)
		return err == nil && all["message"] == "Configuring database"
	}, time.Second, 5*time.Millisecond)

	all, err := store.GetAll(context.Background(), jobs.KeyPrefix+id)
	require.NoError(t, err)
	assert.Equal(t, "info", all["class"])
	assert.Equal(t, "Creating site", all["title"])
}

func TestListReturnsLatestPerID(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	older := New(LevelInfo, "System", "Reboot scheduled")
	older.Time = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, Send(ctx, store, older))

	thread := NewThread(store)
	require.NoError(t, thread.Update(ctx, New(LevelInfo, "Updates", "Checking")))
	require.NoError(t, thread.Complete(ctx, New(LevelSuccess, "Updates", "Up to date")))

	list, err := List(ctx, store)
	require.NoError(t, err)
	require.Len(t, list, 2)

	// Time ascending: the backdated standalone event first, then the
	// thread represented only by its latest event.
	assert.Equal(t, older.ID, list[0].ID)
	assert.Equal(t, thread.ID, list[1].ID)
	assert.Equal(t, "Up to date", list[1].Message)
}

func TestDeleteThreadRemovesMembers(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	thread := NewThread(store)
	require.NoError(t, thread.Update(ctx, New(LevelInfo, "Apps", "Working")))
	require.NoError(t, thread.Complete(ctx, New(LevelSuccess, "Apps", "Installed")))

	require.NoError(t, Delete(ctx, store, thread.ID))

	_, err := GetThread(ctx, store, thread.ID)
	assert.True(t, errors.IsNotFound(err))

	keys, err := store.Scan(ctx, "n:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDeleteMissingNotificationIsNotFound(t *testing.T) {
	store := storagetest.New()
	err := Delete(context.Background(), store, "nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteAll(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	require.NoError(t, Send(ctx, store, New(LevelInfo, "A", "one")))
	require.NoError(t, Send(ctx, store, New(LevelInfo, "B", "two")))
	require.NoError(t, DeleteAll(ctx, store))

	list, err := List(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, list)
}
