package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	contracts "mailpilot/contracts/mq"
	"mailpilot/internal/model"
	"mailpilot/internal/repository"
)

type fakeScheduledStore struct {
	due           []model.ScheduledAction
	published     []int64
	publishFailed []int64
}

func (f *fakeScheduledStore) ListDue(ctx context.Context, limit int) ([]model.ScheduledAction, error) {
	return f.due, nil
}

func (f *fakeScheduledStore) MarkPublished(ctx context.Context, id int64) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeScheduledStore) MarkPublishFailed(ctx context.Context, id int64) error {
	f.publishFailed = append(f.publishFailed, id)
	return nil
}

type fakeDigestStore struct {
	windows []repository.DigestWindow
}

func (f *fakeDigestStore) ListClosedWindows(ctx context.Context, cutoff time.Time) ([]repository.DigestWindow, error) {
	return f.windows, nil
}

type publishedEvent struct {
	routingKey string
	payload    any
}

type fakePublisher struct {
	events  []publishedEvent
	failKey string
}

func (f *fakePublisher) Publish(routingKey string, payload any) error {
	if routingKey == f.failKey {
		return errors.New("broker unavailable")
	}
	f.events = append(f.events, publishedEvent{routingKey, payload})
	return nil
}

func TestDispatchDueActions(t *testing.T) {
	store := &fakeScheduledStore{due: []model.ScheduledAction{
		{ID: 1, AccountID: 42, ExecutedActionID: 10, MessageID: "m1", ThreadID: "t1"},
		{ID: 2, AccountID: 42, ExecutedActionID: 11, MessageID: "m2", ThreadID: "t2"},
	}}
	pub := &fakePublisher{}
	o := NewOrchestrator(store, &fakeDigestStore{}, pub, time.Hour, zap.NewNop())

	require.NoError(t, o.DispatchDueActions(context.Background()))

	require.Len(t, pub.events, 2)
	assert.Equal(t, "action.due", pub.events[0].routingKey)
	payload, ok := pub.events[0].payload.(contracts.ActionDuePayload)
	require.True(t, ok)
	assert.Equal(t, int64(10), payload.ExecutedActionID)
	assert.Equal(t, []int64{1, 2}, store.published)
}

func TestDispatchDuePublishFailureBacksOff(t *testing.T) {
	store := &fakeScheduledStore{due: []model.ScheduledAction{
		{ID: 1, AccountID: 42, ExecutedActionID: 10, MessageID: "m1"},
	}}
	pub := &fakePublisher{failKey: "action.due"}
	o := NewOrchestrator(store, &fakeDigestStore{}, pub, time.Hour, zap.NewNop())

	require.NoError(t, o.DispatchDueActions(context.Background()))

	// 发布失败的行保持 PENDING 并退避，不标记已发布
	assert.Empty(t, store.published)
	assert.Equal(t, []int64{1}, store.publishFailed)
}

func TestFlushClosedDigests(t *testing.T) {
	windowStart := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	digests := &fakeDigestStore{windows: []repository.DigestWindow{
		{AccountID: 42, WindowStart: windowStart, ItemCount: 3},
	}}
	pub := &fakePublisher{}
	o := NewOrchestrator(&fakeScheduledStore{}, digests, pub, time.Hour, zap.NewNop())

	require.NoError(t, o.FlushClosedDigests(context.Background()))

	require.Len(t, pub.events, 1)
	assert.Equal(t, "digest.flush", pub.events[0].routingKey)
	payload, ok := pub.events[0].payload.(contracts.DigestFlushPayload)
	require.True(t, ok)
	assert.Equal(t, int64(42), payload.AccountID)
	assert.Equal(t, windowStart.Format(time.RFC3339), payload.WindowStart)
	assert.Equal(t, windowStart.Add(time.Hour).Format(time.RFC3339), payload.WindowEnd)
}
