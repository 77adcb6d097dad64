package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailpilot/internal/model"
	"mailpilot/internal/provider"
)

type fakeLocker struct {
	denied map[string]bool
	held   []string
}

func (f *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool) {
	if f.denied[key] {
		return nil, false
	}
	f.held = append(f.held, key)
	return func() {}, true
}

// fakeLedger 用 (account, message, attempt) 作为自然键，模拟 upsert 的
// RETURNING 语义：已存在的行把先前的 ID 和状态写回调用方
type fakeLedger struct {
	nextID  int64
	rules   map[string]*model.ExecutedRule
	actions map[int64]*model.ExecutedAction

	insertActionErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		nextID:  1,
		rules:   map[string]*model.ExecutedRule{},
		actions: map[int64]*model.ExecutedAction{},
	}
}

func ruleKey(accountID int64, messageID string, attempt int) string {
	return fmt.Sprintf("%d/%s/%d", accountID, messageID, attempt)
}

func (f *fakeLedger) UpsertExecutedRule(ctx context.Context, er *model.ExecutedRule) error {
	key := ruleKey(er.AccountID, er.MessageID, er.Attempt)
	if existing, ok := f.rules[key]; ok {
		er.ID = existing.ID
		er.Status = existing.Status
		return nil
	}
	er.ID = f.nextID
	f.nextID++
	stored := *er
	f.rules[key] = &stored
	return nil
}

func (f *fakeLedger) UpdateExecutedRuleStatus(ctx context.Context, id int64, status model.ExecutedRuleStatus) error {
	for _, er := range f.rules {
		if er.ID == id {
			er.Status = status
			return nil
		}
	}
	return errors.New("executed rule not found")
}

func (f *fakeLedger) UpsertExecutedAction(ctx context.Context, ea *model.ExecutedAction) error {
	if f.insertActionErr != nil {
		return f.insertActionErr
	}
	for _, existing := range f.actions {
		if existing.ExecutedRuleID == ea.ExecutedRuleID && existing.ActionID == ea.ActionID {
			ea.ID = existing.ID
			ea.Status = existing.Status
			ea.ScheduledFor = existing.ScheduledFor
			return nil
		}
	}
	ea.ID = f.nextID
	f.nextID++
	stored := *ea
	f.actions[ea.ID] = &stored
	return nil
}

func (f *fakeLedger) UpdateExecutedActionStatus(ctx context.Context, id int64, status model.ExecutedActionStatus, result, errMsg *string) error {
	ea, ok := f.actions[id]
	if !ok {
		return errors.New("executed action not found")
	}
	if ea.Status.Terminal() {
		return nil
	}
	ea.Status = status
	ea.Result = result
	ea.Error = errMsg
	return nil
}

func (f *fakeLedger) FindExecutedAction(ctx context.Context, id int64) (*model.ExecutedAction, error) {
	ea, ok := f.actions[id]
	if !ok {
		return nil, errors.New("executed action not found")
	}
	copy := *ea
	return &copy, nil
}

func (f *fakeLedger) actionsByStatus(status model.ExecutedActionStatus) []*model.ExecutedAction {
	var out []*model.ExecutedAction
	for _, ea := range f.actions {
		if ea.Status == status {
			out = append(out, ea)
		}
	}
	return out
}

// fakeProvider 记录调用并按操作名注入失败
type fakeProvider struct {
	calls   []string
	failOps map[string]error
	message *model.Message
}

func (f *fakeProvider) call(op string) error {
	f.calls = append(f.calls, op)
	if f.failOps != nil {
		return f.failOps[op]
	}
	return nil
}

func (f *fakeProvider) ArchiveThread(ctx context.Context, accountID int64, threadID string) error {
	return f.call("archive")
}
func (f *fakeProvider) ApplyLabel(ctx context.Context, accountID int64, threadID, label string) error {
	return f.call("label")
}
func (f *fakeProvider) RemoveLabel(ctx context.Context, accountID int64, threadID, label string) error {
	return f.call("remove_label")
}
func (f *fakeProvider) MarkRead(ctx context.Context, accountID int64, messageID string) error {
	return f.call("mark_read")
}
func (f *fakeProvider) MarkSpam(ctx context.Context, accountID int64, threadID string) error {
	return f.call("mark_spam")
}
func (f *fakeProvider) CreateDraft(ctx context.Context, accountID int64, threadID string, draft provider.DraftInput) error {
	return f.call("draft")
}
func (f *fakeProvider) SendReply(ctx context.Context, accountID int64, threadID string, draft provider.DraftInput) error {
	return f.call("reply")
}
func (f *fakeProvider) Forward(ctx context.Context, accountID int64, messageID string, draft provider.DraftInput) error {
	return f.call("forward")
}
func (f *fakeProvider) CallWebhook(ctx context.Context, accountID int64, url string, payload []byte) error {
	return f.call("webhook")
}
func (f *fakeProvider) GetThread(ctx context.Context, accountID int64, threadID string) ([]model.Message, error) {
	return nil, f.call("get_thread")
}
func (f *fakeProvider) GetMessage(ctx context.Context, accountID int64, messageID string) (*model.Message, error) {
	if err := f.call("get_message"); err != nil {
		return nil, err
	}
	if f.message == nil {
		return nil, errors.New("no message configured")
	}
	copy := *f.message
	return &copy, nil
}

type fakeScheduler struct {
	enqueued []*model.ScheduledAction
	err      error
}

func (f *fakeScheduler) Enqueue(ctx context.Context, sa *model.ScheduledAction) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, sa)
	return nil
}

type fakeDigestSink struct{ appended int }

func (f *fakeDigestSink) Append(ctx context.Context, accountID, ruleID int64, msg *model.Message) error {
	f.appended++
	return nil
}

type fakeThreadSink struct{ tracked int }

func (f *fakeThreadSink) Track(ctx context.Context, accountID, ruleID int64, msg *model.Message) error {
	f.tracked++
	return nil
}

type fakeActionSource struct {
	actions map[int64]*model.Action
}

func (f *fakeActionSource) FindAction(ctx context.Context, actionID int64) (*model.Action, error) {
	a, ok := f.actions[actionID]
	if !ok {
		return nil, errors.New("action not found")
	}
	copy := *a
	return &copy, nil
}

type executorFixture struct {
	executor  *Executor
	locker    *fakeLocker
	ledger    *fakeLedger
	client    *fakeProvider
	scheduler *fakeScheduler
	digests   *fakeDigestSink
	threads   *fakeThreadSink
	actions   *fakeActionSource
}

func newExecutorFixture() *executorFixture {
	f := &executorFixture{
		locker:    &fakeLocker{denied: map[string]bool{}},
		ledger:    newFakeLedger(),
		client:    &fakeProvider{},
		scheduler: &fakeScheduler{},
		digests:   &fakeDigestSink{},
		threads:   &fakeThreadSink{},
		actions:   &fakeActionSource{actions: map[int64]*model.Action{}},
	}
	f.executor = NewExecutor(
		f.locker, f.ledger, f.client,
		f.scheduler, f.digests, f.threads, f.actions,
		0, 0, zap.NewNop(),
	)
	return f
}

func testMessage() *model.Message {
	return &model.Message{
		ID:        "msg-1",
		ThreadID:  "thr-1",
		AccountID: 42,
		From:      "sender@acme.com",
		Subject:   "Hello",
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestExecuteLockContention(t *testing.T) {
	f := newExecutorFixture()
	msg := testMessage()
	f.locker.denied[messageLockKey(msg.AccountID, msg.ID)] = true

	match := &RuleMatch{Rule: model.Rule{ID: 1, Actions: []model.Action{
		{ID: 1, Type: model.ActionArchive, Enabled: true},
	}}, Reason: model.ReasonStatic}

	er, err := f.executor.Execute(context.Background(), msg, 1, match)
	require.NoError(t, err)
	assert.Nil(t, er)
	assert.Empty(t, f.client.calls)
	assert.Empty(t, f.ledger.rules)
}

func TestExecuteNoMatchRecordsSkipped(t *testing.T) {
	f := newExecutorFixture()

	er, err := f.executor.Execute(context.Background(), testMessage(), 1, nil)
	require.NoError(t, err)
	require.NotNil(t, er)
	assert.Equal(t, model.ExecutedRuleSkipped, er.Status)
	assert.Nil(t, er.RuleID)
	assert.Empty(t, f.client.calls)
}

func TestExecuteAppliesActionsInOrder(t *testing.T) {
	f := newExecutorFixture()
	msg := testMessage()

	match := &RuleMatch{
		Rule: model.Rule{ID: 5, Name: "archive newsletters", Actions: []model.Action{
			{ID: 1, Type: model.ActionArchive, Enabled: true},
			{ID: 2, Type: model.ActionLabel, Enabled: true, Label: strPtr("Newsletter")},
			{ID: 3, Type: model.ActionMarkRead, Enabled: false}, // disabled, skipped
		}},
		Reason: model.ReasonStatic,
	}

	er, err := f.executor.Execute(context.Background(), msg, 1, match)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutedRuleApplied, er.Status)
	assert.Equal(t, []string{"archive", "label"}, f.client.calls)
	assert.Len(t, f.ledger.actionsByStatus(model.ExecutedActionApplied), 2)
}

func TestExecutePartialFailureIsolated(t *testing.T) {
	f := newExecutorFixture()
	f.client.failOps = map[string]error{"webhook": errors.New("endpoint 503")}
	msg := testMessage()

	match := &RuleMatch{
		Rule: model.Rule{ID: 5, Actions: []model.Action{
			{ID: 1, Type: model.ActionArchive, Enabled: true},
			{ID: 2, Type: model.ActionCallWebhook, Enabled: true, URL: strPtr("https://hooks.example/x")},
			{ID: 3, Type: model.ActionLabel, Enabled: true, Label: strPtr("Spam?")},
		}},
		Reason: model.ReasonStatic,
	}

	er, err := f.executor.Execute(context.Background(), msg, 1, match)
	require.NoError(t, err)

	// 失败动作不拦住后续动作，但最终状态是 ERROR
	assert.Equal(t, model.ExecutedRuleError, er.Status)
	assert.Equal(t, []string{"archive", "webhook", "label"}, f.client.calls)

	failed := f.ledger.actionsByStatus(model.ExecutedActionFailed)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].Error)
	assert.Contains(t, *failed[0].Error, "503")
	assert.Len(t, f.ledger.actionsByStatus(model.ExecutedActionApplied), 2)
}

func TestExecuteDelayedActionScheduled(t *testing.T) {
	f := newExecutorFixture()
	msg := testMessage()

	match := &RuleMatch{
		Rule: model.Rule{ID: 5, Actions: []model.Action{
			{ID: 1, Type: model.ActionArchive, Enabled: true, DelayInMinutes: intPtr(30)},
		}},
		Reason: model.ReasonStatic,
	}

	er, err := f.executor.Execute(context.Background(), msg, 1, match)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutedRuleApplied, er.Status)

	// provider 未被触碰，动作进入 SCHEDULED 并入队
	assert.Empty(t, f.client.calls)
	scheduled := f.ledger.actionsByStatus(model.ExecutedActionScheduled)
	require.Len(t, scheduled, 1)
	require.NotNil(t, scheduled[0].ScheduledFor)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *scheduled[0].ScheduledFor, 5*time.Second)

	require.Len(t, f.scheduler.enqueued, 1)
	assert.Equal(t, msg.AccountID, f.scheduler.enqueued[0].AccountID)
	assert.Equal(t, scheduled[0].ID, f.scheduler.enqueued[0].ExecutedActionID)
}

func TestExecuteDelayOnUnsupportedTypeFails(t *testing.T) {
	f := newExecutorFixture()

	match := &RuleMatch{
		Rule: model.Rule{ID: 5, Actions: []model.Action{
			{ID: 1, Type: model.ActionCallWebhook, Enabled: true,
				URL: strPtr("https://hooks.example/x"), DelayInMinutes: intPtr(10)},
		}},
		Reason: model.ReasonStatic,
	}

	er, err := f.executor.Execute(context.Background(), testMessage(), 1, match)
	require.NoError(t, err)

	// 不允许静默降级为立即执行
	assert.Equal(t, model.ExecutedRuleError, er.Status)
	assert.Empty(t, f.client.calls)
	assert.Empty(t, f.scheduler.enqueued)

	failed := f.ledger.actionsByStatus(model.ExecutedActionFailed)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].Error)
	assert.Contains(t, *failed[0].Error, "does not support delayed execution")
}

func TestExecuteReplayOfFinalizedAttempt(t *testing.T) {
	f := newExecutorFixture()
	msg := testMessage()

	match := &RuleMatch{
		Rule: model.Rule{ID: 5, Actions: []model.Action{
			{ID: 1, Type: model.ActionArchive, Enabled: true},
		}},
		Reason: model.ReasonStatic,
	}

	first, err := f.executor.Execute(context.Background(), msg, 1, match)
	require.NoError(t, err)
	require.Equal(t, model.ExecutedRuleApplied, first.Status)
	require.Equal(t, []string{"archive"}, f.client.calls)

	// 同一 (message, attempt) 重放：无新副作用
	second, err := f.executor.Execute(context.Background(), msg, 1, match)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.ExecutedRuleApplied, second.Status)
	assert.Equal(t, []string{"archive"}, f.client.calls)
}

func TestExecuteReplayOfUnfinishedAttempt(t *testing.T) {
	f := newExecutorFixture()
	msg := testMessage()

	match := &RuleMatch{
		Rule: model.Rule{ID: 5, Actions: []model.Action{
			{ID: 1, Type: model.ActionArchive, Enabled: true},
			{ID: 2, Type: model.ActionLabel, Enabled: true, Label: strPtr("Newsletter")},
		}},
		Reason: model.ReasonStatic,
	}

	// 上一次执行在归档之后、收尾之前崩溃：规则行停在 PENDING，归档已 APPLIED
	ruleID := int64(5)
	prior := &model.ExecutedRule{
		AccountID: msg.AccountID, MessageID: msg.ID, ThreadID: msg.ThreadID,
		Attempt: 1, RuleID: &ruleID, Status: model.ExecutedRulePending,
	}
	require.NoError(t, f.ledger.UpsertExecutedRule(context.Background(), prior))
	done := &model.ExecutedAction{
		ExecutedRuleID: prior.ID, ActionID: 1,
		Type: model.ActionArchive, Status: model.ExecutedActionApplied,
	}
	require.NoError(t, f.ledger.UpsertExecutedAction(context.Background(), done))

	er, err := f.executor.Execute(context.Background(), msg, 1, match)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutedRuleApplied, er.Status)

	// 归档不能再发一次，label 补跑；每个动作只留一条记录
	assert.Equal(t, []string{"label"}, f.client.calls)
	assert.Len(t, f.ledger.actions, 2)
	assert.Len(t, f.ledger.actionsByStatus(model.ExecutedActionApplied), 2)
}

func TestExecuteDigestAndTrackThread(t *testing.T) {
	f := newExecutorFixture()

	match := &RuleMatch{
		Rule: model.Rule{ID: 5, Actions: []model.Action{
			{ID: 1, Type: model.ActionDigest, Enabled: true},
			{ID: 2, Type: model.ActionTrackThread, Enabled: true},
		}},
		Reason: model.ReasonAI,
	}

	er, err := f.executor.Execute(context.Background(), testMessage(), 1, match)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutedRuleApplied, er.Status)
	assert.Equal(t, 1, f.digests.appended)
	assert.Equal(t, 1, f.threads.tracked)
	assert.Empty(t, f.client.calls)
}

func TestRunDelayed(t *testing.T) {
	setup := func() (*executorFixture, *model.ExecutedAction) {
		f := newExecutorFixture()
		f.client.message = testMessage()
		f.actions.actions[7] = &model.Action{
			ID: 7, RuleID: 5, Type: model.ActionArchive, Enabled: true, DelayInMinutes: intPtr(30),
		}
		ea := &model.ExecutedAction{
			ExecutedRuleID: 1, ActionID: 7,
			Type: model.ActionArchive, Status: model.ExecutedActionScheduled,
		}
		require.NoError(t, f.ledger.UpsertExecutedAction(context.Background(), ea))
		return f, ea
	}

	t.Run("fires scheduled action", func(t *testing.T) {
		f, ea := setup()
		err := f.executor.RunDelayed(context.Background(), 42, ea.ID, "msg-1", "thr-1")
		require.NoError(t, err)

		assert.Contains(t, f.client.calls, "archive")
		got, _ := f.ledger.FindExecutedAction(context.Background(), ea.ID)
		assert.Equal(t, model.ExecutedActionApplied, got.Status)
	})

	t.Run("cancelled or finalized record left alone", func(t *testing.T) {
		f, ea := setup()
		require.NoError(t, f.ledger.UpdateExecutedActionStatus(context.Background(), ea.ID, model.ExecutedActionFailed, nil, strPtr("cancelled")))

		err := f.executor.RunDelayed(context.Background(), 42, ea.ID, "msg-1", "thr-1")
		require.NoError(t, err)
		assert.NotContains(t, f.client.calls, "archive")
	})

	t.Run("missing action definition fails the record", func(t *testing.T) {
		f, ea := setup()
		delete(f.actions.actions, 7)

		err := f.executor.RunDelayed(context.Background(), 42, ea.ID, "msg-1", "thr-1")
		require.NoError(t, err)

		got, _ := f.ledger.FindExecutedAction(context.Background(), ea.ID)
		assert.Equal(t, model.ExecutedActionFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Contains(t, *got.Error, "no longer exists")
	})

	t.Run("lock contention aborts silently", func(t *testing.T) {
		f, ea := setup()
		f.locker.denied[actionLockKey(42, ea.ID)] = true

		err := f.executor.RunDelayed(context.Background(), 42, ea.ID, "msg-1", "thr-1")
		require.NoError(t, err)
		assert.Empty(t, f.client.calls)
	})

	t.Run("message fetch failure fails the record", func(t *testing.T) {
		f, ea := setup()
		f.client.failOps = map[string]error{"get_message": errors.New("provider returned 500")}

		err := f.executor.RunDelayed(context.Background(), 42, ea.ID, "msg-1", "thr-1")
		require.NoError(t, err)

		got, _ := f.ledger.FindExecutedAction(context.Background(), ea.ID)
		assert.Equal(t, model.ExecutedActionFailed, got.Status)
	})
}
