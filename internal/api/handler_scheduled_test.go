package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/internal/model"
)

type fakeCanceller struct {
	executedActionID int64
	err              error
	cancelled        []int64
}

func (f *fakeCanceller) Cancel(ctx context.Context, accountID, id int64) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.cancelled = append(f.cancelled, id)
	return f.executedActionID, nil
}

type fakeFinalizer struct {
	finalized map[int64]model.ExecutedActionStatus
	reasons   map[int64]string
}

func (f *fakeFinalizer) UpdateExecutedActionStatus(ctx context.Context, id int64, status model.ExecutedActionStatus, result, errMsg *string) error {
	if f.finalized == nil {
		f.finalized = map[int64]model.ExecutedActionStatus{}
		f.reasons = map[int64]string{}
	}
	f.finalized[id] = status
	if errMsg != nil {
		f.reasons[id] = *errMsg
	}
	return nil
}

func newScheduledRouter(t *testing.T, canceller *fakeCanceller, finalizer *fakeFinalizer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handler := NewScheduledActionHandler(canceller, finalizer)
	r := gin.New()
	auth := r.Group("/")
	auth.Use(AuthMiddleware(testSecret))
	auth.POST("/scheduled-actions/:id/cancel", handler.Cancel)
	return r
}

func TestCancelScheduledAction(t *testing.T) {
	canceller := &fakeCanceller{executedActionID: 33}
	finalizer := &fakeFinalizer{}
	r := newScheduledRouter(t, canceller, finalizer)

	w := doRequest(r, http.MethodPost, "/scheduled-actions/9/cancel", signedToken(t, 42))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []int64{9}, canceller.cancelled)
	assert.Equal(t, model.ExecutedActionFailed, finalizer.finalized[33])
	assert.Equal(t, "cancelled before execution", finalizer.reasons[33])
}

func TestCancelAlreadyFired(t *testing.T) {
	canceller := &fakeCanceller{err: pgx.ErrNoRows}
	r := newScheduledRouter(t, canceller, &fakeFinalizer{})

	w := doRequest(r, http.MethodPost, "/scheduled-actions/9/cancel", signedToken(t, 42))
	assert.Equal(t, http.StatusConflict, w.Code)
}
