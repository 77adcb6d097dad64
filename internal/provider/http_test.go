package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCreateDraftPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, zap.NewNop())
	draft := DraftInput{Subject: "Your mail digest (2 items)", Body: "1. a\n2. b\n"}

	// 空 threadID 走账号级草稿端点，不产生空路径段
	require.NoError(t, c.CreateDraft(context.Background(), 42, "", draft))
	require.NoError(t, c.CreateDraft(context.Background(), 42, "thr-1", draft))

	assert.Equal(t, []string{
		"/accounts/42/drafts",
		"/accounts/42/threads/thr-1/drafts",
	}, paths)
}
