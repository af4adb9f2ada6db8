package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-iam/aegis-iam/internal/shared"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, handler http.Handler, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if userID != "" {
		req = req.WithContext(shared.ContextWithPrincipal(context.Background(), shared.UserID(userID)))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareRequire(t *testing.T) {
	voter, _ := newVoterFixture(t)
	var decisions []string
	mw := Middleware{Voter: voter, Observe: func(d string) { decisions = append(decisions, d) }}
	handler := mw.Require("PERMISSION_DOC_EDIT")(okHandler())

	rec := doRequest(t, handler, "alice")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, "bob")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	require.Equal(t, []string{"granted", "denied", "denied"}, decisions)
}

func TestMiddlewareRequirePassesOnAbstain(t *testing.T) {
	voter, _ := newVoterFixture(t)
	mw := Middleware{Voter: voter}
	handler := mw.Require("ROLE_ADMIN")(okHandler())

	rec := doRequest(t, handler, "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareRequireAny(t *testing.T) {
	voter, _ := newVoterFixture(t)
	mw := Middleware{Voter: voter}

	handler := mw.RequireAny("PERMISSION_DOC_DELETE", "PERMISSION_DOC_EDIT")(okHandler())
	rec := doRequest(t, handler, "alice")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, handler, "bob")
	require.Equal(t, http.StatusForbidden, rec.Code)

	// All attributes outside the voter's scope: the request passes.
	handler = mw.RequireAny("ROLE_ADMIN", "ROLE_AUDITOR")(okHandler())
	rec = doRequest(t, handler, "bob")
	require.Equal(t, http.StatusOK, rec.Code)

	// A deny mixed with abstains still blocks.
	handler = mw.RequireAny("ROLE_ADMIN", "PERMISSION_DOC_EDIT")(okHandler())
	rec = doRequest(t, handler, "bob")
	require.Equal(t, http.StatusForbidden, rec.Code)
}
