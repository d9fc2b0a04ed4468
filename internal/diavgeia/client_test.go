package diavgeia

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengov-gr/diavgeia-harvester/internal/fetch"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 0, nil)
}

func TestDecision(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/decisions/%CE%A9123", r.URL.EscapedPath())
		w.Write([]byte(`{"ada":"Ω123","subject":"Έγκριση δαπάνης","organizationId":"50054"}`))
	})

	env, err := c.Decision(context.Background(), "Ω123")
	require.NoError(t, err)
	assert.Equal(t, "Ω123", env.ADA)
	assert.Equal(t, "Έγκριση δαπάνης", env.Fields["subject"])
	assert.JSONEq(t, `{"ada":"Ω123","subject":"Έγκριση δαπάνης","organizationId":"50054"}`, string(env.Raw))
}

func TestDecisionNotFoundIsPermanent(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Decision(context.Background(), "Ω123")
	require.Error(t, err)
	assert.True(t, fetch.IsPermanent(err))
	assert.False(t, fetch.IsTransient(err))
}

func TestServerErrorsAreTransient(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})
		_, err := c.Decision(context.Background(), "Ω123")
		require.Error(t, err, "status %d", status)
		assert.True(t, fetch.IsTransient(err), "status %d must be transient", status)
	}
}

func TestMalformedBodyIsPermanent(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html>gateway error page</html>`))
	})

	_, err := c.Decision(context.Background(), "Ω123")
	require.Error(t, err)
	assert.True(t, fetch.IsPermanent(err), "an undecodable 200 body cannot be fixed by retrying")
}

func TestDocument(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/document") {
			http.Redirect(w, r, "/storage/v1/abc.pdf", http.StatusFound)
			return
		}
		w.Write([]byte("%PDF-1.4 body"))
	})

	body, srcURL, err := c.Document(context.Background(), "Ω123")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 body"), body)
	assert.Contains(t, srcURL, "/storage/v1/abc.pdf", "source URL is where the bytes actually came from")
}

func TestDocumentEmptyBodyIsPermanent(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, _, err := c.Document(context.Background(), "Ω123")
	require.Error(t, err)
	assert.True(t, fetch.IsPermanent(err))
}

func TestSearch(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("size"))
		w.Write([]byte(`{
			"decisions": [
				{"ada":"Α1","subject":"πρώτη"},
				{"ada":"Β2","subject":"δεύτερη"}
			],
			"info": {"page":2,"size":50,"total":1234}
		}`))
	})

	rows, total, err := c.Search(context.Background(), 2, 50)
	require.NoError(t, err)
	assert.Equal(t, 1234, total)
	require.Len(t, rows, 2)
	assert.Equal(t, "Α1", rows[0].ADA)
}
