package restclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/annotation-overlay/internal/server"
	"github.com/menta2k/annotation-overlay/pkg/persistence"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	srv := server.New(server.Config{}, persistence.NewMemoryRepository(), nil, nil)
	ts := httptest.NewServer(adaptor.FiberApp(srv.App()))
	t.Cleanup(ts.Close)

	c, err := New(ts.URL+"/", 0, nil)
	require.NoError(t, err)
	return c
}

func TestClientRoundTrip(t *testing.T) {
	c := newClient(t)
	ctx := t.Context()

	created, err := c.Create(ctx, persistence.Record{
		InstanceID:     "1.2.3",
		AnnotationType: persistence.AnnotationTypeBoundingBox,
		AnnotationData: `{"xMin":1,"yMin":1,"xMax":5,"yMax":5,"label":"a"}`,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	created.AnnotationData = `{"xMin":2,"yMin":1,"xMax":5,"yMax":5,"label":"a"}`
	updated, err := c.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	list, err := c.GetByInstanceID(ctx, "1.2.3")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, created.AnnotationData, list[0].AnnotationData)

	require.NoError(t, c.Delete(ctx, created.ID))
	assert.ErrorIs(t, c.Delete(ctx, created.ID), persistence.ErrRecordNotFound)

	list, err = c.GetByInstanceID(ctx, "1.2.3")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClientReportsValidationError(t *testing.T) {
	c := newClient(t)
	_, err := c.Create(t.Context(), persistence.Record{InstanceID: "x", AnnotationType: "polygon", AnnotationData: "{}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestClientServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, err := New(ts.URL, 0, nil)
	require.NoError(t, err)
	_, err = c.GetByInstanceID(t.Context(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database down")
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "ftp://host", "http://", "::bad"} {
		_, err := New(u, 0, nil)
		assert.Error(t, err, u)
	}
}
