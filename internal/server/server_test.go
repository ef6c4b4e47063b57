package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/annotation-overlay/pkg/persistence"
)

const payload = `{"xMin":10,"yMin":10,"xMax":40,"yMax":50,"label":"nodule","confidence":1,"type":"manual"}`

func newTestServer(t *testing.T) (*Server, *persistence.MemoryRepository, *prometheus.Registry) {
	t.Helper()
	repo := persistence.NewMemoryRepository()
	reg := prometheus.NewRegistry()
	return New(Config{}, repo, nil, reg), repo, reg
}

func send(t *testing.T, s *Server, method, target string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestRecordLifecycle(t *testing.T) {
	s, repo, _ := newTestServer(t)

	resp, body := send(t, s, http.MethodPost, "/api/annotations", persistence.Record{
		InstanceID:     "inst-1",
		AnnotationType: persistence.AnnotationTypeBoundingBox,
		AnnotationData: payload,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created persistence.Record
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, repo.Len())

	resp, body = send(t, s, http.MethodGet, "/api/annotations?instanceId=inst-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []persistence.Record
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	created.AnnotationData = strings.Replace(payload, "nodule", "mass", 1)
	resp, body = send(t, s, http.MethodPut, "/api/annotations/"+created.ID, created)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = send(t, s, http.MethodDelete, "/api/annotations/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, repo.Len())

	resp, body = send(t, s, http.MethodDelete, "/api/annotations/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "not found")
}

func TestListEmptyIsArray(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp, body := send(t, s, http.MethodGet, "/api/annotations?instanceId=nobody", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestRejectsBadRequests(t *testing.T) {
	s, repo, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   any
		want   int
	}{
		{"missing instance", http.MethodPost, "/api/annotations", persistence.Record{AnnotationType: "bounding_box", AnnotationData: payload}, http.StatusUnprocessableEntity},
		{"wrong type", http.MethodPost, "/api/annotations", persistence.Record{InstanceID: "i", AnnotationType: "polygon", AnnotationData: payload}, http.StatusUnprocessableEntity},
		{"payload not json", http.MethodPost, "/api/annotations", persistence.Record{InstanceID: "i", AnnotationType: "bounding_box", AnnotationData: "{oops"}, http.StatusUnprocessableEntity},
		{"list without instance", http.MethodGet, "/api/annotations", nil, http.StatusBadRequest},
		{"update unknown", http.MethodPut, "/api/annotations/ghost", persistence.Record{InstanceID: "i", AnnotationType: "bounding_box", AnnotationData: payload}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := send(t, s, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, string(body))
		})
	}
	assert.Equal(t, 0, repo.Len())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, reg := newTestServer(t)
	send(t, s, http.MethodGet, "/healthz", nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "overlay_http_requests_total")

	resp, body := send(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `overlay_http_requests_total{path="/healthz"} 1`)
}
