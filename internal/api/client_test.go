package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_URL(t *testing.T) {
	c, err := NewClient(Options{
		BaseURL: "http://sut.local:3000",
		Modules: map[string]string{"gis": "/geo/v2/"},
	})
	require.NoError(t, err)

	tests := []struct {
		call Call
		want string
	}{
		{Call{Module: "risk", Path: "/jurisdictions"}, "http://sut.local:3000/api/risk/jurisdictions"},
		{Call{Module: "risk", Path: "regulations/r-1/versions"}, "http://sut.local:3000/api/risk/regulations/r-1/versions"},
		{Call{Module: "gis", Path: "/layers"}, "http://sut.local:3000/geo/v2/layers"},
		{Call{Module: "billing", Path: "/invoices"}, "http://sut.local:3000/api/billing/invoices"},
		{Call{Path: "/healthz"}, "http://sut.local:3000/healthz"},
		{Call{Module: "control-center", Path: "/alerts", Query: url.Values{"status": {"ACTIVE"}}}, "http://sut.local:3000/api/control-center/alerts?status=ACTIVE"},
	}

	for _, tt := range tests {
		t.Run(tt.call.String(), func(t *testing.T) {
			got, err := c.URL(tt.call)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewClient_RejectsBadBaseURL(t *testing.T) {
	_, err := NewClient(Options{BaseURL: "ftp://nope"})
	require.Error(t, err)
	_, err = NewClient(Options{BaseURL: "://"})
	require.Error(t, err)
}

func TestClient_DoSendsJSONAndKeepsErrorStatuses(t *testing.T) {
	var gotBody map[string]any
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		if r.URL.Path == "/api/risk/regulations" {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"data":{"id":"reg-7","status":"pending"}}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := c.Do(ctx, Call{Module: "risk", Method: "post", Path: "/regulations", Body: map[string]any{"title": "Flaring limits"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.True(t, resp.OK())
	assert.Equal(t, "POST", resp.Method)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "Flaring limits", gotBody["title"])

	id, err := resp.GetString("data.id")
	require.NoError(t, err)
	assert.Equal(t, "reg-7", id)

	var env struct {
		Data struct{ Status string } `json:"data"`
	}
	require.NoError(t, resp.Decode(&env))
	assert.Equal(t, "pending", env.Data.Status)

	resp, err = c.Do(ctx, Call{Module: "risk", Path: "/missing"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.False(t, resp.OK())
	v, err := resp.Get("error")
	require.NoError(t, err)
	assert.Equal(t, "not found", v)
}

func TestClient_DoTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(Options{BaseURL: base})
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Call{Module: "risk", Path: "/jurisdictions"})
	require.Error(t, err)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "GET", te.Method)
	assert.Equal(t, base+"/api/risk/jurisdictions", te.URL)
}
