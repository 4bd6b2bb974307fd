package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlockAtOrAfterQueriesTimestamp(t *testing.T) {
	ts := time.Date(2021, time.May, 1, 0, 0, 0, 0, time.UTC)
	var capturedQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		capturedQuery = req.Query
		_, _ = w.Write([]byte(`{"data":{"blocks":[{"number":"12344755"}]}}`))
	}))
	defer server.Close()

	index := NewHTTPBlockIndex(server.URL)
	block, err := index.BlockAtOrAfter(context.Background(), ts)
	require.NoError(t, err)
	require.Equal(t, uint64(12344755), block)
	require.Contains(t, capturedQuery, fmt.Sprintf(`timestamp_gte: "%d"`, ts.Unix()))
	require.Contains(t, capturedQuery, "orderDirection: asc")
}

func TestBlockAtOrAfterNoBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"blocks":[]}}`))
	}))
	defer server.Close()

	index := NewHTTPBlockIndex(server.URL)
	_, err := index.BlockAtOrAfter(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrNoBlock)
}

func TestBlockAtOrAfterSurfacesIndexerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"indexing_error"}]}`))
	}))
	defer server.Close()

	index := NewHTTPBlockIndex(server.URL)
	_, err := index.BlockAtOrAfter(context.Background(), time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "indexing_error")
}
