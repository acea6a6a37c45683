package daemon

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_JSON(t *testing.T) {
	req := Request{
		JSONRPC: "2.0",
		Method:  MethodSearch,
		Params: SearchParams{
			Query: "test query",
			Index: "docs",
			Limit: 10,
		},
		ID: "req-1",
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded Request
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "2.0", decoded.JSONRPC)
	assert.Equal(t, MethodSearch, decoded.Method)
	assert.Equal(t, "req-1", decoded.ID)
}

func TestResponse_Success(t *testing.T) {
	results := []SearchResult{
		{ExternalID: "1", Document: map[string]any{"title": "apple pie"}, Score: 0.95},
	}

	resp := NewSuccessResponse("req-1", results)

	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, "req-1", resp.ID)
	assert.NotNil(t, resp.Result)
	assert.Nil(t, resp.Error)
}

func TestResponse_Error(t *testing.T) {
	resp := NewErrorResponse("req-1", ErrCodeInvalidParams, "invalid query")

	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, "req-1", resp.ID)
	assert.Nil(t, resp.Result)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
	assert.Equal(t, "invalid query", resp.Error.Message)
}

func TestSearchParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  SearchParams
		wantErr bool
	}{
		{
			name: "valid params",
			params: SearchParams{
				Query: "test",
				Index: "docs",
				Limit: 10,
			},
			wantErr: false,
		},
		{
			name: "empty query",
			params: SearchParams{
				Query: "",
				Index: "docs",
			},
			wantErr: true,
		},
		{
			name: "empty index",
			params: SearchParams{
				Query: "test",
				Index: "",
			},
			wantErr: true,
		},
		{
			name: "negative limit uses default",
			params: SearchParams{
				Query: "test",
				Index: "docs",
				Limit: -1,
			},
			wantErr: false, // negative limit is corrected to default
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSearchParams_Validate_NegativeLimitCorrected(t *testing.T) {
	params := SearchParams{Query: "test", Index: "docs", Limit: -5}
	require.NoError(t, params.Validate())
	assert.Equal(t, 10, params.Limit)
}

func TestSearchResult_JSON(t *testing.T) {
	result := SearchResult{
		ExternalID: "doc-42",
		Document:   map[string]any{"title": "apple pie", "category": "dessert"},
		Score:      0.89,
		FromVector: true,
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded SearchResult
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, result.ExternalID, decoded.ExternalID)
	assert.Equal(t, result.Document["title"], decoded.Document["title"])
	assert.Equal(t, result.Document["category"], decoded.Document["category"])
	assert.InDelta(t, result.Score, decoded.Score, 0.001)
	assert.Equal(t, result.FromVector, decoded.FromVector)
}

func TestStatusResult_JSON(t *testing.T) {
	status := StatusResult{
		Running:       true,
		PID:           12345,
		Uptime:        "1h30m",
		IndexesLoaded: 3,
	}

	data, err := json.Marshal(status)
	require.NoError(t, err)

	var decoded StatusResult
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, status.Running, decoded.Running)
	assert.Equal(t, status.PID, decoded.PID)
	assert.Equal(t, status.Uptime, decoded.Uptime)
	assert.Equal(t, status.IndexesLoaded, decoded.IndexesLoaded)
}

func TestMethodConstants(t *testing.T) {
	assert.Equal(t, "search", MethodSearch)
	assert.Equal(t, "status", MethodStatus)
	assert.Equal(t, "ping", MethodPing)
}

func TestErrorCodes(t *testing.T) {
	// Standard JSON-RPC error codes.
	assert.Equal(t, -32700, ErrCodeParseError)
	assert.Equal(t, -32600, ErrCodeInvalidRequest)
	assert.Equal(t, -32601, ErrCodeMethodNotFound)
	assert.Equal(t, -32602, ErrCodeInvalidParams)
	assert.Equal(t, -32603, ErrCodeInternalError)

	// Custom error codes.
	assert.Equal(t, -32001, ErrCodeIndexNotFound)
	assert.Equal(t, -32002, ErrCodeSearchFailed)
}
