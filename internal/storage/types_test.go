package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadOptions_RangeHeader(t *testing.T) {
	tests := []struct {
		name string
		opts ReadOptions
		want string
	}{
		{"start and length", Range(100, 50), "bytes=100-149"},
		{"start only", From(100), "bytes=100-"},
		{"zero length is open ended", Range(10, 0), "bytes=10-"},
		{"length only", ReadOptions{Length: int64Ptr(10)}, "bytes=0-9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.opts.IsRange())
			assert.Equal(t, tt.want, tt.opts.RangeHeader())
		})
	}

	assert.False(t, ReadOptions{}.IsRange())
}

func int64Ptr(v int64) *int64 { return &v }

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		in   string
		want Protocol
		ok   bool
	}{
		{"oss", ProtocolOSS, true},
		{"S3", ProtocolOSS, true},
		{" webdav ", ProtocolWebDAV, true},
		{"local", ProtocolLocal, true},
		{"hf", ProtocolHuggingFace, true},
		{"ftp", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseProtocol(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestListOptions_WithDefaults(t *testing.T) {
	o := ListOptions{Prefix: "logs/"}.WithDefaults()
	assert.Equal(t, 1000, o.PageSize)
	assert.Equal(t, "name", o.SortBy)
	assert.Equal(t, "asc", o.SortOrder)
	assert.Equal(t, "logs/", o.Prefix)
}

func TestResponse_Header(t *testing.T) {
	r := &Response{Headers: map[string]string{"content-length": "42", "ETag": "abc"}}
	assert.Equal(t, int64(42), r.ContentLength())
	assert.Equal(t, "abc", r.Header("etag"))
	assert.Equal(t, "", r.Header("missing"))

	var nilResp *Response
	assert.Equal(t, "", nilResp.Header("content-length"))
}

func TestAnalysisStatus_JSONShape(t *testing.T) {
	three := 3
	tests := []struct {
		status AnalysisStatus
		want   string
	}{
		{Complete(), `{"Complete":{}}`},
		{Partial(7), `{"Partial":{"analyzed_entries":7}}`},
		{Streaming(&three), `{"Streaming":{"estimated_entries":3}}`},
		{Streaming(nil), `{"Streaming":{"estimated_entries":null}}`},
		{Failed("bad header"), `{"Failed":{"error":"bad header"}}`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.status)
		require.NoError(t, err)
		assert.JSONEq(t, tt.want, string(data))

		var back AnalysisStatus
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, tt.status, back)
	}
}

func TestAnalysisStatus_IsComplete(t *testing.T) {
	assert.True(t, Complete().IsComplete())
	assert.False(t, Partial(1).IsComplete())
	assert.False(t, Streaming(nil).IsComplete())
	assert.False(t, Failed("x").IsComplete())
}
