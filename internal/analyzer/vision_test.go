package analyzer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricelist/internal"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// modelReply wraps text the way generateContent returns it.
func modelReply(text string) string {
	blob, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
		}},
	})
	return string(blob)
}

func newTestVision(t *testing.T, handler func(*http.Request) (*http.Response, error)) *Vision {
	t.Helper()
	return NewVision("k3y", zerolog.Nop(),
		WithHTTPClient(&http.Client{Transport: roundTripFunc(handler)}),
		WithBaseURL("https://gemini.test/v1beta/"),
		WithRateLimit(0),
	)
}

func TestCheckLegibilityRequest(t *testing.T) {
	var got generateRequest
	v := newTestVision(t, func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "k3y", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		return respond(http.StatusOK, modelReply(`{"status":"ACCEPT","reason":null}`)), nil
	})

	verdict, err := v.CheckLegibility(context.Background(), []byte("img"), "image/png")
	require.NoError(t, err)
	assert.True(t, verdict.Accepted)
	assert.Empty(t, verdict.Reason)

	require.Len(t, got.Contents, 1)
	require.Len(t, got.Contents[0].Parts, 2)
	assert.Contains(t, got.Contents[0].Parts[0].Text, "legible")
	require.NotNil(t, got.Contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/png", got.Contents[0].Parts[1].InlineData.MimeType)
	assert.Equal(t, "aW1n", got.Contents[0].Parts[1].InlineData.Data)
	assert.Equal(t, "application/json", got.GenerationConfig.ResponseMimeType)
}

func TestCheckLegibilityReject(t *testing.T) {
	v := newTestVision(t, func(*http.Request) (*http.Response, error) {
		return respond(http.StatusOK, modelReply("```json\n{\"status\":\"REJECT\",\"reason\":\"strong glare\"}\n```")), nil
	})

	verdict, err := v.CheckLegibility(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.False(t, verdict.Accepted)
	assert.Equal(t, "strong glare", verdict.Reason)

	v = newTestVision(t, func(*http.Request) (*http.Response, error) {
		return respond(http.StatusOK, modelReply(`{"status":"REJECT"}`)), nil
	})
	verdict, err = v.CheckLegibility(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.NotEmpty(t, verdict.Reason)
}

func TestVisionFailuresAreAnalysisErrors(t *testing.T) {
	cases := map[string]func(*http.Request) (*http.Response, error){
		"server error": func(*http.Request) (*http.Response, error) {
			return respond(http.StatusInternalServerError, `{"error":"boom"}`), nil
		},
		"not json": func(*http.Request) (*http.Response, error) {
			return respond(http.StatusOK, modelReply("I think it is legible")), nil
		},
		"schema mismatch": func(*http.Request) (*http.Response, error) {
			return respond(http.StatusOK, modelReply(`{"status":"MAYBE"}`)), nil
		},
		"no candidates": func(*http.Request) (*http.Response, error) {
			return respond(http.StatusOK, `{"candidates":[]}`), nil
		},
		"transport": func(*http.Request) (*http.Response, error) {
			return nil, io.ErrUnexpectedEOF
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			v := newTestVision(t, handler)
			_, err := v.CheckLegibility(context.Background(), []byte("img"), "image/png")
			assert.ErrorIs(t, err, internal.ErrAnalysis)
		})
	}
}

func TestVisionWithoutKey(t *testing.T) {
	called := false
	v := NewVision("", zerolog.Nop(), WithHTTPClient(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		called = true
		return respond(http.StatusOK, ""), nil
	})}))

	_, err := v.DiscoverStructure(context.Background(), []byte("img"), "image/png")
	assert.ErrorIs(t, err, internal.ErrAnalysis)
	assert.False(t, called)
}

func TestVisionRejectsUnsupportedMedia(t *testing.T) {
	v := newTestVision(t, func(*http.Request) (*http.Response, error) {
		t.Fatal("unexpected request")
		return nil, nil
	})

	_, err := v.CheckLegibility(context.Background(), []byte("x"), "application/zip")
	assert.ErrorIs(t, err, internal.ErrUnsupportedMedia)
}

func TestDiscoverStructure(t *testing.T) {
	reply := `{
	  "headers_detected": ["Cod.", null, "P. Unit"],
	  "data_sample": [
	    {"Cod.": "10", "Column 1": "Cable 2x1", "P. Unit": 5.2, "Obs": "nuevo"},
	    {"Cod.": 11, "P. Unit": "7,10"}
	  ],
	  "suggested_mapping": {"precio": "P. Unit", "sku": "Cod.", "descripcion": null, "unidad": "UM"},
	  "confidence_notes": "currency looks like ARS"
	}`
	v := newTestVision(t, func(*http.Request) (*http.Response, error) {
		return respond(http.StatusOK, modelReply(reply)), nil
	})

	d, err := v.DiscoverStructure(context.Background(), []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"Cod.", "Column 1", "P. Unit"}, d.Headers)
	assert.Equal(t, []internal.FieldMapping{
		{Field: "sku", Header: "Cod."},
		{Field: "precio", Header: "P. Unit"},
		{Field: "unidad", Header: "UM"},
	}, d.SuggestedMapping.Fields)
	assert.Equal(t, "currency looks like ARS", d.Notes)

	require.Len(t, d.Rows, 2)
	assert.Equal(t, internal.Row{
		{Header: "Cod.", Value: "10"},
		{Header: "Column 1", Value: "Cable 2x1"},
		{Header: "P. Unit", Value: "5.2"},
		{Header: "Obs", Value: "nuevo"},
	}, d.Rows[0])
	assert.Equal(t, internal.Row{
		{Header: "Cod.", Value: "11"},
		{Header: "Column 1", Value: ""},
		{Header: "P. Unit", Value: "7,10"},
	}, d.Rows[1])
}

func TestDiscoverStructureRequiresHeaders(t *testing.T) {
	v := newTestVision(t, func(*http.Request) (*http.Response, error) {
		return respond(http.StatusOK, modelReply(`{"headers_detected": []}`)), nil
	})

	_, err := v.DiscoverStructure(context.Background(), []byte("img"), "image/png")
	assert.ErrorIs(t, err, internal.ErrAnalysis)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1}  "))
}

func TestVisionTimeoutOption(t *testing.T) {
	v := NewVision("k", zerolog.Nop(), WithHTTPClient(nil), WithTimeout(3*time.Second))
	require.NotNil(t, v.httpClient)
	assert.Equal(t, 3*time.Second, v.httpClient.Timeout)

	shared := &http.Client{Timeout: time.Minute}
	v = NewVision("k", zerolog.Nop(), WithTimeout(2*time.Second), WithHTTPClient(shared))
	assert.Equal(t, 2*time.Second, v.httpClient.Timeout)
	assert.Equal(t, time.Minute, shared.Timeout)

	v = NewVision("k", zerolog.Nop(), WithHTTPClient(shared))
	assert.Same(t, shared, v.httpClient)
}
