package workflow

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportFixture() *Workflow {
	w := New()
	w.Name = "Summarizer"
	in := NewNode("input_0", "input", Position{X: 0, Y: 0})
	in.Data.Params["text"] = "hello"
	ai := NewNode("openai_0", "openai", Position{X: 200, Y: 0})
	ai.Data.Params["prompt"] = "Summarize: {{ input_0.text }}"
	ai.Data.Params["api_key"] = "sk-abcdefghijklmnopqrstuvwxyz012345"
	w.Nodes = []Node{in, ai}
	w.Edges = []Edge{{ID: "e1", Source: "input_0", Target: "openai_0", Type: DefaultEdgeType, Animated: true}}
	return w
}

func TestExport_JSON(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data, err := Export(exportFixture(), ExportOptions{Now: now})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "1.0", raw["version"])
	assert.Equal(t, "2026-01-02T03:04:05Z", raw["timestamp"])
	assert.Len(t, raw["nodes"], 2)
	assert.Len(t, raw["edges"], 1)
	assert.NoError(t, ValidateExportDocument(data))
}

func TestExport_RoundTrip(t *testing.T) {
	src := exportFixture()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			var data []byte
			var err error
			if format == "json" {
				data, err = Export(src, ExportOptions{Now: now})
			} else {
				data, err = ExportYAML(src, ExportOptions{Now: now})
			}
			require.NoError(t, err)

			doc, err := ParseExport(data)
			require.NoError(t, err)
			assert.Equal(t, ExportVersion, doc.Version)
			assert.True(t, now.Equal(doc.Timestamp))

			got := doc.Workflow("Imported")
			assert.Equal(t, "Imported", got.Name)
			assert.Equal(t, SaveStatusUnsaved, got.SaveStatus)
			assert.True(t, got.ID.IsZero())
			if diff := cmp.Diff(src.Nodes, got.Nodes); diff != "" {
				t.Errorf("nodes mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(src.Edges, got.Edges); diff != "" {
				t.Errorf("edges mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExport_Redact(t *testing.T) {
	src := exportFixture()
	data, err := Export(src, ExportOptions{Redact: true})
	require.NoError(t, err)

	assert.NotContains(t, string(data), "sk-abcdefghijklmnopqrstuvwxyz012345")
	assert.Contains(t, string(data), `"<CREDENTIAL_REQUIRED>"`)
	assert.Equal(t, "sk-abcdefghijklmnopqrstuvwxyz012345", src.Nodes[1].Data.Params["api_key"], "source must not be modified")
}

func TestExport_KeepsMarkupCharacters(t *testing.T) {
	src := exportFixture()
	src.Nodes[0].Data.Params["text"] = "a < b && c > d"

	data, err := Export(src, ExportOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"a < b && c > d"`)
	assert.NotContains(t, string(data), `\u003c`)
	assert.False(t, strings.HasSuffix(string(data), "\n"))

	doc, err := ParseExport(data)
	require.NoError(t, err)
	assert.Equal(t, "a < b && c > d", doc.Nodes[0].Data.Params["text"])
}

func TestParseExport_Invalid(t *testing.T) {
	_, err := ParseExport([]byte(`{"nodes":[],"edges":[]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")

	_, err = ParseExport([]byte("   "))
	require.Error(t, err)
}

func TestScanForCredentials(t *testing.T) {
	w := exportFixture()
	w.Nodes[0].Data.Params["token_ref"] = "{{ input_0.token }}"
	w.Nodes[0].Data.Params["headers"] = map[string]any{"Authorization": "Bearer aaaa.bbbb.cccc"}

	warnings := ScanForCredentials(w)

	var locations []string
	for _, warn := range warnings {
		locations = append(locations, warn.Location)
	}
	joined := strings.Join(locations, ",")
	assert.Contains(t, joined, "nodes.openai_0.params.api_key")
	assert.Contains(t, joined, "nodes.input_0.params.headers.Authorization")
	assert.NotContains(t, joined, "token_ref")
	assert.NotContains(t, joined, "prompt")
}
