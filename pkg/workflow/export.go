package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/flowgraph/pkg/domain/types"
)

// ExportVersion tags every export document. Importers do not interpret it.
const ExportVersion = "1.0"

// RedactedValue replaces params whose key looks like a credential when an
// export is redacted.
const RedactedValue = "<CREDENTIAL_REQUIRED>"

// ExportDocument is the portable graph snapshot written by Export.
type ExportDocument struct {
	Nodes     []Node    `json:"nodes" yaml:"nodes"`
	Edges     []Edge    `json:"edges" yaml:"edges"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Version   string    `json:"version" yaml:"version"`
}

// ExportOptions controls what Export writes.
type ExportOptions struct {
	// Redact replaces the value of every param whose key looks sensitive.
	Redact bool
	// Now overrides the timestamp; zero means time.Now().
	Now time.Time
}

// NewExportDocument snapshots w. The workflow itself is never modified.
func NewExportDocument(w *Workflow, opts ExportOptions) (*ExportDocument, error) {
	if w == nil {
		return nil, errors.New("workflow cannot be nil")
	}
	ts := opts.Now
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	cp := w.Clone()
	if opts.Redact {
		for i := range cp.Nodes {
			redactParams(cp.Nodes[i].Data.Params)
		}
	}

	doc := &ExportDocument{
		Nodes:     cp.Nodes,
		Edges:     cp.Edges,
		Timestamp: ts,
		Version:   ExportVersion,
	}
	if doc.Nodes == nil {
		doc.Nodes = []Node{}
	}
	if doc.Edges == nil {
		doc.Edges = []Edge{}
	}
	return doc, nil
}

// Export renders w as an indented JSON export document.
func Export(w *Workflow, opts ExportOptions) ([]byte, error) {
	doc, err := NewExportDocument(w, opts)
	if err != nil {
		return nil, err
	}
	data, err := MarshalIndent(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export document: %w", err)
	}
	return data, nil
}

// MarshalIndent encodes v as two-space indented JSON without escaping '<', '>'
// and '&', so prompts and placeholders stay readable in written documents.
func MarshalIndent(v any) ([]byte, error) {
	return marshalJSON(v, "  ")
}

func marshalJSON(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ExportYAML renders the same document as Export in YAML.
func ExportYAML(w *Workflow, opts ExportOptions) ([]byte, error) {
	doc, err := NewExportDocument(w, opts)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export document to YAML: %w", err)
	}
	return data, nil
}

// ExportWithWarnings scans w for credentials and then exports it as JSON.
func ExportWithWarnings(w *Workflow, opts ExportOptions) ([]byte, []CredentialWarning, error) {
	if w == nil {
		return nil, nil, errors.New("workflow cannot be nil")
	}
	warnings := ScanForCredentials(w)
	data, err := Export(w, opts)
	if err != nil {
		return nil, warnings, err
	}
	return data, warnings, nil
}

// ParseExport decodes a JSON or YAML export document after checking it against
// the export schema.
func ParseExport(data []byte) (*ExportDocument, error) {
	jsonBytes, err := toJSON(data)
	if err != nil {
		return nil, err
	}
	if err := ValidateExportDocument(jsonBytes); err != nil {
		return nil, err
	}

	var doc ExportDocument
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode export document: %w", err)
	}
	return &doc, nil
}

// Workflow builds an unsaved draft workflow from the document. Structural
// problems are corrected with Sanitize.
func (d *ExportDocument) Workflow(name string) *Workflow {
	if name == "" {
		name = DefaultName
	}
	w := &Workflow{
		ID:         types.WorkflowID(""),
		Name:       name,
		Nodes:      d.Nodes,
		Edges:      d.Edges,
		Status:     StatusDraft,
		SaveStatus: SaveStatusUnsaved,
	}
	w = w.Clone()
	w.Sanitize()
	return w
}

// toJSON passes JSON through and converts YAML to JSON so both go through the
// same schema and decoder.
func toJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty document")
	}
	if trimmed[0] == '{' {
		return trimmed, nil
	}

	var generic any
	if err := yaml.Unmarshal(trimmed, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	out, err := json.Marshal(normalizeYAML(generic))
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML to JSON: %w", err)
	}
	return out, nil
}

// normalizeYAML rewrites map[any]any values, which encoding/json rejects.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeYAML(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return val
	}
}

func redactParams(params map[string]any) {
	for k, v := range params {
		if isSensitiveKey(k) {
			params[k] = RedactedValue
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			redactParams(val)
		case []any:
			for _, item := range val {
				if m, ok := item.(map[string]any); ok {
					redactParams(m)
				}
			}
		}
	}
}
