package executors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dshills/flowgraph/pkg/execution"
)

// ErrInvalidJSONPath is returned for a path gjson cannot use.
var ErrInvalidJSONPath = errors.New("invalid JSONPath syntax")

var (
	indexPattern    = regexp.MustCompile(`\[(-?\d+)\]`)
	wildcardPattern = regexp.MustCompile(`\[\*\]`)
)

// toGJSONPath converts the common JSONPath subset ($.a.b[0].c, $.items[*].id)
// to gjson syntax. Paths already in gjson syntax pass through.
func toGJSONPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", ErrInvalidJSONPath
	}
	if strings.Count(p, "[") != strings.Count(p, "]") {
		return "", fmt.Errorf("%w: unbalanced brackets in %q", ErrInvalidJSONPath, path)
	}
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	p = wildcardPattern.ReplaceAllString(p, ".#")
	p = indexPattern.ReplaceAllString(p, ".$1")
	p = strings.TrimPrefix(p, ".")
	return p, nil
}

// QueryJSON runs path against raw JSON. The second result reports whether the
// path matched.
func QueryJSON(raw []byte, path string) (any, bool, error) {
	if !gjson.ValidBytes(raw) {
		return nil, false, errors.New("data is not valid JSON")
	}
	gpath, err := toGJSONPath(path)
	if err != nil {
		return nil, false, err
	}
	if gpath == "" {
		var whole any
		if err := json.Unmarshal(raw, &whole); err != nil {
			return nil, false, err
		}
		return whole, true, nil
	}

	res := gjson.GetBytes(raw, gpath)
	if !res.Exists() {
		return nil, false, nil
	}
	return res.Value(), true, nil
}

// JSONPath extracts a value from params["data"] with params["path"]. A path
// that matches nothing completes with a nil result and exists=false.
func JSONPath() execution.Executor {
	spec := execution.NodeSpec{
		Type:           TypeJSONPath,
		Description:    "Extracts a value from JSON data",
		RequiredParams: []string{"path", "data"},
		Outputs:        []string{"result", "exists"},
	}
	return execution.NewExecutor(spec, func(_ context.Context, params map[string]any) (map[string]any, error) {
		var raw []byte
		if s, ok := params["data"].(string); ok {
			raw = []byte(s)
		} else {
			b, err := json.Marshal(params["data"])
			if err != nil {
				return nil, fmt.Errorf("data is not JSON-compatible: %w", err)
			}
			raw = b
		}

		value, exists, err := QueryJSON(raw, stringParam(params, "path"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": value, "exists": exists}, nil
	})
}
