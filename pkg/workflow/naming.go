package workflow

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NameRegistry hands out human-readable node names of the form "{type}_{n}".
// Counters only ever move forward, so a name is never handed out twice within a
// session even after the node that held it is deleted.
type NameRegistry struct {
	counters map[string]int
}

// NewNameRegistry returns a registry with every counter at zero.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{counters: make(map[string]int)}
}

// Allocate returns the next name for nodeType and advances its counter.
func (r *NameRegistry) Allocate(nodeType string) string {
	n := r.counters[nodeType]
	r.counters[nodeType] = n + 1
	return FormatName(nodeType, n)
}

// Observe records a name that entered the graph without Allocate, typically from
// a bulk load. A name of the form "{type}_{n}" raises counter[type] to at least
// n+1. Anything else is ignored, including an ordinal with no successor.
func (r *NameRegistry) Observe(name string) {
	nodeType, n, ok := ParseName(name)
	if !ok || n == math.MaxInt {
		return
	}
	if r.counters[nodeType] <= n {
		r.counters[nodeType] = n + 1
	}
}

// Reset zeroes every counter. Only a workflow clear may call it.
func (r *NameRegistry) Reset() {
	r.counters = make(map[string]int)
}

// Next returns the ordinal the next Allocate for nodeType would use.
func (r *NameRegistry) Next(nodeType string) int {
	return r.counters[nodeType]
}

// Counters returns a copy of the current counters.
func (r *NameRegistry) Counters() map[string]int {
	out := make(map[string]int, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

// FormatName builds "{type}_{n}".
func FormatName(nodeType string, n int) string {
	return fmt.Sprintf("%s_%d", nodeType, n)
}

// ParseName splits a generated name at its last underscore. Types may themselves
// contain underscores ("http_request_2" is type "http_request", ordinal 2).
func ParseName(name string) (nodeType string, n int, ok bool) {
	i := strings.LastIndexByte(name, '_')
	if i <= 0 || i == len(name)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil || n < 0 || strings.HasPrefix(name[i+1:], "+") {
		return "", 0, false
	}
	return name[:i], n, true
}
