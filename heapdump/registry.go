// ABOUTME: Registry for heap dump parsers
// ABOUTME: Manages parser plugins and selects appropriate parser for dumps

package heapdump

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

var (
	// ErrNoParser is returned when no parser can handle the dump format
	ErrNoParser = errors.New("no parser found for dump format")
)

// parserRegistry holds registered parsers
type parserRegistry struct {
	mu      sync.RWMutex
	parsers []Parser
}

// Global registry instance
var registry = &parserRegistry{
	parsers: make([]Parser, 0),
}

// Register adds a parser to the registry
func Register(p Parser) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.parsers = append(registry.parsers, p)
}

// Open reads a heap dump with the first registered parser that recognises
// its format.
func Open(r io.Reader) (*Dump, error) {
	// Only a prefix is sniffed; the parser gets it back in front of the rest.
	detectBuf := make([]byte, 4096)
	n, err := io.ReadFull(r, detectBuf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	for _, parser := range registry.parsers {
		if parser.CanParse(bytes.NewReader(detectBuf[:n])) {
			return parser.Parse(io.MultiReader(bytes.NewReader(detectBuf[:n]), r))
		}
	}

	return nil, ErrNoParser
}
