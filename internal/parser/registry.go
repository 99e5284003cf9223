package parser

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds parsers in registration order. The first parser whose
// CanParse accepts a file wins, so specific formats should be registered
// before generic ones.
type Registry struct {
	mu      sync.RWMutex
	parsers []Parser
	logger  *slog.Logger
}

// NewRegistry returns an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// NewDefaultRegistry builds every built-in parser from cfg and registers
// them with OFX, QIF, spreadsheet and PDF ahead of the generic CSV parser.
func NewDefaultRegistry(cfg Config, extractor PageExtractor, logger *slog.Logger) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("parser config: %w", err)
	}

	ofx, err := NewOFXParser(cfg.OFX)
	if err != nil {
		return nil, err
	}
	qif, err := NewQIFParser(cfg.QIF)
	if err != nil {
		return nil, err
	}
	sheet, err := NewSpreadsheetParser(cfg.Spreadsheet)
	if err != nil {
		return nil, err
	}
	pdf, err := NewPDFParser(cfg.PDF, extractor)
	if err != nil {
		return nil, err
	}
	csv, err := NewCSVParser(cfg.CSV)
	if err != nil {
		return nil, err
	}

	r := NewRegistry(logger)
	for _, p := range []Parser{ofx, qif, sheet, pdf, csv} {
		r.Register(p)
	}
	return r, nil
}

// Register adds p. Registering a name again replaces the earlier parser in
// place and logs a warning.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.parsers {
		if existing.Name() == p.Name() {
			r.logger.Warn("parser re-registered, replacing existing entry", "parser", p.Name())
			r.parsers[i] = p
			return
		}
	}
	r.parsers = append(r.parsers, p)
}

// Unregister removes the named parser. Returns false if it was not present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.parsers {
		if p.Name() == name {
			r.parsers = append(r.parsers[:i], r.parsers[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a parser by name.
func (r *Registry) Get(name string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.parsers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// FindParser returns the first registered parser that accepts the file.
func (r *Registry) FindParser(c Candidate) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.parsers {
		if p.CanParse(c) {
			return p, true
		}
	}
	return nil, false
}

// Names returns parser names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}

// SupportedExtensions returns the sorted union of parser extensions.
func (r *Registry) SupportedExtensions() []string {
	return r.union(Parser.Extensions)
}

// SupportedMIMETypes returns the sorted union of parser MIME types.
func (r *Registry) SupportedMIMETypes() []string {
	return r.union(Parser.MIMETypes)
}

func (r *Registry) union(list func(Parser) []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, p := range r.parsers {
		for _, v := range list(p) {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered parsers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parsers)
}
