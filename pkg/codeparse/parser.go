// Package codeparse extracts symbols from source code in the observed
// project and in LLM-generated programs. It is a regex-based parser: good
// enough for directory summaries and entry-point detection without dragging
// in per-language grammars.
package codeparse

import (
	"path/filepath"
	"regexp"
	"strings"
)

// SymbolKind classifies an extracted symbol.
type SymbolKind string

const (
	SymbolFunction SymbolKind = "function"
	SymbolClass    SymbolKind = "class"
	SymbolMethod   SymbolKind = "method"
)

// Symbol is a named definition found in source code.
type Symbol struct {
	Name      string
	Kind      SymbolKind
	Line      int
	Signature string
	Async     bool
}

type symbolPattern struct {
	kind       SymbolKind
	pattern    *regexp.Regexp
	nameGroup  int
	sigGroup   int
	asyncGroup int
}

// Parser extracts symbols per language.
type Parser struct {
	patterns map[string][]*symbolPattern
}

// NewParser creates a parser covering the recognized-code language set.
func NewParser() *Parser {
	p := &Parser{patterns: make(map[string][]*symbolPattern)}

	p.patterns["python"] = []*symbolPattern{
		{SymbolFunction, regexp.MustCompile(`(?m)^(async\s+)?def\s+(\w+)\s*(\([^)]*\))`), 2, 3, 1},
		{SymbolClass, regexp.MustCompile(`(?m)^class\s+(\w+)(?:\([^)]*\))?:`), 1, 0, 0},
		{SymbolMethod, regexp.MustCompile(`(?m)^\s+(async\s+)?def\s+(\w+)\s*\(self[^)]*\)`), 2, 0, 1},
	}

	jsPatterns := []*symbolPattern{
		{SymbolFunction, regexp.MustCompile(`(?m)^(?:export\s+)?(async\s+)?function\s+(\w+)\s*(\([^)]*\))`), 2, 3, 1},
		{SymbolClass, regexp.MustCompile(`(?m)^(?:export\s+)?class\s+(\w+)`), 1, 0, 0},
	}
	p.patterns["javascript"] = jsPatterns
	p.patterns["typescript"] = jsPatterns

	p.patterns["java"] = []*symbolPattern{
		{SymbolClass, regexp.MustCompile(`(?m)^(?:public\s+)?(?:abstract\s+)?class\s+(\w+)`), 1, 0, 0},
		{SymbolMethod, regexp.MustCompile(`(?m)^\s+(?:public|private|protected)?\s*(?:static\s+)?(?:\w+(?:<[^>]+>)?)\s+(\w+)\s*(\([^)]*\))`), 1, 2, 0},
	}

	p.patterns["cpp"] = []*symbolPattern{
		{SymbolFunction, regexp.MustCompile(`(?m)^(?:\w+\s+)*(\w+)\s*\([^)]*\)\s*\{`), 1, 0, 0},
		{SymbolClass, regexp.MustCompile(`(?m)^class\s+(\w+)`), 1, 0, 0},
	}

	p.patterns["go"] = []*symbolPattern{
		{SymbolFunction, regexp.MustCompile(`(?m)^func\s+(\w+)\s*(\([^)]*\))`), 1, 2, 0},
		{SymbolMethod, regexp.MustCompile(`(?m)^func\s*\([^)]+\)\s*(\w+)\s*(\([^)]*\))`), 1, 2, 0},
	}

	return p
}

// Parse extracts symbols from content in the given language. Returns nil for
// unrecognized languages.
func (p *Parser) Parse(content, language string) []Symbol {
	patterns := p.patterns[language]
	if len(patterns) == 0 {
		return nil
	}

	var symbols []Symbol
	for _, pat := range patterns {
		matches := pat.pattern.FindAllStringSubmatchIndex(content, -1)
		for _, match := range matches {
			nameStart, nameEnd := match[pat.nameGroup*2], match[pat.nameGroup*2+1]
			if nameStart < 0 || nameEnd < 0 {
				continue
			}

			sym := Symbol{
				Name: content[nameStart:nameEnd],
				Kind: pat.kind,
				Line: lineAt(content, nameStart),
			}
			if pat.sigGroup > 0 && len(match) > pat.sigGroup*2+1 {
				sigStart, sigEnd := match[pat.sigGroup*2], match[pat.sigGroup*2+1]
				if sigStart >= 0 && sigEnd >= 0 {
					sym.Signature = sym.Name + content[sigStart:sigEnd]
				}
			}
			if pat.asyncGroup > 0 && len(match) > pat.asyncGroup*2+1 {
				sym.Async = match[pat.asyncGroup*2] >= 0
			}

			symbols = append(symbols, sym)
		}
	}

	return symbols
}

// Functions returns only the function symbols, in source order.
func (p *Parser) Functions(content, language string) []Symbol {
	var fns []Symbol
	for _, sym := range p.Parse(content, language) {
		if sym.Kind == SymbolFunction {
			fns = append(fns, sym)
		}
	}
	sortByLine(fns)
	return fns
}

// LastAsyncFunction returns the last asynchronous top-level function in the
// program, or false when none exists.
func (p *Parser) LastAsyncFunction(content, language string) (Symbol, bool) {
	var last Symbol
	found := false
	for _, sym := range p.Functions(content, language) {
		if sym.Async {
			last = sym
			found = true
		}
	}
	return last, found
}

// LanguageFromPath maps a file extension to a parser language.
func LanguageFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".js", ".mjs":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".java":
		return "java"
	case ".cpp", ".cc", ".cxx", ".hpp":
		return "cpp"
	case ".go":
		return "go"
	default:
		return ""
	}
}

func lineAt(content string, offset int) int {
	line := 1
	for i := 0; i < offset && i < len(content); i++ {
		if content[i] == '\n' {
			line++
		}
	}
	return line
}

func sortByLine(symbols []Symbol) {
	for i := 1; i < len(symbols); i++ {
		for j := i; j > 0 && symbols[j].Line < symbols[j-1].Line; j-- {
			symbols[j], symbols[j-1] = symbols[j-1], symbols[j]
		}
	}
}
