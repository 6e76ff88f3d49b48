package parser

import (
	"regexp"
	"strings"
)

// QueryType represents the type of SQL statement
type QueryType int

const (
	QueryUnknown QueryType = iota
	QuerySelect
	QueryInsert
	QueryUpdate
	QueryDelete
)

// String returns the lower-case label used in logs and metrics
func (t QueryType) String() string {
	switch t {
	case QuerySelect:
		return "select"
	case QueryInsert:
		return "insert"
	case QueryUpdate:
		return "update"
	case QueryDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParsedTemplate contains extracted information from a parameterized statement
type ParsedTemplate struct {
	Type         QueryType
	Table        string // Target table, without schema qualifier
	Placeholders int    // Number of positional parameters
	Query        string // Template as registered
}

var (
	// Match the leading statement keyword (allows comments before keyword)
	queryTypeRegex = regexp.MustCompile(`(?i)^\s*(?:/\*.*?\*/\s*)*(SELECT|INSERT|UPDATE|DELETE)\b`)
	// Match the table a write targets: INSERT INTO t, UPDATE t, DELETE FROM t
	tableRegex = regexp.MustCompile("(?i)\\b(?:INTO|UPDATE|FROM)\\s+(?:['\"`]?[a-zA-Z0-9_$]+['\"`]?\\s*\\.\\s*)?['\"`]?([a-zA-Z0-9_$]+)")
	// Match string literals and comments, which may contain question marks
	literalRegex = regexp.MustCompile(`'(?:[^']|'')*'|"[^"]*"|/\*.*?\*/|--[^\n]*`)
	// Match numbered placeholders like $1, $12
	numberedRegex = regexp.MustCompile(`\$(\d+)`)
)

// Parse extracts metadata from a parameterized SQL template
func Parse(query string) *ParsedTemplate {
	p := &ParsedTemplate{
		Query: query,
		Type:  QueryUnknown,
	}

	if matches := queryTypeRegex.FindStringSubmatch(query); matches != nil {
		switch strings.ToUpper(matches[1]) {
		case "SELECT":
			p.Type = QuerySelect
		case "INSERT":
			p.Type = QueryInsert
		case "UPDATE":
			p.Type = QueryUpdate
		case "DELETE":
			p.Type = QueryDelete
		}
	}

	if matches := tableRegex.FindStringSubmatch(query); matches != nil {
		p.Table = strings.ToLower(matches[1])
	}

	p.Placeholders = countPlaceholders(query)
	return p
}

// countPlaceholders counts positional parameters. Numbered placeholders
// count up to the highest index used, so $1 referenced twice counts once.
func countPlaceholders(query string) int {
	stripped := literalRegex.ReplaceAllString(query, "")

	highest := 0
	for _, m := range numberedRegex.FindAllStringSubmatch(stripped, -1) {
		n := 0
		for _, c := range m[1] {
			n = n*10 + int(c-'0')
		}
		if n > highest {
			highest = n
		}
	}
	if highest > 0 {
		return highest
	}
	return strings.Count(stripped, "?")
}

// IsWritable returns true if the template is a write operation (INSERT, UPDATE, DELETE)
func (p *ParsedTemplate) IsWritable() bool {
	return p.Type == QueryInsert ||
		p.Type == QueryUpdate ||
		p.Type == QueryDelete
}
