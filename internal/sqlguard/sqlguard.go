// Package sqlguard scopes raw statement text to a single physical table.
//
// Raw execution is an escape hatch: callers write statements against their
// logical table name, the name is textually rewritten to the resolved
// physical pointer, and the rewritten text is scanned for any other
// table-like reference in a FROM or JOIN position.
//
// The scan is a tokenizer, not a SQL parser. String literals, quoted
// identifiers, and comments are skipped as opaque, so a table reference
// smuggled inside one is not seen — a false negative, documented rather than
// patched. Write positions (INSERT INTO, UPDATE targets) are outside the
// FROM/JOIN scan by contract.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"
)

// CrossTableError reports a statement referencing a table other than the one
// the accessor resolved to.
type CrossTableError struct {
	Target string
}

func (e *CrossTableError) Error() string {
	return fmt.Sprintf("statement references table %q outside the accessor's scope", e.Target)
}

// IsCrossTable returns true if the error is a raw-execution scope violation.
// Uses errors.As to handle wrapped errors.
func IsCrossTable(err error) bool {
	var ct *CrossTableError
	return errors.As(err, &ct)
}

// Rewrite replaces every textual occurrence of the logical name with the
// physical name. Purely textual: occurrences inside literals are rewritten
// too, matching the documented contract of the escape hatch.
func Rewrite(statement, logical, physical string) string {
	return strings.ReplaceAll(statement, logical, physical)
}

type scanState int

const (
	// stateScan consumes tokens outside any FROM/JOIN clause.
	stateScan scanState = iota
	// stateTarget expects the next token to name a table.
	stateTarget
	// stateList sits inside a FROM list after a target: aliases pass,
	// a comma re-arms target capture.
	stateList
)

// listTerminators are keywords that end a FROM list.
var listTerminators = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "LIMIT": true,
	"HAVING": true, "UNION": true, "EXCEPT": true, "INTERSECT": true,
	"WINDOW": true, "ON": true, "USING": true, "SET": true,
	"RETURNING": true, "VALUES": true, "SELECT": true,
}

// CheckSingleTable scans statement for table references in FROM/JOIN
// positions and returns CrossTableError for the first reference that is not
// physical. Self-joins and subqueries over the same table pass.
func CheckSingleTable(statement, physical string) error {
	sc := &scanner{src: statement}
	st := stateScan
	depth := 0

	// Depths at which a FROM list was suspended by a parenthesized target
	// (a subquery in target position). Closing back to that depth resumes
	// the list so `FROM (SELECT ...), other` still checks `other`.
	var suspended []int

	for {
		tok, kind, ok := sc.next()
		if !ok {
			return nil
		}

		if kind == tokenQuoted {
			// A quoted span in target position consumes the slot
			// unchecked: the documented false negative.
			if st == stateTarget {
				st = stateList
			}
			continue
		}

		if kind == tokenPunct {
			switch tok {
			case "(":
				if st == stateTarget {
					suspended = append(suspended, depth)
					st = stateScan
				}
				depth++
			case ")":
				depth--
				if n := len(suspended); n > 0 && suspended[n-1] == depth {
					suspended = suspended[:n-1]
					st = stateList
				} else {
					st = stateScan
				}
			case ",":
				if st == stateList {
					st = stateTarget
				}
			case ";":
				st = stateScan
				suspended = suspended[:0]
			}
			continue
		}

		upper := strings.ToUpper(tok)
		switch st {
		case stateScan:
			if upper == "FROM" || upper == "JOIN" {
				st = stateTarget
			}
		case stateTarget:
			if !strings.EqualFold(tok, physical) {
				return &CrossTableError{Target: tok}
			}
			st = stateList
		case stateList:
			switch {
			case upper == "JOIN":
				st = stateTarget
			case upper == "AS":
				// alias marker; the alias itself is ignored below
			case listTerminators[upper]:
				st = stateScan
			default:
				// bare alias, or join modifiers (LEFT, OUTER, CROSS)
			}
		}
	}
}

const (
	tokenWord = iota
	tokenPunct
	tokenQuoted
)

// scanner yields SQL tokens, skipping whitespace and comments and collapsing
// quoted spans into opaque tokenQuoted tokens.
type scanner struct {
	src string
	pos int
}

func (s *scanner) next() (string, int, bool) {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			s.pos++
		case c == '\'' || c == '"' || c == '`':
			s.skipQuoted(c)
			return "", tokenQuoted, true
		case c == '-' && s.peek(1) == '-':
			s.skipLineComment()
		case c == '/' && s.peek(1) == '*':
			s.skipBlockComment()
		case isWordByte(c):
			return s.word(), tokenWord, true
		default:
			s.pos++
			return string(c), tokenPunct, true
		}
	}
	return "", 0, false
}

func (s *scanner) peek(ahead int) byte {
	if s.pos+ahead < len(s.src) {
		return s.src[s.pos+ahead]
	}
	return 0
}

// word consumes an identifier-like run. Dots are included so a qualified
// name like db.users arrives as one token, which can never equal a bare
// physical pointer and is rejected in target position.
func (s *scanner) word() string {
	start := s.pos
	for s.pos < len(s.src) && isWordByte(s.src[s.pos]) {
		s.pos++
	}
	return s.src[start:s.pos]
}

// skipQuoted consumes a quoted span, honoring the doubled-quote escape.
// An unterminated span runs to the end; the backing store rejects the
// statement anyway.
func (s *scanner) skipQuoted(q byte) {
	s.pos++
	for s.pos < len(s.src) {
		if s.src[s.pos] == q {
			if s.peek(1) == q {
				s.pos += 2
				continue
			}
			s.pos++
			return
		}
		s.pos++
	}
}

func (s *scanner) skipLineComment() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.pos++
	}
}

func (s *scanner) skipBlockComment() {
	s.pos += 2
	for s.pos < len(s.src) {
		if s.src[s.pos] == '*' && s.peek(1) == '/' {
			s.pos += 2
			return
		}
		s.pos++
	}
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '.'
}
