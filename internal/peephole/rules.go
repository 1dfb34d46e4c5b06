// Package peephole implements the line-window peephole optimizer of the
// assembly output stage: rules loaded from a target rules file (i386.opt
// in the data directory) or from the built-in set are applied to the
// buffered output lines until fixpoint or an iteration bound.
//
// Rule file grammar, one record per rule:
//
//	# comment
//	match:
//	mov %1, %2
//	mov %2, %1
//	replace:
//	mov %1, %2
//	--
//
// A match line is literal text with embedded %1..%9 captures; a capture
// matches the shortest non-empty run of text that lets the rest of the
// line match, and a repeated capture must
// match the same text at every occurrence. An empty replace section
// deletes the matched window. Rules apply in declaration order; the
// first match at the lowest line offset wins each scan.
package peephole

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Rule is one line-window pattern and its replacement.
type Rule struct {
	Match   []pattern
	Replace []pattern

	// src keeps the raw match lines for error reporting.
	src []string
}

// segment is one piece of a pattern line: either literal text or a
// capture reference (1-9).
type segment struct {
	lit string
	cap int // 0 means literal
}

type pattern struct {
	segs []segment
}

func parsePattern(line string) pattern {
	var p pattern
	rest := line
	for {
		i := strings.IndexByte(rest, '%')
		if i < 0 || i+1 >= len(rest) || rest[i+1] < '1' || rest[i+1] > '9' {
			if rest != "" {
				p.segs = append(p.segs, segment{lit: rest})
			}
			return p
		}
		if i > 0 {
			p.segs = append(p.segs, segment{lit: rest[:i]})
		}
		p.segs = append(p.segs, segment{cap: int(rest[i+1] - '0')})
		rest = rest[i+2:]
	}
}

// match attempts to match p against line (whitespace-normalized),
// extending bindings. It backtracks over capture lengths so a capture
// followed by a literal takes the shortest text that lets the rest of
// the pattern succeed.
func (p pattern) match(line string, bindings map[int]string) bool {
	return matchSegs(p.segs, line, bindings)
}

func matchSegs(segs []segment, rest string, bindings map[int]string) bool {
	if len(segs) == 0 {
		return rest == ""
	}
	s := segs[0]
	if s.cap == 0 {
		if !strings.HasPrefix(rest, s.lit) {
			return false
		}
		return matchSegs(segs[1:], rest[len(s.lit):], bindings)
	}
	if bound, ok := bindings[s.cap]; ok {
		if !strings.HasPrefix(rest, bound) {
			return false
		}
		return matchSegs(segs[1:], rest[len(bound):], bindings)
	}
	for n := 1; n <= len(rest); n++ {
		bindings[s.cap] = rest[:n]
		if matchSegs(segs[1:], rest[n:], bindings) {
			return true
		}
	}
	delete(bindings, s.cap)
	return false
}

// expand renders p with bindings substituted for its captures.
func (p pattern) expand(bindings map[int]string) string {
	var sb strings.Builder
	for _, s := range p.segs {
		if s.cap == 0 {
			sb.WriteString(s.lit)
		} else {
			sb.WriteString(bindings[s.cap])
		}
	}
	return sb.String()
}

// Parse reads a rules file in the grammar above.
func Parse(r io.Reader) ([]Rule, error) {
	const (
		stateIdle = iota
		stateMatch
		stateReplace
	)
	var rules []Rule
	var cur Rule
	state := stateIdle

	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := normalize(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case line == "match:":
			if state != stateIdle {
				return nil, errors.Errorf("line %d: match: inside an unterminated rule", lineno)
			}
			cur = Rule{}
			state = stateMatch
		case line == "replace:":
			if state != stateMatch {
				return nil, errors.Errorf("line %d: replace: without a preceding match:", lineno)
			}
			state = stateReplace
		case line == "--":
			if state != stateReplace {
				return nil, errors.Errorf("line %d: -- without a replace: section", lineno)
			}
			if len(cur.Match) == 0 {
				return nil, errors.Errorf("line %d: rule with empty match window", lineno)
			}
			rules = append(rules, cur)
			state = stateIdle
		default:
			switch state {
			case stateMatch:
				cur.Match = append(cur.Match, parsePattern(line))
				cur.src = append(cur.src, line)
			case stateReplace:
				cur.Replace = append(cur.Replace, parsePattern(line))
			default:
				return nil, errors.Errorf("line %d: text outside a rule: %q", lineno, line)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "reading rules")
	}
	if state != stateIdle {
		return nil, errors.New("unterminated rule at end of file")
	}
	return rules, nil
}

// normalize collapses runs of whitespace so patterns match regardless
// of the backend's indentation.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
