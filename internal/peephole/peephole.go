package peephole

import "strings"

// DefaultMaxIterations bounds the fixpoint loop; real rule sets
// converge in a handful of sweeps, so hitting the bound means a rule
// pair oscillates.
const DefaultMaxIterations = 64

// defaultRulesText is the built-in rule set, in the same grammar as an
// external i386.opt file. It covers the patterns the x86 backend emits
// mechanically: self-moves, store-then-reload of the same location,
// push/pop round trips, and jumps to the next line.
const defaultRulesText = `
# mov r, r
match:
mov %1, %1
replace:
--

# store then immediately reload the same location
match:
mov %1, %2
mov %2, %1
replace:
mov %1, %2
--

# push then pop into the same operand
match:
push %1
pop %1
replace:
--

# jump to the immediately following label
match:
jmp %1
%1:
replace:
%1:
--

# store without pop followed by a discarding pop
match:
fst %1
fstp st0
replace:
fstp %1
--

# add/sub esp, 0
match:
add esp, 0
replace:
--
match:
sub esp, 0
replace:
--
`

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	rules, err := Parse(strings.NewReader(defaultRulesText))
	if err != nil {
		panic("peephole: built-in rules do not parse: " + err.Error())
	}
	return rules
}

// Apply rewrites lines with rules until no rule matches anywhere or
// maxIter full sweeps have run. Lines whose text is not touched by any rule
// pass through byte-identical; replaced lines are re-rendered from the
// rule's replacement patterns in normalized form.
func Apply(lines []string, rules []Rule, maxIter int) []string {
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	out := append([]string(nil), lines...)
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for from := 0; from <= len(out); {
			pos, rule, bindings := findMatch(out[from:], rules)
			if rule == nil {
				break
			}
			pos += from
			repl := make([]string, 0, len(rule.Replace))
			for _, p := range rule.Replace {
				repl = append(repl, p.expand(bindings))
			}
			next := make([]string, 0, len(out)-len(rule.Match)+len(repl))
			next = append(next, out[:pos]...)
			next = append(next, repl...)
			next = append(next, out[pos+len(rule.Match):]...)
			out = next
			from = pos + len(repl)
			changed = true
		}
		if !changed {
			break
		}
	}
	return out
}

// findMatch scans for the lowest line offset at which any rule matches,
// trying rules in declaration order at each offset.
func findMatch(lines []string, rules []Rule) (int, *Rule, map[int]string) {
	norm := make([]string, len(lines))
	for i, l := range lines {
		norm[i] = normalize(l)
	}
	for pos := range lines {
		for ri := range rules {
			r := &rules[ri]
			if pos+len(r.Match) > len(lines) {
				continue
			}
			bindings := map[int]string{}
			ok := true
			for i, p := range r.Match {
				if !p.match(norm[pos+i], bindings) {
					ok = false
					break
				}
			}
			if ok {
				return pos, r, bindings
			}
		}
	}
	return 0, nil, nil
}
