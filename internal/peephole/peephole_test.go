package peephole

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules(t *testing.T) {
	rules, err := Parse(strings.NewReader(`
# delete self-moves
match:
mov %1, %1
replace:
--

match:
push %1
pop %2
replace:
mov %2, %1
--
`))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Len(t, rules[0].Match, 1)
	assert.Empty(t, rules[0].Replace)
	assert.Len(t, rules[1].Match, 2)
	assert.Len(t, rules[1].Replace, 1)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("replace:\n--\n"))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("match:\nfoo\n"))
	assert.Error(t, err, "unterminated rule")

	_, err = Parse(strings.NewReader("stray text\n"))
	assert.Error(t, err)
}

func TestApplySelfMoveDeletion(t *testing.T) {
	out := Apply([]string{
		"\tmov eax, 5",
		"\tmov ebx, ebx",
		"\tadd eax, 1",
	}, DefaultRules(), 0)
	require.Len(t, out, 2)
	assert.Equal(t, "\tmov eax, 5", out[0], "untouched lines pass through byte-identical")
}

func TestApplyCaptureConsistency(t *testing.T) {
	rules, err := Parse(strings.NewReader(`
match:
push %1
pop %1
replace:
--
`))
	require.NoError(t, err)

	// Same operand: deleted.
	out := Apply([]string{"\tpush eax", "\tpop eax"}, rules, 0)
	assert.Empty(t, out)

	// Different operands: untouched.
	out = Apply([]string{"\tpush eax", "\tpop ebx"}, rules, 0)
	assert.Len(t, out, 2)
}

func TestApplySubstitution(t *testing.T) {
	rules, err := Parse(strings.NewReader(`
match:
mov %1, %2
mov %2, %1
replace:
mov %1, %2
--
`))
	require.NoError(t, err)
	out := Apply([]string{
		"\tmov dword [ebp-4], eax",
		"\tmov eax, dword [ebp-4]",
	}, rules, 0)
	require.Len(t, out, 1)
	assert.Equal(t, "mov dword [ebp-4], eax", out[0])
}

func TestJumpToNextLabel(t *testing.T) {
	out := Apply([]string{
		"\tjmp .b2",
		".b2:",
		"\tret",
	}, DefaultRules(), 0)
	require.Len(t, out, 2)
	assert.Equal(t, ".b2:", strings.TrimSpace(out[0]))
}

// The pass must be idempotent on its own output.
func TestIdempotence(t *testing.T) {
	in := []string{
		"\tmov eax, eax",
		"\tpush ebx",
		"\tpop ebx",
		"\tmov dword [ebp-8], ecx",
		"\tmov ecx, dword [ebp-8]",
		"\tjmp .b1",
		".b1:",
		"\tret",
	}
	once := Apply(in, DefaultRules(), 0)
	twice := Apply(once, DefaultRules(), 0)
	assert.Equal(t, once, twice)
}

func TestIterationBound(t *testing.T) {
	// A deliberately oscillating rule pair must terminate via the bound.
	rules, err := Parse(strings.NewReader(`
match:
a
replace:
b
--
match:
b
replace:
a
--
`))
	require.NoError(t, err)
	out := Apply([]string{"a"}, rules, 10)
	assert.Len(t, out, 1)
}
