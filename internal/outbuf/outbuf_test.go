package outbuf

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFramer struct{}

func (testFramer) Prologue(n int) []string {
	return []string{"\tpush ebp", "\tmov ebp, esp", fmt.Sprintf("\tsub esp, %d", n)}
}

func (testFramer) Epilogue(n int) []string {
	return []string{"\tmov esp, ebp", "\tpop ebp", "\tret"}
}

func (testFramer) FrameRef(disp int) string {
	if disp < 0 {
		return fmt.Sprintf("ebp+%d", -disp)
	}
	return fmt.Sprintf("ebp-%d", disp)
}

func TestFixStackPatchesTokens(t *testing.T) {
	b := New()
	b.Line("header")
	start := b.Len()
	b.Line("f:")
	b.Printf("\t%s", PrologueToken)
	b.Printf("\tmov eax, dword [%s]", FPToken(4))
	b.Printf("\tmov ebx, dword [%s]", FPToken(-8))
	b.Printf("\t%s", EpilogueToken)

	b.FixStack(start, 12, testFramer{})

	var sb strings.Builder
	_, err := b.WriteTo(&sb)
	require.NoError(t, err)
	out := sb.String()

	assert.Contains(t, out, "sub esp, 12")
	assert.Contains(t, out, "mov eax, dword [ebp-4]")
	assert.Contains(t, out, "mov ebx, dword [ebp+8]", "negative displacements are parameters above the frame pointer")
	assert.Contains(t, out, "pop ebp")
	assert.NotContains(t, out, "@P@")
	assert.NotContains(t, out, "@E@")
	assert.NotContains(t, out, "@FP@")
}

func TestFixStackLeavesEarlierFunctionsAlone(t *testing.T) {
	b := New()
	b.Printf("\tmov eax, dword [%s]", FPToken(4))
	b.FixStack(0, 8, testFramer{})
	mark := b.Len()
	b.Printf("\tmov ecx, dword [%s]", FPToken(16))
	b.FixStack(mark, 16, testFramer{})

	lines := b.Lines()
	assert.Equal(t, "\tmov eax, dword [ebp-4]", lines[0])
	assert.Equal(t, "\tmov ecx, dword [ebp-16]", lines[1])
}
