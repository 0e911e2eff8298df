package sandbox

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFiles() (map[string]string, []string) {
	files := map[string]string{
		"main.go":  "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n",
		"util.go":  "package main\n\nfunc helper() int {\n\treturn 42\n}\n",
		"README":   "A small demo program.\n",
	}
	paths := []string{"main.go", "util.go", "README"}
	return files, paths
}

func newTestSandbox(delegate Delegator) *Sandbox {
	files, paths := testFiles()
	if delegate == nil {
		delegate = func(ctx context.Context, prompt, payload string) (string, error) {
			return "delegated: " + prompt, nil
		}
	}
	return New(files, paths, delegate, Config{MaxDelegations: 3})
}

func TestExtractScript_FencedBlock(t *testing.T) {
	raw := "Let me look at the files.\n```\nprint(list_files())\n```\nDone."
	script, ok := ExtractScript(raw)
	require.True(t, ok)
	assert.Equal(t, "print(list_files())", script)
}

func TestExtractScript_LanguageTag(t *testing.T) {
	raw := "```python\nprint(\"hi\")\n```"
	script, ok := ExtractScript(raw)
	require.True(t, ok)
	assert.Equal(t, `print("hi")`, script)
}

func TestExtractScript_BareFinalize(t *testing.T) {
	script, ok := ExtractScript(`finalize("the answer")`)
	require.True(t, ok)
	assert.Equal(t, `finalize("the answer")`, script)
}

func TestExtractScript_NoScript(t *testing.T) {
	_, ok := ExtractScript("I think the answer involves the main function.")
	assert.False(t, ok)
}

func TestExecute_PrintAndReadFile(t *testing.T) {
	sb := newTestSandbox(nil)

	res := sb.Execute(context.Background(), "```\ncontent = read_file(\"README\")\nprint(content)\n```")
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "A small demo program.")
}

func TestExecute_Search(t *testing.T) {
	sb := newTestSandbox(nil)

	res := sb.Execute(context.Background(), "```\nprint(search(\"helper\"))\n```")
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "util.go:3:")
}

func TestExecute_SearchTermMatchingDeniedWordIsAllowed(t *testing.T) {
	sb := newTestSandbox(nil)

	// "import" appears only inside a string literal.
	res := sb.Execute(context.Background(), "```\nprint(search(\"import\"))\n```")
	assert.True(t, res.Success, res.Error)
}

func TestExecute_LongLiteralsPassSecurity(t *testing.T) {
	sb := newTestSandbox(nil)

	// Masked literal contents must not themselves form a denied token;
	// ordinary scripts carry literals well past five characters.
	res := sb.Execute(context.Background(),
		"```\ncontent = read_file(\"main.go\")\n"+
			"summary = delegate(\"Summarize the entry point of this program\", content)\n"+
			"print(summary)\n```")
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "delegated:")
}

func TestCheckSecurity_MaskingKeepsLiteralsInert(t *testing.T) {
	script := "x = read_file(\"internal/service/handler.go\")\nprint(x)"
	assert.Empty(t, checkSecurity(script))

	masked := maskStringLiterals(script)
	assert.Len(t, masked, len(script), "masking preserves length")
	assert.NotContains(t, masked, "handler")

	// Denied tokens outside literals still match after masking.
	assert.NotEmpty(t, checkSecurity(`x = open("notes.txt")`))
}

func TestExecute_DeniedConstructNeverRuns(t *testing.T) {
	sb := newTestSandbox(nil)

	cases := []string{
		"import os\nprint(list_files())",
		"x = eval(something)",
		"fetch(url)",
		"os.remove(path)",
		"print(x)\nexec_command(y)",
	}
	for _, script := range cases {
		res := sb.Execute(context.Background(), "```\n"+script+"\n```")
		assert.False(t, res.Success, script)
		assert.Contains(t, res.Error, "security violation", script)
		assert.Empty(t, res.Output, "denied script must never partially execute")
	}
}

func TestExecute_FinalizeOnlyBypassesSecurity(t *testing.T) {
	sb := newTestSandbox(nil)

	// Mentions os.system inside the literal; finalize-only input skips
	// the deny-list entirely.
	res := sb.Execute(context.Background(), `finalize("the code calls os.system in build.sh")`)
	require.True(t, res.Success, res.Error)

	answer, ok := sb.FinalAnswer()
	require.True(t, ok)
	assert.Equal(t, "the code calls os.system in build.sh", answer)
}

func TestExecute_RuntimeErrorSurfacesLiteralText(t *testing.T) {
	sb := newTestSandbox(nil)

	res := sb.Execute(context.Background(), "```\nprint(\"first\")\nx = read_file(\"missing.go\")\n```")
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "file not found: missing.go")
	assert.Contains(t, res.Error, "line 2")
	// Partial output survives the failure.
	assert.Contains(t, res.Output, "first")
}

func TestExecute_DelegationCeiling(t *testing.T) {
	sb := newTestSandbox(nil)

	script := "```\n" +
		"a = delegate(\"q1\", \"\")\n" +
		"b = delegate(\"q2\", \"\")\n" +
		"c = delegate(\"q3\", \"\")\n" +
		"d = delegate(\"q4\", \"\")\n" +
		"```"
	res := sb.Execute(context.Background(), script)
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "delegation limit reached (3 calls)")
	assert.Equal(t, 3, sb.Delegations())
}

func TestExecute_DelegationNotifiesObserver(t *testing.T) {
	sb := newTestSandbox(nil)
	var seen []int
	sb.SetObserver(func(calls int) { seen = append(seen, calls) })

	res := sb.Execute(context.Background(), "```\na = delegate(\"q1\", \"\")\nb = delegate(\"q2\", \"\")\n```")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestExecute_DelegateResultUsable(t *testing.T) {
	sb := newTestSandbox(func(ctx context.Context, prompt, payload string) (string, error) {
		return fmt.Sprintf("answer(%s)", prompt), nil
	})

	res := sb.Execute(context.Background(), "```\nr = delegate(\"what is main?\", read_file(\"main.go\"))\nprint(r)\n```")
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "answer(what is main?)")
}

func TestExecute_DelegateErrorPropagates(t *testing.T) {
	sb := newTestSandbox(func(ctx context.Context, prompt, payload string) (string, error) {
		return "", fmt.Errorf("satellite unavailable")
	})

	res := sb.Execute(context.Background(), "```\nr = delegate(\"q\", \"\")\n```")
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "satellite unavailable")
}

func TestExecute_NoScriptBlock(t *testing.T) {
	sb := newTestSandbox(nil)

	res := sb.Execute(context.Background(), "Just prose, no code.")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no script block")
}

func TestClearFinal(t *testing.T) {
	sb := newTestSandbox(nil)

	res := sb.Execute(context.Background(), `finalize("premature")`)
	require.True(t, res.Success, res.Error)
	_, ok := sb.FinalAnswer()
	require.True(t, ok)

	sb.ClearFinal()
	_, ok = sb.FinalAnswer()
	assert.False(t, ok)
}

func TestParseFinalize(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"plain", `finalize("done")`, "done", true},
		{"in prose", `Based on my analysis, finalize("the entry point is main.go") covers it.`, "the entry point is main.go", true},
		{"escaped quote", `finalize("she said \"hi\"")`, `she said "hi"`, true},
		{"absent", "no final call here", "", false},
		{"non-literal arg", "finalize(answer)", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseFinalize(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterpreter_ConcatAndLen(t *testing.T) {
	sb := newTestSandbox(nil)

	res := sb.Execute(context.Background(), "```\nname = \"main\" + \".go\"\nprint(name, len(read_file(name)))\n```")
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "main.go")
}

func TestInterpreter_Lines(t *testing.T) {
	sb := newTestSandbox(nil)

	res := sb.Execute(context.Background(), "```\nprint(lines(read_file(\"main.go\"), 1, 1))\n```")
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "package main")
	assert.NotContains(t, res.Output, "func main")
}

func TestInterpreter_CommentsAndBlankLines(t *testing.T) {
	sb := newTestSandbox(nil)

	res := sb.Execute(context.Background(), "```\n# look at the index\n\nprint(list_files())\n```")
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "main.go")
	assert.Contains(t, res.Output, "README")
}

func TestInterpreter_UndefinedVariable(t *testing.T) {
	sb := newTestSandbox(nil)

	res := sb.Execute(context.Background(), "```\nprint(missing)\n```")
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "missing")
}
