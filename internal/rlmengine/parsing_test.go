package rlmengine

import "testing"

func TestExtractCodeBlocksSingle(t *testing.T) {
	text := "Let's look.\n```repl\nx = 1\nprint(x)\n```\nDone."
	blocks := extractCodeBlocks(text)
	if len(blocks) != 1 || blocks[0] != "x = 1\nprint(x)" {
		t.Fatalf("got %#v", blocks)
	}
}

func TestExtractCodeBlocksMultiple(t *testing.T) {
	text := "```repl\na = 1\n```\ntext\n```repl\nb = 2\n```"
	blocks := extractCodeBlocks(text)
	if len(blocks) != 2 || blocks[0] != "a = 1" || blocks[1] != "b = 2" {
		t.Fatalf("got %#v", blocks)
	}
}

func TestExtractCodeBlocksNone(t *testing.T) {
	if blocks := extractCodeBlocks("just prose"); blocks != nil {
		t.Fatalf("got %#v, want nil", blocks)
	}
}

func TestFindFinalAnswerBareFinal(t *testing.T) {
	kind, value := findFinalAnswer("FINAL(the answer is 42)")
	if kind != bareFinalValue || value != "the answer is 42" {
		t.Fatalf("got kind=%v value=%q", kind, value)
	}
}

func TestFindFinalAnswerBareFinalVar(t *testing.T) {
	kind, value := findFinalAnswer(`FINAL_VAR("result")`)
	if kind != bareFinalVar || value != "result" {
		t.Fatalf("got kind=%v value=%q", kind, value)
	}
}

func TestFindFinalAnswerIgnoresCodeBlockContent(t *testing.T) {
	text := "```repl\nFINAL(\"inside code, not a bare marker\")\n```"
	kind, _ := findFinalAnswer(text)
	if kind != bareFinalNone {
		t.Fatalf("got kind=%v, want none", kind)
	}
}

func TestFindFinalAnswerNone(t *testing.T) {
	kind, _ := findFinalAnswer("still thinking about this")
	if kind != bareFinalNone {
		t.Fatalf("got kind=%v, want none", kind)
	}
}

func TestFindFinalAnswerPrefersFinalVarOverFinal(t *testing.T) {
	kind, value := findFinalAnswer("FINAL(\"done\")\nFINAL_VAR(x)")
	if kind != bareFinalVar || value != "x" {
		t.Fatalf("got kind=%v value=%q", kind, value)
	}
}
