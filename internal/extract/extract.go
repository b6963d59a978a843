package extract

import (
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

type Kind string

const (
	KindCreate Kind = "create"
	KindEdit   Kind = "edit"
)

// Operation is one file change recovered from assistant text.
type Operation struct {
	Kind    Kind   `json:"kind"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Closing fences must repeat the opening fence length, which needs a
// backreference; stdlib regexp (RE2) cannot express \1.
var (
	fencePathHintRe = compile(
		"^(`{3,})([A-Za-z0-9_+#.-]*)[ \\t]*:[ \\t]*([^\\n`]+?)[ \\t]*\\r?\\n([\\s\\S]*?)\\r?\\n\\1[ \\t]*$",
		regexp2.Multiline)
	fenceCommentHintRe = compile(
		"^(`{3,})([A-Za-z0-9_+#.-]*)[ \\t]*\\r?\\n[ \\t]*(?://|#)[ \\t]*([^\\n]+?)[ \\t]*\\r?\\n([\\s\\S]*?)\\r?\\n\\1[ \\t]*$",
		regexp2.Multiline)
	fencePlainRe = compile(
		"^(`{3,})[^\\n]*\\r?\\n([\\s\\S]*?)\\r?\\n\\1[ \\t]*$",
		regexp2.Multiline)
	createDirectiveRe = compile(
		"^[ \\t>*-]*(?:create|new|add)[ \\t]+file[ \\t]*:[ \\t]*([^\\n]+?)[ \\t]*$",
		regexp2.Multiline|regexp2.IgnoreCase)
	editDirectiveRe = compile(
		"^[ \\t>*-]*(?:edit|update|modify|change)[ \\t]+file[ \\t]*:[ \\t]*([^\\n]+?)[ \\t]*$",
		regexp2.Multiline|regexp2.IgnoreCase)
)

func compile(pattern string, opts regexp2.RegexOptions) *regexp2.Regexp {
	re := regexp2.MustCompile(pattern, opts)
	re.MatchTimeout = 2 * time.Second
	return re
}

// Operations scans the complete assistant text and returns every file
// operation the three passes recognize, pass-major, text order within a
// pass. Matches are best-effort: malformed or unmatched text is skipped,
// never an error. Overlapping matches across passes are all emitted;
// dedup-by-path happens later when diffs materialize.
func Operations(text string) []Operation {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var ops []Operation
	ops = append(ops, fenceHintOps(text)...)
	ops = append(ops, directiveOps(text, createDirectiveRe, KindCreate)...)
	ops = append(ops, directiveOps(text, editDirectiveRe, KindEdit)...)
	return ops
}

func fenceHintOps(text string) []Operation {
	var ops []Operation
	for m, _ := fencePathHintRe.FindStringMatch(text); m != nil; m, _ = fencePathHintRe.FindNextMatch(m) {
		path := NormalizePath(m.GroupByNumber(3).String())
		if path == "" {
			continue
		}
		ops = append(ops, Operation{Kind: KindEdit, Path: path, Content: m.GroupByNumber(4).String()})
	}
	for m, _ := fenceCommentHintRe.FindStringMatch(text); m != nil; m, _ = fenceCommentHintRe.FindNextMatch(m) {
		hint := m.GroupByNumber(3).String()
		if !looksLikePath(hint) {
			continue
		}
		path := NormalizePath(hint)
		if path == "" {
			continue
		}
		ops = append(ops, Operation{Kind: KindEdit, Path: path, Content: m.GroupByNumber(4).String()})
	}
	return ops
}

func directiveOps(text string, directive *regexp2.Regexp, kind Kind) []Operation {
	var ops []Operation
	for m, _ := directive.FindStringMatch(text); m != nil; m, _ = directive.FindNextMatch(m) {
		path := NormalizePath(m.GroupByNumber(1).String())
		if path == "" {
			continue
		}
		block, _ := fencePlainRe.FindStringMatchStartingAt(text, m.Index+m.Length)
		if block == nil {
			continue
		}
		ops = append(ops, Operation{Kind: kind, Path: path, Content: block.GroupByNumber(2).String()})
	}
	return ops
}

// NormalizePath produces the canonical workspace-relative display form:
// leading ./ or workspace/ stripped, then re-prefixed with ./ .
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "`'\"")
	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "workspace/")
	path = strings.TrimPrefix(path, "./")
	if path == "" || strings.HasPrefix(path, "/") {
		return ""
	}
	return "./" + path
}

func looksLikePath(hint string) bool {
	hint = strings.TrimSpace(hint)
	if hint == "" || strings.ContainsAny(hint, " \t") {
		return false
	}
	return strings.Contains(hint, "/") || strings.Contains(hint, ".")
}
