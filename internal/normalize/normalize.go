// Package normalize converts heterogeneous raw provider output into the
// gateway's uniform task results. Provider models are not reliable JSON
// emitters, so extraction runs a fixed, ordered strategy chain per task:
//
//  1. Parse a fenced block labeled "json" (or an unlabeled fence) as JSON
//     matching the task schema.
//  2. Marker-based heuristics: explicit textual markers delimit the
//     explanation, the first fenced block is the code, severity-labeled
//     lines become issues.
//  3. Whole-text fallback: the response minus fenced blocks becomes the
//     summary/explanation; structured fields stay empty.
//
// JSON-parse failures are recovered by the next stage and never surface as
// errors. Only when every stage yields nothing does a ParseError escape.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseError indicates the strategy chain exhausted every stage and produced
// an empty result.
type ParseError struct {
	Task string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("normalize: no %s content could be extracted from response", e.Task)
}

// Generation is the normalized result of a code-generation call.
type Generation struct {
	Code         string   `json:"generatedCode"`
	Explanation  string   `json:"explanation"`
	Alternatives []string `json:"alternatives"`
}

// Analysis is the normalized result of a code-analysis call.
type Analysis struct {
	Score     int      `json:"score"`
	Issues    []string `json:"issues"`
	Strengths []string `json:"strengths"`
	Summary   string   `json:"summary"`
}

// Optimization is the normalized result of a code-optimization call.
type Optimization struct {
	Code    string   `json:"optimizedCode"`
	Changes []string `json:"changes"`
	Summary string   `json:"improvementSummary"`
}

// fence is a single fenced code block found in raw model output.
type fence struct {
	lang  string
	body  string
	start int // byte offset of the opening ```
	end   int // byte offset just past the closing ```
}

var fenceRe = regexp.MustCompile("(?s)```([A-Za-z0-9_+.-]*)[ \t]*\r?\n?(.*?)```")

// explanationMarkers are tried in declared order. Both ASCII and full-width
// colons appear in real model output.
var explanationMarkers = []string{
	"说明:", "说明：",
	"解释:", "解释：",
	"实现思路:", "实现思路：",
}

// A severity label counts only when bracketed or followed by a colon; a bare
// sentence that happens to start with "error" is not an issue line.
var issueLineRe = regexp.MustCompile(`(?i)^\s*[-*]?\s*(?:\[(error|warning|info|错误|警告|提示)\]|(error|warning|info|错误|警告|提示)[:：])\s*(.+)$`)

func findFences(raw string) []fence {
	matches := fenceRe.FindAllStringSubmatchIndex(raw, -1)
	out := make([]fence, 0, len(matches))
	for _, m := range matches {
		out = append(out, fence{
			lang:  raw[m[2]:m[3]],
			body:  strings.TrimRight(raw[m[4]:m[5]], "\n"),
			start: m[0],
			end:   m[1],
		})
	}
	return out
}

// jsonCandidate returns the body of the first fence labeled json, or the
// first unlabeled fence when no json-labeled fence exists.
func jsonCandidate(fences []fence) (string, bool) {
	for _, f := range fences {
		if strings.EqualFold(f.lang, "json") {
			return f.body, true
		}
	}
	for _, f := range fences {
		if f.lang == "" {
			return f.body, true
		}
	}
	return "", false
}

// firstCode returns the body of the first non-json fenced block, falling
// back to the very first fence.
func firstCode(fences []fence) string {
	for _, f := range fences {
		if !strings.EqualFold(f.lang, "json") {
			return f.body
		}
	}
	if len(fences) > 0 {
		return fences[0].body
	}
	return ""
}

// textAfterLastFence returns the trailing prose following the final fenced
// block, or "" when there are no fences.
func textAfterLastFence(raw string, fences []fence) string {
	if len(fences) == 0 {
		return ""
	}
	return strings.TrimSpace(raw[fences[len(fences)-1].end:])
}

// stripFences removes all fenced blocks from the response.
func stripFences(raw string, fences []fence) string {
	if len(fences) == 0 {
		return strings.TrimSpace(raw)
	}
	var b strings.Builder
	prev := 0
	for _, f := range fences {
		b.WriteString(raw[prev:f.start])
		prev = f.end
	}
	b.WriteString(raw[prev:])
	return strings.TrimSpace(b.String())
}

// markerText scans for the explanation markers in declared order and returns
// the text following the first one found, cut at the next fence if any.
func markerText(raw string) (string, bool) {
	for _, marker := range explanationMarkers {
		idx := strings.Index(raw, marker)
		if idx < 0 {
			continue
		}
		rest := raw[idx+len(marker):]
		if cut := strings.Index(rest, "```"); cut >= 0 {
			rest = rest[:cut]
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// issueLines extracts severity-labeled lines from prose. The formatted form
// is "[severity] message", matching the shape produced from structured JSON.
func issueLines(prose string) []string {
	var issues []string
	for _, line := range strings.Split(prose, "\n") {
		m := issueLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		severity := m[1]
		if severity == "" {
			severity = m[2]
		}
		issues = append(issues, fmt.Sprintf("[%s] %s", strings.ToLower(severity), strings.TrimSpace(m[3])))
	}
	return issues
}

// explanationFor implements the shared stage-2/3 explanation rule: an
// explicit marker wins; otherwise the trailing prose after the last fence;
// otherwise the whole response minus fences.
func explanationFor(raw string, fences []fence) string {
	if text, ok := markerText(raw); ok {
		return text
	}
	if trailing := textAfterLastFence(raw, fences); trailing != "" {
		return trailing
	}
	return stripFences(raw, fences)
}
