package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// generationJSON is the schema accepted from a json fence for generation
// tasks. Both "generatedCode" and plain "code" appear in the wild.
type generationJSON struct {
	GeneratedCode string   `json:"generatedCode"`
	Code          string   `json:"code"`
	Explanation   string   `json:"explanation"`
	Alternatives  []string `json:"alternatives"`
}

// ExtractGeneration normalizes a raw generation response.
func ExtractGeneration(raw string) (*Generation, error) {
	fences := findFences(raw)

	if body, ok := jsonCandidate(fences); ok {
		var g generationJSON
		if err := json.Unmarshal([]byte(body), &g); err == nil {
			code := g.GeneratedCode
			if code == "" {
				code = g.Code
			}
			if code != "" || g.Explanation != "" {
				return &Generation{
					Code:         code,
					Explanation:  g.Explanation,
					Alternatives: emptyIfNil(g.Alternatives),
				}, nil
			}
		}
	}

	code := firstCode(fences)
	explanation := explanationFor(raw, fences)
	if code == "" && explanation == "" {
		return nil, &ParseError{Task: "generation"}
	}
	return &Generation{
		Code:         code,
		Explanation:  explanation,
		Alternatives: []string{},
	}, nil
}

// analysisIssueJSON is a structured issue as emitted by well-behaved models.
type analysisIssueJSON struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Fix      string `json:"fix"`
	Line     int    `json:"line"`
}

type analysisJSON struct {
	Score     json.Number       `json:"score"`
	Issues    []json.RawMessage `json:"issues"`
	Strengths []string          `json:"strengths"`
	Summary   string            `json:"summary"`
}

// ExtractAnalysis normalizes a raw analysis response. Structured issues are
// flattened into display strings of the form
// "[severity] message - 建议: fix"; string-typed issues pass through as-is.
func ExtractAnalysis(raw string) (*Analysis, error) {
	fences := findFences(raw)

	if body, ok := jsonCandidate(fences); ok {
		var a analysisJSON
		if err := json.Unmarshal([]byte(body), &a); err == nil && (a.Score != "" || len(a.Issues) > 0 || a.Summary != "") {
			return &Analysis{
				Score:     clampScore(a.Score),
				Issues:    flattenIssues(a.Issues),
				Strengths: emptyIfNil(a.Strengths),
				Summary:   a.Summary,
			}, nil
		}
	}

	prose := stripFences(raw, fences)
	issues := issueLines(prose)
	if len(issues) > 0 || prose != "" {
		return &Analysis{
			Score:     0,
			Issues:    emptyIfNil(issues),
			Strengths: []string{},
			Summary:   prose,
		}, nil
	}
	return nil, &ParseError{Task: "analysis"}
}

type optimizationJSON struct {
	OptimizedCode      string   `json:"optimizedCode"`
	Code               string   `json:"code"`
	Changes            []string `json:"changes"`
	ImprovementSummary string   `json:"improvementSummary"`
	Summary            string   `json:"summary"`
}

// ExtractOptimization normalizes a raw optimization response.
func ExtractOptimization(raw string) (*Optimization, error) {
	fences := findFences(raw)

	if body, ok := jsonCandidate(fences); ok {
		var o optimizationJSON
		if err := json.Unmarshal([]byte(body), &o); err == nil {
			code := o.OptimizedCode
			if code == "" {
				code = o.Code
			}
			summary := o.ImprovementSummary
			if summary == "" {
				summary = o.Summary
			}
			if code != "" || summary != "" {
				return &Optimization{
					Code:    code,
					Changes: emptyIfNil(o.Changes),
					Summary: summary,
				}, nil
			}
		}
	}

	code := firstCode(fences)
	summary := explanationFor(raw, fences)
	if code == "" && summary == "" {
		return nil, &ParseError{Task: "optimization"}
	}
	return &Optimization{
		Code:    code,
		Changes: bulletLines(summary),
		Summary: summary,
	}, nil
}

// flattenIssues converts a mixed issues array (objects or plain strings)
// into display strings.
func flattenIssues(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj analysisIssueJSON
		if err := json.Unmarshal(r, &obj); err != nil {
			continue
		}
		severity := obj.Severity
		if severity == "" {
			severity = "info"
		}
		line := fmt.Sprintf("[%s] %s", strings.ToLower(severity), obj.Message)
		if obj.Fix != "" {
			line += " - 建议: " + obj.Fix
		}
		out = append(out, line)
	}
	return out
}

// bulletLines extracts "- " / "* " list items from prose.
func bulletLines(prose string) []string {
	var items []string
	for _, line := range strings.Split(prose, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			items = append(items, strings.TrimSpace(trimmed[2:]))
		}
	}
	if items == nil {
		return []string{}
	}
	return items
}

// clampScore parses a numeric score and clamps it to [0, 100].
func clampScore(n json.Number) int {
	if n == "" {
		return 0
	}
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	score := int(math.Round(f))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
