package router

import (
	"regexp"
	"strings"
)

// Intent labels recognized by the keyword classifier.
const (
	IntentSummarization      = "summarization"
	IntentTroubleshooting    = "troubleshooting"
	IntentCodeGeneration     = "code_generation"
	IntentReflectiveDialogue = "reflective_dialogue"
	IntentGeneralDialogue    = "general_dialogue"
)

type intentRule struct {
	intent   string
	patterns []*regexp.Regexp
}

// Rule order matters: the first intent with any keyword hit wins.
var intentRules = []intentRule{
	{IntentSummarization, compileAll("summarize", "summary", "overview", "brief", "sum up")},
	{IntentTroubleshooting, compileAll("fix", "error", "problem", "issue", "bug", "not working", "failed")},
	{IntentCodeGeneration, compileAll("code", "implement", "function", "class", "method", "algorithm")},
	{IntentReflectiveDialogue, compileAll("think", "consider", "analyze", "evaluate", "discuss", "explain")},
}

func compileAll(words ...string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(words))
	for _, word := range words {
		patterns = append(patterns, regexp.MustCompile(`\b`+word+`\b`))
	}
	return patterns
}

type Classification struct {
	Intent     string
	Confidence float64
}

/*
Classify labels a message with the first intent whose keywords appear
in it. Confidence is the share of that intent's keywords that
matched; unmatched messages are general dialogue at 0.5.
*/
func Classify(message string) Classification {
	lowered := strings.ToLower(message)

	for _, rule := range intentRules {
		matched := 0

		for _, pattern := range rule.patterns {
			if pattern.MatchString(lowered) {
				matched++
			}
		}

		if matched > 0 {
			return Classification{
				Intent:     rule.intent,
				Confidence: float64(matched) / float64(len(rule.patterns)),
			}
		}
	}

	return Classification{Intent: IntentGeneralDialogue, Confidence: 0.5}
}
