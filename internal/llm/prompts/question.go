package prompts

import (
	"fmt"
	"strings"

	"github.com/pavelanni/exambench/internal/model"
)

var typeLabels = map[model.QuestionType]string{
	model.TypeSingle:      "single choice (exactly one option is correct)",
	model.TypeMultiple:    "multiple choice (one or more options are correct)",
	model.TypeNumeric:     "numeric answer",
	model.TypeBoolean:     "true/false",
	model.TypeDescriptive: "short answer",
}

// QuestionContext renders the question as shown to the model. Options are
// lettered in their declared order.
func QuestionContext(q model.Question) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question type: %s\n", typeLabels[q.Type])
	sb.WriteString("Question: " + strings.TrimSpace(q.Prompt) + "\n")
	if s := strings.TrimSpace(q.Instructions); s != "" {
		sb.WriteString("Instructions: " + s + "\n")
	}
	if opts := q.OrderedOptions(); len(opts) > 0 {
		sb.WriteString("Options:\n")
		for i, o := range opts {
			fmt.Fprintf(&sb, "%s) %s\n", model.OptionLetter(i), strings.TrimSpace(o.Text))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ImageContext renders the vision summaries of a question's images.
func ImageContext(summaries []string) string {
	if len(summaries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Image descriptions:\n")
	for i, s := range summaries {
		fmt.Fprintf(&sb, "[Image %d] %s\n", i+1, strings.TrimSpace(s))
	}
	return strings.TrimRight(sb.String(), "\n")
}
