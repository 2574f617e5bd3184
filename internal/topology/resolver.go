package topology

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pavelanni/exambench/internal/model"
	"github.com/pavelanni/exambench/internal/response"
	"github.com/pavelanni/exambench/internal/schema"
)

// LowConfidence is the threshold under which a stage prediction is noted.
const LowConfidence = 0.3

const idRules = `Rules:
- Answer with exactly one id copied from the list above.
- Never answer null, an empty string, or an id that is not listed.
- If you are unsure, pick the closest id and report a lower confidence.`

var bareIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:/-]*$`)

// Stage is a parsed topology stage completion.
type Stage struct {
	Level      model.Level
	ID         string
	Confidence *float64
	// Parsed is the decoded JSON object; nil when the completion was not JSON.
	Parsed map[string]any
	Raw    string
	// Fallback is set when the id was taken from non-JSON text.
	Fallback bool
	// Echo holds ids the completion repeated for other levels.
	Echo map[model.Level]string
	// SchemaErr is the schema validation failure, if any.
	SchemaErr error
}

// Outcome converts the stage to its step record form.
func (s Stage) Outcome() *model.StageOutcome {
	return &model.StageOutcome{
		Level:      s.Level,
		ID:         s.ID,
		Confidence: s.Confidence,
		Parsed:     s.Parsed,
		Fallback:   s.Fallback,
	}
}

// Prediction returns the id and confidence to commit for the stage.
func (s Stage) Prediction() model.LevelPrediction {
	return model.LevelPrediction{ID: s.ID, Confidence: s.Confidence}
}

// Resolver builds the scoped catalog for one cascade level and parses that
// level's completions.
type Resolver struct {
	Level model.Level
	ix    *Index
}

// Resolver returns the resolver for level.
func (ix *Index) Resolver(level model.Level) Resolver {
	return Resolver{Level: level, ix: ix}
}

// SchemaFor returns the structured-output schema of a cascade level.
func SchemaFor(level model.Level) schema.Name {
	switch level {
	case model.LevelSubject:
		return schema.TopologySubject
	case model.LevelTopic:
		return schema.TopologyTopic
	case model.LevelSubtopic:
		return schema.TopologySubtopic
	}
	return ""
}

// Schema returns the resolver's structured-output schema.
func (r Resolver) Schema() schema.Name { return SchemaFor(r.Level) }

// Catalog renders the list of candidate ids for the level given the
// cascade state so far. The second result is false when the scope above
// did not resolve and the full flattened list was rendered instead.
func (r Resolver) Catalog(pred *model.TopologyPrediction) (string, bool) {
	switch r.Level {
	case model.LevelSubject:
		return r.subjects(), true
	case model.LevelTopic:
		return r.topics(pred)
	case model.LevelSubtopic:
		return r.subtopics(pred)
	}
	return "", false
}

func (r Resolver) subjects() string {
	var sb strings.Builder
	sb.WriteString("Available subjects (id: name):\n")
	for _, s := range r.ix.catalog.Subjects {
		fmt.Fprintf(&sb, "- %s: %s\n", s.ID, s.Name)
	}
	sb.WriteString("\n" + idRules)
	return sb.String()
}

func (r Resolver) topics(pred *model.TopologyPrediction) (string, bool) {
	subjectID := pred.Get(model.LevelSubject).ID
	var sb strings.Builder
	if s, ok := r.ix.Subject(subjectID); ok {
		fmt.Fprintf(&sb, "Available topics of subject %s (id: name):\n", s.ID)
		for _, t := range s.Topics {
			fmt.Fprintf(&sb, "- %s: %s\n", t.ID, t.Name)
		}
		sb.WriteString("\n" + idRules)
		return sb.String(), true
	}

	fmt.Fprintf(&sb, "The subject from the previous step (%q) was not recognized. ", subjectID)
	sb.WriteString("All topics of every subject are listed below. Pick your best topic guess and report a low confidence.\n\n")
	sb.WriteString("Available topics (id: name [subject]):\n")
	for _, s := range r.ix.catalog.Subjects {
		for _, t := range s.Topics {
			fmt.Fprintf(&sb, "- %s: %s [%s]\n", t.ID, t.Name, s.ID)
		}
	}
	sb.WriteString("\n" + idRules)
	return sb.String(), false
}

func (r Resolver) subtopics(pred *model.TopologyPrediction) (string, bool) {
	var sb strings.Builder
	if t, ok := r.ix.ScopedTopic(pred); ok {
		fmt.Fprintf(&sb, "Available subtopics of topic %s (id: name):\n", t.ID)
		for _, st := range t.Subtopics {
			fmt.Fprintf(&sb, "- %s: %s\n", st.ID, st.Name)
		}
		sb.WriteString("\n" + idRules)
		return sb.String(), true
	}

	fmt.Fprintf(&sb, "The subject/topic from the previous steps (%q / %q) could not be resolved. ",
		pred.Get(model.LevelSubject).ID, pred.Get(model.LevelTopic).ID)
	sb.WriteString("All subtopics are listed below. Pick your best subtopic guess and report a low confidence.\n\n")
	sb.WriteString("Available subtopics (id: name [subject/topic]):\n")
	for _, s := range r.ix.catalog.Subjects {
		for _, t := range s.Topics {
			for _, st := range t.Subtopics {
				fmt.Fprintf(&sb, "- %s: %s [%s/%s]\n", st.ID, st.Name, s.ID, t.ID)
			}
		}
	}
	sb.WriteString("\n" + idRules)
	return sb.String(), false
}

// Parse maps a completion onto the level's prediction. Non-JSON text is
// accepted as the id only when it looks like a bare id.
func (r Resolver) Parse(text string) Stage {
	st := Stage{Level: r.Level, Raw: text, Echo: make(map[model.Level]string)}
	res := response.ParseJSONish(text)

	obj, ok := res.Object()
	if !ok {
		st.Fallback = true
		line := strings.Trim(strings.TrimSpace(firstLine(res.Text)), `"'`+"`")
		if bareIDRegex.MatchString(line) {
			st.ID = line
		}
		return st
	}

	st.Parsed = obj
	var p response.StagePayload
	if err := response.Decode(obj, &p); err != nil {
		st.SchemaErr = err
		return st
	}
	ids := map[model.Level]string{
		model.LevelSubject:  strings.TrimSpace(p.SubjectID),
		model.LevelTopic:    strings.TrimSpace(p.TopicID),
		model.LevelSubtopic: strings.TrimSpace(p.SubtopicID),
	}
	st.ID = ids[r.Level]
	if st.ID == "" {
		st.ID = strings.TrimSpace(p.ID)
	}
	if strings.EqualFold(st.ID, "null") {
		st.ID = ""
	}
	for level, id := range ids {
		if level != r.Level && id != "" {
			st.Echo[level] = id
		}
	}
	st.Confidence, _ = response.Confidence(p.Confidence)
	st.SchemaErr = schema.Validate(r.Schema(), obj)
	return st
}

// Notes returns the observability notes for a stage evaluated against the
// committed cascade state. pred must already hold the stage's commit.
func (r Resolver) Notes(st Stage, pred *model.TopologyPrediction) []string {
	var notes []string
	switch {
	case st.ID == "":
		notes = append(notes, fmt.Sprintf("no %s id in response", r.Level))
	case !r.ix.InCatalog(r.Level, pred):
		notes = append(notes, fmt.Sprintf("%s %q not found in taxonomy", r.Level, st.ID))
	}
	if st.Confidence != nil && *st.Confidence < LowConfidence {
		notes = append(notes, fmt.Sprintf("low confidence %.2f for %s %q", *st.Confidence, r.Level, st.ID))
	}
	if st.SchemaErr != nil && st.Parsed != nil {
		notes = append(notes, fmt.Sprintf("response does not match %s schema", r.Schema()))
	}
	return append(notes, EchoNotes(st.Echo, pred)...)
}

// EchoNotes reports ids a completion echoed for already-committed levels
// that disagree with the committed ids. The committed ids stay
// authoritative.
func EchoNotes(echo map[model.Level]string, pred *model.TopologyPrediction) []string {
	var notes []string
	for _, level := range model.Levels {
		id, ok := echo[level]
		if !ok {
			continue
		}
		committed := pred.Get(level).ID
		if committed != "" && id != committed {
			notes = append(notes, fmt.Sprintf("inconsistent %s: response says %q, cascade committed %q", level, id, committed))
		}
	}
	return notes
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
