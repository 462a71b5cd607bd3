package workflow

import (
	"strings"

	"seowriter/app/internal/article"
)

// Step numbers the five workflow stages as stored in Article.CurrentStep.
type Step int

const (
	StepScrape   Step = 1
	StepPersona  Step = 2
	StepOutline  Step = 3
	StepGenerate Step = 4
	StepFinalize Step = 5
)

// Steps lists every stage in order.
var Steps = []Step{StepScrape, StepPersona, StepOutline, StepGenerate, StepFinalize}

func (s Step) String() string {
	switch s {
	case StepScrape:
		return "scrape"
	case StepPersona:
		return "persona"
	case StepOutline:
		return "outline"
	case StepGenerate:
		return "generate"
	case StepFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

// next is the step an article moves to once s has completed. Finalize is terminal.
func (s Step) next() Step {
	if s >= StepFinalize {
		return StepFinalize
	}
	return s + 1
}

// Track reports which step artifacts an article carries.
type Track struct {
	completed map[Step]bool
}

// TrackOf inspects a.
func TrackOf(a *article.Article) Track {
	track := Track{completed: make(map[Step]bool, len(Steps))}
	if a == nil {
		return track
	}

	track.completed[StepScrape] = article.Has(a.ScrapedResults)
	track.completed[StepPersona] = article.Has(a.PersonaAnalysis)
	track.completed[StepOutline] = article.Has(a.Outline)
	track.completed[StepGenerate] = article.Has(a.Content)
	track.completed[StepFinalize] = a.Status == article.StatusPublished && strings.TrimSpace(a.FinalContent) != ""
	return track
}

// Completed reports whether the artifact of step exists.
func (t Track) Completed(step Step) bool {
	return t.completed[step]
}

// Valid reports whether every upstream artifact of step exists.
func (t Track) Valid(step Step) bool {
	for s := StepScrape; s < step; s++ {
		if !t.completed[s] {
			return false
		}
	}
	return step >= StepScrape && step <= StepFinalize
}

// StepState is the per-step view exposed to clients.
type StepState struct {
	Step      int    `json:"step"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
	Valid     bool   `json:"valid"`
}

// States lists every step of a with its completion and validity.
func States(a *article.Article) []StepState {
	track := TrackOf(a)
	states := make([]StepState, 0, len(Steps))
	for _, step := range Steps {
		states = append(states, StepState{
			Step:      int(step),
			Name:      step.String(),
			Completed: track.Completed(step),
			Valid:     track.Valid(step),
		})
	}
	return states
}

// advance records the completion of step: downstream artifacts are cleared, the article
// moves to the following step and falls back to draft unless step is Finalize.
func advance(a *article.Article, step Step) {
	clearAfter(a, step)
	a.CurrentStep = int(step.next())
	if step != StepFinalize {
		a.Status = article.StatusDraft
	}
}

func clearAfter(a *article.Article, step Step) {
	if step < StepPersona {
		a.PersonaAnalysis = nil
	}
	if step < StepOutline {
		a.Outline = nil
	}
	if step < StepGenerate {
		a.Content = nil
	}
	if step < StepFinalize {
		a.MetaTags = nil
		a.FinalTitle = ""
		a.FinalContent = ""
		a.MetaDescription = ""
		a.WordCount = 0
	}
}
