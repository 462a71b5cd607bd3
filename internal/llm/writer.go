package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"seowriter/app/internal/article"
)

// Structured is the remote surface the SEO writer needs.
type Structured interface {
	GenerateJSON(ctx context.Context, req JSONRequest, out any) error
	GenerateText(ctx context.Context, system, user, model string) (string, error)
}

// Writer produces the structured artifacts of the article workflow.
type Writer struct {
	remote Structured
}

// NewWriter wraps a structured backend.
func NewWriter(remote Structured) (*Writer, error) {
	if remote == nil {
		return nil, eris.New("structured backend is required")
	}
	return &Writer{remote: remote}, nil
}

// PersonaRequest carries the inputs of the persona step.
type PersonaRequest struct {
	Keyword           string
	Industry          string
	ContentType       string
	AdditionalContext string
	CompetitorData    []string
}

// OutlineRequest carries the inputs of the outline step.
type OutlineRequest struct {
	Keyword        string
	Persona        *article.PersonaAnalysis
	CompetitorData []string
}

// SectionRequest carries the inputs for writing one outline section.
type SectionRequest struct {
	Keyword  string
	Section  article.Section
	Persona  *article.PersonaAnalysis
	Outline  *article.Outline
	Previous []PreviousSection
	Context  string
}

// PreviousSection is an already written section handed over for continuity.
type PreviousSection struct {
	Heading string
	Body    string
}

// MetaRequest carries the inputs of meta tag generation.
type MetaRequest struct {
	Title   string
	Content string
	Keyword string
}

const (
	personaSystem = "You are an expert SEO content strategist. Analyze search intent and target audiences based on competitor research."
	outlineSystem = "You are an expert SEO content writer. Create detailed content outlines that rank well in search engines."
	sectionSystem = "You are an expert SEO content writer. Write high-quality, engaging content that ranks well and provides value to readers."
	metaSystem    = "You are an SEO expert. Create compelling meta tags that improve click-through rates and search rankings."

	previousSectionChars = 600
	metaPreviewChars     = 500
)

// AnalyzePersona derives the target audience and search intent for a keyword.
func (w *Writer) AnalyzePersona(ctx context.Context, req PersonaRequest) (*article.PersonaAnalysis, error) {
	additional := strings.TrimSpace(req.AdditionalContext)
	if additional == "" {
		additional = "None"
	}

	prompt := fmt.Sprintf(`Based on the following information, analyze the target audience and search intent:

Target Keyword: %s
Industry: %s
Content Type: %s
Additional Context: %s

Competitor Analysis:
%s

Provide a persona and intent analysis with:
- targetAudience: description of the ideal reader
- searchIntent: what the user is trying to accomplish
- contentGoals: 3-5 main goals for the content
- toneSuggestions: recommended tone and writing style
- keyTopics: 5-8 key topics to cover`,
		req.Keyword, req.Industry, req.ContentType, additional, competitorBlock(req.CompetitorData))

	var persona article.PersonaAnalysis
	if err := w.remote.GenerateJSON(ctx, JSONRequest{
		System:     personaSystem,
		User:       prompt,
		SchemaName: "persona_analysis",
		Schema:     personaSchema(),
	}, &persona); err != nil {
		return nil, eris.Wrap(err, "generating persona analysis")
	}

	if strings.TrimSpace(persona.TargetAudience) == "" || strings.TrimSpace(persona.SearchIntent) == "" {
		return nil, eris.Wrap(ErrParse, "persona analysis is missing audience or intent")
	}

	return &persona, nil
}

// BuildOutline plans the article structure.
func (w *Writer) BuildOutline(ctx context.Context, req OutlineRequest) (*article.Outline, error) {
	if req.Persona == nil {
		return nil, eris.New("persona analysis is required")
	}

	prompt := fmt.Sprintf(`Create a comprehensive content outline for an article about "%s".

Target Audience: %s
Search Intent: %s
Key Topics to Cover: %s

Competitor Analysis:
%s

Return:
- title: SEO-optimized title
- introduction: brief intro description
- sections: main sections with heading, subheadings and keyPoints
- conclusion: description of the conclusion approach
- estimatedWordCount: total estimated word count`,
		req.Keyword, req.Persona.TargetAudience, req.Persona.SearchIntent,
		strings.Join(req.Persona.KeyTopics, ", "), competitorBlock(req.CompetitorData))

	var outline article.Outline
	if err := w.remote.GenerateJSON(ctx, JSONRequest{
		System:     outlineSystem,
		User:       prompt,
		SchemaName: "content_outline",
		Schema:     outlineSchema(),
	}, &outline); err != nil {
		return nil, eris.Wrap(err, "generating outline")
	}

	if strings.TrimSpace(outline.Title) == "" || len(outline.Sections) == 0 {
		return nil, eris.Wrap(ErrParse, "outline is missing a title or sections")
	}

	seen := make(map[string]struct{}, len(outline.Sections))
	for i, section := range outline.Sections {
		heading := strings.TrimSpace(section.Heading)
		if heading == "" {
			return nil, eris.Wrapf(ErrParse, "outline section %d has no heading", i+1)
		}
		if _, dup := seen[heading]; dup {
			return nil, eris.Wrapf(ErrParse, "outline repeats heading %q", heading)
		}
		seen[heading] = struct{}{}
		outline.Sections[i].Heading = heading
	}

	return &outline, nil
}

// WriteSection returns the markdown body of one outline section.
func (w *Writer) WriteSection(ctx context.Context, req SectionRequest) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write detailed content for this section of an article about %q:\n\n", req.Keyword)
	fmt.Fprintf(&b, "Section: %s\n", req.Section.Heading)
	fmt.Fprintf(&b, "Subheadings: %s\n", strings.Join(req.Section.Subheadings, ", "))
	fmt.Fprintf(&b, "Key Points: %s\n\n", strings.Join(req.Section.KeyPoints, ", "))

	if req.Outline != nil {
		fmt.Fprintf(&b, "Article Title: %s\n", req.Outline.Title)
	}
	if req.Persona != nil {
		fmt.Fprintf(&b, "Target Audience: %s\nTone: %s\n", req.Persona.TargetAudience, req.Persona.ToneSuggestions)
	}

	if len(req.Previous) > 0 {
		b.WriteString("\nSections written so far (keep continuity, do not repeat them):\n")
		for _, previous := range req.Previous {
			fmt.Fprintf(&b, "## %s\n%s\n\n", previous.Heading, clip(previous.Body, previousSectionChars))
		}
	}

	b.WriteString(`
Write comprehensive, SEO-optimized content that:
- Uses the target keyword naturally
- Provides valuable, actionable information
- Maintains the recommended tone
- Is well-structured with proper headings
- Includes relevant examples where appropriate

Do not repeat the section heading itself. Write the content in markdown format.`)

	var snippets []string
	if strings.TrimSpace(req.Context) != "" {
		snippets = []string{req.Context}
	}

	text, err := w.remote.GenerateText(ctx, sectionSystem, AugmentPrompt(b.String(), snippets), "")
	if err != nil {
		return "", eris.Wrapf(err, "writing section %q", req.Section.Heading)
	}

	return strings.TrimSpace(text), nil
}

// GenerateMetaTags builds search and social metadata for the compiled article.
func (w *Writer) GenerateMetaTags(ctx context.Context, req MetaRequest) (*article.MetaTags, error) {
	prompt := fmt.Sprintf(`Generate SEO meta tags for this article:

Title: %s
Target Keyword: %s
Content Preview: %s...

Return:
- metaTitle: SEO title (50-60 characters)
- metaDescription: meta description (150-160 characters)
- focusKeywords: 3-5 focus keywords
- socialTitle: social media title (60 characters max)
- socialDescription: social media description (120 characters max)`,
		req.Title, req.Keyword, clip(req.Content, metaPreviewChars))

	var tags article.MetaTags
	if err := w.remote.GenerateJSON(ctx, JSONRequest{
		System:     metaSystem,
		User:       prompt,
		SchemaName: "meta_tags",
		Schema:     metaSchema(),
	}, &tags); err != nil {
		return nil, eris.Wrap(err, "generating meta tags")
	}

	if strings.TrimSpace(tags.MetaTitle) == "" {
		return nil, eris.Wrap(ErrParse, "meta tags are missing a title")
	}

	return &tags, nil
}

func competitorBlock(data []string) string {
	if len(data) == 0 {
		return "No competitor data available."
	}
	return strings.Join(data, "\n")
}

func clip(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func stringArray() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

func object(properties map[string]any) map[string]any {
	required := make([]string, 0, len(properties))
	for name := range properties {
		required = append(required, name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func personaSchema() map[string]any {
	return object(map[string]any{
		"targetAudience":  map[string]any{"type": "string"},
		"searchIntent":    map[string]any{"type": "string"},
		"contentGoals":    stringArray(),
		"toneSuggestions": map[string]any{"type": "string"},
		"keyTopics":       stringArray(),
	})
}

func outlineSchema() map[string]any {
	section := object(map[string]any{
		"heading":     map[string]any{"type": "string"},
		"subheadings": stringArray(),
		"keyPoints":   stringArray(),
	})

	return object(map[string]any{
		"title":              map[string]any{"type": "string"},
		"introduction":       map[string]any{"type": "string"},
		"sections":           map[string]any{"type": "array", "items": section},
		"conclusion":         map[string]any{"type": "string"},
		"estimatedWordCount": map[string]any{"type": "integer"},
	})
}

func metaSchema() map[string]any {
	return object(map[string]any{
		"metaTitle":         map[string]any{"type": "string"},
		"metaDescription":   map[string]any{"type": "string"},
		"focusKeywords":     stringArray(),
		"socialTitle":       map[string]any{"type": "string"},
		"socialDescription": map[string]any{"type": "string"},
	})
}
