package article

import (
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrNotFound is returned when an article id does not exist.
	ErrNotFound = eris.New("article not found")
	// ErrInvalid marks field validation failures.
	ErrInvalid = eris.New("invalid article")
)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError collects every rejected field. It matches ErrInvalid.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, field.Field+": "+field.Message)
	}
	return "invalid article: " + strings.Join(parts, "; ")
}

// Is lets eris.Is and errors.Is match ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Validate checks the required descriptors and the progress fields.
func (a *Article) Validate() error {
	verr := &ValidationError{}

	if strings.TrimSpace(a.Title) == "" {
		verr.add("title", "is required")
	}
	if strings.TrimSpace(a.TargetKeyword) == "" {
		verr.add("targetKeyword", "is required")
	}
	if strings.TrimSpace(a.Industry) == "" {
		verr.add("industry", "is required")
	}
	if strings.TrimSpace(a.ContentType) == "" {
		verr.add("contentType", "is required")
	}
	if a.CurrentStep < FirstStep || a.CurrentStep > LastStep {
		verr.add("currentStep", "must be between 1 and 5")
	}
	if a.Status != StatusDraft && a.Status != StatusPublished {
		verr.add("status", "must be draft or published")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Title             *string
	TargetKeyword     *string
	Industry          *string
	ContentType       *string
	AdditionalContext *string
	CurrentStep       *int
	Status            *Status
	FinalTitle        *string
	FinalContent      *string
	MetaDescription   *string
	WordCount         *int
	PersonaAnalysis   *PersonaAnalysis
	Outline           *Outline
	Content           map[string]string
	MetaTags          *MetaTags
}

// Apply merges the patch into a.
func (p Patch) Apply(a *Article) error {
	setString(&a.Title, p.Title)
	setString(&a.TargetKeyword, p.TargetKeyword)
	setString(&a.Industry, p.Industry)
	setString(&a.ContentType, p.ContentType)
	setString(&a.AdditionalContext, p.AdditionalContext)
	setString(&a.FinalTitle, p.FinalTitle)
	setString(&a.FinalContent, p.FinalContent)
	setString(&a.MetaDescription, p.MetaDescription)

	if p.CurrentStep != nil {
		a.CurrentStep = *p.CurrentStep
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.WordCount != nil {
		a.WordCount = *p.WordCount
	}

	if p.PersonaAnalysis != nil {
		if err := a.SetPersona(p.PersonaAnalysis); err != nil {
			return err
		}
	}
	if p.Outline != nil {
		if err := a.SetOutline(p.Outline); err != nil {
			return err
		}
	}
	if p.Content != nil {
		if err := a.SetContent(p.Content); err != nil {
			return err
		}
	}
	if p.MetaTags != nil {
		if err := a.SetMetaTags(p.MetaTags); err != nil {
			return err
		}
	}

	return nil
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = *value
	}
}
