package article

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gorm.io/datatypes"
)

// Status describes the publication state of an article.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Workflow step bounds for Article.CurrentStep.
const (
	FirstStep = 1
	LastStep  = 5
)

// Article is the aggregate the five step workflow operates on. Step artifacts are stored as
// JSON columns and stay NULL until their step has produced them.
type Article struct {
	ID                uint   `gorm:"primaryKey"`
	Title             string `gorm:"size:512;not null"`
	TargetKeyword     string `gorm:"size:255;not null"`
	Industry          string `gorm:"size:255;not null"`
	ContentType       string `gorm:"size:128;not null"`
	AdditionalContext string `gorm:"type:text"`
	CurrentStep       int    `gorm:"not null;default:1"`

	ScrapedResults  datatypes.JSON
	PersonaAnalysis datatypes.JSON
	Outline         datatypes.JSON
	Content         datatypes.JSON
	MetaTags        datatypes.JSON

	FinalTitle      string `gorm:"size:512"`
	FinalContent    string `gorm:"type:text"`
	MetaDescription string `gorm:"size:512"`
	Status          Status `gorm:"size:16;not null;default:draft"`
	WordCount       int    `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// TableName defines the table name for the Article model.
func (Article) TableName() string {
	return "articles"
}

// ScrapedURL is one competitor result owned by an article.
type ScrapedURL struct {
	ID        uint     `gorm:"primaryKey"`
	ArticleID uint     `gorm:"not null;uniqueIndex:idx_scraped_urls_article_url"`
	Article   *Article `gorm:"constraint:OnDelete:CASCADE"`
	URL       string   `gorm:"column:url;size:2048;not null;uniqueIndex:idx_scraped_urls_article_url"`
	Title     string   `gorm:"size:512"`
	Content   string   `gorm:"type:text"`
	Domain    string   `gorm:"size:255"`
	CreatedAt time.Time
}

// TableName defines the table name for the ScrapedURL model.
func (ScrapedURL) TableName() string {
	return "scraped_urls"
}

// ScrapedResult is the portable form of a competitor page.
type ScrapedResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Domain  string `json:"domain"`
}

// PersonaAnalysis describes the audience and intent behind a keyword.
type PersonaAnalysis struct {
	TargetAudience  string   `json:"targetAudience"`
	SearchIntent    string   `json:"searchIntent"`
	ContentGoals    []string `json:"contentGoals"`
	ToneSuggestions string   `json:"toneSuggestions"`
	KeyTopics       []string `json:"keyTopics"`
}

// Section is one heading of an outline.
type Section struct {
	Heading     string   `json:"heading"`
	Subheadings []string `json:"subheadings"`
	KeyPoints   []string `json:"keyPoints"`
}

// Outline is the structured content plan produced by step three.
type Outline struct {
	Title              string    `json:"title"`
	Introduction       string    `json:"introduction"`
	Sections           []Section `json:"sections"`
	Conclusion         string    `json:"conclusion"`
	EstimatedWordCount int       `json:"estimatedWordCount"`
}

// Section returns the outline section with the given heading.
func (o *Outline) Section(heading string) (Section, bool) {
	if o == nil {
		return Section{}, false
	}
	want := strings.TrimSpace(heading)
	for _, section := range o.Sections {
		if strings.TrimSpace(section.Heading) == want {
			return section, true
		}
	}
	return Section{}, false
}

// MetaTags holds the search and social metadata produced on finalization.
type MetaTags struct {
	MetaTitle         string   `json:"metaTitle"`
	MetaDescription   string   `json:"metaDescription"`
	FocusKeywords     []string `json:"focusKeywords"`
	SocialTitle       string   `json:"socialTitle"`
	SocialDescription string   `json:"socialDescription"`
}

// ScrapedData decodes the scraped results artifact. A missing artifact yields nil.
func (a *Article) ScrapedData() ([]ScrapedResult, error) {
	var out []ScrapedResult
	ok, err := decodeJSON(a.ScrapedResults, &out)
	if err != nil {
		return nil, eris.Wrap(err, "decoding scraped results")
	}
	if !ok {
		return nil, nil
	}
	return out, nil
}

// PersonaData decodes the persona artifact. A missing artifact yields nil.
func (a *Article) PersonaData() (*PersonaAnalysis, error) {
	var out PersonaAnalysis
	ok, err := decodeJSON(a.PersonaAnalysis, &out)
	if err != nil {
		return nil, eris.Wrap(err, "decoding persona analysis")
	}
	if !ok {
		return nil, nil
	}
	return &out, nil
}

// OutlineData decodes the outline artifact. A missing artifact yields nil.
func (a *Article) OutlineData() (*Outline, error) {
	var out Outline
	ok, err := decodeJSON(a.Outline, &out)
	if err != nil {
		return nil, eris.Wrap(err, "decoding outline")
	}
	if !ok {
		return nil, nil
	}
	return &out, nil
}

// ContentData decodes the heading to markdown map. A missing artifact yields nil.
func (a *Article) ContentData() (map[string]string, error) {
	var out map[string]string
	ok, err := decodeJSON(a.Content, &out)
	if err != nil {
		return nil, eris.Wrap(err, "decoding content")
	}
	if !ok {
		return nil, nil
	}
	return out, nil
}

// MetaTagsData decodes the meta tags artifact. A missing artifact yields nil.
func (a *Article) MetaTagsData() (*MetaTags, error) {
	var out MetaTags
	ok, err := decodeJSON(a.MetaTags, &out)
	if err != nil {
		return nil, eris.Wrap(err, "decoding meta tags")
	}
	if !ok {
		return nil, nil
	}
	return &out, nil
}

// SetScraped stores the scraped results artifact; nil clears it.
func (a *Article) SetScraped(results []ScrapedResult) error {
	if results == nil {
		a.ScrapedResults = nil
		return nil
	}
	raw, err := encodeJSON(results)
	if err != nil {
		return eris.Wrap(err, "encoding scraped results")
	}
	a.ScrapedResults = raw
	return nil
}

// SetPersona stores the persona artifact; nil clears it.
func (a *Article) SetPersona(persona *PersonaAnalysis) error {
	if persona == nil {
		a.PersonaAnalysis = nil
		return nil
	}
	raw, err := encodeJSON(persona)
	if err != nil {
		return eris.Wrap(err, "encoding persona analysis")
	}
	a.PersonaAnalysis = raw
	return nil
}

// SetOutline stores the outline artifact; nil clears it.
func (a *Article) SetOutline(outline *Outline) error {
	if outline == nil {
		a.Outline = nil
		return nil
	}
	raw, err := encodeJSON(outline)
	if err != nil {
		return eris.Wrap(err, "encoding outline")
	}
	a.Outline = raw
	return nil
}

// SetContent stores the section content map; nil clears it.
func (a *Article) SetContent(content map[string]string) error {
	if content == nil {
		a.Content = nil
		return nil
	}
	raw, err := encodeJSON(content)
	if err != nil {
		return eris.Wrap(err, "encoding content")
	}
	a.Content = raw
	return nil
}

// SetMetaTags stores the meta tags artifact; nil clears it.
func (a *Article) SetMetaTags(tags *MetaTags) error {
	if tags == nil {
		a.MetaTags = nil
		return nil
	}
	raw, err := encodeJSON(tags)
	if err != nil {
		return eris.Wrap(err, "encoding meta tags")
	}
	a.MetaTags = raw
	return nil
}

// Has reports whether the JSON artifact column holds a value.
func Has(raw datatypes.JSON) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

func decodeJSON(raw datatypes.JSON, out any) (bool, error) {
	if !Has(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func encodeJSON(value any) (datatypes.JSON, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
