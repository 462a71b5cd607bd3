package http

import (
	"time"

	"github.com/rotisserie/eris"

	"seowriter/app/internal/article"
	"seowriter/app/internal/workflow"
)

// articleView is the JSON form of an article with its artifacts decoded.
type articleView struct {
	ID                uint                     `json:"id"`
	Title             string                   `json:"title"`
	TargetKeyword     string                   `json:"targetKeyword"`
	Industry          string                   `json:"industry"`
	ContentType       string                   `json:"contentType"`
	AdditionalContext string                   `json:"additionalContext"`
	CurrentStep       int                      `json:"currentStep"`
	ScrapedResults    []article.ScrapedResult  `json:"scrapedResults"`
	PersonaAnalysis   *article.PersonaAnalysis `json:"personaAnalysis"`
	Outline           *article.Outline         `json:"outline"`
	Content           map[string]string        `json:"content"`
	MetaTags          *article.MetaTags        `json:"metaTags"`
	FinalTitle        string                   `json:"finalTitle"`
	FinalContent      string                   `json:"finalContent"`
	MetaDescription   string                   `json:"metaDescription"`
	Status            string                   `json:"status"`
	WordCount         int                      `json:"wordCount"`
	Steps             []workflow.StepState     `json:"steps"`
	CreatedAt         time.Time                `json:"createdAt"`
	UpdatedAt         time.Time                `json:"updatedAt"`
}

func newArticleView(a *article.Article) (articleView, error) {
	view := articleView{
		ID:                a.ID,
		Title:             a.Title,
		TargetKeyword:     a.TargetKeyword,
		Industry:          a.Industry,
		ContentType:       a.ContentType,
		AdditionalContext: a.AdditionalContext,
		CurrentStep:       a.CurrentStep,
		FinalTitle:        a.FinalTitle,
		FinalContent:      a.FinalContent,
		MetaDescription:   a.MetaDescription,
		Status:            string(a.Status),
		WordCount:         a.WordCount,
		Steps:             workflow.States(a),
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}

	var err error
	if view.ScrapedResults, err = a.ScrapedData(); err != nil {
		return articleView{}, eris.Wrapf(err, "article %d", a.ID)
	}
	if view.PersonaAnalysis, err = a.PersonaData(); err != nil {
		return articleView{}, eris.Wrapf(err, "article %d", a.ID)
	}
	if view.Outline, err = a.OutlineData(); err != nil {
		return articleView{}, eris.Wrapf(err, "article %d", a.ID)
	}
	if view.Content, err = a.ContentData(); err != nil {
		return articleView{}, eris.Wrapf(err, "article %d", a.ID)
	}
	if view.MetaTags, err = a.MetaTagsData(); err != nil {
		return articleView{}, eris.Wrapf(err, "article %d", a.ID)
	}

	return view, nil
}

type scrapedURLView struct {
	ID        uint      `json:"id"`
	ArticleID uint      `json:"articleId"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"createdAt"`
}

func newScrapedURLViews(urls []article.ScrapedURL) []scrapedURLView {
	views := make([]scrapedURLView, 0, len(urls))
	for _, url := range urls {
		views = append(views, scrapedURLView{
			ID:        url.ID,
			ArticleID: url.ArticleID,
			URL:       url.URL,
			Title:     url.Title,
			Content:   url.Content,
			Domain:    url.Domain,
			CreatedAt: url.CreatedAt,
		})
	}
	return views
}

// createArticleBody carries the descriptors of a new article.
type createArticleBody struct {
	Title             string `json:"title"`
	TargetKeyword     string `json:"targetKeyword"`
	Industry          string `json:"industry"`
	ContentType       string `json:"contentType"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

type patchArticleBody struct {
	Title             *string                  `json:"title,omitempty"`
	TargetKeyword     *string                  `json:"targetKeyword,omitempty"`
	Industry          *string                  `json:"industry,omitempty"`
	ContentType       *string                  `json:"contentType,omitempty"`
	AdditionalContext *string                  `json:"additionalContext,omitempty"`
	CurrentStep       *int                     `json:"currentStep,omitempty"`
	Status            *string                  `json:"status,omitempty" enum:"draft,published"`
	FinalTitle        *string                  `json:"finalTitle,omitempty"`
	FinalContent      *string                  `json:"finalContent,omitempty"`
	MetaDescription   *string                  `json:"metaDescription,omitempty"`
	PersonaAnalysis   *article.PersonaAnalysis `json:"personaAnalysis,omitempty"`
	Outline           *article.Outline         `json:"outline,omitempty"`
	Content           map[string]string        `json:"content,omitempty"`
	MetaTags          *article.MetaTags        `json:"metaTags,omitempty"`
}

func (b patchArticleBody) patch() article.Patch {
	patch := article.Patch{
		Title:             b.Title,
		TargetKeyword:     b.TargetKeyword,
		Industry:          b.Industry,
		ContentType:       b.ContentType,
		AdditionalContext: b.AdditionalContext,
		CurrentStep:       b.CurrentStep,
		FinalTitle:        b.FinalTitle,
		FinalContent:      b.FinalContent,
		MetaDescription:   b.MetaDescription,
		PersonaAnalysis:   b.PersonaAnalysis,
		Outline:           b.Outline,
		Content:           b.Content,
		MetaTags:          b.MetaTags,
	}
	if b.Status != nil {
		status := article.Status(*b.Status)
		patch.Status = &status
	}
	return patch
}
