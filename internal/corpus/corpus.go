package corpus

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// RawArticle is a url-keyed cache entry of a fetched page. It lives independently of any article.
type RawArticle struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	URL       string    `gorm:"column:url;size:2048;not null;uniqueIndex:idx_articles_raw_url" json:"url"`
	Title     string    `gorm:"size:512" json:"title"`
	HTML      string    `gorm:"column:html;type:text" json:"html"`
	Content   string    `gorm:"type:text" json:"content"`
	FetchedAt time.Time `gorm:"not null;index" json:"fetchedAt"`
}

// TableName defines the table name for the RawArticle model.
func (RawArticle) TableName() string {
	return "articles_raw"
}

// ContentVector is an embedding of one content chunk. Rows are written by the indexer and only
// read while serving requests.
type ContentVector struct {
	ID           uint   `gorm:"primaryKey"`
	RawArticleID *uint  `gorm:"index"`
	Title        string `gorm:"size:512"`
	URL          string `gorm:"column:url;size:2048"`
	Content      string `gorm:"type:text"`
	Embedding    []byte `gorm:"not null"`
	Dimensions   int    `gorm:"not null"`
	Model        string `gorm:"size:128"`
	CreatedAt    time.Time
}

// TableName defines the table name for the ContentVector model.
func (ContentVector) TableName() string {
	return "content_vectors"
}

// MaxHTMLChars bounds the raw HTML kept per cached page.
const MaxHTMLChars = 50000

// EncodeVector packs a vector as little-endian float32 values.
func EncodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, value := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(value))
	}
	return buf
}

// DecodeVector unpacks a blob written by EncodeVector.
func DecodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, eris.Errorf("vector blob length %d is not a multiple of 4", len(raw))
	}

	vector := make([]float32, len(raw)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vector, nil
}

// Vector decodes the stored embedding.
func (v *ContentVector) Vector() ([]float32, error) {
	vector, err := DecodeVector(v.Embedding)
	if err != nil {
		return nil, eris.Wrapf(err, "decoding content vector %d", v.ID)
	}
	return vector, nil
}

// SetVector stores vector and records its dimensionality.
func (v *ContentVector) SetVector(vector []float32) {
	v.Embedding = EncodeVector(vector)
	v.Dimensions = len(vector)
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
