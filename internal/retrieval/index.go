package retrieval

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// Index runs the vector ranker and falls back to keyword overlap when it fails or finds nothing.
type Index struct {
	vector  Ranker
	keyword Ranker
	logger  *logrus.Logger
}

// NewIndex wires the rankers. vector may be nil to use keyword overlap only.
func NewIndex(vector Ranker, keyword Ranker, logger *logrus.Logger) (*Index, error) {
	if keyword == nil {
		return nil, eris.New("keyword ranker is required")
	}
	return &Index{vector: vector, keyword: keyword, logger: logger}, nil
}

// Search returns up to k results for query. Ranking failures are logged and produce an empty
// result; only cancellation is reported as an error.
func (i *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	k = clampK(k)
	query = strings.TrimSpace(query)
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return []Result{}, nil
	}

	fields := logrus.Fields{"query": query, "k": k}

	if i.vector != nil {
		results, err := i.vector.Rank(ctx, query, tokens, k)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, eris.Wrap(ctxErr, "vector search")
			}
			i.log(fields).WithField("error", err.Error()).Warn("vector search failed, using keyword overlap")
		case len(results) > 0:
			return results, nil
		default:
			i.log(fields).Debug("vector search empty, using keyword overlap")
		}
	}

	results, err := i.keyword.Rank(ctx, query, tokens, k)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, eris.Wrap(ctxErr, "keyword search")
		}
		i.log(fields).WithField("error", err.Error()).Error("keyword search failed")
		return []Result{}, nil
	}

	return results, nil
}

func (i *Index) log(fields logrus.Fields) *logrus.Entry {
	logger := i.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("component", "retrieval").WithFields(fields)
}
