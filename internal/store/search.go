package store

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/pgvector/pgvector-go"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
)

const defaultSearchLimit = 50

// hybridParts holds the shared pieces of a hybrid query: the where builder
// seeded with the vector and its weight, the component expressions, and
// whether a keyword component joined. The keyword component joins only when
// the sanitized query has terms and the keyword weight is positive.
type hybridParts struct {
	w           *whereBuilder
	vectorExpr  string
	keywordExpr string
	scoreExpr   string
	hybrid      bool
}

func newHybridParts(q SearchQuery, embeddingCol string) hybridParts {
	w := newWhere(pgvector.NewVector(q.Vector), q.VectorWeight)
	vectorExpr := fmt.Sprintf(`(1 - (%s <=> $1::vector))`, embeddingCol)
	p := hybridParts{
		w:           w,
		vectorExpr:  vectorExpr,
		keywordExpr: `0::float8`,
		scoreExpr:   `$2 * ` + vectorExpr,
	}
	if tsq := buildTSQuery(q.Text); tsq != "" && q.KeywordWeight > 0 {
		p.hybrid = true
		tsqPos := w.bind(tsq)
		kwPos := w.bind(q.KeywordWeight)
		p.keywordExpr = fmt.Sprintf(`ts_rank_cd(search_text, to_tsquery('english', $%d))`, tsqPos)
		p.scoreExpr = fmt.Sprintf(`%s + $%d * %s`, p.scoreExpr, kwPos, p.keywordExpr)
	}
	return p
}

// buildFileSearchSQL renders the file search. The hybrid form gates rows the
// way Qualifies does (component-wise, never on the combined score) and
// orders by combined score with a vector-distance tie-break; without a
// keyword component the query collapses to a flat vector scan ordered by
// raw cosine distance so the ANN index drives it.
func buildFileSearchSQL(q SearchQuery) (string, []any) {
	p := newHybridParts(q, "summary_embedding")
	w := p.w

	if len(q.RepoIDs) > 0 {
		w.add(`repo_id = ANY($%d)`, q.RepoIDs)
	}
	if len(q.PathPrefixes) > 0 {
		w.add(`path LIKE ANY($%d)`, prefixPatterns(q.PathPrefixes))
	}
	if len(q.FilePaths) > 0 {
		w.add(`path = ANY($%d)`, q.FilePaths)
	}
	thrPos := w.bind(q.Threshold)
	limPos := w.bind(searchLimit(q.Limit))

	if !p.hybrid {
		w.addLiteral(fmt.Sprintf(`%s > $%d`, p.vectorExpr, thrPos))
		sql := fmt.Sprintf(`
SELECT %s,
       %s AS vector_score,
       %s AS keyword_score,
       %s AS score
FROM code_files%s
ORDER BY summary_embedding <=> $1::vector ASC, path ASC
LIMIT $%d`,
			fileColumns, p.vectorExpr, p.keywordExpr, p.scoreExpr, w.clause(), limPos)
		return sql, w.args
	}

	sql := fmt.Sprintf(`
SELECT * FROM (
  SELECT %s,
         %s AS vector_score,
         %s AS keyword_score,
         %s AS score
  FROM code_files%s
) ranked
WHERE vector_score > $%d OR keyword_score > %g
ORDER BY score DESC, vector_score DESC, path ASC
LIMIT $%d`,
		fileColumns, p.vectorExpr, p.keywordExpr, p.scoreExpr, w.clause(), thrPos, ftsRankFloor, limPos)
	return sql, w.args
}

// SearchFiles runs the hybrid file-level query.
func (s *PG) SearchFiles(ctx context.Context, q SearchQuery) ([]FileHit, error) {
	if len(q.Vector) == 0 {
		return nil, cerrors.New(cerrors.ErrCodeInvalidInput, "file search requires a query vector", nil)
	}

	sql, args := buildFileSearchSQL(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "search files")
	}
	defer rows.Close()

	var hits []FileHit
	for rows.Next() {
		var h FileHit
		var emb pgvector.Vector
		dests := append(fileScanDests(&h.File, &emb), &h.VectorScore, &h.KeywordScore, &h.Score)
		if err := rows.Scan(dests...); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan file hit")
		}
		h.File.SummaryEmbedding = emb.Slice()
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "search files")
	}
	return hits, nil
}

// buildChunkSearchSQL renders the chunk search with the same component-wise
// gate and ordering as the file search. Summary chunks never match;
// file-level relevance is SearchFiles' job.
func buildChunkSearchSQL(q SearchQuery) (string, []any) {
	p := newHybridParts(q, "embedding")
	w := p.w

	w.addLiteral(`chunk_type <> 'file_summary'`)
	if len(q.RepoIDs) > 0 {
		w.add(`repo_id = ANY($%d)`, q.RepoIDs)
	}
	if len(q.PathPrefixes) > 0 {
		w.add(`file_path LIKE ANY($%d)`, prefixPatterns(q.PathPrefixes))
	}
	if len(q.FilePaths) > 0 {
		w.add(`file_path = ANY($%d)`, q.FilePaths)
	}
	thrPos := w.bind(q.Threshold)
	limPos := w.bind(searchLimit(q.Limit))

	if !p.hybrid {
		w.addLiteral(fmt.Sprintf(`%s > $%d`, p.vectorExpr, thrPos))
		sql := fmt.Sprintf(`
SELECT %s,
       %s AS score
FROM code_chunks%s
ORDER BY embedding <=> $1::vector ASC, file_path ASC, start_line ASC
LIMIT $%d`,
			chunkColumns, p.scoreExpr, w.clause(), limPos)
		return sql, w.args
	}

	sql := fmt.Sprintf(`
SELECT %s, score FROM (
  SELECT %s,
         %s AS vector_score,
         %s AS keyword_score,
         %s AS score
  FROM code_chunks%s
) ranked
WHERE vector_score > $%d OR keyword_score > %g
ORDER BY score DESC, vector_score DESC, file_path ASC, start_line ASC
LIMIT $%d`,
		chunkColumns, chunkColumns, p.vectorExpr, p.keywordExpr, p.scoreExpr, w.clause(), thrPos, ftsRankFloor, limPos)
	return sql, w.args
}

// SearchChunks runs the hybrid chunk-level query. FilePaths restricts the
// search to chunks of specific files; retrieval uses that to search within
// the file candidates of the previous stage.
func (s *PG) SearchChunks(ctx context.Context, q SearchQuery) ([]ChunkHit, error) {
	if len(q.Vector) == 0 {
		return nil, cerrors.New(cerrors.ErrCodeInvalidInput, "chunk search requires a query vector", nil)
	}

	sql, args := buildChunkSearchSQL(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "search chunks")
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		var emb pgvector.Vector
		dests := append(chunkScanDests(&h.Chunk, &emb), &h.Score)
		if err := rows.Scan(dests...); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan chunk hit")
		}
		h.Chunk.Embedding = emb.Slice()
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "search chunks")
	}
	return hits, nil
}

// SearchEndpoints ranks API endpoints by embedding similarity alone.
func (s *PG) SearchEndpoints(ctx context.Context, q EndpointSearchQuery) ([]EndpointHit, error) {
	if len(q.Vector) == 0 {
		return nil, cerrors.New(cerrors.ErrCodeInvalidInput, "endpoint search requires a query vector", nil)
	}

	w := newWhere(pgvector.NewVector(q.Vector))
	if len(q.RepoIDs) > 0 {
		w.add(`repo_id = ANY($%d)`, q.RepoIDs)
	}
	if len(q.ServiceIDs) > 0 {
		w.add(`service_id = ANY($%d)`, q.ServiceIDs)
	}
	if q.APIType != "" {
		w.add(`api_type = $%d`, string(q.APIType))
	}
	if !q.IncludeDeprecated {
		w.addLiteral(`deprecated = false`)
	}
	thrPos := w.bind(q.Threshold)
	limPos := w.bind(searchLimit(q.Limit))

	sql := fmt.Sprintf(`
SELECT * FROM (
  SELECT %s,
         (1 - (embedding <=> $1::vector)) AS score
  FROM api_endpoints%s
) ranked
WHERE score >= $%d
ORDER BY score DESC, path ASC, method ASC
LIMIT $%d`,
		endpointColumns, w.clause(), thrPos, limPos)

	rows, err := s.pool.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "search endpoints")
	}
	defer rows.Close()

	var hits []EndpointHit
	for rows.Next() {
		var h EndpointHit
		var emb pgvector.Vector
		dests := append(endpointScanDests(&h.Endpoint, &emb), &h.Score)
		if err := rows.Scan(dests...); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan endpoint hit")
		}
		h.Endpoint.Embedding = emb.Slice()
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "search endpoints")
	}
	return hits, nil
}

const docChunkColumns = `chunk_id, doc_id, file_path, heading_path, content,
start_line, end_line, token_count, language, embedding`

func docChunkScanDests(c *model.DocumentationChunk, emb *pgvector.Vector) []any {
	return []any{
		&c.ChunkID, &c.DocID, &c.FilePath, &c.HeadingPath, &c.Content,
		&c.StartLine, &c.EndLine, &c.TokenCount, &c.Language, emb,
	}
}

// buildDocSearchSQL renders the documentation search, sharing the hybrid
// gate and ordering of the code searches.
func buildDocSearchSQL(q DocSearchQuery) (string, []any) {
	p := newHybridParts(SearchQuery{
		Vector:        q.Vector,
		Text:          q.Text,
		VectorWeight:  q.VectorWeight,
		KeywordWeight: q.KeywordWeight,
	}, "embedding")
	w := p.w

	if len(q.DocIDs) > 0 {
		w.add(`doc_id = ANY($%d)`, q.DocIDs)
	}
	thrPos := w.bind(q.Threshold)
	limPos := w.bind(searchLimit(q.Limit))

	if !p.hybrid {
		w.addLiteral(fmt.Sprintf(`%s > $%d`, p.vectorExpr, thrPos))
		sql := fmt.Sprintf(`
SELECT %s,
       %s AS score
FROM documentation_chunks%s
ORDER BY embedding <=> $1::vector ASC, file_path ASC, start_line ASC
LIMIT $%d`,
			docChunkColumns, p.scoreExpr, w.clause(), limPos)
		return sql, w.args
	}

	sql := fmt.Sprintf(`
SELECT %s, score FROM (
  SELECT %s,
         %s AS vector_score,
         %s AS keyword_score,
         %s AS score
  FROM documentation_chunks%s
) ranked
WHERE vector_score > $%d OR keyword_score > %g
ORDER BY score DESC, vector_score DESC, file_path ASC, start_line ASC
LIMIT $%d`,
		docChunkColumns, docChunkColumns, p.vectorExpr, p.keywordExpr, p.scoreExpr, w.clause(), thrPos, ftsRankFloor, limPos)
	return sql, w.args
}

// SearchDocs runs the hybrid query over documentation chunks.
func (s *PG) SearchDocs(ctx context.Context, q DocSearchQuery) ([]DocHit, error) {
	if len(q.Vector) == 0 {
		return nil, cerrors.New(cerrors.ErrCodeInvalidInput, "documentation search requires a query vector", nil)
	}

	sql, args := buildDocSearchSQL(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "search documentation")
	}
	defer rows.Close()

	var hits []DocHit
	for rows.Next() {
		var h DocHit
		var emb pgvector.Vector
		dests := append(docChunkScanDests(&h.Chunk, &emb), &h.Score)
		if err := rows.Scan(dests...); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan documentation hit")
		}
		h.Chunk.Embedding = emb.Slice()
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "search documentation")
	}
	return hits, nil
}

func searchLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	return limit
}

// buildTSQuery sanitizes raw query text into a tsquery expression. Operator
// characters are replaced with spaces, terms with no letters or digits are
// dropped, and the remaining distinct terms are quoted and OR-joined so a
// single term match contributes rank. Quoting keeps terms with embedded
// punctuation as phrase lexemes instead of tsquery syntax errors.
func buildTSQuery(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '&', '|', '!', '(', ')', ':', '*', '<', '>', '\'', '"', '\\':
			return ' '
		}
		return r
	}, text)

	seen := make(map[string]struct{})
	var terms []string
	for _, f := range strings.Fields(cleaned) {
		f = strings.ToLower(f)
		if !hasAlnum(f) {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, "'"+f+"'")
	}
	return strings.Join(terms, " | ")
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
