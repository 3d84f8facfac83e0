package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/cindex-dev/cindex/internal/cerrors"
	"github.com/cindex-dev/cindex/internal/model"
)

const symbolColumns = `symbol_id, repo_id, name, kind, file_path, line,
definition, scope, workspace_id, service_id, embedding`

func symbolScanDests(sym *model.Symbol, emb *pgvector.Vector) []any {
	return []any{
		&sym.SymbolID, &sym.RepoID, &sym.Name, &sym.Kind, &sym.FilePath, &sym.Line,
		&sym.Definition, &sym.Scope, &sym.WorkspaceID, &sym.ServiceID, emb,
	}
}

// SymbolsByNames returns every definition whose name matches any of names.
// A name with multiple definitions yields one row per definition.
func (s *PG) SymbolsByNames(ctx context.Context, repoIDs []string, names []string) ([]model.Symbol, error) {
	if len(names) == 0 {
		return nil, nil
	}
	w := newWhere()
	w.add(`name = ANY($%d)`, names)
	if len(repoIDs) > 0 {
		w.add(`repo_id = ANY($%d)`, repoIDs)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+symbolColumns+` FROM code_symbols`+w.clause()+` ORDER BY name, file_path, line`,
		w.args...)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "symbols by names")
	}
	return collectSymbols(rows)
}

func (s *PG) SearchSymbols(ctx context.Context, repoIDs []string, query string, kinds []model.SymbolKind, limit int) ([]model.Symbol, error) {
	w := newWhere()
	w.add(`name ILIKE $%d`, "%"+likePattern(query)+"%")
	if len(repoIDs) > 0 {
		w.add(`repo_id = ANY($%d)`, repoIDs)
	}
	if len(kinds) > 0 {
		ks := make([]string, len(kinds))
		for i, k := range kinds {
			ks[i] = string(k)
		}
		w.add(`kind = ANY($%d)`, ks)
	}
	limitPos := w.bind(limit)

	rows, err := s.pool.Query(ctx,
		`SELECT `+symbolColumns+` FROM code_symbols`+w.clause()+
			fmt.Sprintf(` ORDER BY name, file_path, line LIMIT $%d`, limitPos),
		w.args...)
	if err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "search symbols")
	}
	return collectSymbols(rows)
}

func collectSymbols(rows pgx.Rows) ([]model.Symbol, error) {
	defer rows.Close()

	var syms []model.Symbol
	for rows.Next() {
		var sym model.Symbol
		var emb pgvector.Vector
		if err := rows.Scan(symbolScanDests(&sym, &emb)...); err != nil {
			return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "scan symbol")
		}
		sym.Embedding = emb.Slice()
		syms = append(syms, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, cerrors.Wrapf(cerrors.ErrCodeStoreQuery, err, "read symbols")
	}
	return syms, nil
}
