package retrieve

import (
	"context"
	"log/slog"
	"sort"

	"github.com/cindex-dev/cindex/internal/model"
)

// resolveSymbols runs stage 4: the union of symbol names referenced by the
// retrieved chunks, resolved to definitions and grouped by name. Global
// scope sees exported definitions only; explicitly scoped queries see both
// visibilities. Names with no definition are logged, not errors.
func (e *Engine) resolveSymbols(ctx context.Context, sc *resolvedScope, chunks []ChunkResult) ([]SymbolGroup, error) {
	names := referencedNames(chunks)
	if len(names) == 0 {
		return nil, nil
	}

	symbols, err := e.store.SymbolsByNames(ctx, sc.repoIDs, names)
	if err != nil {
		return nil, err
	}

	exportedOnly := sc.mode == ScopeGlobal
	byName := make(map[string][]model.Symbol)
	for _, s := range symbols {
		if exportedOnly && s.Scope != model.SymbolScopeExported {
			continue
		}
		byName[s.Name] = append(byName[s.Name], s)
	}

	groups := make([]SymbolGroup, 0, len(byName))
	for _, name := range names {
		defs, ok := byName[name]
		if !ok {
			e.logger.Debug("symbol unresolved", slog.String("name", name))
			continue
		}
		groups = append(groups, SymbolGroup{Name: name, Definitions: defs})
	}
	return groups, nil
}

// referencedNames collects the distinct symbol names mentioned in chunk
// metadata, sorted for deterministic lookups.
func referencedNames(chunks []ChunkResult) []string {
	seen := make(map[string]struct{})
	for _, c := range chunks {
		for _, list := range [][]string{
			c.Chunk.Metadata.Dependencies,
			c.Chunk.Metadata.ImportedSymbols,
			c.Chunk.Metadata.FunctionNames,
			c.Chunk.Metadata.ClassNames,
		} {
			for _, n := range list {
				if n != "" {
					seen[n] = struct{}{}
				}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
