package retrieve

import (
	"log/slog"

	"github.com/cindex-dev/cindex/internal/chunk"
)

// Per-group item caps for the low-priority repo kinds.
const (
	maxReferenceChunks     = 5
	maxDocumentationChunks = 3
)

// entryOverheadTokens is the accounting cost of a structural result entry
// (import-chain node, endpoint, call, link) beyond its free-text fields.
const entryOverheadTokens = 16

// tokenBudget tracks cumulative token cost against the hard cap. Once an
// item does not fit the budget stays full, so lower-priority categories stop
// at their first item.
type tokenBudget struct {
	max  int
	used int
	full bool
}

func newTokenBudget(max int) *tokenBudget {
	return &tokenBudget{max: max}
}

// fits reserves cost tokens, reporting false once the budget is exhausted.
func (b *tokenBudget) fits(cost int) bool {
	if b.full || b.used+cost > b.max {
		b.full = true
		return false
	}
	b.used += cost
	return true
}

// assemble runs stage 8: packs the ranked results into repo-kind groups
// under the context token budgets. Categories pack in fixed order (files,
// chunks, symbols, import chains, API data), each item charged against the
// budget; crossing the hard cap cuts everything after it and surfaces one
// partial_results warning. Crossing the soft cap only logs.
func (e *Engine) assemble(res *Result, files []FileResult, chunks []ChunkResult, symbols []SymbolGroup, chains []ChainEntry, enr *apiEnrichment) {
	budget := newTokenBudget(e.cfg.Search.MaxContextTokens)

	groups := make(map[GroupName]*Group, 4)
	group := func(name GroupName) *Group {
		g, ok := groups[name]
		if !ok {
			g = &Group{Name: name}
			groups[name] = g
		}
		return g
	}

	for _, f := range files {
		if !budget.fits(chunk.EstimateTokens(f.File.Summary) + entryOverheadTokens) {
			break
		}
		g := group(groupFor(f.RepoKind))
		g.Files = append(g.Files, f)
	}

	for i := range chunks {
		c := &chunks[i]
		g := group(groupFor(c.RepoKind))
		if max := groupChunkCap(g.Name); max > 0 && len(g.Chunks) >= max {
			continue
		}
		cost := c.Chunk.TokenCount
		if cost == 0 {
			cost = chunk.EstimateTokens(c.Chunk.Content)
		}
		if !budget.fits(cost) {
			break
		}
		g.Chunks = append(g.Chunks, *c)
	}

	for _, sg := range symbols {
		cost := entryOverheadTokens
		for _, d := range sg.Definitions {
			cost += chunk.EstimateTokens(d.Definition)
		}
		if !budget.fits(cost) {
			break
		}
		res.Symbols = append(res.Symbols, sg)
	}

	for _, ce := range chains {
		if !budget.fits(chunk.EstimateTokens(ce.FileSummary) + entryOverheadTokens) {
			break
		}
		res.ImportChains = append(res.ImportChains, ce)
	}

	if enr != nil {
		for i := range enr.Endpoints {
			ep := &enr.Endpoints[i]
			cost := entryOverheadTokens +
				chunk.EstimateTokens(ep.Description) +
				chunk.EstimateTokens(ep.RequestSchema) +
				chunk.EstimateTokens(ep.ResponseSchema)
			if !budget.fits(cost) {
				break
			}
			res.Endpoints = append(res.Endpoints, *ep)
		}
		for _, c := range enr.Calls {
			if !budget.fits(entryOverheadTokens) {
				break
			}
			res.CrossServiceCalls = append(res.CrossServiceCalls, c)
		}
		for _, l := range enr.Links {
			if !budget.fits(entryOverheadTokens) {
				break
			}
			res.ContractLinks = append(res.ContractLinks, l)
		}
		res.Warnings = append(res.Warnings, enr.Warnings...)
	}

	for _, name := range []GroupName{GroupPrimaryCode, GroupLibraries, GroupReferences, GroupDocumentation} {
		g, ok := groups[name]
		if !ok || (len(g.Files) == 0 && len(g.Chunks) == 0) {
			continue
		}
		res.Groups = append(res.Groups, *g)
	}

	res.TokensUsed = budget.used
	if budget.full {
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarnPartialResults,
			Message: "context token budget reached; lower-priority results were dropped",
		})
	}
	if budget.used > e.cfg.Search.WarnContextTokens {
		e.logger.Warn("context exceeds soft budget",
			slog.Int("tokens_used", budget.used),
			slog.Int("warn_context_tokens", e.cfg.Search.WarnContextTokens))
	}
}

// groupChunkCap returns the chunk cap for a group, 0 meaning uncapped.
func groupChunkCap(name GroupName) int {
	switch name {
	case GroupReferences:
		return maxReferenceChunks
	case GroupDocumentation:
		return maxDocumentationChunks
	}
	return 0
}
