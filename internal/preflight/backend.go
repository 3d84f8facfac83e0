package preflight

import (
	"context"
	"fmt"

	"github.com/cindex-dev/cindex/internal/backend"
)

// CheckBackend verifies the Ollama backend: reachability, installed models,
// and that the embedding model produces vectors of the configured size.
// Model checks are warnings; a missing model is fixed with one pull.
func (c *Checker) CheckBackend(ctx context.Context) []CheckResult {
	reach := CheckResult{
		Name:     "backend_connection",
		Required: true,
	}

	// Dimensions stay zero here: the probe wants the model's raw vector
	// size, and a configured size would make the client reject it first.
	client, err := backend.NewClient(ctx, backend.Config{
		Host:           c.cfg.Backend.Host,
		EmbeddingModel: c.cfg.Backend.EmbeddingModel,
		SummaryModel:   c.cfg.Backend.SummaryModel,
		Timeout:        c.cfg.Backend.Timeout,
		MaxRetries:     1,
		SkipVerify:     true,
	}, nil)
	if err != nil {
		reach.Status = StatusFail
		reach.Message = fmt.Sprintf("cannot create backend client: %v", err)
		return []CheckResult{reach}
	}
	defer client.Close()

	models, err := client.ListModels(ctx)
	if err != nil {
		reach.Status = StatusFail
		reach.Message = fmt.Sprintf("backend unreachable at %s", c.cfg.Backend.Host)
		reach.Details = err.Error()
		return []CheckResult{reach}
	}
	reach.Status = StatusPass
	reach.Message = fmt.Sprintf("%s (%d models installed)", c.cfg.Backend.Host, len(models))

	results := []CheckResult{reach}
	results = append(results, c.checkModel(ctx, client, "embedding_model", c.cfg.Backend.EmbeddingModel))
	results = append(results, c.checkModel(ctx, client, "summary_model", c.cfg.Backend.SummaryModel))

	// Dimension probe only makes sense when the embedding model is there.
	if results[1].Status == StatusPass {
		results = append(results, c.checkDimensions(ctx, client))
	}
	return results
}

func (c *Checker) checkModel(ctx context.Context, client *backend.Client, name, model string) CheckResult {
	result := CheckResult{
		Name:     name,
		Required: false,
	}

	ok, err := client.HasModel(ctx, model)
	switch {
	case err != nil:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot check model %q: %v", model, err)
	case !ok:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%q is not installed", model)
		result.Details = fmt.Sprintf("Run: ollama pull %s", model)
	default:
		result.Status = StatusPass
		result.Message = model
	}
	return result
}

func (c *Checker) checkDimensions(ctx context.Context, client *backend.Client) CheckResult {
	result := CheckResult{
		Name:     "embedding_dimensions",
		Required: false,
	}

	vec, err := client.Embed(ctx, "dimension probe")
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("probe failed: %v", err)
		return result
	}
	want := c.cfg.Backend.EmbeddingDimensions
	if want > 0 && len(vec) != want {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("model returns %d dimensions, config expects %d", len(vec), want)
		result.Details = "Set EMBEDDING_DIMENSIONS to the model's native size and re-index"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d", len(vec))
	return result
}
