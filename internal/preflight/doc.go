// Package preflight validates the environment before cindex starts real
// work. The doctor command runs every check; individual checks are also
// reusable from startup paths.
//
// Local checks cover disk space, memory, write permissions, and file
// descriptor limits. Dependency checks verify the PostgreSQL store (with
// the pgvector extension) and the Ollama backend (reachability, installed
// models, embedding dimensions).
package preflight
