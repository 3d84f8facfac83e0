package store

// ftsRankFloor is the keyword-rank floor of the hybrid qualification gate.
// ts_rank_cd magnitudes are small (a single matched lexeme lands around
// 0.1), so the floor sits well below the similarity scale.
const ftsRankFloor = 0.01

// HybridScore is the ranking score: a weighted sum of vector similarity
// and full-text rank. It orders results only; qualification is Qualifies.
func HybridScore(vectorScore, keywordScore, vectorWeight, keywordWeight float64) float64 {
	return vectorWeight*vectorScore + keywordWeight*keywordScore
}

// Qualifies is the hybrid qualification gate: vector similarity alone above
// the threshold, or a full-text rank above the floor. The combined score is
// never gated. The search SQL mirrors this predicate; keep the two in sync.
func Qualifies(vectorScore, keywordScore, threshold float64) bool {
	return vectorScore > threshold || keywordScore > ftsRankFloor
}
