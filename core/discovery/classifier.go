package discovery

import (
	"fmt"

	"github.com/mkallweit/normrel/model"
)

// Classify derives the relationship type and confidence for an ordered
// document pair from its aggregate similarity statistics. It is a pure
// function covering all four type pair combinations:
//   - norm -> guideline: compliance (the guideline implements the norm)
//   - guideline -> norm: reference
//   - norm -> norm: supersedes when the target is newer and the average
//     similarity reaches the supersedes threshold, similar otherwise
//   - guideline -> guideline: similar
//
// Confidence is the average similarity clamped to [0,1]. It is a ranking
// signal, not a probability.
func Classify(source, target *model.Document, stats model.PairStats, config *model.DiscoveryConfig) (model.RelationshipType, float64) {
	confidence := stats.AvgSimilarity
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	var relType model.RelationshipType
	switch {
	case source.Type == model.DocumentTypeNorm && target.Type == model.DocumentTypeGuideline:
		relType = model.RelationshipCompliance
	case source.Type == model.DocumentTypeGuideline && target.Type == model.DocumentTypeNorm:
		relType = model.RelationshipReference
	case source.Type == model.DocumentTypeNorm && target.Type == model.DocumentTypeNorm:
		if target.NewerThan(source) && stats.AvgSimilarity >= config.SupersedesThreshold {
			relType = model.RelationshipSupersedes
		} else {
			relType = model.RelationshipSimilar
		}
	default:
		relType = model.RelationshipSimilar
	}

	return relType, confidence
}

// SummaryFor renders a short human-readable summary for a classified pair
func SummaryFor(relType model.RelationshipType, source, target *model.Document, stats model.PairStats) string {
	switch relType {
	case model.RelationshipCompliance:
		return fmt.Sprintf("%q appears to implement requirements of %q (%d matching sections, avg similarity %.2f)",
			target.Title, source.Title, stats.MatchCount, stats.AvgSimilarity)
	case model.RelationshipReference:
		return fmt.Sprintf("%q references content of %q (%d matching sections, avg similarity %.2f)",
			source.Title, target.Title, stats.MatchCount, stats.AvgSimilarity)
	case model.RelationshipSupersedes:
		return fmt.Sprintf("%q is likely superseded by the newer %q (%d matching sections, avg similarity %.2f)",
			source.Title, target.Title, stats.MatchCount, stats.AvgSimilarity)
	default:
		return fmt.Sprintf("%q and %q cover similar content (%d matching sections, avg similarity %.2f)",
			source.Title, target.Title, stats.MatchCount, stats.AvgSimilarity)
	}
}
