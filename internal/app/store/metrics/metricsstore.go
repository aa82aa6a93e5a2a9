package metricsstore

import (
	"context"

	"github.com/dalemusser/coedit/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Counts is the set of totals reported on the status endpoint.
type Counts struct {
	Spaces           int64 `json:"spaces"`
	ActiveContents   int64 `json:"active_contents"`
	ArchivedContents int64 `json:"archived_contents"`
	Versions         int64 `json:"versions"`
	Operations       int64 `json:"operations"`
	OpenComments     int64 `json:"open_comments"`
}

// FetchCounts returns the high-level counts of stored data.
// Intentionally tolerant: on error it returns 0 for that counter.
func FetchCounts(ctx context.Context, db *mongo.Database) Counts {
	var out Counts

	count := func(coll string, filter bson.M, dst *int64) {
		if n, err := db.Collection(coll).CountDocuments(ctx, filter); err == nil {
			*dst = n
		}
	}
	// estimated counts are fine for the append-only collections
	estimate := func(coll string, dst *int64) {
		if n, err := db.Collection(coll).EstimatedDocumentCount(ctx); err == nil {
			*dst = n
		}
	}

	estimate("collaborative_spaces", &out.Spaces)
	count("collaborative_contents", bson.M{"status": models.ContentStatusActive}, &out.ActiveContents)
	count("collaborative_contents", bson.M{"status": models.ContentStatusArchived}, &out.ArchivedContents)
	estimate("content_versions", &out.Versions)
	estimate("operations", &out.Operations)
	count("content_comments", bson.M{"resolved": false}, &out.OpenComments)

	return out
}
