package mongostore

import (
	"context"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// GetResource returns the resource with id, including soft-deleted ones
func (s *Store) GetResource(ctx context.Context, id string) (*authz.Resource, error) {
	var doc resourceDoc
	if err := s.resources.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, classify("get resource "+id, err)
	}
	return doc.toResource(), nil
}

// UpsertResource inserts a new document when expectedVersion is zero and
// otherwise replaces the document only if its version still matches
func (s *Store) UpsertResource(ctx context.Context, resource *authz.Resource, expectedVersion int64) (int64, error) {
	op := "upsert resource " + resource.ID
	next := expectedVersion + 1
	doc := resourceToDoc(resource, next)

	if expectedVersion == 0 {
		_, err := s.resources.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return 0, &authz.ConflictError{ResourceID: resource.ID, Expected: expectedVersion}
		}
		if err != nil {
			return 0, classify(op, err)
		}
		return next, nil
	}

	res, err := s.resources.ReplaceOne(ctx, bson.M{"_id": resource.ID, "version": expectedVersion}, doc)
	if err != nil {
		return 0, classify(op, err)
	}
	if res.MatchedCount == 0 {
		return 0, &authz.ConflictError{ResourceID: resource.ID, Expected: expectedVersion}
	}
	return next, nil
}

// QueryResources pages through resources ordered by ID
func (s *Store) QueryResources(ctx context.Context, q authz.ResourceQuery) (*authz.ResourcePage, error) {
	after, err := storage.DecodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	limit := storage.ClampLimit(q.Limit)

	filter := bson.M{"_id": bson.M{"$gt": after}}
	if !q.IncludeDeleted {
		filter["deleted"] = false
	}
	if q.OwnerID != "" {
		filter["ownerId"] = q.OwnerID
	}
	if q.SharedWithUser != "" {
		filter["sharedWith.userId"] = q.SharedWithUser
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit + 1))

	cursor, err := s.resources.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify("query resources", err)
	}
	defer cursor.Close(ctx)

	var docs []resourceDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify("query resources", err)
	}

	resources := make([]*authz.Resource, 0, len(docs))
	for i := range docs {
		resources = append(resources, docs[i].toResource())
	}

	page := &authz.ResourcePage{Resources: resources}
	if len(resources) > limit {
		page.Resources = resources[:limit]
		page.NextCursor = storage.EncodeCursor(page.Resources[limit-1].ID)
	}
	return page, nil
}
