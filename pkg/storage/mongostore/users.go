package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// PutUser inserts or replaces a user document, keeping its history
func (s *Store) PutUser(ctx context.Context, u *authz.User) error {
	update := bson.M{
		"$set": bson.M{
			"email":             strings.ToLower(u.Email),
			"level":             int(u.Level),
			"customPermissions": overridesToDoc(u.CustomPermissions),
		},
	}
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": u.ID}, update, options.UpdateOne().SetUpsert(true))
	return classify("put user "+u.ID, err)
}

func (s *Store) findUser(ctx context.Context, op string, filter bson.M) (*authz.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, classify(op, err)
	}
	u, err := doc.toUser()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUser returns the user with id
func (s *Store) GetUser(ctx context.Context, id string) (*authz.User, error) {
	return s.findUser(ctx, "get user "+id, bson.M{"_id": id})
}

// GetUserByEmail looks a user up by lowercased email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authz.User, error) {
	return s.findUser(ctx, "get user by email", bson.M{"email": strings.ToLower(email)})
}

var withoutHistory = bson.M{"permissionHistory": 0}

func (s *Store) collectUsers(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]*authz.User, error) {
	cursor, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify(op, err)
	}
	defer cursor.Close(ctx)

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify(op, err)
	}

	users := make([]*authz.User, 0, len(docs))
	for i := range docs {
		u, err := docs[i].toUser()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, u)
	}
	return users, nil
}

// GetUsers returns known users among ids without their history
func (s *Store) GetUsers(ctx context.Context, ids []string) (map[string]*authz.User, error) {
	out := make(map[string]*authz.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := s.collectUsers(ctx, "get users", bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(withoutHistory))
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// UpdateUser applies patch as a single document update
func (s *Store) UpdateUser(ctx context.Context, id string, patch authz.UserPatch) error {
	op := "update user " + id

	set := bson.M{}
	if patch.Level != nil {
		set["level"] = int(*patch.Level)
	}
	if patch.CustomPermissions != nil {
		set["customPermissions"] = overridesToDoc(*patch.CustomPermissions)
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if patch.AppendHistory != nil {
		update["$push"] = bson.M{"permissionHistory": historyToDoc(*patch.AppendHistory)}
	}

	filter := bson.M{"_id": id}
	if patch.ExpectedLevel != nil {
		filter["level"] = int(*patch.ExpectedLevel)
	}

	if len(update) == 0 {
		err := s.users.FindOne(ctx, filter, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return s.missingOrConflict(ctx, op, id, patch.ExpectedLevel)
		}
		return classify(op, err)
	}

	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return classify(op, err)
	}
	if res.MatchedCount == 0 {
		return s.missingOrConflict(ctx, op, id, patch.ExpectedLevel)
	}
	return nil
}

// missingOrConflict explains a conditional user update that matched nothing
func (s *Store) missingOrConflict(ctx context.Context, op, id string, expected *authz.PermissionLevel) error {
	if expected == nil {
		return classify(op, mongo.ErrNoDocuments)
	}
	var doc struct {
		Level int `bson:"level"`
	}
	err := s.users.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"level": 1})).Decode(&doc)
	if err != nil {
		return classify(op, err)
	}
	return fmt.Errorf("%s: level is %s, expected %s: %w", op, authz.PermissionLevel(doc.Level), *expected, authz.ErrConflict)
}

// CountByLevel tallies users per level with an aggregation
func (s *Store) CountByLevel(ctx context.Context) (map[authz.PermissionLevel]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$level"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.users.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, classify("count by level", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Level int `bson:"_id"`
		N     int `bson:"n"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, classify("count by level", err)
	}

	counts := make(map[authz.PermissionLevel]int, len(rows))
	for _, r := range rows {
		counts[authz.PermissionLevel(r.Level)] = r.N
	}
	return counts, nil
}

// ListUsers pages through users ordered by ID
func (s *Store) ListUsers(ctx context.Context, q authz.UserQuery) (*authz.UserPage, error) {
	after, err := storage.DecodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	limit := storage.ClampLimit(q.Limit)

	filter := bson.M{"_id": bson.M{"$gt": after}}
	if q.MinLevel != 0 {
		filter["level"] = bson.M{"$gte": int(q.MinLevel)}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit + 1)).
		SetProjection(withoutHistory)

	users, err := s.collectUsers(ctx, "list users", filter, opts)
	if err != nil {
		return nil, err
	}

	page := &authz.UserPage{Users: users}
	if len(users) > limit {
		page.Users = users[:limit]
		page.NextCursor = storage.EncodeCursor(page.Users[limit-1].ID)
	}
	return page, nil
}
