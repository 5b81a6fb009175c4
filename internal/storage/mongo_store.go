package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"chatkeep/internal/models"
)

const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
)

type userDocument struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Username       string             `bson:"username"`
	Email          string             `bson:"email"`
	HashedPassword string             `bson:"hashed_password"`
	CreatedAt      time.Time          `bson:"created_at"`
}

type conversationDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    string             `bson:"user_id"`
	Messages  []models.Message   `bson:"messages"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func (d *conversationDocument) model() *models.Conversation {
	msgs := d.Messages
	if msgs == nil {
		msgs = make([]models.Message, 0)
	}
	return &models.Conversation{
		ID:        d.ID.Hex(),
		UserID:    d.UserID,
		Messages:  msgs,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// MongoStore implements Store on a MongoDB database. Conversations embed
// their messages as an array that only ever grows through $push.
type MongoStore struct {
	client        *mongo.Client
	users         *mongo.Collection
	conversations *mongo.Collection
}

// OpenMongo connects, pings and ensures indexes.
func OpenMongo(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	if uri == "" || dbName == "" {
		return nil, errors.New("mongo uri and database name are required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := NewMongoStore(client, client.Database(dbName))
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// NewMongoStore wraps an existing client and database.
func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:        client,
		users:         db.Collection(usersCollection),
		conversations: db.Collection(conversationsCollection),
	}
}

// EnsureIndexes creates the unique username index and the owner listing index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create users index: %w", err)
	}
	_, err = s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create conversations index: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	doc := userDocument{
		Username:       user.Username,
		Email:          user.Email,
		HashedPassword: user.PasswordHash,
		CreatedAt:      time.Now().UTC(),
	}
	res, err := s.users.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("create user: unexpected id type %T", res.InsertedID)
	}
	created := *user
	created.ID = oid.Hex()
	return &created, nil
}

func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var doc userDocument
	err := s.users.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &models.User{
		ID:           doc.ID.Hex(),
		Username:     doc.Username,
		Email:        doc.Email,
		PasswordHash: doc.HashedPassword,
	}, nil
}

func (s *MongoStore) CreateConversation(ctx context.Context, userID string) (string, error) {
	now := time.Now().UTC()
	res, err := s.conversations.InsertOne(ctx, conversationDocument{
		UserID:    userID,
		Messages:  []models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("create conversation: unexpected id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

func (s *MongoStore) GetConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	filter, ok := ownedFilter(conversationID, userID)
	if !ok {
		return nil, ErrNotFound
	}
	var doc conversationDocument
	if err := s.conversations.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return doc.model(), nil
}

// AppendMessages pushes all messages in one atomic update.
func (s *MongoStore) AppendMessages(ctx context.Context, conversationID, userID string, messages ...models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	filter, ok := ownedFilter(conversationID, userID)
	if !ok {
		return ErrNotFound
	}
	update := bson.M{
		"$push": bson.M{"messages": bson.M{"$each": messages}},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	res, err := s.conversations.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetProjection(bson.M{"messages": bson.M{"$slice": -1}})
	cur, err := s.conversations.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cur.Close(ctx)

	summaries := make([]models.ConversationSummary, 0)
	for cur.Next(ctx) {
		var doc conversationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
		summaries = append(summaries, doc.model().Summary())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return summaries, nil
}

func (s *MongoStore) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	filter, ok := ownedFilter(conversationID, userID)
	if !ok {
		return ErrNotFound
	}
	res, err := s.conversations.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ownedFilter matches a conversation by id and owner. Ids that are not valid
// ObjectIDs cannot exist, so callers treat them as not found.
func ownedFilter(conversationID, userID string) (bson.M, bool) {
	oid, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, false
	}
	return bson.M{"_id": oid, "user_id": userID}, true
}
