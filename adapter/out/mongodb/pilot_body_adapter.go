package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pilot_server/core/domain"
	"pilot_server/core/port/out"
)

const (
	collectionMessageBodies = "message_bodies"

	// Only compress bodies larger than this
	compressionThreshold = 1024
)

// BodyAdapter implements out.BodyRepository using MongoDB. Full message
// bodies live here; Postgres keeps only the working text.
type BodyAdapter struct {
	collection *mongo.Collection
}

// NewBodyAdapter creates a new MongoDB body adapter.
func NewBodyAdapter(db *mongo.Database) *BodyAdapter {
	return &BodyAdapter{collection: db.Collection(collectionMessageBodies)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *BodyAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "stored_at", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// bodyDocument represents the MongoDB document structure.
type bodyDocument struct {
	MessageID int64 `bson:"message_id"`

	// Content (potentially compressed)
	Text         []byte `bson:"text"`
	HTML         []byte `bson:"html"`
	IsCompressed bool   `bson:"is_compressed"`

	OriginalSize int64     `bson:"original_size"`
	StoredAt     time.Time `bson:"stored_at"`
}

// Save upserts the body document for a message.
func (a *BodyAdapter) Save(ctx context.Context, body *domain.MessageBody) error {
	textBytes := []byte(body.TextBody)
	htmlBytes := []byte(body.HTMLBody)
	originalSize := int64(len(textBytes) + len(htmlBytes))

	isCompressed := false
	if originalSize > compressionThreshold {
		var err error
		if textBytes, err = compress(textBytes); err != nil {
			return fmt.Errorf("failed to compress text body: %w", err)
		}
		if htmlBytes, err = compress(htmlBytes); err != nil {
			return fmt.Errorf("failed to compress html body: %w", err)
		}
		isCompressed = true
	}

	doc := &bodyDocument{
		MessageID:    body.MessageID,
		Text:         textBytes,
		HTML:         htmlBytes,
		IsCompressed: isCompressed,
		OriginalSize: originalSize,
		StoredAt:     time.Now().UTC(),
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"message_id": body.MessageID}

	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save message body: %w", err)
	}
	return nil
}

// Get retrieves the body for a message, or nil when none is stored.
func (a *BodyAdapter) Get(ctx context.Context, messageID int64) (*domain.MessageBody, error) {
	var doc bodyDocument
	filter := bson.M{"message_id": messageID}

	err := a.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message body: %w", err)
	}

	textBytes := doc.Text
	htmlBytes := doc.HTML
	if doc.IsCompressed {
		if textBytes, err = decompress(doc.Text); err != nil {
			return nil, fmt.Errorf("failed to decompress text body: %w", err)
		}
		if htmlBytes, err = decompress(doc.HTML); err != nil {
			return nil, fmt.Errorf("failed to decompress html body: %w", err)
		}
	}

	return &domain.MessageBody{
		MessageID: doc.MessageID,
		TextBody:  string(textBytes),
		HTMLBody:  string(htmlBytes),
	}, nil
}

// Delete removes the body document for a message. Deleting a missing
// document is not an error.
func (a *BodyAdapter) Delete(ctx context.Context, messageID int64) error {
	filter := bson.M{"message_id": messageID}

	if _, err := a.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete message body: %w", err)
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

// Ensure BodyAdapter implements out.BodyRepository
var _ out.BodyRepository = (*BodyAdapter)(nil)
