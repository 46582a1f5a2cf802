package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"blockcreds/internal/credential/models"
	id "blockcreds/pkg/domain"
	"blockcreds/pkg/platform/sentinel"
)

// CollectionName is the MongoDB collection holding credentials.
const CollectionName = "credentials"

// MongoStore persists credentials in MongoDB using the document layout of
// the original credentials collection.
type MongoStore struct {
	collection *mongo.Collection
}

type credentialDocument struct {
	ID               string     `bson:"_id"`
	VerificationCode string     `bson:"verification_code"`
	CodeKey          string     `bson:"code_key"`
	ContentHash      string     `bson:"content_hash"`
	TransactionRef   string     `bson:"transaction_hash,omitempty"`
	IssuerRef        string     `bson:"issuer_id"`
	RecipientRef     string     `bson:"recipient_id"`
	Title            string     `bson:"title"`
	Description      *string    `bson:"description,omitempty"`
	IssueDate        time.Time  `bson:"issue_date"`
	ExpiryDate       *time.Time `bson:"expiry_date,omitempty"`
	Fields           bson.M     `bson:"credential_data"`
	ReferenceImage   []byte     `bson:"image,omitempty"`
	Status           string     `bson:"status"`
	OnChainState     string     `bson:"on_chain_state"`
	OnChainCheckedAt *time.Time `bson:"on_chain_checked_at,omitempty"`
	CreatedAt        time.Time  `bson:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at"`
}

func NewMongo(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(CollectionName)}
}

// EnsureIndexes creates the unique code index. Records imported without a
// code_key are skipped by the partial filter.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "code_key", Value: 1}},
			Options: options.Index().
				SetName("uniq_code_key").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"code_key": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "verification_code", Value: 1}},
			Options: options.Index().SetName("idx_verification_code"),
		},
	})
	if err != nil {
		return fmt.Errorf("create credential indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Insert(ctx context.Context, c *models.Credential) error {
	_, err := s.collection.InsertOne(ctx, toDocument(c))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *MongoStore) FindByCode(ctx context.Context, code models.VerificationCode) (*models.Credential, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{"verification_code": bson.M{"$in": code.LookupForms()}},
		options.Find().SetLimit(3),
	)
	if err != nil {
		return nil, fmt.Errorf("find credential by code: %w", err)
	}
	var docs []credentialDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	if len(docs) == 0 {
		return nil, sentinel.ErrNotFound
	}
	best := docs[0]
	for _, d := range docs {
		if d.VerificationCode == code.String() {
			best = d
			break
		}
	}
	return fromDocument(best)
}

func (s *MongoStore) FindByID(ctx context.Context, credentialID models.CredentialID) (*models.Credential, error) {
	var doc credentialDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": credentialID.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find credential by id: %w", err)
	}
	return fromDocument(doc)
}

func (s *MongoStore) Exists(ctx context.Context, code models.VerificationCode) (bool, error) {
	n, err := s.collection.CountDocuments(ctx,
		bson.M{"verification_code": bson.M{"$in": code.LookupForms()}},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("check verification code: %w", err)
	}
	return n > 0, nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, credentialID models.CredentialID, status models.Status, at time.Time) error {
	return s.update(ctx, credentialID, bson.M{"status": string(status), "updated_at": at})
}

func (s *MongoStore) UpdateOnChainState(ctx context.Context, credentialID models.CredentialID, state models.OnChainState, at time.Time) error {
	return s.update(ctx, credentialID, bson.M{"on_chain_state": string(state), "on_chain_checked_at": at})
}

func (s *MongoStore) update(ctx context.Context, credentialID models.CredentialID, set bson.M) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": credentialID.String()}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if res.MatchedCount == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func toDocument(c *models.Credential) credentialDocument {
	return credentialDocument{
		ID:               c.ID.String(),
		VerificationCode: c.VerificationCode.String(),
		CodeKey:          c.VerificationCode.Key(),
		ContentHash:      c.ContentHash.String(),
		TransactionRef:   c.TransactionRef.String(),
		IssuerRef:        c.IssuerRef.String(),
		RecipientRef:     c.RecipientRef.String(),
		Title:            c.Title,
		Description:      c.Description,
		IssueDate:        c.IssueDate,
		ExpiryDate:       c.ExpiryDate,
		Fields:           bson.M(fieldsOrEmpty(c.Fields)),
		ReferenceImage:   c.ReferenceImage,
		Status:           string(c.Status),
		OnChainState:     string(c.OnChainState),
		OnChainCheckedAt: c.OnChainCheckedAt,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func fromDocument(d credentialDocument) (*models.Credential, error) {
	issuer, err := uuid.Parse(d.IssuerRef)
	if err != nil {
		return nil, fmt.Errorf("parse issuer ref: %w", err)
	}
	recipient, err := uuid.Parse(d.RecipientRef)
	if err != nil {
		return nil, fmt.Errorf("parse recipient ref: %w", err)
	}
	fields, ok := fromBSON(map[string]any(d.Fields)).(map[string]any)
	if !ok {
		fields = map[string]any{}
	}

	c := &models.Credential{
		ID:               models.CredentialID(d.ID),
		VerificationCode: models.VerificationCode(d.VerificationCode),
		ContentHash:      models.ContentHash(d.ContentHash),
		TransactionRef:   models.TxRef(d.TransactionRef),
		Content: models.Content{
			Title:        d.Title,
			Description:  d.Description,
			IssuerRef:    id.UserID(issuer),
			RecipientRef: id.UserID(recipient),
			IssueDate:    d.IssueDate.UTC(),
			ExpiryDate:   utcPtr(d.ExpiryDate),
			Fields:       fields,
		},
		ReferenceImage:   d.ReferenceImage,
		Status:           models.Status(d.Status),
		OnChainState:     models.OnChainState(d.OnChainState),
		OnChainCheckedAt: d.OnChainCheckedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if c.Status == "" {
		c.Status = models.StatusActive
	}
	if c.OnChainState == "" {
		c.OnChainState = models.OnChainUnknown
	}
	return c, nil
}

// fromBSON converts decoded driver types back to the plain JSON-like values
// the content hash is computed over.
func fromBSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = fromBSON(item)
		}
		return out
	case primitive.M:
		return fromBSON(map[string]any(val))
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = fromBSON(item)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	}
	return v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
