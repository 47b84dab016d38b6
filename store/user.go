package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nexmarket/realtime/tools/errs"
)

// User is the durable account record. It carries secret material that must
// never leave this package toward the cache; the cache layer strips it when
// building a projection.
type User struct {
	UserID   string `bson:"user_id"`
	Email    string `bson:"email"`
	Nickname string `bson:"nickname"`

	// marketplace hot fields
	Balance       int64   `bson:"balance"` // cents
	SalesCount    int64   `bson:"sales_count"`
	PurchaseCount int64   `bson:"purchase_count"`
	Rating        float64 `bson:"rating"`

	Verified bool `bson:"verified"`
	Seller   bool `bson:"seller"`
	Banned   bool `bson:"banned"`

	// secrets, cache must never see these
	PasswordHash string `bson:"password_hash,omitempty"`
	RefreshToken string `bson:"refresh_token,omitempty"`
	VerifyCode   string `bson:"verify_code,omitempty"`

	CreateTime time.Time `bson:"create_time"`
	UpdateTime time.Time `bson:"update_time"`
}

type Users struct {
	coll *mongo.Collection
}

func NewUsers(db *mongo.Database) *Users {
	return &Users{coll: db.Collection("user")}
}

func (s *Users) FindByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.coll.FindOne(ctx, bson.M{"user_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WrapMsg("user", "id", id)
	}
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("find user", "id", id, "err", err)
	}
	return &u, nil
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.coll.FindOne(ctx, bson.M{"email": email}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WrapMsg("user", "email", email)
	}
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("find user by email", "err", err)
	}
	return &u, nil
}

// Update applies a validated partial update and returns the post-image.
// "balance_delta" increments atomically; everything else is a plain $set of
// a whitelisted field. Unknown fields fail validation.
func (s *Users) Update(ctx context.Context, id string, fields map[string]any) (*User, error) {
	set, inc, err := buildUserUpdate(fields)
	if err != nil {
		return nil, err
	}
	update := bson.M{"$set": set}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var u User
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"user_id": id}, update, opts).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WrapMsg("user", "id", id)
	}
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("update user", "id", id, "err", err)
	}
	return &u, nil
}

var userUpdatable = map[string]bool{
	"nickname":       true,
	"balance":        true,
	"sales_count":    true,
	"purchase_count": true,
	"rating":         true,
	"verified":       true,
	"seller":         true,
	"banned":         true,
}

func buildUserUpdate(fields map[string]any) (set bson.M, inc bson.M, err error) {
	if len(fields) == 0 {
		return nil, nil, errs.ErrValidation.WrapMsg("empty update")
	}
	set = bson.M{"update_time": time.Now()}
	inc = bson.M{}
	for k, v := range fields {
		switch {
		case k == "balance_delta":
			inc["balance"] = v
		case userUpdatable[k]:
			set[k] = v
		default:
			return nil, nil, errs.ErrValidation.WrapMsg("field not updatable", "field", k)
		}
	}
	return set, inc, nil
}

// Insert exists for bootstrap/ops tooling; the marketplace's signup flow is
// the normal writer of user documents.
func (s *Users) Insert(ctx context.Context, u *User) error {
	now := time.Now()
	u.CreateTime, u.UpdateTime = now, now
	if _, err := s.coll.InsertOne(ctx, u); err != nil {
		return errs.ErrStoreUnavailable.WrapMsg("insert user", "id", u.UserID, "err", err)
	}
	return nil
}
