package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nexmarket/realtime/tools/errs"
	"github.com/nexmarket/realtime/tools/ids"
)

// Message content types.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeVideo = "video"
	TypeAudio = "audio"
	TypeFile  = "file"
)

func ValidContentType(t string) bool {
	switch t {
	case TypeText, TypeImage, TypeVideo, TypeAudio, TypeFile:
		return true
	}
	return false
}

// Message is immutable once appended; only the delivered/read flags move,
// and only false -> true.
type Message struct {
	MsgID       string `bson:"msg_id" json:"msg_id"`
	ClientMsgID string `bson:"client_msg_id" json:"client_msg_id,omitempty"`
	SenderID    string `bson:"sender_id" json:"sender_id"`
	Content     string `bson:"content" json:"content"`
	ContentType string `bson:"content_type" json:"content_type"`
	SendTime    int64  `bson:"send_time" json:"send_time"` // unix ms, server-assigned
	Delivered   bool   `bson:"delivered" json:"delivered"`
	Read        bool   `bson:"read" json:"read"`
}

type Conversation struct {
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	Participants   []string  `bson:"participants" json:"participants"`
	Messages       []Message `bson:"messages" json:"messages,omitempty"`
	LastActivity   time.Time `bson:"last_activity" json:"last_activity"`
	CreateTime     time.Time `bson:"create_time" json:"create_time"`
}

// Summary is the list-view shape sent to a client on connect.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	Participants   []string  `json:"participants"`
	LastActivity   time.Time `json:"last_activity"`
	LastMessage    *Message  `json:"last_message,omitempty"`
}

type Conversations struct {
	coll *mongo.Collection
}

func NewConversations(db *mongo.Database) *Conversations {
	return &Conversations{coll: db.Collection("conversation")}
}

func (s *Conversations) Create(ctx context.Context, id string, participants []string) (*Conversation, error) {
	if len(participants) < 2 {
		return nil, errs.ErrValidation.WrapMsg("need at least 2 participants")
	}
	now := time.Now()
	c := &Conversation{
		ConversationID: id,
		Participants:   participants,
		Messages:       []Message{},
		LastActivity:   now,
		CreateTime:     now,
	}
	if _, err := s.coll.InsertOne(ctx, c); err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("create conversation", "err", err)
	}
	return c, nil
}

func (s *Conversations) Get(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.coll.FindOne(ctx, bson.M{"conversation_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", id)
	}
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("find conversation", "id", id, "err", err)
	}
	return &c, nil
}

// IsParticipant answers membership against the store. Room-scoped
// operations call this every time; a previously granted join is not proof
// of continued membership.
func (s *Conversations) IsParticipant(ctx context.Context, id, userID string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx,
		bson.M{"conversation_id": id, "participants": userID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, errs.ErrStoreUnavailable.WrapMsg("membership check", "id", id, "err", err)
	}
	return n > 0, nil
}

// ListFor returns the user's conversations sorted by most recent activity,
// capped at limit, message bodies excluded except the newest one.
func (s *Conversations) ListFor(ctx context.Context, userID string, limit int64) ([]Summary, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "last_activity", Value: -1}}).
		SetLimit(limit).
		SetProjection(bson.M{"messages": bson.M{"$slice": -1}})
	cur, err := s.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("list conversations", "user", userID, "err", err)
	}
	defer cur.Close(ctx)

	var out []Summary
	for cur.Next(ctx) {
		var c Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, errs.ErrStoreUnavailable.WrapMsg("decode conversation", "err", err)
		}
		sum := Summary{
			ConversationID: c.ConversationID,
			Participants:   c.Participants,
			LastActivity:   c.LastActivity,
		}
		if len(c.Messages) > 0 {
			m := c.Messages[len(c.Messages)-1]
			sum.LastMessage = &m
		}
		out = append(out, sum)
	}
	if err := cur.Err(); err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("iterate conversations", "err", err)
	}
	return out, nil
}

// AppendMessage assigns the server id and timestamp and appends in one
// atomic $push. The document-level atomicity of the push is the only
// ordering authority for a conversation.
func (s *Conversations) AppendMessage(ctx context.Context, id string, m Message) (*Message, error) {
	if m.SenderID == "" || m.Content == "" {
		return nil, errs.ErrValidation.WrapMsg("sender and content required")
	}
	if !ValidContentType(m.ContentType) {
		return nil, errs.ErrValidation.WrapMsg("bad content type", "type", m.ContentType)
	}
	now := time.Now()
	m.MsgID = ids.GenerateString()
	m.SendTime = now.UnixMilli()
	m.Delivered = false
	m.Read = false

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"conversation_id": id},
		bson.M{
			"$push": bson.M{"messages": m},
			"$set":  bson.M{"last_activity": now},
		})
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("append message", "conv", id, "err", err)
	}
	if res.MatchedCount == 0 {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", id)
	}
	return &m, nil
}

// SetMessageFlag sets delivered or read on one message. The filter only
// matches when the flag is still false, so the transition is monotonic and
// the call is idempotent.
func (s *Conversations) SetMessageFlag(ctx context.Context, id, msgID, flag string) error {
	if flag != "delivered" && flag != "read" {
		return errs.ErrValidation.WrapMsg("bad flag", "flag", flag)
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"conversation_id": id,
			"messages": bson.M{"$elemMatch": bson.M{
				"msg_id": msgID,
				flag:     false,
			}},
		},
		bson.M{"$set": bson.M{"messages.$." + flag: true}})
	if err != nil {
		return errs.ErrStoreUnavailable.WrapMsg("set flag", "conv", id, "msg", msgID, "err", err)
	}
	if res.MatchedCount == 0 {
		// already set, or the message doesn't exist; distinguish so a bad
		// msg id doesn't pass silently
		n, err := s.coll.CountDocuments(ctx,
			bson.M{"conversation_id": id, "messages.msg_id": msgID},
			options.Count().SetLimit(1))
		if err != nil {
			return errs.ErrStoreUnavailable.WrapMsg("set flag recheck", "err", err)
		}
		if n == 0 {
			return errs.ErrNotFound.WrapMsg("message", "conv", id, "msg", msgID)
		}
	}
	return nil
}
