package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/crowdmagic/platebot/internal/session"
)

// DynamoDB key constants for the single-table design. All session
// records live under PK=SESSION#{id}, SK=META. A TTL attribute
// (expiresAt) auto-deletes records idle past the store TTL.
const (
	pkPrefix = "SESSION#"
	skMeta   = "META"

	// userStateIndex is the GSI on (userId, state) used to find a
	// user's collecting session.
	userStateIndex = "userId-state-index"
)

// DynamoStore implements Store using AWS DynamoDB so multiple bot
// instances can share session state.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
	ttl       time.Duration
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table. The client
// should be initialized from the shared AWS config. A zero ttl uses
// DefaultTTL.
func NewDynamoStore(client *dynamodb.Client, tableName string, ttl time.Duration) *DynamoStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
	}
}

// sessionPK returns the partition key for a session.
func sessionPK(id string) string {
	return pkPrefix + id
}

// marshalSession builds the full DynamoDB item for a session, including
// key and TTL attributes.
func (d *DynamoStore) marshalSession(s *session.Session) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session %s: %w", s.ID, err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: sessionPK(s.ID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(d.ttl).Unix(), 10)}
	return item, nil
}

func (d *DynamoStore) Create(ctx context.Context, s *session.Session) error {
	item, err := d.marshalSession(s)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &d.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return fmt.Errorf("session %s already exists", s.ID)
		}
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}
	log.Debug().Str("sessionId", s.ID).Str("userId", s.UserID).Msg("Session created in DynamoDB")
	return nil
}

func (d *DynamoStore) Get(ctx context.Context, id string) (*session.Session, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &d.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	// DynamoDB TTL deletion lags; treat lapsed records as gone.
	if itemExpired(result.Item) {
		return nil, nil
	}

	var s session.Session
	if err := attributevalue.UnmarshalMap(result.Item, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	s.ID = id
	return &s, nil
}

func (d *DynamoStore) Update(ctx context.Context, s *session.Session) error {
	s.UpdatedAt = time.Now().UTC()
	item, err := d.marshalSession(s)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &d.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return fmt.Errorf("session %s does not exist", s.ID)
		}
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	return nil
}

func (d *DynamoStore) Delete(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &d.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (d *DynamoStore) FindCollecting(ctx context.Context, userID string) (*session.Session, error) {
	result, err := d.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &d.tableName,
		IndexName:              aws.String(userStateIndex),
		KeyConditionExpression: aws.String("userId = :uid AND #st = :state"),
		ExpressionAttributeNames: map[string]string{
			"#st": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":   &types.AttributeValueMemberS{Value: userID},
			":state": &types.AttributeValueMemberS{Value: string(session.StateCollectingReferences)},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query collecting session for user %s: %w", userID, err)
	}
	for _, item := range result.Items {
		if itemExpired(item) {
			continue
		}
		var s session.Session
		if err := attributevalue.UnmarshalMap(item, &s); err != nil {
			return nil, fmt.Errorf("unmarshal collecting session for user %s: %w", userID, err)
		}
		if pk, ok := item["PK"].(*types.AttributeValueMemberS); ok {
			s.ID = pk.Value[len(pkPrefix):]
		}
		return &s, nil
	}
	return nil, nil
}

// itemExpired reports whether an item's TTL attribute has lapsed.
func itemExpired(item map[string]types.AttributeValue) bool {
	attr, ok := item["expiresAt"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ts, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return false
	}
	return time.Now().Unix() > ts
}
