package activity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

const (
	activityPKPrefix = "ACTIVITY#"
	activitySK       = "ENTRY"

	// activityTTL keeps entries around long enough for reporting, then
	// lets DynamoDB TTL reclaim them.
	activityTTL = 90 * 24 * time.Hour

	// writeTimeout bounds best-effort writes so they can never stall
	// the main flow behind a slow table.
	writeTimeout = 5 * time.Second
)

// DynamoLog writes activity entries to a DynamoDB table. All failures
// are swallowed after an internal warn log.
type DynamoLog struct {
	client    *dynamodb.Client
	tableName string
}

// Compile-time interface check.
var _ Logger = (*DynamoLog)(nil)

// NewDynamoLog creates a DynamoDB-backed activity logger.
func NewDynamoLog(client *dynamodb.Client, tableName string) *DynamoLog {
	return &DynamoLog{client: client, tableName: tableName}
}

// newEntryID creates a random activity entry id.
func newEntryID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Error().Err(err).Msg("Failed to generate activity entry id")
		return ""
	}
	return "act-" + hex.EncodeToString(b)
}

func (d *DynamoLog) Log(ctx context.Context, e Entry) string {
	id := newEntryID()
	if id == "" {
		return ""
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", e.SessionID).Msg("Activity entry marshal failed — entry dropped")
		return ""
	}
	item["PK"] = &types.AttributeValueMemberS{Value: activityPKPrefix + id}
	item["SK"] = &types.AttributeValueMemberS{Value: activitySK}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(activityTTL).Unix(), 10)}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := d.client.PutItem(writeCtx, &dynamodb.PutItemInput{
		TableName: &d.tableName,
		Item:      item,
	}); err != nil {
		log.Warn().Err(err).Str("sessionId", e.SessionID).Msg("Activity entry write failed — entry dropped")
		return ""
	}
	return id
}

func (d *DynamoLog) Update(ctx context.Context, id string, p Patch) {
	if id == "" {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := d.client.UpdateItem(writeCtx, &dynamodb.UpdateItemInput{
		TableName: &d.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: activityPKPrefix + id},
			"SK": &types.AttributeValueMemberS{Value: activitySK},
		},
		UpdateExpression: aws.String("SET #st = :status, feedback = :feedback"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: p.Status},
			":feedback": &types.AttributeValueMemberS{Value: p.Feedback},
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("entryId", id).Msg("Activity entry update failed — patch dropped")
	}
}
