// Package dynamo resolves tracking tokens from a DynamoDB table. Large
// senders keep the token map there so the tracking edge can resolve without
// touching Postgres.
package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
)

// API is the subset of the DynamoDB client the resolver uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// tokenItem is the table layout: partition key "token".
type tokenItem struct {
	Token           string `dynamodbav:"token"`
	CampaignID      string `dynamodbav:"campaign_id"`
	RecipientID     string `dynamodbav:"recipient_id"`
	ContactAddress  string `dynamodbav:"contact_address,omitempty"`
	CampaignDeleted bool   `dynamodbav:"campaign_deleted,omitempty"`
}

// TokenRepo implements engagement.TokenResolver over DynamoDB.
type TokenRepo struct {
	client API
	table  string
}

// NewTokenRepo creates a resolver reading from table.
func NewTokenRepo(client API, table string) *TokenRepo {
	return &TokenRepo{client: client, table: table}
}

// Resolve looks the token up with a strongly consistent read.
func (r *TokenRepo) Resolve(ctx context.Context, token string) (domain.TokenTarget, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            map[string]types.AttributeValue{"token": &types.AttributeValueMemberS{Value: token}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.TokenTarget{}, fmt.Errorf("get token item: %w", err)
	}
	if len(out.Item) == 0 {
		return domain.TokenTarget{}, engagement.ErrTokenNotFound
	}

	var item tokenItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.TokenTarget{}, fmt.Errorf("unmarshal token item: %w", err)
	}
	if item.CampaignDeleted || item.CampaignID == "" {
		return domain.TokenTarget{}, engagement.ErrTokenNotFound
	}
	return domain.TokenTarget{
		Token:          token,
		CampaignID:     item.CampaignID,
		RecipientID:    item.RecipientID,
		ContactAddress: item.ContactAddress,
	}, nil
}

// Issue writes a token item.
func (r *TokenRepo) Issue(ctx context.Context, t domain.TokenTarget) error {
	av, err := attributevalue.MarshalMap(tokenItem{
		Token:          t.Token,
		CampaignID:     t.CampaignID,
		RecipientID:    t.RecipientID,
		ContactAddress: t.ContactAddress,
	})
	if err != nil {
		return fmt.Errorf("marshal token item: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("put token item: %w", err)
	}
	return nil
}
