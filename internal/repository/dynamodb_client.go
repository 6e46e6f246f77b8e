package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"transcript-chat/internal/domain"
)

const (
	skCaptions = "CAPTIONS"
	defaultTTL = 24 * time.Hour

	// DynamoDB caps an item at 400 KB; leave room for the key and metadata.
	maxEntriesBytes = 380 << 10
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// CaptionCache stores fetched caption tracks keyed by video id.
type CaptionCache interface {
	GetTranscript(ctx context.Context, videoID string) ([]domain.TranscriptEntry, bool, error)
	PutTranscript(ctx context.Context, videoID string, entries []domain.TranscriptEntry) error
}

// Client is a DynamoDB-backed CaptionCache. Items expire through the table's
// TTL attribute; expired items that DynamoDB has not yet swept are treated as
// misses.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*Client)

// WithTTL overrides how long a cached caption track stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, ttl: defaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func videoPK(videoID string) string {
	return "VIDEO#" + videoID
}

func (c *Client) itemKey(videoID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: videoPK(videoID)},
		"SK": &types.AttributeValueMemberS{Value: skCaptions},
	}
}

// GetTranscript returns the cached entries for videoID. found is false when
// nothing usable is cached.
func (c *Client) GetTranscript(ctx context.Context, videoID string) ([]domain.TranscriptEntry, bool, error) {
	if strings.TrimSpace(videoID) == "" {
		return nil, false, errors.New("repository: GetTranscript: video id is required")
	}

	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.itemKey(videoID),
	})
	if err != nil {
		return nil, false, fmt.Errorf("repository: GetTranscript get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, false, nil
	}

	if expires, err := int64Attr(out.Item, "ttl"); err == nil && expires <= c.now().Unix() {
		return nil, false, nil
	}

	raw, err := strAttr(out.Item, "entries")
	if err != nil {
		return nil, false, fmt.Errorf("repository: GetTranscript decode: %w", err)
	}
	var entries []domain.TranscriptEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, false, fmt.Errorf("repository: GetTranscript unmarshal entries: %w", err)
	}
	return entries, true, nil
}

// PutTranscript replaces the cached entries for videoID and restarts its TTL.
// Tracks that would not fit in one item are skipped without error.
func (c *Client) PutTranscript(ctx context.Context, videoID string, entries []domain.TranscriptEntry) error {
	if strings.TrimSpace(videoID) == "" {
		return errors.New("repository: PutTranscript: video id is required")
	}
	if entries == nil {
		entries = []domain.TranscriptEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("repository: PutTranscript marshal entries: %w", err)
	}
	if len(raw) > maxEntriesBytes {
		slog.Debug("caption track too large to cache", "videoId", videoID, "bytes", len(raw), "entries", len(entries))
		return nil
	}

	now := c.now().UTC()
	item := c.itemKey(videoID)
	item["videoId"] = &types.AttributeValueMemberS{Value: videoID}
	item["entries"] = &types.AttributeValueMemberS{Value: string(raw)}
	item["count"] = &types.AttributeValueMemberN{Value: strconv.Itoa(len(entries))}
	item["fetchedAt"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(c.ttl).Unix(), 10)}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutTranscript: %w", err)
	}
	return nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
