package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lattiam/launchpad/internal/awsutil"
	"github.com/lattiam/launchpad/internal/interfaces"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStore
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Attribute names of a target item
const (
	attrID               = "TargetID"
	attrDefinition       = "Definition"
	attrLifecycle        = "Lifecycle"
	attrCurrentArtifact  = "CurrentArtifact"
	attrPreviousArtifact = "PreviousArtifact"
	attrActiveRun        = "ActiveRun"
	attrRevision         = "Revision"
	attrUpdatedAt        = "UpdatedAt"
)

// Expressions sent to DynamoDB
const (
	putExpression = "SET " + attrDefinition + " = :def, " + attrUpdatedAt + " = :now, " +
		attrLifecycle + " = if_not_exists(" + attrLifecycle + ", :unknown), " +
		attrRevision + " = if_not_exists(" + attrRevision + ", :zero) + :one"
	swapCondition   = "attribute_exists(" + attrID + ") AND " + attrRevision + " = :expected"
	deleteCondition = "attribute_exists(" + attrID + ")"
)

// DynamoDBStore implements interfaces.TargetStore on a DynamoDB table, using
// conditional writes on the Revision attribute for compare-and-set.
type DynamoDBStore struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoDBStore connects to DynamoDB and makes sure the table exists
func NewDynamoDBStore(ctx context.Context, settings awsutil.Settings, table string) (*DynamoDBStore, error) {
	if table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	awsCfg, err := awsutil.LoadConfig(ctx, settings)
	if err != nil {
		return nil, err
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = awsutil.Endpoint(settings.Endpoint)
	})

	store := NewDynamoDBStoreWithClient(client, table)
	if err := store.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure DynamoDB table exists: %w", err)
	}
	return store, nil
}

// NewDynamoDBStoreWithClient creates a store using the given client without touching the table
func NewDynamoDBStoreWithClient(client DynamoDBAPI, table string) *DynamoDBStore {
	return &DynamoDBStore{client: client, table: table}
}

func (s *DynamoDBStore) ensureTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table: %w", err)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrID), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrID), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create DynamoDB table: %w", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, 2*time.Minute); err != nil {
		return fmt.Errorf("timeout waiting for table to become active: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrID: &types.AttributeValueMemberS{Value: id}}
}

// Put upserts the definition; state attributes of an existing item are untouched
func (s *DynamoDBStore) Put(ctx context.Context, target interfaces.Target) (*interfaces.TargetRecord, error) {
	def, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("marshal target: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              s.key(target.ID),
		UpdateExpression: aws.String(putExpression),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":def":     &types.AttributeValueMemberS{Value: string(def)},
			":now":     &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
			":unknown": &types.AttributeValueMemberS{Value: string(interfaces.LifecycleUnknown)},
			":zero":    &types.AttributeValueMemberN{Value: "0"},
			":one":     &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("put target %q: %w", target.ID, err)
	}
	return decodeItem(out.Attributes)
}

// Get reads one record with a strongly consistent read
func (s *DynamoDBStore) Get(ctx context.Context, id string) (*interfaces.TargetRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get target %q: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, interfaces.NewError(interfaces.KindNotFound, "target %q not found", id)
	}
	return decodeItem(out.Item)
}

// List scans the table and filters by selector
func (s *DynamoDBStore) List(ctx context.Context, selector interfaces.Selector) ([]*interfaces.TargetRecord, error) {
	var records []*interfaces.TargetRecord
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan targets: %w", err)
		}
		for _, item := range page.Items {
			rec, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			if selector.Matches(rec.Target) {
				records = append(records, rec)
			}
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Target.ID < records[j].Target.ID })
	return records, nil
}

// Delete removes the item, failing with NotFound when absent
func (s *DynamoDBStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(id),
		ConditionExpression: aws.String(deleteCondition),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return interfaces.NewError(interfaces.KindNotFound, "target %q not found", id)
	}
	if err != nil {
		return fmt.Errorf("delete target %q: %w", id, err)
	}
	return nil
}

// Swap writes the record conditioned on the stored revision
func (s *DynamoDBStore) Swap(ctx context.Context, record *interfaces.TargetRecord, expectedRevision int64) (*interfaces.TargetRecord, error) {
	next := record.Copy()
	next.Revision = expectedRevision + 1
	next.UpdatedAt = time.Now().UTC()

	item, err := encodeItem(next)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String(swapCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedRevision, 10)},
		},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if _, getErr := s.Get(ctx, record.Target.ID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("target %q at revision %d: %w", record.Target.ID, expectedRevision, interfaces.ErrRevisionConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("swap target %q: %w", record.Target.ID, err)
	}
	return next, nil
}

func encodeItem(rec *interfaces.TargetRecord) (map[string]types.AttributeValue, error) {
	def, err := json.Marshal(rec.Target)
	if err != nil {
		return nil, fmt.Errorf("marshal target: %w", err)
	}
	return map[string]types.AttributeValue{
		attrID:               &types.AttributeValueMemberS{Value: rec.Target.ID},
		attrDefinition:       &types.AttributeValueMemberS{Value: string(def)},
		attrLifecycle:        &types.AttributeValueMemberS{Value: string(rec.Lifecycle)},
		attrCurrentArtifact:  &types.AttributeValueMemberS{Value: rec.CurrentArtifact},
		attrPreviousArtifact: &types.AttributeValueMemberS{Value: rec.PreviousArtifact},
		attrActiveRun:        &types.AttributeValueMemberS{Value: rec.ActiveRun},
		attrRevision:         &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Revision, 10)},
		attrUpdatedAt:        &types.AttributeValueMemberS{Value: rec.UpdatedAt.Format(time.RFC3339Nano)},
	}, nil
}

func decodeItem(item map[string]types.AttributeValue) (*interfaces.TargetRecord, error) {
	var rec interfaces.TargetRecord
	if err := json.Unmarshal([]byte(stringAttr(item, attrDefinition)), &rec.Target); err != nil {
		return nil, fmt.Errorf("unmarshal target %q: %w", stringAttr(item, attrID), err)
	}
	rec.Lifecycle = interfaces.Lifecycle(stringAttr(item, attrLifecycle))
	rec.CurrentArtifact = stringAttr(item, attrCurrentArtifact)
	rec.PreviousArtifact = stringAttr(item, attrPreviousArtifact)
	rec.ActiveRun = stringAttr(item, attrActiveRun)

	if n, ok := item[attrRevision].(*types.AttributeValueMemberN); ok {
		rev, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse revision: %w", err)
		}
		rec.Revision = rev
	}
	if ts := stringAttr(item, attrUpdatedAt); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		rec.UpdatedAt = t
	}
	return &rec, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}
