package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// loadAWSConfig resolves credentials from the standard AWS chain:
// env vars, shared config (~/.aws), ECS/EC2 role, etc.
func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// dynamoAPI is the slice of the DynamoDB client the record store uses.
type dynamoAPI interface {
	dynamodb.ScanAPIClient
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

const dynamoCreatedAt = "created_at"

// dynamoStore keeps one schema in one DynamoDB table keyed by a string "id".
type dynamoStore struct {
	client dynamoAPI
	table  string
	schema Schema
	now    func() time.Time
}

func newDynamoStore(client dynamoAPI, table string, schema Schema) *dynamoStore {
	if table == "" {
		table = schema.Table
	}
	return &dynamoStore{client: client, table: table, schema: schema, now: time.Now}
}

func (s *dynamoStore) fail(op string, err error) error {
	// a failed attribute_not_exists on create is a duplicate id, not a missing row
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) && op != "create" {
		err = ErrNotFound
	}
	return &StoreError{Op: op, Table: s.table, Err: err}
}

// List scans the whole table. Rows come back newest first by created_at.
func (s *dynamoStore) List(ctx context.Context) ([]Record, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	})

	type row struct {
		rec     Record
		created string
	}
	var rows []row
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.fail("list", fmt.Errorf("scan page: %w", err))
		}
		for _, item := range page.Items {
			flat := unmarshalItem(item)
			rows = append(rows, row{rec: s.toRecord(flat), created: flat[dynamoCreatedAt]})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].created > rows[j].created })
	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}
	return out, nil
}

func (s *dynamoStore) toRecord(flat map[string]string) Record {
	rec := Record{ID: flat["id"], Fields: make(map[string]string, len(s.schema.Columns))}
	for _, key := range s.schema.Keys() {
		rec.Fields[key] = flat[key]
	}
	return rec
}

func (s *dynamoStore) Create(ctx context.Context, fields map[string]string) (Record, error) {
	if missing := missingFields(s.schema, fields); len(missing) > 0 {
		return Record{}, &ValidationError{Fields: missing}
	}
	rec := Record{ID: uuid.NewString(), Fields: trimmedFields(s.schema, fields)}

	attrs := make(map[string]string, len(rec.Fields)+2)
	for k, v := range rec.Fields {
		attrs[k] = v
	}
	attrs["id"] = rec.ID
	attrs[dynamoCreatedAt] = s.now().UTC().Format(time.RFC3339Nano)

	item, err := attributevalue.MarshalMap(attrs)
	if err != nil {
		return Record{}, s.fail("create", fmt.Errorf("marshal item: %w", err))
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return Record{}, s.fail("create", err)
	}
	return rec, nil
}

func (s *dynamoStore) Update(ctx context.Context, id, field, value string) (Record, error) {
	if _, ok := s.schema.Column(field); !ok {
		return Record{}, &ValidationError{Fields: []string{field}}
	}
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		UpdateExpression:          aws.String("SET #f = :v"),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeNames:  map[string]string{"#f": field},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return Record{}, s.fail("update", err)
	}
	return s.toRecord(unmarshalItem(out.Attributes)), nil
}

func (s *dynamoStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.table),
		Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		return s.fail("delete", err)
	}
	return nil
}

// unmarshalAttributeValue flattens scalar attributes to the string form the
// grid edits. Maps, lists and sets are not editable and are skipped.
func unmarshalAttributeValue(av types.AttributeValue) (string, bool) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, true
	case *types.AttributeValueMemberN:
		return v.Value, true // string representation of the number
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(v.Value), true
	case *types.AttributeValueMemberNULL:
		return "", true
	default:
		return "", false
	}
}

func unmarshalItem(item map[string]types.AttributeValue) map[string]string {
	out := make(map[string]string, len(item))
	for k, v := range item {
		if s, ok := unmarshalAttributeValue(v); ok {
			out[k] = s
		}
	}
	return out
}
