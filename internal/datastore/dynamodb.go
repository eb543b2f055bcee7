// dynamodb.go distributed key-value backend
package datastore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/tphakala/yolo-go/internal/conf"
	"github.com/tphakala/yolo-go/internal/errors"
)

// Secondary index names, must match the table definitions.
const (
	predictionUIDIndex = "prediction_uid-index"
	labelIndex         = "label-index"
)

// DynamoDBStore implements Interface on two independently keyed DynamoDB
// tables. Cross-table joins are done by client-side query plus secondary
// index; range queries over scores are simulated by a full scan with
// client-side filtering because no secondary index supports them. That scan
// is a known scalability limitation of this backend.
type DynamoDBStore struct {
	Settings *conf.Settings
	client   *dynamodb.Client
}

// sessionItem is the wire shape of a prediction session item.
type sessionItem struct {
	UID            string `dynamodbav:"uid"`
	Timestamp      string `dynamodbav:"timestamp"`
	OriginalImage  string `dynamodbav:"original_image"`
	PredictedImage string `dynamodbav:"predicted_image"`
}

// detectionItem is the wire shape of a detection item.
type detectionItem struct {
	ID            string  `dynamodbav:"id"`
	PredictionUID string  `dynamodbav:"prediction_uid"`
	Label         string  `dynamodbav:"label"`
	Score         float64 `dynamodbav:"score"`
	Box           string  `dynamodbav:"box"`
}

// Open sets up the DynamoDB client.
func (store *DynamoDBStore) Open() error {
	settings := store.Settings.Output.DynamoDB

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(settings.Region),
	)
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	store.client = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
	})

	getLogger().Info("DynamoDB store initialized",
		"region", settings.Region,
		"sessions_table", settings.SessionsTable,
		"detections_table", settings.DetectionsTable)
	return nil
}

// Close is a no-op, the DynamoDB client holds no persistent connection.
func (store *DynamoDBStore) Close() error {
	return nil
}

func (store *DynamoDBStore) dbError(err error, op string) error {
	return errors.New(fmt.Errorf("%s: %w", op, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("backend", "dynamodb").
		Build()
}

// SavePrediction writes one session item.
func (store *DynamoDBStore) SavePrediction(p *Prediction) error {
	stampPrediction(p)

	item, err := attributevalue.MarshalMap(sessionItem{
		UID:            p.UID,
		Timestamp:      p.Timestamp.UTC().Format(time.RFC3339Nano),
		OriginalImage:  p.OriginalImage,
		PredictedImage: p.PredictedImage,
	})
	if err != nil {
		return fmt.Errorf("marshaling session item: %w", err)
	}

	_, err = store.client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(store.Settings.Output.DynamoDB.SessionsTable),
		Item:      item,
	})
	if err != nil {
		return store.dbError(err, "saving prediction "+p.UID)
	}
	return nil
}

// SaveDetection writes one detection item.
func (store *DynamoDBStore) SaveDetection(d *Detection) error {
	if err := stampDetection(d); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(detectionItem{
		ID:            d.ID,
		PredictionUID: d.PredictionUID,
		Label:         d.Label,
		Score:         d.Score,
		Box:           d.Box,
	})
	if err != nil {
		return fmt.Errorf("marshaling detection item: %w", err)
	}

	_, err = store.client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(store.Settings.Output.DynamoDB.DetectionsTable),
		Item:      item,
	})
	if err != nil {
		return store.dbError(err, "saving detection for prediction "+d.PredictionUID)
	}
	return nil
}

// GetPrediction reads the session item, then collects its detections with
// one query against the prediction_uid secondary index.
func (store *DynamoDBStore) GetPrediction(uid string) (*Prediction, error) {
	ctx := context.Background()
	settings := store.Settings.Output.DynamoDB

	out, err := store.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(settings.SessionsTable),
		Key: map[string]types.AttributeValue{
			"uid": &types.AttributeValueMemberS{Value: uid},
		},
	})
	if err != nil {
		return nil, store.dbError(err, "getting prediction "+uid)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var session sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session item: %w", err)
	}

	timestamp, err := time.Parse(time.RFC3339Nano, session.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("parsing session timestamp %q: %w", session.Timestamp, err)
	}

	p := &Prediction{
		UID:            session.UID,
		Timestamp:      timestamp,
		OriginalImage:  session.OriginalImage,
		PredictedImage: session.PredictedImage,
		Detections:     []Detection{},
	}

	items, err := store.queryDetections(ctx, predictionUIDIndex, "prediction_uid = :v",
		map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: uid},
		})
	if err != nil {
		return nil, store.dbError(err, "querying detections for prediction "+uid)
	}

	for i := range items {
		p.Detections = append(p.Detections, Detection{
			ID:            items[i].ID,
			PredictionUID: items[i].PredictionUID,
			Label:         items[i].Label,
			Score:         items[i].Score,
			Box:           items[i].Box,
		})
	}
	return p, nil
}

// GetPredictionsByLabel queries the label secondary index and collapses the
// matches to a set of uids. The index does not project the session
// timestamp, so the summaries carry a zero timestamp; no secondary lookup
// against the sessions table is performed.
func (store *DynamoDBStore) GetPredictionsByLabel(label string) ([]PredictionSummary, error) {
	items, err := store.queryDetections(context.Background(), labelIndex, "label = :v",
		map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: label},
		})
	if err != nil {
		return nil, store.dbError(err, "querying detections by label "+label)
	}

	uids := make(map[string]struct{}, len(items))
	for i := range items {
		uids[items[i].PredictionUID] = struct{}{}
	}
	return summariesFromUIDs(uids), nil
}

// GetPredictionsByScore scans the full detections table and filters client
// side. Like the label query, the result carries no timestamps.
func (store *DynamoDBStore) GetPredictionsByScore(minScore float64) ([]PredictionSummary, error) {
	ctx := context.Background()
	settings := store.Settings.Output.DynamoDB

	uids := make(map[string]struct{})
	var startKey map[string]types.AttributeValue
	for {
		out, err := store.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(settings.DetectionsTable),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, store.dbError(err, "scanning detections by score")
		}

		var items []detectionItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshaling detection items: %w", err)
		}
		for i := range items {
			if items[i].Score >= minScore {
				uids[items[i].PredictionUID] = struct{}{}
			}
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return summariesFromUIDs(uids), nil
}

// queryDetections runs a paged query against a secondary index of the
// detections table.
func (store *DynamoDBStore) queryDetections(ctx context.Context, index, keyCondition string, values map[string]types.AttributeValue) ([]detectionItem, error) {
	var results []detectionItem
	var startKey map[string]types.AttributeValue
	for {
		out, err := store.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(store.Settings.Output.DynamoDB.DetectionsTable),
			IndexName:                 aws.String(index),
			KeyConditionExpression:    aws.String(keyCondition),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, err
		}

		var items []detectionItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshaling detection items: %w", err)
		}
		results = append(results, items...)

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return results, nil
}

// summariesFromUIDs converts a uid set to a deterministic summary list.
func summariesFromUIDs(uids map[string]struct{}) []PredictionSummary {
	summaries := make([]PredictionSummary, 0, len(uids))
	for uid := range uids {
		summaries = append(summaries, PredictionSummary{UID: uid})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].UID < summaries[j].UID })
	return summaries
}
