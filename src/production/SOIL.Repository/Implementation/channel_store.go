package implementation

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	soilmodels "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Models"
)

const (
	pointOpTimeout = 3 * time.Second
	listOpTimeout  = 10 * time.Second
)

// MongoChannelStore implements the channel-scoped document store on
// MongoDB. The path-addressed layout maps onto two collections: one
// meta document per channel and one data document per (channel, id).
type MongoChannelStore struct {
	data *mongo.Collection
	meta *mongo.Collection
}

func NewMongoChannelStore(data, meta *mongo.Collection) *MongoChannelStore {
	return &MongoChannelStore{data: data, meta: meta}
}

func (s *MongoChannelStore) LastDataID(ctx context.Context, channel string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, pointOpTimeout)
	defer cancel()

	var doc struct {
		LastDataID int64 `bson:"last_data_id"`
	}
	opts := options.FindOne().SetProjection(bson.M{"last_data_id": 1})
	err := s.meta.FindOne(ctx, bson.M{"channel": channel}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s/meta/last_data_id: %w", channel, err)
	}
	return doc.LastDataID, nil
}

func (s *MongoChannelStore) SetLastDataID(ctx context.Context, channel string, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, pointOpTimeout)
	defer cancel()

	_, err := s.meta.UpdateOne(ctx,
		bson.M{"channel": channel},
		bson.M{"$set": bson.M{"last_data_id": id}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("write %s/meta/last_data_id: %w", channel, err)
	}
	return nil
}

func (s *MongoChannelStore) SetPublishedAt(ctx context.Context, channel string, t time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, pointOpTimeout)
	defer cancel()

	_, err := s.meta.UpdateOne(ctx,
		bson.M{"channel": channel},
		bson.M{"$set": bson.M{"published_at": t.UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("write %s/meta/published_at: %w", channel, err)
	}
	return nil
}

// EnsureMeta writes the static descriptive fields of the channel meta
// document and initializes the data pointer to 0 only when the document
// does not exist yet. Pointer fields of an existing document are never
// touched here.
func (s *MongoChannelStore) EnsureMeta(ctx context.Context, meta soilmodels.ChannelMeta) error {
	ctx, cancel := context.WithTimeout(ctx, pointOpTimeout)
	defer cancel()

	_, err := s.meta.UpdateOne(ctx,
		bson.M{"channel": meta.Channel},
		bson.M{
			"$set": bson.M{
				"name":         meta.Name,
				"description":  meta.Description,
				"timezone":     meta.Timezone,
				"measurements": meta.Measurements,
			},
			"$setOnInsert": bson.M{"last_data_id": int64(0)},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("ensure %s/meta: %w", meta.Channel, err)
	}
	return nil
}

func (s *MongoChannelStore) Meta(ctx context.Context, channel string) (*soilmodels.ChannelMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, pointOpTimeout)
	defer cancel()

	var meta soilmodels.ChannelMeta
	err := s.meta.FindOne(ctx, bson.M{"channel": channel}).Decode(&meta)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/meta: %w", channel, err)
	}
	return &meta, nil
}

func (s *MongoChannelStore) PutReading(ctx context.Context, channel string, reading soilmodels.Reading) error {
	ctx, cancel := context.WithTimeout(ctx, pointOpTimeout)
	defer cancel()

	doc := readingDoc{Channel: channel, Reading: reading}
	if _, err := s.data.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("write %s/data/%d: %w", channel, reading.ID, err)
	}
	return nil
}

func (s *MongoChannelStore) Reading(ctx context.Context, channel string, id int64) (*soilmodels.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, pointOpTimeout)
	defer cancel()

	var doc readingDoc
	err := s.data.FindOne(ctx, bson.M{"channel": channel, "id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/data/%d: %w", channel, id, err)
	}
	return &doc.Reading, nil
}

// RecentReadings returns up to limit readings, newest first.
func (s *MongoChannelStore) RecentReadings(ctx context.Context, channel string, limit int) ([]soilmodels.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, listOpTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.M{"id": -1}).SetLimit(int64(limit))
	cursor, err := s.data.Find(ctx, bson.M{"channel": channel}, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s/data: %w", channel, err)
	}
	defer cursor.Close(ctx)

	var readings []soilmodels.Reading
	for cursor.Next(ctx) {
		var doc readingDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s/data: %w", channel, err)
		}
		readings = append(readings, doc.Reading)
	}
	return readings, cursor.Err()
}

// readingDoc is the stored shape of a reading: the channel key plus the
// inlined reading fields.
type readingDoc struct {
	Channel string             `bson:"channel"`
	Reading soilmodels.Reading `bson:",inline"`
}
