// Package qdrantsink is an OutputPlugin storing objects as Qdrant points
// with an opaque JSON payload, grounded on the teacher's
// engine/semantic.VectorStore. CDL uses Qdrant here purely as a
// document-capable store (no embedding is computed by the sink itself —
// the payload's JSON is stored verbatim as a point payload field), so
// every point is upserted with a one-element zero placeholder vector.
package qdrantsink

import (
	"context"
	"encoding/json"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/commondatalayer/cdl/internal/cdl"
)

// Sink writes BorrowedInsertMessages as Qdrant points keyed by object_id,
// guarding against out-of-order redelivery by reading the point's stored
// timestamp before overwriting it — Qdrant's upsert has no native
// compare-and-swap, so the guard is a read-then-conditionally-write.
type Sink struct {
	points     pb.PointsClient
	collection string
}

// New creates a Sink against an established Qdrant gRPC connection.
func New(points pb.PointsClient, collection string) *Sink {
	return &Sink{points: points, collection: collection}
}

func (s *Sink) Name() string { return "qdrantsink:" + s.collection }

func (s *Sink) Handle(ctx context.Context, msg cdl.BorrowedInsertMessage) cdl.Resolution {
	var probe any
	if err := json.Unmarshal(msg.Data, &probe); err != nil {
		return cdl.UserFailure{
			Description: fmt.Sprintf("qdrantsink: payload is not valid JSON: %v", err),
			ObjectID:    msg.ObjectID,
			Context:     s.Name(),
		}
	}

	pointID := &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: msg.ObjectID.String()}}

	existing, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{pointID},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return cdl.StorageLayerFailure{
			Description: fmt.Sprintf("qdrantsink: get existing point: %v", err),
			ObjectID:    msg.ObjectID,
		}
	}

	if len(existing.GetResult()) > 0 {
		storedTs := existing.GetResult()[0].GetPayload()["timestamp"].GetIntegerValue()
		if msg.Timestamp < storedTs {
			// Older redelivery: the point already reflects a newer write.
			return cdl.Success{}
		}
	}

	payload := map[string]*pb.Value{
		"data":      {Kind: &pb.Value_StringValue{StringValue: string(msg.Data)}},
		"schema_id": {Kind: &pb.Value_StringValue{StringValue: msg.SchemaID.String()}},
		"timestamp": {Kind: &pb.Value_IntegerValue{IntegerValue: msg.Timestamp}},
	}

	wait := true
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      pointID,
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: []float32{0}}}},
			Payload: payload,
		}},
	})
	if err != nil {
		return cdl.StorageLayerFailure{
			Description: fmt.Sprintf("qdrantsink: upsert failed: %v", err),
			ObjectID:    msg.ObjectID,
		}
	}

	return cdl.Success{}
}
