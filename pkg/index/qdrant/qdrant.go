// Package qdrant implements index.Index on top of a Qdrant collection.
// Point ids are chunk positions, so search hits map straight back to the
// local chunk list.
package qdrant

import (
	"context"
	"errors"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/perbu/ncertrag/pkg/index"
)

// ErrCollectionNotFound is returned by Open when the collection does not exist.
var ErrCollectionNotFound = errors.New("qdrant collection not found")

const upsertBatch = 256

// Index stores vectors as points in a single collection.
type Index struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	next        uint64
}

// Dial connects to Qdrant's gRPC endpoint.
func Dial(host string, port int, collection string) (*Index, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	x := newIndex(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	x.conn = conn
	return x, nil
}

func newIndex(points pb.PointsClient, collections pb.CollectionsClient, collection string) *Index {
	return &Index{points: points, collections: collections, collection: collection}
}

// Close closes the underlying connection.
func (x *Index) Close() error {
	if x.conn == nil {
		return nil
	}
	return x.conn.Close()
}

// Reset drops the collection if present and creates an empty one for
// vectors of the given dimension, scored by dot product.
func (x *Index) Reset(ctx context.Context, dim int) error {
	exists, err := x.exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if _, err := x.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: x.collection}); err != nil {
			return fmt.Errorf("qdrant: delete collection %s: %w", x.collection, err)
		}
	}
	_, err = x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Dot,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", x.collection, err)
	}
	x.next = 0
	return nil
}

// Open attaches to an existing collection for searching.
func (x *Index) Open(ctx context.Context) error {
	exists, err := x.exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, x.collection)
	}
	n, err := x.Size(ctx)
	if err != nil {
		return err
	}
	x.next = uint64(n)
	return nil
}

func (x *Index) exists(ctx context.Context) (bool, error) {
	list, err := x.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == x.collection {
			return true, nil
		}
	}
	return false, nil
}

// Add implements index.Index.
func (x *Index) Add(ctx context.Context, vectors [][]float32) error {
	wait := true
	for start := 0; start < len(vectors); start += upsertBatch {
		end := min(start+upsertBatch, len(vectors))
		points := make([]*pb.PointStruct, 0, end-start)
		for i, v := range vectors[start:end] {
			pos := x.next + uint64(start+i)
			points = append(points, &pb.PointStruct{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: pos}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: v}}},
				Payload: map[string]*pb.Value{
					"position": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(pos)}},
				},
			})
		}
		_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: x.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
		}
	}
	x.next += uint64(len(vectors))
	return nil
}

// Search implements index.Index.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]index.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	resp, err := x.points.Search(ctx, &pb.SearchPoints{
		CollectionName: x.collection,
		Vector:         query,
		Limit:          uint64(k),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	hits := make([]index.Hit, len(resp.GetResult()))
	for i, p := range resp.GetResult() {
		hits[i] = index.Hit{Position: int(p.GetId().GetNum()), Score: p.GetScore()}
	}
	return hits, nil
}

// Size implements index.Index.
func (x *Index) Size(ctx context.Context) (int, error) {
	exact := true
	resp, err := x.points.Count(ctx, &pb.CountPoints{
		CollectionName: x.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

var _ index.Index = (*Index)(nil)
