package templateindex

import (
	"context"
	"time"

	"github.com/pkg/errors"
	weaviategrpc "github.com/weaviate/weaviate/grpc/generated/protocol/v1"
)

// Match is one template returned by a nearest neighbor search.
type Match struct {
	Class    int
	Index    int
	Distance float32
}

func nearVectorRequest(cfg Config, vec []float64, limit int) *weaviategrpc.SearchRequest {
	return &weaviategrpc.SearchRequest{
		Collection: cfg.ClassName,
		Limit:      uint32(limit),
		NearVector: &weaviategrpc.NearVector{
			VectorBytes: encodeVector(vec),
		},
		Metadata: &weaviategrpc.MetadataRequest{
			Uuid:     true,
			Distance: true,
		},
	}
}

func matchesFromReply(reply *weaviategrpc.SearchReply) ([]Match, error) {
	out := make([]Match, 0, len(reply.GetResults()))
	for _, result := range reply.GetResults() {
		class, index, err := ParseObjectID(result.GetMetadata().GetId())
		if err != nil {
			return nil, err
		}
		out = append(out, Match{Class: class, Index: index, Distance: result.GetMetadata().GetDistance()})
	}
	return out, nil
}

// Searcher runs nearVector queries over one connection.
type Searcher struct {
	cfg    Config
	client weaviategrpc.WeaviateClient
	close  func() error
}

// NewSearcher connects to the instance in cfg.
func NewSearcher(ctx context.Context, cfg Config) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Searcher{cfg: cfg, client: weaviategrpc.NewWeaviateClient(conn), close: conn.Close}, nil
}

func (s *Searcher) Close() error {
	return s.close()
}

// Nearest returns up to limit templates closest to vec.
func (s *Searcher) Nearest(ctx context.Context, vec []float64, limit int) ([]Match, error) {
	ctx, cancel := context.WithTimeout(withAuth(ctx, s.cfg), 30*time.Second)
	defer cancel()

	reply, err := s.client.Search(ctx, nearVectorRequest(s.cfg, vec, limit))
	if err != nil {
		return nil, errors.Wrap(err, "could not search with grpc")
	}
	return matchesFromReply(reply)
}
