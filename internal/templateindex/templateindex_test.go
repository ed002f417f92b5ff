package templateindex

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	weaviategrpc "github.com/weaviate/weaviate/grpc/generated/protocol/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/weaviate/pose-descriptors/internal/pose"
)

func decodeVector(buf []byte) []float64 {
	out := make([]float64, len(buf)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
	}
	return out
}

// fakeWeaviate stores batch objects and answers searches by brute force.
type fakeWeaviate struct {
	weaviategrpc.UnimplementedWeaviateServer

	mu      sync.Mutex
	objects map[string][]float64
	auth    []string
}

func (f *fakeWeaviate) BatchObjects(ctx context.Context, req *weaviategrpc.BatchObjectsRequest) (*weaviategrpc.BatchObjectsReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		f.auth = append(f.auth, md.Get("authorization")...)
	}

	reply := &weaviategrpc.BatchObjectsReply{}
	for i, obj := range req.GetObjects() {
		if obj.GetProperties().GetNonRefProperties().GetFields()[propImage].GetStringValue() == "reject.png" {
			reply.Errors = append(reply.Errors, &weaviategrpc.BatchObjectsReply_BatchError{Index: int32(i), Error: "rejected"})
			continue
		}
		f.objects[obj.GetUuid()] = decodeVector(obj.GetVectorBytes())
	}
	return reply, nil
}

func (f *fakeWeaviate) Search(ctx context.Context, req *weaviategrpc.SearchRequest) (*weaviategrpc.SearchReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := decodeVector(req.GetNearVector().GetVectorBytes())
	type hit struct {
		id   string
		dist float64
	}
	var hits []hit
	for id, v := range f.objects {
		var d float64
		for i := range v {
			d += (v[i] - q[i]) * (v[i] - q[i])
		}
		hits = append(hits, hit{id, d})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].id < hits[j].id
	})

	reply := &weaviategrpc.SearchReply{}
	for i := 0; i < len(hits) && i < int(req.GetLimit()); i++ {
		reply.Results = append(reply.Results, &weaviategrpc.SearchResult{
			Metadata: &weaviategrpc.MetadataResult{Id: hits[i].id, Distance: float32(hits[i].dist)},
		})
	}
	return reply, nil
}

func startFake(t *testing.T) (*fakeWeaviate, Config) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	fake := &fakeWeaviate{objects: map[string][]float64{}}
	server := grpc.NewServer()
	weaviategrpc.RegisterWeaviateServer(server, fake)
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	cfg := Config{
		Origin:    "bufnet",
		ClassName: "Templates",
		HTTPAuth:  "secret",
		BatchSize: 2,
		Parallel:  2,
		dialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}
	return fake, cfg
}

func templates() []Template {
	var out []Template
	for class, name := range []string{"ape", "duck"} {
		for i := 0; i < 3; i++ {
			out = append(out, Template{
				Class:     class,
				ClassName: name,
				Index:     i,
				Image:     "0.png",
				Pose:      pose.Quaternion{1, 0, 0, 0},
				Embedding: []float64{float64(10*class + i), 0},
			})
		}
	}
	return out
}

func TestObjectID(t *testing.T) {
	id := ObjectID(3, 959797)
	assert.Equal(t, "00000000-0000-0003-0000-0000000ea535", id)

	class, index, err := ParseObjectID(id)
	require.Nil(t, err)
	assert.Equal(t, 3, class)
	assert.Equal(t, 959797, index)

	_, _, err = ParseObjectID("not-a-uuid")
	assert.NotNil(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Origin: "localhost:50051", ClassName: "Templates", BatchSize: 10, Parallel: 1}
	require.Nil(t, cfg.Validate())

	bad := cfg
	bad.ClassName = ""
	assert.NotNil(t, bad.Validate())

	bad = cfg
	bad.HTTPScheme = "ftp"
	assert.NotNil(t, bad.Validate())
}

func TestTemplateObject(t *testing.T) {
	obj, err := templateObject(templates()[4], "Templates")
	require.Nil(t, err)

	assert.Equal(t, ObjectID(1, 1), obj.GetUuid())
	assert.Equal(t, "Templates", obj.GetCollection())
	assert.Equal(t, []float64{11, 0}, decodeVector(obj.GetVectorBytes()))

	fields := obj.GetProperties().GetNonRefProperties().GetFields()
	assert.Equal(t, "duck", fields[propClassName].GetStringValue())
	assert.Equal(t, 1.0, fields[propTemplateIndex].GetNumberValue())
	assert.Len(t, fields[propPose].GetListValue().GetValues(), 4)
}

func TestTemplateClass(t *testing.T) {
	class := templateClass("Templates")
	assert.Equal(t, "Templates", class.Class)
	assert.Equal(t, "none", class.Vectorizer)
	assert.Len(t, class.Properties, 5)
}

func TestImportAndSearch(t *testing.T) {
	fake, cfg := startFake(t)
	ctx := context.Background()

	tmpl := templates()
	imported, err := Import(ctx, cfg, tmpl)
	require.Nil(t, err)
	assert.Equal(t, 6, imported)
	assert.Len(t, fake.objects, 6)
	assert.Contains(t, fake.auth, "Bearer secret")

	s, err := NewSearcher(ctx, cfg)
	require.Nil(t, err)
	defer s.Close()

	matches, err := s.Nearest(ctx, []float64{11.2, 0}, 2)
	require.Nil(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, Match{Class: 1, Index: 1, Distance: float32(0.2 * 0.2)}, roundDistance(matches[0]))
	assert.Equal(t, 1, matches[1].Class)
	assert.Equal(t, 2, matches[1].Index)
}

func roundDistance(m Match) Match {
	m.Distance = float32(math.Round(float64(m.Distance)*1e4) / 1e4)
	return m
}

func TestImportRejected(t *testing.T) {
	_, cfg := startFake(t)

	tmpl := templates()
	tmpl[2].Image = "reject.png"
	imported, err := Import(context.Background(), cfg, tmpl)
	require.Nil(t, err)
	assert.Equal(t, 5, imported)
}
