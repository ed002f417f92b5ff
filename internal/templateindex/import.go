package templateindex

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	weaviategrpc "github.com/weaviate/weaviate/grpc/generated/protocol/v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/weaviate/pose-descriptors/internal/pose"
)

// Template is one template view with its descriptor.
type Template struct {
	Class     int
	ClassName string
	Index     int
	Image     string
	Pose      pose.Quaternion
	Embedding []float64
}

// chunk is a slice of templates written in one batch request.
type chunk struct {
	templates []Template
	offset    int
}

func templateObject(t Template, className string) (*weaviategrpc.BatchObject, error) {
	props, err := structpb.NewStruct(map[string]interface{}{
		propClassName:     t.ClassName,
		propClassIndex:    t.Class,
		propTemplateIndex: t.Index,
		propImage:         t.Image,
		propPose:          []interface{}{t.Pose[0], t.Pose[1], t.Pose[2], t.Pose[3]},
	})
	if err != nil {
		return nil, err
	}

	return &weaviategrpc.BatchObject{
		Uuid:        ObjectID(t.Class, t.Index),
		VectorBytes: encodeVector(t.Embedding),
		Collection:  className,
		Properties: &weaviategrpc.BatchObject_Properties{
			NonRefProperties: props,
		},
	}, nil
}

// writeChunk sends one batch and returns the number of objects Weaviate
// rejected.
func writeChunk(ctx context.Context, client weaviategrpc.WeaviateClient, c chunk, cfg Config) (int, error) {
	objects := make([]*weaviategrpc.BatchObject, len(c.templates))
	for i, t := range c.templates {
		obj, err := templateObject(t, cfg.ClassName)
		if err != nil {
			return 0, errors.Wrapf(err, "template %d", c.offset+i)
		}
		objects[i] = obj
	}

	ctx, cancel := context.WithTimeout(withAuth(ctx, cfg), time.Second*30)
	defer cancel()

	response, err := client.BatchObjects(ctx, &weaviategrpc.BatchObjectsRequest{Objects: objects})
	if err != nil {
		return 0, errors.Wrap(err, "could not send batch")
	}

	for _, e := range response.GetErrors() {
		log.WithFields(log.Fields{
			"template": c.offset + int(e.GetIndex()),
			"error":    e.GetError(),
		}).Warn("template rejected")
	}
	return len(response.GetErrors()), nil
}

// Import writes every template to the collection on cfg.Parallel workers
// and returns the number of templates Weaviate accepted.
func Import(ctx context.Context, cfg Config, templates []Template) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	conn, err := dial(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	client := weaviategrpc.NewWeaviateClient(conn)

	chunks := make(chan chunk, cfg.Parallel)
	go func() {
		defer close(chunks)
		for i := 0; i < len(templates); i += cfg.BatchSize {
			end := i + cfg.BatchSize
			if end > len(templates) {
				end = len(templates)
			}
			select {
			case chunks <- chunk{templates: templates[i:end], offset: i}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rejected int
		firstErr error
	)
	for i := 0; i < cfg.Parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range chunks {
				n, err := writeChunk(ctx, client, c, cfg)
				mu.Lock()
				rejected += n
				if err != nil && firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return 0, firstErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	imported := len(templates) - rejected
	log.WithFields(log.Fields{
		"class":    cfg.ClassName,
		"imported": imported,
		"rejected": rejected,
	}).Info("Imported templates")
	return imported, nil
}
