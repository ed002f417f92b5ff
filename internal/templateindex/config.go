// Package templateindex publishes template descriptors to a Weaviate
// collection and answers nearest template queries against it.
package templateindex

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

// Config addresses a Weaviate instance and collection.
type Config struct {
	// Origin is the gRPC host:port.
	Origin string
	// HTTPOrigin is the REST host:port used for schema changes.
	HTTPOrigin string
	HTTPScheme string
	ClassName  string
	// HTTPAuth is a bearer token sent with every request when set.
	HTTPAuth  string
	BatchSize int
	Parallel  int

	dialOptions []grpc.DialOption
}

func (c Config) Validate() error {
	if c.Origin == "" {
		return errors.Errorf("gRPC origin must be set")
	}
	if c.ClassName == "" {
		return errors.Errorf("class name must be set")
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Parallel <= 0 {
		return errors.Errorf("parallel must be positive, got %d", c.Parallel)
	}
	if c.HTTPScheme != "" && c.HTTPScheme != "http" && c.HTTPScheme != "https" {
		return errors.Errorf("unsupported scheme %q", c.HTTPScheme)
	}
	return nil
}
