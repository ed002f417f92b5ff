package templateindex

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

func dial(ctx context.Context, cfg Config) (*grpc.ClientConn, error) {
	transport := grpc.WithTransportCredentials(insecure.NewCredentials())
	if cfg.HTTPScheme == "https" {
		creds := credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: true,
		})
		transport = grpc.WithTransportCredentials(creds)
	}

	opts := []retry.CallOption{
		retry.WithBackoff(retry.BackoffExponential(100 * time.Millisecond)),
		retry.WithMax(5),
	}

	dialOpts := append([]grpc.DialOption{
		transport,
		grpc.WithUnaryInterceptor(retry.UnaryClientInterceptor(opts...)),
	}, cfg.dialOptions...)

	dialCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(dialCtx, cfg.Origin, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", cfg.Origin)
	}
	return conn, nil
}

func withAuth(ctx context.Context, cfg Config) context.Context {
	if cfg.HTTPAuth == "" {
		return ctx
	}
	md := metadata.Pairs(
		"Authorization", fmt.Sprintf("Bearer %s", cfg.HTTPAuth),
	)
	return metadata.NewOutgoingContext(ctx, md)
}

func encodeVector(fs []float64) []byte {
	buf := make([]byte, len(fs)*4)
	for i, f := range fs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(f)))
	}
	return buf
}
