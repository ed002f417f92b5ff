package templateindex

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// Template property names.
const (
	propClassName     = "className"
	propClassIndex    = "classIndex"
	propTemplateIndex = "templateIndex"
	propImage         = "image"
	propPose          = "pose"
)

func createClient(cfg Config) (*weaviate.Client, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 5
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.Logger = nil

	host := cfg.HTTPOrigin
	if host == "" {
		host = strings.Replace(cfg.Origin, "50051", "8080", 1)
	}
	scheme := cfg.HTTPScheme
	if scheme == "" {
		scheme = "http"
	}

	wcfg := weaviate.Config{
		Host:             host,
		Scheme:           scheme,
		ConnectionClient: retryClient.StandardClient(),
	}
	if cfg.HTTPAuth != "" {
		wcfg.Headers = map[string]string{"Authorization": fmt.Sprintf("Bearer %s", cfg.HTTPAuth)}
	}

	return weaviate.NewClient(wcfg)
}

// templateClass is the collection definition for template descriptors.
// Vectors are provided by the caller and compared with squared Euclidean
// distance, the metric the descriptors are trained for.
func templateClass(className string) *models.Class {
	return &models.Class{
		Class:       className,
		Description: fmt.Sprintf("Pose descriptor templates, created at %s", time.Now().Format(time.RFC3339)),
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "l2-squared",
		},
		Properties: []*models.Property{
			{Name: propClassName, DataType: []string{"text"}},
			{Name: propClassIndex, DataType: []string{"int"}},
			{Name: propTemplateIndex, DataType: []string{"int"}},
			{Name: propImage, DataType: []string{"text"}},
			{Name: propPose, DataType: []string{"number[]"}},
		},
	}
}

// CreateSchema re-creates the template collection, dropping any existing
// collection of the same name.
func CreateSchema(ctx context.Context, cfg Config) error {
	client, err := createClient(cfg)
	if err != nil {
		return errors.Wrap(err, "create weaviate client")
	}

	exists, err := client.Schema().ClassExistenceChecker().WithClassName(cfg.ClassName).Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "check class %s", cfg.ClassName)
	}
	if exists {
		if err := client.Schema().ClassDeleter().WithClassName(cfg.ClassName).Do(ctx); err != nil {
			return errors.Wrapf(err, "delete class %s", cfg.ClassName)
		}
		log.WithField("class", cfg.ClassName).Info("Deleted existing class")
	}

	if err := client.Schema().ClassCreator().WithClass(templateClass(cfg.ClassName)).Do(ctx); err != nil {
		return errors.Wrapf(err, "create class %s", cfg.ClassName)
	}
	log.WithField("class", cfg.ClassName).Info("Created class")
	return nil
}
