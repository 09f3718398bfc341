package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/truly-network/eventlistener/pkg/config"
	"github.com/truly-network/eventlistener/pkg/utils"
)

// NewClient builds the DynamoDB client shared by every write. The SDK retryer is
// replaced with a no-op so each operation issues exactly one request.
// A configured endpoint (LocalStack, dynamodb-local) gets static dummy
// credentials unless real ones are present in the environment.
func NewClient(ctx context.Context, logger *zap.Logger, cfg config.AWS) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" && utils.Env("AWS_ACCESS_KEY_ID", "") == "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("DynamoDB client ready",
		zap.String("region", awsCfg.Region),
		zap.String("endpoint", cfg.Endpoint))

	return client, nil
}
