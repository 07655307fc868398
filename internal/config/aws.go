package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// LoadSDKConfig loads the shared AWS SDK configuration for the configured
// region. EndpointURL, when set, redirects every client (LocalStack).
func (c AWSConfig) LoadSDKConfig(ctx context.Context) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config (region=%s): %w", c.Region, err)
	}
	if c.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(c.EndpointURL)
	}
	return awsCfg, nil
}
