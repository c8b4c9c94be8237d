// Package aws implements the image lifecycle provider on top of EC2.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Provider talks to EC2 in a single region.
type Provider struct {
	region    string
	ec2Client EC2API
}

// Config holds AWS provider configuration.
type Config struct {
	Region  string
	Profile string
}

// LoadConfig resolves credentials and region the standard SDK way.
func LoadConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// New creates a provider from a loaded SDK config.
func New(awsCfg aws.Config) *Provider {
	return &Provider{
		region:    awsCfg.Region,
		ec2Client: ec2.NewFromConfig(awsCfg),
	}
}

// NewWithClient creates a provider around an existing EC2 client.
func NewWithClient(region string, client EC2API) *Provider {
	return &Provider{region: region, ec2Client: client}
}

// Region returns the region the provider operates in.
func (p *Provider) Region() string {
	return p.region
}

func tagsToMap(tags []ec2types.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return m
}

func tagFilter(key string, values []string) ec2types.Filter {
	return ec2types.Filter{
		Name:   aws.String("tag:" + key),
		Values: values,
	}
}
