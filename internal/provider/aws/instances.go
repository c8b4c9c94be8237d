package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/amikeeper/pkg/backup"
)

// ListInstances returns instances matching the tag and state filter.
func (p *Provider) ListInstances(ctx context.Context, q backup.TagQuery) ([]backup.Instance, error) {
	filters := []ec2types.Filter{tagFilter(q.Key, q.Values)}
	if len(q.States) > 0 {
		filters = append(filters, ec2types.Filter{
			Name:   aws.String("instance-state-name"),
			Values: q.States,
		})
	}

	var instances []backup.Instance
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			Filters:   filters,
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				instances = append(instances, convertInstance(instance))
			}
		}

		if aws.ToString(output.NextToken) == "" {
			break
		}
		nextToken = output.NextToken
	}

	return instances, nil
}

func convertInstance(instance ec2types.Instance) backup.Instance {
	state := ""
	if instance.State != nil {
		state = string(instance.State.Name)
	}
	return backup.Instance{
		ID:    aws.ToString(instance.InstanceId),
		State: state,
		Tags:  tagsToMap(instance.Tags),
	}
}
