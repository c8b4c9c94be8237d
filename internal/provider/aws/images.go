package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/amikeeper/pkg/backup"
)

// ErrNoImageID is returned when CreateImage succeeds without an image ID.
var ErrNoImageID = errors.New("create image returned no image id")

// ListImages returns images owned by the account whose tag matches q.
func (p *Provider) ListImages(ctx context.Context, q backup.TagQuery) ([]backup.Image, error) {
	var images []backup.Image
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeImages(ctx, &ec2.DescribeImagesInput{
			Owners:    []string{"self"},
			Filters:   []ec2types.Filter{tagFilter(q.Key, q.Values)},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe images: %w", err)
		}

		for _, image := range output.Images {
			images = append(images, convertImage(image))
		}

		if aws.ToString(output.NextToken) == "" {
			break
		}
		nextToken = output.NextToken
	}

	return images, nil
}

// CreateImage snapshots an instance into a new image and returns its ID.
func (p *Provider) CreateImage(ctx context.Context, spec backup.ImageSpec) (string, error) {
	output, err := p.ec2Client.CreateImage(ctx, &ec2.CreateImageInput{
		InstanceId:  aws.String(spec.InstanceID),
		Name:        aws.String(spec.Name),
		Description: aws.String(spec.Description),
		NoReboot:    aws.Bool(spec.NoReboot),
	})
	if err != nil {
		return "", fmt.Errorf("create image from %s: %w", spec.InstanceID, err)
	}

	imageID := aws.ToString(output.ImageId)
	if imageID == "" {
		return "", fmt.Errorf("%w: instance %s", ErrNoImageID, spec.InstanceID)
	}
	return imageID, nil
}

// TagImage applies all tags to an image in a single request.
func (p *Provider) TagImage(ctx context.Context, imageID string, tags map[string]string) error {
	ec2Tags := make([]ec2types.Tag, 0, len(tags))
	for _, k := range backup.SortedKeys(tags) {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}

	_, err := p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{imageID},
		Tags:      ec2Tags,
	})
	if err != nil {
		return fmt.Errorf("tag image %s: %w", imageID, err)
	}
	return nil
}

// DeregisterImage deregisters an image. Its snapshots are left in place.
func (p *Provider) DeregisterImage(ctx context.Context, imageID string) error {
	_, err := p.ec2Client.DeregisterImage(ctx, &ec2.DeregisterImageInput{
		ImageId: aws.String(imageID),
	})
	if err != nil {
		return fmt.Errorf("deregister image %s: %w", imageID, err)
	}
	return nil
}

// DeleteSnapshot deletes an EBS snapshot.
func (p *Provider) DeleteSnapshot(ctx context.Context, snapshotID string) error {
	_, err := p.ec2Client.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{
		SnapshotId: aws.String(snapshotID),
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", snapshotID, err)
	}
	return nil
}

func convertImage(image ec2types.Image) backup.Image {
	img := backup.Image{
		ID:          aws.ToString(image.ImageId),
		Name:        aws.ToString(image.Name),
		Description: aws.ToString(image.Description),
		State:       string(image.State),
		Tags:        tagsToMap(image.Tags),
	}

	if created := aws.ToString(image.CreationDate); created != "" {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			img.CreatedAt = t
		}
	}

	for _, bdm := range image.BlockDeviceMappings {
		bd := backup.BlockDevice{DeviceName: aws.ToString(bdm.DeviceName)}
		if bdm.Ebs != nil {
			bd.SnapshotID = aws.ToString(bdm.Ebs.SnapshotId)
		}
		img.BlockDevices = append(img.BlockDevices, bd)
	}

	return img
}
