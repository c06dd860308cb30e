package registry

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/lattiam/launchpad/internal/awsutil"
	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

// EC2API is the subset of the EC2 client used for discovery
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// EC2DiscoveryConfig selects which instances become targets
type EC2DiscoveryConfig struct {
	TagKey  string
	Group   string
	User    string
	AuthRef string
	AppDir  string
}

// EC2Discovery turns running, tagged EC2 instances into targets
type EC2Discovery struct {
	client EC2API
	config EC2DiscoveryConfig
	logger *logging.Logger
}

// NewEC2Discovery creates a discovery backed by the real EC2 API
func NewEC2Discovery(ctx context.Context, settings awsutil.Settings, cfg EC2DiscoveryConfig) (*EC2Discovery, error) {
	awsCfg, err := awsutil.LoadConfig(ctx, settings)
	if err != nil {
		return nil, err
	}
	client := ec2.NewFromConfig(awsCfg, func(o *ec2.Options) {
		o.BaseEndpoint = awsutil.Endpoint(settings.Endpoint)
	})
	return NewEC2DiscoveryWithClient(client, cfg)
}

// NewEC2DiscoveryWithClient creates a discovery using the given client
func NewEC2DiscoveryWithClient(client EC2API, cfg EC2DiscoveryConfig) (*EC2Discovery, error) {
	if cfg.Group == "" {
		return nil, fmt.Errorf("EC2 discovery group is required")
	}
	if cfg.TagKey == "" {
		cfg.TagKey = "launchpad:group"
	}
	if cfg.AppDir == "" {
		cfg.AppDir = "/opt/app"
	}
	return &EC2Discovery{client: client, config: cfg, logger: logging.Registry}, nil
}

// Discover lists running instances tagged TagKey=Group
func (d *EC2Discovery) Discover(ctx context.Context) ([]interfaces.Target, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + d.config.TagKey), Values: []string{d.config.Group}},
			{Name: aws.String("instance-state-name"), Values: []string{"running"}},
		},
	}

	var targets []interfaces.Target
	paginator := ec2.NewDescribeInstancesPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				target, ok := d.toTarget(instance)
				if !ok {
					d.logger.Warn("Skipping instance %s without a reachable address", aws.ToString(instance.InstanceId))
					continue
				}
				targets = append(targets, target)
			}
		}
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	d.logger.Info("Discovered %d EC2 targets in group %s", len(targets), d.config.Group)
	return targets, nil
}

func (d *EC2Discovery) toTarget(instance ec2types.Instance) (interfaces.Target, bool) {
	host := aws.ToString(instance.PublicIpAddress)
	if host == "" {
		host = aws.ToString(instance.PrivateIpAddress)
	}
	if host == "" {
		return interfaces.Target{}, false
	}

	instanceID := aws.ToString(instance.InstanceId)
	labels := map[string]string{"instance-id": instanceID}
	id := instanceID
	for _, tag := range instance.Tags {
		key, value := aws.ToString(tag.Key), aws.ToString(tag.Value)
		switch {
		case strings.HasPrefix(key, "aws:"):
			continue
		case key == "Name" && value != "":
			id = value
		}
		labels[key] = value
	}

	return interfaces.Target{
		ID:      id,
		Address: net.JoinHostPort(host, "22"),
		User:    d.config.User,
		AuthRef: d.config.AuthRef,
		AppDir:  d.config.AppDir,
		Labels:  labels,
	}, true
}
