package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEC2 struct {
	pages  []*ec2.DescribeInstancesOutput
	inputs []*ec2.DescribeInstancesInput
	err    error
}

func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	page := f.pages[len(f.inputs)-1]
	return page, nil
}

func instance(id, publicIP, privateIP string, tags map[string]string) ec2types.Instance {
	inst := ec2types.Instance{InstanceId: aws.String(id)}
	if publicIP != "" {
		inst.PublicIpAddress = aws.String(publicIP)
	}
	if privateIP != "" {
		inst.PrivateIpAddress = aws.String(privateIP)
	}
	for k, v := range tags {
		inst.Tags = append(inst.Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return inst
}

func TestEC2Discovery_Discover(t *testing.T) {
	client := &fakeEC2{pages: []*ec2.DescribeInstancesOutput{
		{
			Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{
				instance("i-0002", "", "10.0.0.2", map[string]string{"launchpad:group": "shop", "role": "web"}),
				instance("i-0001", "54.1.2.3", "10.0.0.1", map[string]string{
					"launchpad:group": "shop", "Name": "web-a", "aws:cloudformation:stack-name": "x",
				}),
			}}},
			NextToken: aws.String("page-2"),
		},
		{
			Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{
				instance("i-0003", "", "", nil),
			}}},
		},
	}}

	d, err := NewEC2DiscoveryWithClient(client, EC2DiscoveryConfig{Group: "shop", User: "ubuntu", AuthRef: "agent:"})
	require.NoError(t, err)

	targets, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, "i-0002", targets[0].ID)
	assert.Equal(t, "10.0.0.2:22", targets[0].Address)
	assert.Equal(t, "web", targets[0].Labels["role"])

	assert.Equal(t, "web-a", targets[1].ID)
	assert.Equal(t, "54.1.2.3:22", targets[1].Address)
	assert.Equal(t, "i-0001", targets[1].Labels["instance-id"])
	assert.NotContains(t, targets[1].Labels, "aws:cloudformation:stack-name")
	assert.Equal(t, "ubuntu", targets[1].User)
	assert.Equal(t, "/opt/app", targets[1].AppDir)

	require.Len(t, client.inputs, 2)
	filters := client.inputs[0].Filters
	require.Len(t, filters, 2)
	assert.Equal(t, "tag:launchpad:group", aws.ToString(filters[0].Name))
	assert.Equal(t, []string{"shop"}, filters[0].Values)
	assert.Equal(t, []string{"running"}, filters[1].Values)
	assert.Equal(t, "page-2", aws.ToString(client.inputs[1].NextToken))
}

func TestEC2Discovery_RequiresGroup(t *testing.T) {
	_, err := NewEC2DiscoveryWithClient(&fakeEC2{}, EC2DiscoveryConfig{})
	require.Error(t, err)
}

func TestEC2Discovery_APIError(t *testing.T) {
	d, err := NewEC2DiscoveryWithClient(&fakeEC2{err: errors.New("throttled")}, EC2DiscoveryConfig{Group: "shop"})
	require.NoError(t, err)

	_, err = d.Discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
