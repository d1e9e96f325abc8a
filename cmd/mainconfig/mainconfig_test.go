package mainconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/kine-assistant/internal/config"
)

func TestEndpointOverrideScope(t *testing.T) {
	resolver := endpointOverride("http://localhost:4566", "eu-west-3")

	for _, service := range []string{s3.ServiceID, sesv2.ServiceID} {
		ep, err := resolver.ResolveEndpoint(service, "eu-west-3")
		require.NoError(t, err, service)
		assert.Equal(t, "http://localhost:4566", ep.URL)
		assert.True(t, ep.HostnameImmutable)
	}

	_, err := resolver.ResolveEndpoint(bedrockruntime.ServiceID, "eu-west-3")
	var notFound *aws.EndpointNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestLoadAWSConfigStaticCredentials(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	awsCfg, err := LoadAWSConfig(context.Background(), &appconfig.Config{
		AWSRegion:           "eu-west-3",
		AWSAccessKeyID:      "AKIDEXAMPLE",
		AWSSecretAccessKey:  "secret",
		AWSEndpointOverride: "http://localhost:4566",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-3", awsCfg.Region)
	assert.NotNil(t, awsCfg.EndpointResolverWithOptions)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", creds.AccessKeyID)
}
