package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/vetsync/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "clinic-prod"}

	assert.Equal(t, "projects/clinic-prod/topics/applied", c.topicResourceName("applied"))
	assert.Equal(t, "projects/other/topics/x", c.topicResourceName("projects/other/topics/x"))
	assert.Empty(t, c.topicResourceName("  "))

	var nilClient *Client
	assert.Empty(t, nilClient.topicResourceName("applied"))
	assert.Empty(t, (&Client{}).topicResourceName("applied"))
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.PubSubConfig{AppliedTopic: "applied"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)
}

func TestNilClientHelpers(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("applied"))
	assert.Error(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}
