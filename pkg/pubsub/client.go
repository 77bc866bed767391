// Package pubsub carries payment events over Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/logger"
	"github.com/learnonline/payments-backend/pkg/outbox"
)

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errClientNotReady    = errors.New("pubsub client not initialized")
)

// Client owns the Pub/Sub connection shared by publishers and subscribers.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// NewClient dials Pub/Sub. When an emulator host is configured the client
// skips authentication and talks plaintext gRPC to it.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, projectID, clientOptions(gcp, cfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id": projectID,
			"emulator":   strings.TrimSpace(cfg.EmulatorHost) != "",
		}), "pubsub client initialized")
	}
	return &Client{client: psClient, projectID: projectID, cfg: cfg}, nil
}

func clientOptions(gcp config.GCPConfig, cfg config.PubSubConfig) []option.ClientOption {
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		return []option.ClientOption{
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		}
	}
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// Publisher returns a handle for the topic id or full resource name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.resourceName(kindTopic, topic)
	if name == "" {
		return nil
	}
	return c.client.Publisher(name)
}

// Subscription returns a handle for the subscription id or full resource name.
func (c *Client) Subscription(id string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.resourceName(kindSubscription, id)
	if name == "" {
		return nil
	}
	return c.client.Subscriber(name)
}

// CheckTopic reports whether topic exists and is reachable.
func (c *Client) CheckTopic(ctx context.Context, topic string) error {
	if c == nil || c.client == nil {
		return errClientNotReady
	}
	name := c.resourceName(kindTopic, topic)
	if name == "" {
		return errors.New("pubsub topic is required")
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	return describeLookup("topic", topic, err)
}

// CheckSubscription reports whether the subscription exists and is reachable.
func (c *Client) CheckSubscription(ctx context.Context, id string) error {
	if c == nil || c.client == nil {
		return errClientNotReady
	}
	name := c.resourceName(kindSubscription, id)
	if name == "" {
		return errors.New("pubsub subscription is required")
	}
	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
	return describeLookup("subscription", id, err)
}

// PingPublisher is the readiness probe of the outbox publisher.
func (c *Client) PingPublisher(ctx context.Context) error {
	return c.CheckTopic(ctx, c.cfg.PaymentsTopic)
}

// PingSubscriber is the readiness probe of the certificate worker.
func (c *Client) PingSubscriber(ctx context.Context) error {
	return c.CheckSubscription(ctx, c.cfg.CertificatesSubscription)
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func describeLookup(kind, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, id)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, id, err)
	}
}

// resourceName expands a bare id into projects/<project>/<kind>/<id>. Full
// resource names of the same kind pass through unchanged.
func (c *Client) resourceName(kind, id string) string {
	if c == nil {
		return ""
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if strings.HasPrefix(id, "projects/") && strings.Contains(id, "/"+kind+"/") {
		return id
	}
	if c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/" + kind + "/" + id
}

var (
	_ outbox.Publisher  = (*Publisher)(nil)
	_ outbox.Subscriber = (*Subscriber)(nil)
)
