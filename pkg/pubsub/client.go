// Package pubsub holds the Google Cloud Pub/Sub v2 handles shared by the
// broker publisher and the enrichment worker's subscriber.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/heuristiclogix/eventrelay/pkg/config"
	"github.com/heuristiclogix/eventrelay/pkg/logger"
)

type resourceKind string

const (
	kindTopic        resourceKind = "topics"
	kindSubscription resourceKind = "subscriptions"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client caches one Publisher per topic; the library batches per handle, so
// reusing it keeps batching effective.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient opens a Pub/Sub client for the project. Existence checks run
// separately through EnsureTopics and EnsureSubscriptions so publish-only
// processes need no subscription.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger, opts ...option.ClientOption) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	psClient, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id":   project,
			"subscription": cfg.EnrichmentSubscription,
		}), "pubsub client initialized")
	}
	return &Client{
		client:     psClient,
		projectID:  project,
		cfg:        cfg,
		publishers: make(map[string]*pubsub.Publisher),
	}, nil
}

// resourceName expands a short ID to projects/<project>/<kind>/<id>. Full
// resource names pass through; an empty result means it cannot be resolved.
func resourceName(project string, kind resourceKind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+string(kind)+"/") {
		return name
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return ""
	}
	return "projects/" + project + "/" + string(kind) + "/" + name
}

func (c *Client) EnsureTopics(ctx context.Context, names ...string) error {
	return c.ensure(ctx, kindTopic, names, func(ctx context.Context, full string) error {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
		return err
	})
}

func (c *Client) EnsureSubscriptions(ctx context.Context, names ...string) error {
	return c.ensure(ctx, kindSubscription, names, func(ctx context.Context, full string) error {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
		return err
	})
}

// ensure fails on the first resource that is unresolvable or missing.
func (c *Client) ensure(ctx context.Context, kind resourceKind, names []string, get func(context.Context, string) error) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	for _, name := range names {
		full := resourceName(c.projectID, kind, name)
		if full == "" {
			return fmt.Errorf("%s %q not configured", kind, name)
		}
		if err := get(ctx, full); err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("%s %q does not exist", kind, name)
			}
			return fmt.Errorf("checking %s %q: %w", kind, name, err)
		}
	}
	return nil
}

// Subscription returns a Subscriber for an ID or full name, with flow
// control taken from config. Nil means the name cannot be resolved.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindSubscription, name)
	if full == "" {
		return nil
	}
	sub := c.client.Subscriber(full)
	if c.cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstanding
	}
	return sub
}

// EnrichmentSubscription is the subscription the enrichment workers pull.
func (c *Client) EnrichmentSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscription(c.cfg.EnrichmentSubscription)
}

// Publisher returns the cached handle for a topic ID or full name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.projectID, kindTopic, name)
	if full == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pub, ok := c.publishers[full]
	if !ok {
		pub = c.client.Publisher(full)
		c.publishers[full] = pub
	}
	return pub
}

// Ping checks the enrichment subscription when one is configured.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(c.cfg.EnrichmentSubscription) == "" {
		return nil
	}
	return c.EnsureSubscriptions(ctx, c.cfg.EnrichmentSubscription)
}

// Close flushes every cached publisher before releasing the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, pub := range c.publishers {
		pub.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}
