package redis

import "strings"

const defaultKeyPrefix = "er"

// keyspace joins non-blank parts under a prefix with ':'.
type keyspace string

func (k keyspace) prefix() string {
	if p := strings.TrimSpace(string(k)); p != "" {
		return p
	}
	return defaultKeyPrefix
}

func (k keyspace) join(parts ...string) string {
	var b strings.Builder
	b.WriteString(k.prefix())
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}

// IdempotencyKey namespaces an idempotency record by scope.
func (c *Client) IdempotencyKey(scope, id string) string {
	return c.keys.join("idempotency", scope, id)
}

// LockKey names a distributed lease.
func (c *Client) LockKey(name string) string {
	return c.keys.join("lock", name)
}

// ChannelName names a pub/sub channel.
func (c *Client) ChannelName(name string) string {
	return c.keys.join("channel", name)
}
