package cache

import (
	"context"
	"time"

	"github.com/matheus3301/campus/internal/config"
)

// Namespace groups keys that share a freshness window.
type Namespace struct {
	Name string
	TTL  time.Duration
}

// Key returns the cache key for id inside the namespace.
func (n Namespace) Key(id string) string {
	return n.Name + ":" + id
}

// Set stores data under id with the namespace TTL.
func (n Namespace) Set(ctx context.Context, c *Cache, id string, data any) {
	c.Set(ctx, n.Key(id), data, n.TTL)
}

// Namespaces holds one Namespace per cached resource kind.
type Namespaces struct {
	Events        Namespace
	Posts         Namespace
	Profile       Namespace
	Courses       Namespace
	Notifications Namespace
	Messages      Namespace
}

// NamespacesFrom builds namespaces from configured TTLs.
func NamespacesFrom(cfg config.CacheConfig) Namespaces {
	return Namespaces{
		Events:        Namespace{Name: "events", TTL: cfg.Events.Duration},
		Posts:         Namespace{Name: "posts", TTL: cfg.Posts.Duration},
		Profile:       Namespace{Name: "profile", TTL: cfg.Profile.Duration},
		Courses:       Namespace{Name: "courses", TTL: cfg.Courses.Duration},
		Notifications: Namespace{Name: "notifications", TTL: cfg.Notifications.Duration},
		Messages:      Namespace{Name: "messages", TTL: cfg.Messages.Duration},
	}
}
