package replication

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"docreplicator/internal/storage"
)

var errEmptyDestinationURL = errors.New("destination missing url")

// Destination is the engine's working view of a configured peer: the raw
// configuration document plus its derived effective URL, compiled filter,
// and an auth-applying function. It is what the rest of the package
// (cursor/shipper/worker) actually carries around.
type Destination struct {
	storage.Destination
	EffectiveURL string
	Filter       Filter
}

// Key identifies a destination for the busy-flag map and failure tracker.
// Equality on destinations is case-insensitive on URL.
func (d Destination) Key() string { return strings.ToLower(d.EffectiveURL) }

// ApplyAuth attaches this destination's credentials to an outbound request.
func (d Destination) ApplyAuth(req *http.Request) {
	switch {
	case d.APIKey != "":
		req.Header.Set("Api-Key", d.APIKey)
	case d.Username != "":
		req.SetBasicAuth(d.Username, d.Password)
	}
}

// Registry loads the replication configuration document and compiles it
// into a snapshot of Destinations. It is read fresh on every scheduler
// cycle, since the configuration is hot-reloadable.
type Registry struct {
	configs storage.ConfigStore
	log     *logrus.Entry

	warnedEmptyOnce bool
}

// NewRegistry creates a Registry backed by configs.
func NewRegistry(configs storage.ConfigStore, log *logrus.Entry) *Registry {
	return &Registry{configs: configs, log: log}
}

// LoadDestinations reads the configuration document and returns a snapshot
// of typed Destinations. A missing or undeserializable document yields an
// empty list with a once-only warning; a single malformed destination entry
// is skipped with an error log rather than disabling replication entirely.
func (r *Registry) LoadDestinations(ctx context.Context) []Destination {
	cfg, err := r.configs.LoadReplicationConfig(ctx)
	if err != nil {
		if !r.warnedEmptyOnce {
			r.log.WithError(err).Warn("replication configuration unreadable, treating as no destinations")
			r.warnedEmptyOnce = true
		}
		return nil
	}
	if len(cfg.Destinations) == 0 {
		if !r.warnedEmptyOnce {
			r.log.Warn("no replication destinations configured")
			r.warnedEmptyOnce = true
		}
		return nil
	}

	out := make([]Destination, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		dest, err := compileDestination(d)
		if err != nil {
			r.log.WithError(err).WithField("destination", d.URL).Error("skipping malformed destination")
			continue
		}
		out = append(out, dest)
	}
	return out
}

func compileDestination(d storage.Destination) (Destination, error) {
	if d.URL == "" {
		return Destination{}, errEmptyDestinationURL
	}
	effective := strings.TrimRight(d.URL, "/")
	if d.Database != "" {
		effective += "/databases/" + d.Database
	}
	return Destination{
		Destination:  d,
		EffectiveURL: effective,
		Filter:       compileFilter(d.FilterRules),
	}, nil
}

// compileFilter turns a destination's declarative FilterRules into a
// predicate. Rules are evaluated in order; the first matching rule decides
// the record's fate, and an unmatched record is kept.
func compileFilter(rules []storage.FilterRule) Filter {
	if len(rules) == 0 {
		return AllowAll
	}
	return func(_ string, key string, _ storage.Metadata) bool {
		for _, rule := range rules {
			if rule.Collection == "" || strings.HasPrefix(key, rule.Collection+"/") {
				return !rule.Exclude
			}
		}
		return true
	}
}
