package ingress

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load-balancing policies understood by clusters.
const (
	PolicyRoundRobin        = "RoundRobin"
	PolicyFirstAlphabetical = "FirstAlphabetical"
	PolicyRandom            = "Random"
)

// Config is a complete routing table: routes keyed by route ID and clusters
// keyed by cluster ID.
type Config struct {
	Routes   map[string]RouteConfig   `mapstructure:"routes" yaml:"routes" validate:"dive"`
	Clusters map[string]ClusterConfig `mapstructure:"clusters" yaml:"clusters" validate:"dive"`
}

// RouteConfig matches incoming requests and sends them to a cluster.
type RouteConfig struct {
	RouteID    string      `mapstructure:"routeid" yaml:"route_id"`
	ClusterID  string      `mapstructure:"clusterid" yaml:"cluster_id" validate:"required"`
	Order      int         `mapstructure:"order" yaml:"order"`
	Match      RouteMatch  `mapstructure:"match" yaml:"match"`
	Transforms []Transform `mapstructure:"transforms" yaml:"transforms" validate:"dive"`
}

// RouteMatch selects requests by path pattern, host and method. A path
// ending in "{**name}" matches any remainder.
type RouteMatch struct {
	Path    string   `mapstructure:"path" yaml:"path" validate:"required,startswith=/"`
	Hosts   []string `mapstructure:"hosts" yaml:"hosts" validate:"dive,required"`
	Methods []string `mapstructure:"methods" yaml:"methods" validate:"dive,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS CONNECT TRACE"`
}

// Transform rewrites the outgoing request. Set exactly one path transform or
// one header transform per entry.
type Transform struct {
	PathRemovePrefix string `mapstructure:"pathremoveprefix" yaml:"path_remove_prefix" validate:"omitempty,startswith=/"`
	PathPrefix       string `mapstructure:"pathprefix" yaml:"path_prefix" validate:"omitempty,startswith=/"`
	PathSet          string `mapstructure:"pathset" yaml:"path_set" validate:"omitempty,startswith=/"`
	RequestHeader    string `mapstructure:"requestheader" yaml:"request_header"`
	Set              string `mapstructure:"set" yaml:"set"`
	Append           string `mapstructure:"append" yaml:"append"`
}

// ClusterConfig is a named group of destinations.
type ClusterConfig struct {
	ClusterID           string                 `mapstructure:"clusterid" yaml:"cluster_id"`
	LoadBalancingPolicy string                 `mapstructure:"loadbalancingpolicy" yaml:"load_balancing_policy" validate:"omitempty,oneof=RoundRobin FirstAlphabetical Random"`
	Destinations        map[string]Destination `mapstructure:"destinations" yaml:"destinations" validate:"required,min=1,dive"`
}

// Destination is one upstream. Address is either a literal URL or a
// service-discovery reference such as "http://app1" or "https+http://app1".
type Destination struct {
	Address string `mapstructure:"address" yaml:"address" validate:"required"`
}

var validate = validator.New()

// Merge returns c with other's routes and clusters added. Entries in other
// replace entries with the same ID.
func (c Config) Merge(other Config) Config {
	out := Config{
		Routes:   make(map[string]RouteConfig, len(c.Routes)+len(other.Routes)),
		Clusters: make(map[string]ClusterConfig, len(c.Clusters)+len(other.Clusters)),
	}
	for _, src := range []Config{c, other} {
		for id, r := range src.Routes {
			out.Routes[id] = r
		}
		for id, cl := range src.Clusters {
			out.Clusters[id] = cl
		}
	}
	return out
}

// Validate checks field constraints and that every route names a known
// cluster.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid proxy config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid proxy config: %w", err)
	}
	clusters := make(map[string]struct{}, len(c.Clusters))
	for id, cl := range c.Clusters {
		clusters[strings.ToLower(clusterID(id, cl))] = struct{}{}
	}
	for id, r := range c.Routes {
		if _, ok := clusters[strings.ToLower(r.ClusterID)]; !ok {
			return fmt.Errorf("invalid proxy config: route %s references unknown cluster %s", routeID(id, r), r.ClusterID)
		}
	}
	return nil
}

func routeID(key string, r RouteConfig) string {
	if r.RouteID != "" {
		return r.RouteID
	}
	return key
}

func clusterID(key string, c ClusterConfig) string {
	if c.ClusterID != "" {
		return c.ClusterID
	}
	return key
}

// LoadConfig decodes the routing table stored under section. Keys are
// case-insensitive and list entries may be given as indexed keys
// ("Hosts:0", "Hosts:1") as produced by environment variables. A missing
// section yields an empty config.
func LoadConfig(v *viper.Viper, section string) (Config, error) {
	var cfg Config
	if v == nil || !v.IsSet(section) {
		return cfg, nil
	}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		indexedMapToSlice,
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.UnmarshalKey(section, &cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode proxy config section %s: %w", section, err)
	}
	return cfg, nil
}

// indexedMapToSlice turns {"0": a, "1": b} into [a, b] when the target is a
// slice.
func indexedMapToSlice(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Slice || from.Kind() != reflect.Map {
		return data, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}
	type entry struct {
		idx int
		val any
	}
	entries := make([]entry, 0, len(m))
	for k, val := range m {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return data, nil
		}
		entries = append(entries, entry{idx: idx, val: val})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.val
	}
	return out, nil
}
