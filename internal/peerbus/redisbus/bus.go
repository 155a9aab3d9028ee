// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package redisbus implements the peer bus and leadership on top of Redis.
//
// Layout, for a key prefix P:
//
//	P:app          hash, the cluster record
//	P:unit:<unit>  hash, one unit record
//	P:units        set, registered unit names
//	P:leader       string, the unit holding the leadership lease
//	P:changed      pub/sub channel, a message per write
package redisbus

import (
	"context"
	"sort"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"

	coreerrors "github.com/juju/etcd-coordinator/core/errors"
	"github.com/juju/etcd-coordinator/core/peerbus"
)

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Debugf(message string, args ...any)
}

// Config holds the dependencies of a Bus.
type Config struct {
	Client   redis.UniversalClient
	Prefix   string
	Unit     string
	LeaseTTL time.Duration
	Logger   Logger
}

// Validate returns an error if the config cannot create a Bus.
func (c Config) Validate() error {
	if c.Client == nil {
		return errors.NotValidf("nil Client")
	}
	if c.Prefix == "" {
		return errors.NotValidf("empty Prefix")
	}
	if c.Unit == "" {
		return errors.NotValidf("empty Unit")
	}
	if c.LeaseTTL <= 0 {
		return errors.NotValidf("non-positive LeaseTTL")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// writeIfLeader patches the hash at KEYS[2] with ARGV[2:] pairs when the
// lease at KEYS[1] is held by ARGV[1]. Empty values delete the field.
var writeIfLeader = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
for i = 2, #ARGV, 2 do
	if ARGV[i+1] == '' then
		redis.call('HDEL', KEYS[2], ARGV[i])
	else
		redis.call('HSET', KEYS[2], ARGV[i], ARGV[i+1])
	end
end
return 1
`)

// Bus is a unit's handle on a Redis backed peer bus.
type Bus struct {
	config Config
	client redis.UniversalClient
}

var _ peerbus.Bus = (*Bus)(nil)
var _ peerbus.Leadership = (*Bus)(nil)

// NewBus returns a Bus for the configured unit.
func NewBus(config Config) (*Bus, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Bus{config: config, client: config.Client}, nil
}

func (b *Bus) appKey() string             { return b.config.Prefix + ":app" }
func (b *Bus) unitKey(unit string) string { return b.config.Prefix + ":unit:" + unit }
func (b *Bus) unitsKey() string           { return b.config.Prefix + ":units" }
func (b *Bus) leaderKey() string          { return b.config.Prefix + ":leader" }
func (b *Bus) changedChannel() string     { return b.config.Prefix + ":changed" }

// Unit is part of peerbus.Bus.
func (b *Bus) Unit() string {
	return b.config.Unit
}

// Join is part of peerbus.Bus.
func (b *Bus) Join(ctx context.Context) error {
	if err := b.client.SAdd(ctx, b.unitsKey(), b.config.Unit).Err(); err != nil {
		return errors.Annotatef(err, "registering unit %q", b.config.Unit)
	}
	b.publish(ctx)
	return nil
}

// Leave is part of peerbus.Bus.
func (b *Bus) Leave(ctx context.Context) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, b.unitsKey(), b.config.Unit)
		pipe.Del(ctx, b.unitKey(b.config.Unit))
		return nil
	})
	if err != nil {
		return errors.Annotatef(err, "deregistering unit %q", b.config.Unit)
	}
	b.publish(ctx)
	return nil
}

// Units is part of peerbus.Bus.
func (b *Bus) Units(ctx context.Context) ([]string, error) {
	units, err := b.client.SMembers(ctx, b.unitsKey()).Result()
	if err != nil {
		return nil, errors.Annotate(err, "listing units")
	}
	sort.Strings(units)
	return units, nil
}

// UnitRecord is part of peerbus.Bus.
func (b *Bus) UnitRecord(ctx context.Context, unit string) (map[string]string, error) {
	registered, err := b.client.SIsMember(ctx, b.unitsKey(), unit).Result()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !registered {
		return nil, errors.NotFoundf("unit %q", unit)
	}
	fields, err := b.client.HGetAll(ctx, b.unitKey(unit)).Result()
	if err != nil {
		return nil, errors.Annotatef(err, "reading unit %q", unit)
	}
	return fields, nil
}

// SetUnitRecord is part of peerbus.Bus.
func (b *Bus) SetUnitRecord(ctx context.Context, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	key := b.unitKey(b.config.Unit)
	set, del := splitPatch(fields)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(set) > 0 {
			pipe.HSet(ctx, key, set)
		}
		if len(del) > 0 {
			pipe.HDel(ctx, key, del...)
		}
		return nil
	})
	if err != nil {
		return errors.Annotatef(err, "writing unit %q", b.config.Unit)
	}
	b.publish(ctx)
	return nil
}

// ClusterRecord is part of peerbus.Bus.
func (b *Bus) ClusterRecord(ctx context.Context) (map[string]string, error) {
	fields, err := b.client.HGetAll(ctx, b.appKey()).Result()
	if err != nil {
		return nil, errors.Annotate(err, "reading cluster record")
	}
	return fields, nil
}

// SetClusterRecord is part of peerbus.Bus. The leadership check and the
// write happen atomically on the server.
func (b *Bus) SetClusterRecord(ctx context.Context, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := []interface{}{b.config.Unit}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	written, err := writeIfLeader.Run(ctx, b.client, []string{b.leaderKey(), b.appKey()}, args...).Int()
	if err != nil {
		return errors.Annotate(err, "writing cluster record")
	}
	if written == 0 {
		return coreerrors.New(coreerrors.NotLeader, "unit %q cannot write the cluster record", b.config.Unit)
	}
	b.publish(ctx)
	return nil
}

// IsLeader is part of peerbus.Leadership. The unit claims the lease when
// nobody holds it and extends it when it already does.
func (b *Bus) IsLeader(ctx context.Context) (bool, error) {
	claimed, err := b.client.SetNX(ctx, b.leaderKey(), b.config.Unit, b.config.LeaseTTL).Result()
	if err != nil {
		return false, errors.Annotate(err, "claiming leadership")
	}
	if claimed {
		b.config.Logger.Debugf("unit %q claimed leadership", b.config.Unit)
		b.publish(ctx)
		return true, nil
	}
	holder, err := b.client.Get(ctx, b.leaderKey()).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	} else if err != nil {
		return false, errors.Annotate(err, "reading leadership")
	}
	if holder != b.config.Unit {
		return false, nil
	}
	if err := b.client.PExpire(ctx, b.leaderKey(), b.config.LeaseTTL).Err(); err != nil {
		return false, errors.Annotate(err, "extending leadership")
	}
	return true, nil
}

// Leader is part of peerbus.LeaderReader. It returns the unit holding
// the lease, or an empty string when nobody does.
func (b *Bus) Leader(ctx context.Context) (string, error) {
	holder, err := b.client.Get(ctx, b.leaderKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	} else if err != nil {
		return "", errors.Annotate(err, "reading leadership")
	}
	return holder, nil
}

// Watch is part of peerbus.Bus.
func (b *Bus) Watch(ctx context.Context) (peerbus.Watcher, error) {
	sub := b.client.Subscribe(ctx, b.changedChannel())
	// Wait for the subscription to be confirmed so no write is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errors.Annotate(err, "subscribing to changes")
	}
	w, err := newWatcher(sub, b.config.Logger)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

func (b *Bus) publish(ctx context.Context) {
	if err := b.client.Publish(ctx, b.changedChannel(), b.config.Unit).Err(); err != nil {
		b.config.Logger.Warningf("publishing change from %q: %v", b.config.Unit, err)
	}
}

func splitPatch(fields map[string]string) (map[string]interface{}, []string) {
	set := make(map[string]interface{})
	var del []string
	for k, v := range fields {
		if v == "" {
			del = append(del, k)
			continue
		}
		set[k] = v
	}
	sort.Strings(del)
	return set, del
}
