// Package backend opens the bit store selected by configuration. It is shared
// by the service and the admin tool so both address the same bit array.
package backend

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/jcalabro/gloomtier"
	"github.com/jcalabro/gloomtier/leveldbstore"
	"github.com/jcalabro/gloomtier/memstore"
	"github.com/jcalabro/gloomtier/redisstore"
)

// Names of the supported bit stores.
const (
	Redis   = "redis"
	LevelDB = "leveldb"
	Memory  = "memory"
)

// RedisOptions are the connection settings for the redis bit store.
type RedisOptions struct {
	Host         string        `long:"host" env:"REDIS_HOST" default:"localhost" description:"Redis host"`
	Port         int           `long:"port" env:"REDIS_PORT" default:"6379" description:"Redis port"`
	DB           int           `long:"db" env:"REDIS_DB" default:"0" description:"Redis logical database"`
	Username     string        `long:"username" env:"REDIS_USERNAME" description:"Redis ACL username"`
	Password     string        `long:"password" env:"REDIS_PASSWORD" description:"Redis password"`
	PoolSize     int           `long:"poolsize" default:"0" description:"Connection pool size (0 uses the client default)"`
	DialTimeout  time.Duration `long:"dialtimeout" default:"5s" description:"Timeout for establishing a connection"`
	ReadTimeout  time.Duration `long:"readtimeout" default:"3s" description:"Timeout for a single read"`
	WriteTimeout time.Duration `long:"writetimeout" default:"3s" description:"Timeout for a single write"`
}

// Addr returns host:port.
func (o *RedisOptions) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// LevelDBOptions are the settings for the leveldb bit store.
type LevelDBOptions struct {
	Path string `long:"path" env:"LEVELDB_PATH" default:"bits.ldb" description:"Directory of the LevelDB bit store"`
}

// Options selects and configures a bit store. It is meant to be embedded in a
// go-flags options struct.
type Options struct {
	Kind    string         `long:"bitstore" env:"BITSTORE" default:"redis" choice:"redis" choice:"leveldb" choice:"memory" description:"Where the filter bits live"`
	Redis   RedisOptions   `group:"Redis" namespace:"redis"`
	LevelDB LevelDBOptions `group:"LevelDB" namespace:"leveldb"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open opens the configured bit store. sizeBits bounds the memory store and
// is checked against the largest array any store can hold. The returned
// closer releases the store's resources.
func Open(ctx context.Context, opts *Options, sizeBits uint64) (gloomtier.BitStore, io.Closer, error) {
	if sizeBits > gloomtier.MaxSizeBits {
		return nil, nil, fmt.Errorf("%w: %d bits exceeds the limit of %d",
			gloomtier.ErrInvalidConfig, sizeBits, gloomtier.MaxSizeBits)
	}

	switch opts.Kind {
	case Redis:
		s, err := redisstore.Open(ctx, redisstore.Config{
			Addr:         opts.Redis.Addr(),
			Username:     opts.Redis.Username,
			Password:     opts.Redis.Password,
			DB:           opts.Redis.DB,
			PoolSize:     opts.Redis.PoolSize,
			DialTimeout:  opts.Redis.DialTimeout,
			ReadTimeout:  opts.Redis.ReadTimeout,
			WriteTimeout: opts.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case LevelDB:
		s, err := leveldbstore.Open(opts.LevelDB.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case Memory:
		return memstore.New(sizeBits), nopCloser{}, nil
	}

	return nil, nil, fmt.Errorf("%w: unknown bit store %q", gloomtier.ErrInvalidConfig, opts.Kind)
}
