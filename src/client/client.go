// Package client wires the REST executor, the gateway and the optional
// checkpoint store and status server from one configuration.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hendrywilliam/herald/src/api"
	"github.com/hendrywilliam/herald/src/checkpoint"
	"github.com/hendrywilliam/herald/src/dispatcher"
	"github.com/hendrywilliam/herald/src/gateway"
	"github.com/hendrywilliam/herald/src/rest"
	"github.com/hendrywilliam/herald/src/server"
	"github.com/hendrywilliam/herald/src/utils"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	cfg *utils.AppConfig
	log *slog.Logger

	rest     *rest.Executor
	gateway  *gateway.Gateway
	messages *api.MessageAPI
	store    checkpoint.Store
	status   *server.Server

	closeOnce sync.Once
	closeErr  error
}

type Option func(*options)

type options struct {
	httpClient *http.Client
	transport  gateway.TransportFactory
	redis      *redis.Client
}

// WithHTTPClient replaces the HTTP/2 client built from the configuration.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

func WithTransport(factory gateway.TransportFactory) Option {
	return func(o *options) {
		o.transport = factory
	}
}

// WithRedisClient reuses an existing client for the redis checkpoint
// driver. The store closes it on Close.
func WithRedisClient(rdb *redis.Client) Option {
	return func(o *options) {
		o.redis = rdb
	}
}

func New(cfg *utils.AppConfig, log *slog.Logger, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("nil configuration")
	}
	if log == nil {
		log = slog.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	intents, err := cfg.ParsedIntents()
	if err != nil {
		return nil, err
	}
	presence, err := cfg.ParsedPresence()
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg: cfg,
		log: log,
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient, err = rest.NewHTTPClient(cfg.AllowInsecure, cfg.RequestTimeout)
		if err != nil {
			return nil, err
		}
	}
	c.rest = rest.NewExecutor(cfg.DiscordBotToken,
		rest.WithBaseURL(cfg.DiscordHTTPBaseURL),
		rest.WithHTTPClient(httpClient),
		rest.WithLogger(log))
	c.messages = api.NewMessageAPI(c.rest)

	if err := c.openStore(o.redis); err != nil {
		c.rest.Close()
		return nil, err
	}

	gwOpts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithDispatcher(dispatcher.New(log)),
	}
	if c.store != nil {
		gwOpts = append(gwOpts, gateway.WithCheckpointStore(c.store))
	}
	if o.transport != nil {
		gwOpts = append(gwOpts, gateway.WithTransport(o.transport))
	}
	c.gateway = gateway.NewGateway(gateway.Config{
		Token:                cfg.DiscordBotToken,
		Intents:              intents,
		ShardID:              cfg.Shard.ID,
		ShardCount:           cfg.Shard.Count,
		Sharding:             cfg.Shard.Enabled,
		Compress:             cfg.Compress,
		LargeThreshold:       cfg.Gateway.LargeThreshold,
		Presence:             presence,
		Debug:                cfg.Debug,
		HandshakeTimeout:     cfg.Gateway.HandshakeTimeout,
		HeartbeatMargin:      cfg.Gateway.HeartbeatMargin,
		MaxReconnectAttempts: cfg.Gateway.MaxReconnectAttempts,
	}, api.NewGatewayAPI(c.rest), gwOpts...)
	c.gateway.AddListener(newEventLogger(log, cfg.Debug))

	if cfg.Status.Addr != "" {
		c.status = server.NewServer(c.gateway, c.rest, cfg.Status.Token, log)
	}
	return c, nil
}

func (c *Client) openStore(rdb *redis.Client) error {
	driver := c.cfg.Checkpoint.Driver
	if driver == "" || driver == utils.CheckpointNone {
		return nil
	}
	storeOpts := []checkpoint.StoreOption{
		checkpoint.WithLogger(c.log),
		checkpoint.WithTTL(c.cfg.Checkpoint.TTL),
		checkpoint.WithSQLitePath(c.cfg.Checkpoint.SQLitePath),
	}
	if checkpoint.StoreType(driver) == checkpoint.StoreTypeRedis {
		if rdb == nil {
			rdb = redis.NewClient(&redis.Options{
				Addr:     c.cfg.Checkpoint.RedisAddr,
				Password: c.cfg.Checkpoint.RedisPassword,
				DB:       c.cfg.Checkpoint.RedisDB,
			})
		}
		storeOpts = append(storeOpts, checkpoint.WithRedisClient(rdb))
	}
	store, err := checkpoint.NewStore(checkpoint.StoreType(driver), storeOpts...)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	c.store = store
	return nil
}

func (c *Client) Gateway() *gateway.Gateway {
	return c.gateway
}

func (c *Client) Rest() *rest.Executor {
	return c.rest
}

func (c *Client) Messages() *api.MessageAPI {
	return c.messages
}

// AddListener registers a dispatcher listener on the gateway.
func (c *Client) AddListener(listener any) {
	c.gateway.AddListener(listener)
}

// Run opens the gateway, serves the status endpoint when configured and
// blocks until ctx is cancelled or the gateway stops itself. A gateway
// that stopped itself needs a manual restart and its cause is returned.
func (c *Client) Run(ctx context.Context) error {
	if err := c.gateway.Open(ctx); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	errCh := make(chan error, 1)
	if c.status != nil {
		go func() {
			errCh <- c.status.StartServer(ctx, c.cfg.Status.Addr)
		}()
	}
	select {
	case <-ctx.Done():
		return nil
	case <-c.gateway.Done():
		if err := c.gateway.Err(); err != nil {
			return fmt.Errorf("gateway stopped: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	}
}

// Close closes the gateway before the executor and the checkpoint store.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close()
	})
	return c.closeErr
}

func (c *Client) close() error {
	var errs []error
	if err := c.gateway.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.rest.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
