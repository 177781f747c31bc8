// Package icore assembles the components of an Icore node from a Config.
package icore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/Linkolnn/Icore/src/broadcast"
	"github.com/Linkolnn/Icore/src/chat"
	"github.com/Linkolnn/Icore/src/config"
	"github.com/Linkolnn/Icore/src/limiter"
	"github.com/Linkolnn/Icore/src/net/wamp"
	"github.com/Linkolnn/Icore/src/net/ws"
	"github.com/Linkolnn/Icore/src/persistence"
	"github.com/Linkolnn/Icore/src/persistence/sqlite"
	"github.com/Linkolnn/Icore/src/registry"
	"github.com/Linkolnn/Icore/src/service"
	"github.com/Linkolnn/Icore/src/session"
	"github.com/Linkolnn/Icore/src/signal"
	"github.com/Linkolnn/Icore/src/token"
	"github.com/Linkolnn/Icore/src/unread"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Icore is a realtime node: websocket clients, chat fan-out and call
// signaling on top of a session store and a Persistence Service.
type Icore struct {
	Config      *config.Config
	Store       session.Store
	Persistence persistence.Service
	Registry    *registry.Registry
	Broadcaster broadcast.Broadcaster
	Chats       *chat.Service
	Calls       *signal.Orchestrator
	Limiter     limiter.Limiter
	Gateway     *ws.Gateway
	Service     *service.Service
	WAMP        *wamp.Server

	relay  *wamp.Relay
	rdb    *redis.Client
	logger *logrus.Entry
}

// NewIcore ...
func NewIcore(conf *config.Config) *Icore {
	return &Icore{
		Config: conf,
		logger: conf.Logger(),
	}
}

func (i *Icore) initStore() error {
	switch i.Config.Store {
	case config.StoreBadger:
		i.logger.WithField("path", i.Config.DatabaseDir).Debug("Attempting to load or create database")
		store, err := session.NewBadgerStore(i.Config.DatabaseDir, i.Config.SessionTTL, i.logger.WithField("component", "badger"))
		if err != nil {
			return err
		}
		i.Store = store
	case config.StoreRedis:
		store, err := session.NewRedisStore(i.Config.RedisURL, i.Config.SessionTTL)
		if err != nil {
			return err
		}
		i.rdb = store.Client()
		i.Store = store
		i.logger.Debug("Using redis session store")
	default:
		i.Store = session.NewInmemStore(i.Config.SessionTTL)
		i.logger.Debug("Created new in-mem session store")
	}
	return nil
}

func (i *Icore) initPersistence() error {
	switch i.Config.Persistence {
	case config.PersistenceSQLite:
		if err := os.MkdirAll(filepath.Dir(i.Config.SQLitePath), 0700); err != nil {
			return err
		}
		store, err := sqlite.Open(i.Config.SQLitePath)
		if err != nil {
			return err
		}
		i.Persistence = store
		i.logger.WithField("path", i.Config.SQLitePath).Debug("Using sqlite persistence")
	default:
		i.Persistence = persistence.NewInmemService()
	}
	return nil
}

func (i *Icore) initLimiter() error {
	limit, window := i.Config.MessageRateLimit, i.Config.MessageRateWindow
	if limit <= 0 {
		return nil
	}

	if i.rdb == nil && i.Config.RateLimit {
		opts, err := redis.ParseURL(i.Config.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		i.rdb = redis.NewClient(opts)
	}

	if i.rdb != nil {
		i.Limiter = limiter.NewRedisLimiter(i.rdb, "message", limit, window)
	} else {
		i.Limiter = limiter.NewInmemLimiter(limit, window)
	}
	return nil
}

func (i *Icore) initBroadcast() error {
	hub := broadcast.NewHub(i.Registry, i.logger.WithField("component", "hub"))

	if !i.Config.WAMP {
		i.Broadcaster = hub
		return nil
	}

	server, err := wamp.NewServer(i.Config.WAMPAddr, i.Config.WAMPRealm, "", "", i.logger.WithField("component", "wamp"))
	if err != nil {
		return err
	}
	relay, err := wamp.NewRelay(server.Router(), i.Config.WAMPRealm, i.logger.WithField("component", "wamp-relay"))
	if err != nil {
		server.Shutdown()
		return err
	}

	i.WAMP = server
	i.relay = relay
	i.Broadcaster = broadcast.Multi{hub, relay}
	return nil
}

func (i *Icore) initCore() {
	i.Registry = registry.NewRegistry(
		token.NewAccessValidator(i.Config.AuthSecret, nil),
		i.logger.WithField("component", "registry"),
	)
}

func (i *Icore) initServices() {
	timeout := i.Config.StoreTimeout

	router := chat.NewRouter(i.Broadcaster, i.logger.WithField("component", "router"))
	tracker := unread.NewTracker(i.Persistence, router, timeout, i.logger.WithField("component", "unread"))
	i.Chats = chat.NewService(i.Persistence, router, tracker, timeout, i.logger.WithField("component", "chat"))

	i.Calls = signal.NewOrchestrator(signal.Config{
		Store:        i.Store,
		Chats:        i.Persistence,
		Tokens:       token.NewCallTokens(i.Config.CallTokenSecret, i.Config.CallTokenLifetime, nil),
		Rooms:        i.Registry,
		Broadcaster:  i.Broadcaster,
		ICEServers:   i.Config.ICEServers(),
		StoreTimeout: timeout,
		Logger:       i.logger.WithField("component", "signal"),
	})

	gwConf := ws.Config{
		Registry:   i.Registry,
		Chats:      i.Chats,
		Calls:      i.Calls,
		SendBuffer: i.Config.SendBuffer,
		Timeout:    timeout,
		Logger:     i.logger.WithField("component", "ws"),
	}
	if i.Limiter != nil {
		gwConf.Limiter = i.Limiter
	}
	i.Gateway = ws.NewGateway(gwConf)

	i.Service = service.NewService(service.Config{
		BindAddr:  i.Config.BindAddr,
		Gateway:   i.Gateway,
		Registry:  i.Registry,
		Calls:     i.Calls,
		Validator: token.NewAccessValidator(i.Config.AuthSecret, nil),
		Logger:    i.logger.WithField("component", "service"),
	})
}

// Init validates the configuration and creates every component. On error,
// whatever was opened is closed again.
func (i *Icore) Init() error {
	if err := i.Config.Validate(); err != nil {
		return err
	}

	i.initCore()

	steps := []func() error{
		i.initStore,
		i.initPersistence,
		i.initLimiter,
		i.initBroadcast,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			i.Shutdown()
			return err
		}
	}

	i.initServices()

	return nil
}

// Run serves the HTTP service, and the WAMP router when enabled. It blocks
// until the HTTP service stops.
func (i *Icore) Run() error {
	if i.WAMP != nil {
		go i.WAMP.Run()
	}
	return i.Service.Serve()
}

// Shutdown closes client connections and releases the backends.
func (i *Icore) Shutdown() {
	i.logger.Debug("Shutting down")

	if i.Service != nil {
		if err := i.Service.Shutdown(); err != nil {
			i.logger.WithError(err).Warn("Shutting down service")
		}
	}
	if i.Registry != nil {
		i.Registry.Close()
	}
	if i.relay != nil {
		i.relay.Close()
	}
	if i.WAMP != nil {
		i.WAMP.Shutdown()
	}
	if i.Store != nil {
		if err := i.Store.Close(); err != nil {
			i.logger.WithError(err).Warn("Closing session store")
		}
	}
	// the redis store owns its client
	if i.rdb != nil && i.Config.Store != config.StoreRedis {
		i.rdb.Close()
	}
	if i.Persistence != nil {
		if err := i.Persistence.Close(); err != nil {
			i.logger.WithError(err).Warn("Closing persistence")
		}
	}
}

// Keygen writes a random call token secret to the key file of datadir. It
// refuses to overwrite an existing key.
func Keygen(datadir string) (string, error) {
	keyfile := filepath.Join(datadir, config.DefaultCallTokenKeyfile)

	if _, err := os.Stat(keyfile); err == nil {
		return "", fmt.Errorf("Another key already lives under %s", datadir)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(raw)

	if err := os.MkdirAll(datadir, 0700); err != nil {
		return "", err
	}
	if err := ioutil.WriteFile(keyfile, []byte(secret), 0600); err != nil {
		return "", err
	}

	return keyfile, nil
}
