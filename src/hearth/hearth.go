package hearth

import (
	"crypto/ed25519"
	"fmt"

	"github.com/hearthnet/hearth/src/config"
	"github.com/hearthnet/hearth/src/crypto/keys"
	"github.com/hearthnet/hearth/src/federation"
	"github.com/hearthnet/hearth/src/pipeline"
	"github.com/hearthnet/hearth/src/roomdag"
	"github.com/hearthnet/hearth/src/service"
)

// Hearth is the assembled node: signing keys, event store, federation client,
// acceptance pipeline, and the HTTP API service.
type Hearth struct {
	Config   *config.Config
	Store    roomdag.Store
	KeyRing  *federation.KeyRing
	Pipeline *pipeline.Pipeline
	Author   *pipeline.Author
	Service  *service.Service

	keyID string
}

// NewHearth creates an engine from config. Call Init before Run.
func NewHearth(c *config.Config) *Hearth {
	return &Hearth{
		Config: c,
	}
}

// Init assembles the components in dependency order.
func (h *Hearth) Init() error {
	if err := h.initKey(); err != nil {
		h.Config.Logger().WithField("error", err).Error("Init keys")
		return err
	}

	if err := h.initStore(); err != nil {
		h.Config.Logger().WithField("error", err).Error("Init store")
		return err
	}

	if err := h.initPipeline(); err != nil {
		h.Config.Logger().WithField("error", err).Error("Init pipeline")
		return err
	}

	if err := h.initService(); err != nil {
		h.Config.Logger().WithField("error", err).Error("Init service")
		return err
	}

	return nil
}

func (h *Hearth) initKey() error {
	if h.Config.Key == nil {
		keyfile := keys.NewSimpleKeyfile(h.Config.Keyfile())

		privKey, err := keyfile.ReadKey()
		if err != nil {
			h.Config.Logger().WithField("error", err).Warning("Cannot read signing key from file, generating one")

			_, privKey, err = keys.GenerateKey()
			if err != nil {
				return err
			}
			if err := keyfile.WriteKey(privKey); err != nil {
				return err
			}

			h.Config.Logger().WithField("key_id",
				keys.KeyID(privKey.Public().(ed25519.PublicKey))).Info("Created a new signing key")
		}

		h.Config.Key = privKey
	}

	h.keyID = keys.KeyID(h.Config.Key.Public().(ed25519.PublicKey))

	return nil
}

func (h *Hearth) initStore() error {
	if !h.Config.Store {
		h.Store = roomdag.NewInmemStore(h.Config.CacheSize)

		h.Config.Logger().Debug("created new in-mem store")
	} else {
		h.Config.Logger().WithField("path", h.Config.DatabaseDir).Debug("Attempting to load or create database")

		store, err := roomdag.LoadOrCreateBadgerStore(h.Config.CacheSize, h.Config.DatabaseDir)
		if err != nil {
			return err
		}

		if store.NeedBootstrap() {
			h.Config.Logger().Debug("loaded badger store from existing database")
		} else {
			h.Config.Logger().Debug("created new badger store from fresh database")
		}

		h.Store = store
	}

	return nil
}

func (h *Hearth) initPipeline() error {
	pub := h.Config.Key.Public().(ed25519.PublicKey)

	client := h.Config.Client
	if client == nil || h.Config.NoFetch {
		client = federation.NopClient{}
	} else {
		client = federation.NewRetryingClient(client, h.Config.Logger())
	}

	h.KeyRing = federation.NewKeyRing(
		h.Config.ServerName,
		map[string]ed25519.PublicKey{h.keyID: pub},
		client,
		h.Config.Logger(),
	)

	h.Pipeline = pipeline.NewPipeline(h.Store, h.KeyRing, client, h.Config.Logger())
	h.Author = pipeline.NewAuthor(h.Pipeline, h.Config.ServerName, h.keyID, h.Config.Key)

	return nil
}

func (h *Hearth) initService() error {
	if h.Config.NoService {
		return nil
	}
	h.Service = service.NewService(h.Config.ServiceAddr, h.Pipeline, h.Store, h.Config.Logger())
	return nil
}

// Run serves the API and blocks until shutdown.
func (h *Hearth) Run() {
	if h.Service != nil {
		h.Service.Serve()
		return
	}
	select {}
}

// Keygen generates a new signing key and saves it under keyfile. It refuses
// to overwrite an existing key.
func Keygen(keyfile string) (ed25519.PrivateKey, error) {
	kf := keys.NewSimpleKeyfile(keyfile)

	if _, err := kf.ReadKey(); err == nil {
		return nil, fmt.Errorf("a key already lives under %s; remove it explicitly first", keyfile)
	}

	_, priv, err := keys.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := kf.WriteKey(priv); err != nil {
		return nil, err
	}
	return priv, nil
}

// Shutdown stops the pipeline workers and closes the store.
func (h *Hearth) Shutdown() {
	h.Pipeline.Shutdown()
	if err := h.Store.Close(); err != nil {
		h.Config.Logger().WithField("error", err).Error("Closing store")
	}
}
