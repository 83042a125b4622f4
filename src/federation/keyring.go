package federation

import (
	"context"
	"crypto/ed25519"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const defaultKeyCacheSize = 512

// KeyRing resolves server signing keys for signature checks. Local keys are
// pinned; remote key sets are fetched over federation once and cached.
type KeyRing struct {
	localServer string
	localKeys   map[string]ed25519.PublicKey

	client Client
	cache  *lru.Cache[string, KeySet]
	group  singleflight.Group

	logger *logrus.Entry
}

// NewKeyRing creates a KeyRing that trusts the given local keys and resolves
// everything else through client.
func NewKeyRing(localServer string, localKeys map[string]ed25519.PublicKey, client Client, logger *logrus.Entry) *KeyRing {
	cache, _ := lru.New[string, KeySet](defaultKeyCacheSize)
	return &KeyRing{
		localServer: localServer,
		localKeys:   localKeys,
		client:      client,
		cache:       cache,
		logger:      logger,
	}
}

// SigningKey returns the public key a server published under keyID, fetching
// the server's key set on a cache miss. Concurrent misses for the same server
// collapse into one fetch.
func (r *KeyRing) SigningKey(ctx context.Context, serverName, keyID string) (ed25519.PublicKey, error) {
	if serverName == r.localServer {
		if pub, ok := r.localKeys[keyID]; ok {
			return pub, nil
		}
		return nil, fmt.Errorf("unknown local key %s", keyID)
	}

	if set, ok := r.cache.Get(serverName); ok {
		if pub, ok := set.Keys[keyID]; ok {
			return pub, nil
		}
		// The cached set predates this key; fall through and refetch.
	}

	res, err, _ := r.group.Do(serverName, func() (interface{}, error) {
		set, err := r.client.FetchServerKeys(ctx, serverName)
		if err != nil {
			return KeySet{}, err
		}
		r.cache.Add(serverName, set)
		return set, nil
	})
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"server": serverName,
			"key_id": keyID,
		}).WithError(err).Debug("Key fetch failed")
		return nil, err
	}

	set := res.(KeySet)
	pub, ok := set.Keys[keyID]
	if !ok {
		return nil, fmt.Errorf("server %s does not publish key %s", serverName, keyID)
	}
	return pub, nil
}
