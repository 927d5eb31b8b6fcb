package services

import (
	"sync"

	"github.com/go-kit/log/level"
	"github.com/tradewell/go-exchange-vault/global"
	"github.com/tradewell/go-exchange-vault/metrics"
	"github.com/tradewell/go-exchange-vault/types"
	"github.com/tradewell/go-exchange-vault/util"
)

// KeyRing is an immutable snapshot of the registered master keys. The
// highest version is the active encryption key; older versions remain
// available for decryption until retired.
type KeyRing struct {
	keys   map[int][]byte
	active int
}

func NewKeyRing(masterKeys []types.MasterKey) (*KeyRing, error) {
	if len(masterKeys) == 0 {
		return nil, types.ErrUnknownKeyVersion
	}
	keys := make(map[int][]byte, len(masterKeys))
	active := 0
	for _, mk := range masterKeys {
		if len(mk.Key) != util.MasterKeyLength || mk.Version <= 0 {
			return nil, types.ErrUnknownKeyVersion
		}
		keys[mk.Version] = mk.Key
		if mk.Version > active {
			active = mk.Version
		}
	}
	return &KeyRing{keys: keys, active: active}, nil
}

// Active returns the version used for all new encryptions
func (kr *KeyRing) Active() int {
	return kr.active
}

// Rotate returns a new snapshot with newKey registered as the active
// encryption key; previous keys stay available for decryption
func (kr *KeyRing) Rotate(newKey []byte) (*KeyRing, int, error) {
	if len(newKey) != util.MasterKeyLength {
		return nil, 0, types.ErrUnknownKeyVersion
	}
	keys := make(map[int][]byte, len(kr.keys)+1)
	for v, k := range kr.keys {
		keys[v] = k
	}
	version := kr.active + 1
	keys[version] = newKey
	return &KeyRing{keys: keys, active: version}, version, nil
}

// Retire returns a new snapshot without the given version. The active key
// cannot be retired. The caller must have re-encrypted every envelope
// stored under this version first (see CredentialService.RetireKey).
func (kr *KeyRing) Retire(version int) (*KeyRing, error) {
	if version == kr.active {
		return nil, types.ErrKeyInUse
	}
	if _, ok := kr.keys[version]; !ok {
		return nil, types.ErrUnknownKeyVersion
	}
	keys := make(map[int][]byte, len(kr.keys)-1)
	for v, k := range kr.keys {
		if v != version {
			keys[v] = k
		}
	}
	return &KeyRing{keys: keys, active: kr.active}, nil
}

// VaultService encrypts and decrypts credential envelopes. It holds no
// state beyond the current key ring snapshot; encryption and decryption
// are pure and safe for concurrent use. Rotation swaps the snapshot and
// is expected to be serialized externally (administrative operation).
type VaultService struct {
	mu   sync.RWMutex
	ring *KeyRing
}

func NewVaultService(ring *KeyRing) *VaultService {
	return &VaultService{ring: ring}
}

func (vs *VaultService) snapshot() *KeyRing {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.ring
}

// ActiveKeyVersion returns the version new envelopes are encrypted under
func (vs *VaultService) ActiveKeyVersion() int {
	return vs.snapshot().Active()
}

// Encrypt seals plaintext under the master key registered for keyVersion.
// Fails only when no key is registered for that version.
func (vs *VaultService) Encrypt(plaintext []byte, keyVersion int) (*types.Envelope, error) {
	ring := vs.snapshot()
	key, ok := ring.keys[keyVersion]
	if !ok {
		return nil, types.ErrUnknownKeyVersion
	}
	nonce, ciphertext, err := util.AesGcmSeal(key, plaintext)
	if err != nil {
		return nil, err
	}
	return &types.Envelope{KeyVersion: keyVersion, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// EncryptActive seals plaintext under the active key and returns the
// storage encoding plus the key version used
func (vs *VaultService) EncryptActive(plaintext []byte) (string, int, error) {
	version := vs.ActiveKeyVersion()
	env, err := vs.Encrypt(plaintext, version)
	if err != nil {
		return "", 0, err
	}
	encoded, err := env.Encode()
	if err != nil {
		return "", 0, err
	}
	return encoded, version, nil
}

// Decrypt opens an envelope. Fails closed with ErrDecryption on unknown
// key version, failed authentication or malformed envelope; never returns
// partial plaintext.
func (vs *VaultService) Decrypt(env *types.Envelope) ([]byte, error) {
	ring := vs.snapshot()
	key, ok := ring.keys[env.KeyVersion]
	if !ok {
		level.Error(global.Logger).Log("msg", "no master key for envelope", "keyVersion", env.KeyVersion)
		metrics.DecryptFailuresMetricsCount.Inc()
		return nil, types.ErrDecryption
	}
	plaintext, err := util.AesGcmOpen(key, env.Nonce, env.Ciphertext)
	if err != nil {
		metrics.DecryptFailuresMetricsCount.Inc()
		return nil, types.ErrDecryption
	}
	return plaintext, nil
}

// DecryptEncoded opens an envelope from its storage encoding
func (vs *VaultService) DecryptEncoded(encoded string) ([]byte, error) {
	env, err := types.DecodeEnvelope(encoded)
	if err != nil {
		metrics.DecryptFailuresMetricsCount.Inc()
		return nil, err
	}
	return vs.Decrypt(env)
}

// Rotate registers newKey as the active encryption key for all future
// encryptions and returns its version
func (vs *VaultService) Rotate(newKey []byte) (int, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	ring, version, err := vs.ring.Rotate(newKey)
	if err != nil {
		return 0, err
	}
	vs.ring = ring
	global.Logger.Log("msg", "master key rotated", "activeVersion", version)
	return version, nil
}

// RetireKey removes a key version from the ring. Callers must verify no
// stored envelope still references it (CredentialService.RetireKey does).
func (vs *VaultService) RetireKey(version int) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	ring, err := vs.ring.Retire(version)
	if err != nil {
		return err
	}
	vs.ring = ring
	global.Logger.Log("msg", "master key retired", "version", version)
	return nil
}
