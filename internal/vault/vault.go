// Package vault implements the credential vault (component G): an
// AES-256-GCM-encrypted JSON map of secret name to value, rewritten in
// its entirety on every mutation and swapped into place with an atomic
// rename so a crash mid-write never corrupts the prior contents.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/crypto/hkdf"

	"privacycore/internal/errs"
	"privacycore/internal/logger"
	"privacycore/internal/metrics"
)

const (
	keyFileName   = "key.age"
	vaultFileName = "vault.enc"
	rawKeySize    = 32
	ivSize        = 16
	tagSize       = 16
)

var vaultRefPattern = regexp.MustCompile(`^\$vault:(.+)$`)

// IsVaultRef reports whether s is a "$vault:<name>" reference.
func IsVaultRef(s string) bool {
	return vaultRefPattern.MatchString(s)
}

// vaultRefName extracts the key name from a "$vault:<name>" reference.
func vaultRefName(s string) (string, bool) {
	m := vaultRefPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Vault is a directory pair (key.age, vault.enc) holding an encrypted
// name-to-secret map. All methods are safe for concurrent use within a
// single process; cross-process concurrent writers are not supported.
type Vault struct {
	dir     string
	metrics *metrics.Metrics
	log     *logger.Logger
}

// Open returns a Vault rooted at dir, creating dir if missing. The key
// and ciphertext files are created lazily on first write.
func Open(dir string) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "create vault directory", err)
	}
	return &Vault{dir: dir}, nil
}

// SetMetrics attaches m so Store/Retrieve/Delete record counters. Optional;
// a Vault with no Metrics simply skips counting.
func (v *Vault) SetMetrics(m *metrics.Metrics) { v.metrics = m }

// SetLogger attaches lg so Store/Retrieve/Delete log their operations.
// Optional; a Vault with no Logger simply stays silent.
func (v *Vault) SetLogger(lg *logger.Logger) { v.log = lg }

func (v *Vault) keyPath() string   { return filepath.Join(v.dir, keyFileName) }
func (v *Vault) vaultPath() string { return filepath.Join(v.dir, vaultFileName) }

// rawKey loads the 32-byte key from key.age, generating (or
// regenerating, if malformed) it on first access.
func (v *Vault) rawKey() ([]byte, error) {
	data, err := os.ReadFile(v.keyPath())
	if err == nil && len(data) == rawKeySize {
		return data, nil
	}

	key := make([]byte, rawKeySize)
	if _, randErr := io.ReadFull(rand.Reader, key); randErr != nil {
		return nil, errs.Wrap(errs.KindInternal, "generate vault key", randErr)
	}
	if writeErr := os.WriteFile(v.keyPath(), key, 0o600); writeErr != nil {
		return nil, errs.Wrap(errs.KindInternal, "write vault key", writeErr)
	}
	return key, nil
}

// aeadKey derives the AES-256 key actually used for GCM from the raw
// key.age seed via HKDF-SHA256, so the on-disk seed is never used
// directly as key material.
func (v *Vault) aeadKey() (cipher.AEAD, error) {
	raw, err := v.rawKey()
	if err != nil {
		return nil, err
	}
	derived := make([]byte, 32)
	kdf := hkdf.New(sha256.New, raw, nil, []byte("privacycore/vault"))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "derive vault key", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "init vault cipher", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "init vault gcm", err)
	}
	return gcm, nil
}

// load decrypts vault.enc into a name->secret map. A missing file is an
// empty map, not an error. The on-disk layout is 16-byte IV ‖ 16-byte
// auth tag ‖ ciphertext; GCM expects tag appended to ciphertext, so the
// two are reassembled before Open.
func (v *Vault) load() (map[string]string, error) {
	data, err := os.ReadFile(v.vaultPath())
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "read vault file", err)
	}
	if len(data) < ivSize+tagSize {
		return nil, errs.New(errs.KindIntegrity, "corrupted vault")
	}

	gcm, err := v.aeadKey()
	if err != nil {
		return nil, err
	}

	iv := data[:ivSize]
	tag := data[ivSize : ivSize+tagSize]
	ciphertext := data[ivSize+tagSize:]
	sealed := append(append([]byte{}, ciphertext...), tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, errs.New(errs.KindIntegrity, "corrupted vault")
	}

	var m map[string]string
	if err := json.Unmarshal(plaintext, &m); err != nil {
		return nil, errs.New(errs.KindIntegrity, "corrupted vault")
	}
	return m, nil
}

// save encrypts m and atomically replaces vault.enc via a temp file +
// rename, so a crash mid-write cannot corrupt the previous contents.
func (v *Vault) save(m map[string]string) error {
	plaintext, err := json.Marshal(m)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "marshal vault contents", err)
	}

	gcm, err := v.aeadKey()
	if err != nil {
		return err
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return errs.Wrap(errs.KindInternal, "generate vault iv", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, ivSize+tagSize+len(ciphertext))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ciphertext...)

	tmp, err := os.CreateTemp(v.dir, "vault-*.tmp")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "create vault temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindInternal, "write vault temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindInternal, "fsync vault temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindInternal, "close vault temp file", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindInternal, "chmod vault temp file", err)
	}
	if err := os.Rename(tmpPath, v.vaultPath()); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindInternal, "rename vault temp file", err)
	}
	return nil
}

// Store inserts or overwrites key's secret. Line breaks are stripped on
// ingress.
func (v *Vault) Store(key, value string) error {
	value = strings.ReplaceAll(strings.ReplaceAll(value, "\r", ""), "\n", "")
	m, err := v.load()
	if err != nil {
		return err
	}
	m[key] = value
	if err := v.save(m); err != nil {
		return err
	}
	if v.metrics != nil {
		v.metrics.VaultStores.Add(1)
	}
	if v.log != nil {
		v.log.Debugf("store", "key=%s", key)
	}
	return nil
}

// Retrieve returns the secret for key, or ("", false) if absent.
func (v *Vault) Retrieve(key string) (string, bool, error) {
	m, err := v.load()
	if err != nil {
		return "", false, err
	}
	val, ok := m[key]
	if v.metrics != nil {
		v.metrics.VaultRetrieves.Add(1)
	}
	if v.log != nil {
		v.log.Debugf("retrieve", "key=%s found=%v", key, ok)
	}
	return val, ok, nil
}

// Delete removes key's secret, if present.
func (v *Vault) Delete(key string) error {
	m, err := v.load()
	if err != nil {
		return err
	}
	delete(m, key)
	if err := v.save(m); err != nil {
		return err
	}
	if v.metrics != nil {
		v.metrics.VaultDeletes.Add(1)
	}
	if v.log != nil {
		v.log.Debugf("delete", "key=%s", key)
	}
	return nil
}

// List returns every stored key name, in no particular order.
func (v *Vault) List() ([]string, error) {
	m, err := v.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys, nil
}

// ResolveVaultRef resolves a "$vault:<name>" reference to its secret
// value. Non-references are rejected; unknown names return an error.
func (v *Vault) ResolveVaultRef(ref string) (string, error) {
	name, ok := vaultRefName(ref)
	if !ok {
		return "", errs.New(errs.KindUserInput, "not a vault reference")
	}
	value, ok, err := v.Retrieve(name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errs.New(errs.KindUserInput, "vault reference not found: "+name)
	}
	return value, nil
}
