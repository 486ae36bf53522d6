package tenant

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/lnerrors"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	// externalBranch / changeBranch are BIP84 account-level branches.
	externalBranch uint32 = 0
	changeBranch   uint32 = 1
)

// wrappingKey derives the symmetric key that encrypts/decrypts a tenant's
// entropy at rest, from the host's static passphrase.
func wrappingKey(passphrase string, salt []byte) (*[32]byte, error) {
	raw, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "derive wrapping key")
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// decryptEntropy opens a tenant's at-rest entropy blob, which is laid out
// as a 24-byte nonce prefix followed by the nacl/secretbox-sealed
// payload, the salt for scrypt taken from the tenant id itself so no
// separate salt column is needed.
func decryptEntropy(sealed []byte, passphrase, tenantID string) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, lnerrors.New(lnerrors.KindConfiguration, "entropy blob too short for tenant %s", tenantID)
	}
	salt := sha256.Sum256([]byte(tenantID))
	key, err := wrappingKey(passphrase, salt[:])
	if err != nil {
		return nil, err
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, key)
	if !ok {
		return nil, lnerrors.Unauthenticated("entropy decryption failed for tenant %s: wrong passphrase", tenantID)
	}
	return plain, nil
}

// encryptEntropy seals a freshly generated entropy blob for storage,
// inverse of decryptEntropy.
func encryptEntropy(plain []byte, passphrase, tenantID string, nonce [24]byte) ([]byte, error) {
	salt := sha256.Sum256([]byte(tenantID))
	key, err := wrappingKey(passphrase, salt[:])
	if err != nil {
		return nil, err
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, key)
	return sealed, nil
}

// masterKey derives the BIP32 master extended private key for a tenant's
// seed under the given chain params.
func masterKey(seed []byte, params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "derive master key")
	}
	return master, nil
}

// coinType returns BIP44's registered coin type for the chain params: 0
// for mainnet, 1 for every testing network, matching spec §4.8's "coin =
// 0 for mainnet else 1".
func coinType(params *chaincfg.Params) uint32 {
	if params.Name == chaincfg.MainNetParams.Name {
		return 0
	}
	return 1
}

// descriptorKeys derives the BIP84 account `m/84'/coin'/0'` and its two
// external/internal child keys, used to build the hdKeychainDescriptor.
func descriptorKeys(master *hdkeychain.ExtendedKey, params *chaincfg.Params) (*hdKeychainDescriptor, error) {
	const hardened = hdkeychain.HardenedKeyStart

	purpose, err := master.Derive(hardened + 84)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "derive purpose")
	}
	coin, err := purpose.Derive(hardened + coinType(params))
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "derive coin type")
	}
	account, err := coin.Derive(hardened + 0)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "derive account")
	}
	external, err := account.Derive(externalBranch)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "derive external branch")
	}
	change, err := account.Derive(changeBranch)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "derive change branch")
	}

	return &hdKeychainDescriptor{external: external, internal: change}, nil
}

// hdKeychainDescriptor implements walletstore.Descriptor over a BIP84
// account's external/internal branch keys.
type hdKeychainDescriptor struct {
	external *hdkeychain.ExtendedKey
	internal *hdkeychain.ExtendedKey
}

func (d *hdKeychainDescriptor) branch(keychain database.Keychain) *hdkeychain.ExtendedKey {
	if keychain == database.KeychainInternal {
		return d.internal
	}
	return d.external
}

// DeriveScript derives the P2WPKH output script for a keychain/child.
func (d *hdKeychainDescriptor) DeriveScript(keychain database.Keychain, index int64) ([]byte, error) {
	child, err := d.branch(keychain).Derive(uint32(index))
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "derive child %d", index)
	}
	pubKey, err := child.ECPubKey()
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "extract child pubkey")
	}
	return p2wpkhScript(pubKey.SerializeCompressed())
}

// Checksum identifies this descriptor's derivation path for drift
// detection across restarts.
func (d *hdKeychainDescriptor) Checksum() string {
	pub, err := d.external.Neuter()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256([]byte(pub.String()))
	return string(sum[:8])
}

func p2wpkhScript(compressedPubKey []byte) ([]byte, error) {
	hash160 := btcutil.Hash160(compressedPubKey)
	script := make([]byte, 0, 22)
	script = append(script, 0x00, 0x14) // OP_0, push 20 bytes
	script = append(script, hash160...)
	return script, nil
}
