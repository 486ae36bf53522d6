package tenant

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// GenerateEntropy creates fresh random secret and cross-node-secret
// material for a new tenant and seals both under the host passphrase,
// ready for database.DB.CreateEntropy. Called once, by AdminService,
// before any Node exists for the tenant.
func GenerateEntropy(passphrase, tenantID string) (*database.Entropy, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "generate entropy for tenant %s", tenantID)
	}
	crossNodeSecret := make([]byte, 32)
	if _, err := rand.Read(crossNodeSecret); err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "generate cross-node entropy for tenant %s", tenantID)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "generate nonce for tenant %s", tenantID)
	}
	sealedSecret, err := encryptEntropy(secret, passphrase, tenantID, nonce)
	if err != nil {
		return nil, err
	}

	var crossNonce [24]byte
	if _, err := rand.Read(crossNonce[:]); err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "generate cross nonce for tenant %s", tenantID)
	}
	sealedCross, err := encryptEntropy(crossNodeSecret, passphrase, tenantID+"/cross", crossNonce)
	if err != nil {
		return nil, err
	}

	return &database.Entropy{
		TenantID:                 tenantID,
		EncryptedSecret:          sealedSecret,
		EncryptedCrossNodeSecret: sealedCross,
	}, nil
}

// DeriveIdentity decrypts a tenant's sealed entropy and derives both its
// node identity pubkey and its raw 32-byte node secret, without
// constructing a full Node. AdminService calls this once at CreateNode
// time to fill in Tenant.Pubkey and to mint the tenant's first macaroon,
// using exactly the same root key Node.MacaroonRootKey returns once the
// tenant starts.
func DeriveIdentity(entropy *database.Entropy, passphrase, tenantID string, params *chaincfg.Params) (pubkeyHex string, nodeSecret []byte, err error) {
	seed, err := decryptEntropy(entropy.EncryptedSecret, passphrase, tenantID)
	if err != nil {
		return "", nil, err
	}
	master, err := masterKey(seed, params)
	if err != nil {
		return "", nil, err
	}
	priv, err := master.ECPrivKey()
	if err != nil {
		return "", nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "extract node secret for tenant %s", tenantID)
	}
	pubkey := priv.PubKey().SerializeCompressed()
	return hex.EncodeToString(pubkey), priv.Serialize(), nil
}
