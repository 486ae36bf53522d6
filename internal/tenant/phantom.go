package tenant

import (
	"crypto/sha256"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// PhantomGroup is the set of tenant nodes sharing one phantom destination
// key, per original_source/senseicore/node.rs: the key is derived once
// from the sorted set of member pubkeys plus one cross-node secret that
// every member holds, so any member independently derives the same key
// without a coordinator.
type PhantomGroup struct {
	Members []*Node
}

// phantomKey derives the group's shared destination private key. Every
// member must hold the same crossNodeSecret (distributed at group
// creation, out of this package's scope) for this to converge to the
// same key on each member's node.
func phantomKey(memberPubkeys []string, crossNodeSecret [32]byte) (*btcec.PrivateKey, error) {
	sorted := append([]string(nil), memberPubkeys...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, pk := range sorted {
		h.Write([]byte(pk))
	}
	h.Write(crossNodeSecret[:])
	digest := h.Sum(nil)

	priv, _ := btcec.PrivKeyFromBytes(digest)
	if priv == nil {
		return nil, lnerrors.New(lnerrors.KindConfiguration, "derive phantom key: invalid scalar")
	}
	return priv, nil
}

// GetPhantomInvoice builds a BOLT-11 invoice payable to the group's
// shared phantom key, route-hinted through every member so a payer can
// reach whichever member ends up claiming the payment. The invoice
// itself is encoded by this node's own channel manager, since building
// the BOLT-11 wire format is the external protocol library's job; this
// node only supplies the non-owned destination and the gathered hints.
func (n *Node) GetPhantomInvoice(group PhantomGroup, amountMsat int64, memo string, expirySeconds int64) (string, [32]byte, error) {
	if len(group.Members) == 0 {
		return "", [32]byte{}, lnerrors.New(lnerrors.KindPrecondition, "phantom group has no members")
	}

	pubkeys := make([]string, 0, len(group.Members))
	for _, m := range group.Members {
		pubkeys = append(pubkeys, m.tenant.Pubkey)
	}
	priv, err := phantomKey(pubkeys, n.keys.crossNodeSecret)
	if err != nil {
		return "", [32]byte{}, err
	}
	var destination [33]byte
	copy(destination[:], priv.PubKey().SerializeCompressed())

	hints := make([]RouteHint, 0, len(group.Members))
	for _, m := range group.Members {
		hint, err := m.channelMgr.RouteHint()
		if err != nil {
			return "", [32]byte{}, lnerrors.Wrap(lnerrors.KindChainFatal, err, "route hint from member %s", m.tenant.Pubkey)
		}
		hints = append(hints, hint)
	}

	invoice, hash, err := n.channelMgr.CreateInvoiceForDestination(destination, amountMsat, memo, expirySeconds, hints)
	if err != nil {
		return "", [32]byte{}, lnerrors.Wrap(lnerrors.KindChainFatal, err, "encode phantom invoice")
	}

	for _, m := range group.Members {
		if m == n {
			continue
		}
		if registrar, ok := m.channelMgr.(interface {
			RegisterPhantomHash(hash [32]byte, key *btcec.PrivateKey) error
		}); ok {
			if err := registrar.RegisterPhantomHash(hash, priv); err != nil {
				return "", [32]byte{}, lnerrors.Wrap(lnerrors.KindChainFatal, err, "register phantom hash on member %s", m.tenant.Pubkey)
			}
		}
	}

	return invoice, hash, nil
}
