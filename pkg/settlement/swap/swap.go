// Copyright 2024 The Vertex Authors
// This file is part of the Vertex library.
//
// The Vertex library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The Vertex library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the Vertex library. If not, see <http://www.gnu.org/licenses/>.

// Package swap is the chequebook settlement provider: cheque issuance on
// debt, signed over the configured chain ID via EIP-712. It is grounded
// directly on the teacher's swap.Swap (cumulative-payout bookkeeping,
// createCheque/sendCheque, per-peer state persisted in a state.Store),
// generalized from the teacher's uint64 honey/serial cheque fields to the
// {chequebook, beneficiary, cumulative_payout} record spec.md defines and
// from the teacher's on-chain cash/submit flow, which is out of scope here.
package swap

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nxm-rs/vertex/pkg/accounting"
	"github.com/nxm-rs/vertex/pkg/crypto"
	"github.com/nxm-rs/vertex/pkg/statestore"
	"github.com/nxm-rs/vertex/pkg/swarm"
	"github.com/nxm-rs/vertex/pkg/swarmerr"
	"github.com/nxm-rs/vertex/pkg/swarmlog"
)

var logger = swarmlog.New("settlement/swap")

const payoutKeyPrefix = "swap_cumulative_payout_"

// Cheque is the {chequebook, beneficiary, cumulative_payout} record signed
// under EIP-712, per spec.md §3/§6.
type Cheque struct {
	Chequebook       common.Address
	Beneficiary      common.Address
	CumulativePayout *big.Int
	Signature        []byte
}

// payoutRecord is the on-disk cumulative payout for one peer, stored as a
// decimal string to avoid precision loss through JSON's float64 path.
type payoutRecord struct {
	CumulativePayout string `json:"cumulative_payout"`
}

// Provider implements accounting.Provider by issuing cheques once a peer's
// debt crosses the payment threshold.
type Provider struct {
	store            statestore.Store
	key              *ecdsa.PrivateKey
	chequebook       common.Address
	chainID          int64
	paymentThreshold int64
}

// New constructs a chequebook Provider. key signs outgoing cheques;
// chequebook is this node's chequebook contract address (the cheque
// issuer); chainID fixes the EIP-712 domain.
func New(store statestore.Store, key *ecdsa.PrivateKey, chequebook common.Address, chainID, paymentThreshold int64) *Provider {
	return &Provider{
		store:            store,
		key:              key,
		chequebook:       chequebook,
		chainID:          chainID,
		paymentThreshold: paymentThreshold,
	}
}

func (p *Provider) Name() string { return "swap" }

// SupportedMode reports the chequebook provider as a full-settlement-only
// addition on top of pseudosettle.
func (p *Provider) SupportedMode() accounting.Mode { return accounting.ModeFull }

// PreAllow never grants credit directly; chequebook credit only arrives via
// Settle (on debt) or ReceiveCheque (on a peer's own settlement).
func (p *Provider) PreAllow(swarm.Address, *accounting.PeerState) int64 {
	return 0
}

func (p *Provider) payoutKey(peer swarm.Address) string {
	return payoutKeyPrefix + peer.String()
}

func (p *Provider) loadPayout(peer swarm.Address) *big.Int {
	var rec payoutRecord
	if err := p.store.Get(p.payoutKey(peer), &rec); err != nil {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(rec.CumulativePayout, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func (p *Provider) savePayout(peer swarm.Address, payout *big.Int) error {
	return p.store.Put(p.payoutKey(peer), payoutRecord{CumulativePayout: payout.String()})
}

// Settle issues a cheque when balance <= -payment_threshold: the per-peer
// cumulative_payout is incremented by the owed amount and a new cheque is
// signed over it. The returned delta credits the balance by the same
// amount, bringing it to zero. Cashing the cheque on-chain is out of scope.
func (p *Provider) Settle(peer swarm.Address, state *accounting.PeerState) (int64, error) {
	state.Lock()
	balance := state.Balance
	state.Unlock()

	if balance > -p.paymentThreshold {
		return 0, nil
	}

	owed := -balance
	beneficiary, err := peerBeneficiary(peer)
	if err != nil {
		return 0, err
	}

	payout := p.loadPayout(peer)
	payout = new(big.Int).Add(payout, big.NewInt(owed))

	sig, err := crypto.SignCheque(p.key, p.chequebook, beneficiary, payout, p.chainID)
	if err != nil {
		return 0, swarmerr.Wrap(swarmerr.SettlementRejected, err, "swap: signing cheque for peer %s", peer)
	}
	cheque := Cheque{Chequebook: p.chequebook, Beneficiary: beneficiary, CumulativePayout: payout, Signature: sig}
	logger.Info("issuing cheque", "peer", peer, "cumulative_payout", cheque.CumulativePayout, "beneficiary", cheque.Beneficiary)

	if err := p.savePayout(peer, payout); err != nil {
		return 0, swarmerr.Wrap(swarmerr.Storage, err, "swap: persisting cumulative payout for peer %s", peer)
	}

	return owed, nil
}

// peerBeneficiary derives a placeholder beneficiary address from the peer's
// overlay. In the full system the beneficiary is learned during handshake
// alongside the peer's Ethereum address; wiring that channel through is
// C12/C9 integration work tracked in DESIGN.md.
func peerBeneficiary(peer swarm.Address) (common.Address, error) {
	b := peer.Bytes()
	var addr common.Address
	copy(addr[:], b[len(b)-len(addr):])
	return addr, nil
}

// ReceiveCheque verifies a cheque received from a debtor peer against the
// purported chequebook owner, then returns the balance delta to credit
// (the increase in cumulative_payout since the last cheque recorded for
// this peer).
func ReceiveCheque(store statestore.Store, peer swarm.Address, chequebookOwner common.Address, cheque Cheque, chainID int64) (int64, error) {
	recovered, err := crypto.RecoverChequeSigner(cheque.Chequebook, cheque.Beneficiary, cheque.CumulativePayout, chainID, cheque.Signature)
	if err != nil {
		return 0, swarmerr.Wrap(swarmerr.InvalidSignature, err, "swap: recovering cheque signer")
	}
	if recovered != chequebookOwner {
		return 0, swarmerr.New(swarmerr.InvalidSignature, "swap: cheque signer %s does not match chequebook owner %s", recovered, chequebookOwner)
	}

	key := payoutKeyPrefix + "received_" + peer.String()
	var rec payoutRecord
	previous := big.NewInt(0)
	if err := store.Get(key, &rec); err == nil {
		if v, ok := new(big.Int).SetString(rec.CumulativePayout, 10); ok {
			previous = v
		}
	}

	if cheque.CumulativePayout.Cmp(previous) <= 0 {
		return 0, swarmerr.New(swarmerr.SettlementRejected, "swap: cumulative payout did not increase for peer %s", peer)
	}

	delta := new(big.Int).Sub(cheque.CumulativePayout, previous)
	if err := store.Put(key, payoutRecord{CumulativePayout: cheque.CumulativePayout.String()}); err != nil {
		return 0, swarmerr.Wrap(swarmerr.Storage, err, "swap: persisting received cumulative payout for peer %s", peer)
	}

	return delta.Int64(), nil
}
