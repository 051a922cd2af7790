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

package swap

import (
	"crypto/rand"
	"math/big"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/nxm-rs/vertex/pkg/accounting"
	"github.com/nxm-rs/vertex/pkg/crypto"
	"github.com/nxm-rs/vertex/pkg/statestore"
	"github.com/nxm-rs/vertex/pkg/swarm"
)

func randomPeer(t *testing.T) swarm.Address {
	t.Helper()
	var b [swarm.AddressLength]byte
	_, err := rand.Read(b[:])
	require.NoError(t, err)
	addr, err := swarm.NewAddress(b[:])
	require.NoError(t, err)
	return addr
}

func TestSettleNoOpAboveThreshold(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	p := New(statestore.NewMemory(), key, gethcrypto.PubkeyToAddress(key.PublicKey), 1, 13_500_000)

	delta, err := p.Settle(randomPeer(t), &accounting.PeerState{Balance: -100})
	require.NoError(t, err)
	require.Zero(t, delta)
}

func TestSettleIssuesChequeBelowThreshold(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	chequebook := gethcrypto.PubkeyToAddress(key.PublicKey)
	p := New(statestore.NewMemory(), key, chequebook, 1, 13_500_000)
	peer := randomPeer(t)

	delta, err := p.Settle(peer, &accounting.PeerState{Balance: -14_000_000})
	require.NoError(t, err)
	require.EqualValues(t, 14_000_000, delta)

	// cumulative payout accrues across repeated settlements.
	delta2, err := p.Settle(peer, &accounting.PeerState{Balance: -14_000_000})
	require.NoError(t, err)
	require.EqualValues(t, 14_000_000, delta2)
}

func TestReceiveChequeRejectsWrongSigner(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	chequebook := gethcrypto.PubkeyToAddress(key.PublicKey)
	beneficiary := gethcrypto.PubkeyToAddress(otherKey.PublicKey)
	payout := big.NewInt(1000)

	sig, err := crypto.SignCheque(otherKey, chequebook, beneficiary, payout, 1)
	require.NoError(t, err)

	cheque := Cheque{Chequebook: chequebook, Beneficiary: beneficiary, CumulativePayout: payout, Signature: sig}

	store := statestore.NewMemory()
	_, err = ReceiveCheque(store, randomPeer(t), gethcrypto.PubkeyToAddress(key.PublicKey), cheque, 1)
	require.Error(t, err)
}

func TestReceiveChequeCreditsIncreaseOnly(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	chequebook := gethcrypto.PubkeyToAddress(key.PublicKey)
	beneficiary := gethcrypto.PubkeyToAddress(key.PublicKey)
	owner := chequebook
	peer := randomPeer(t)
	store := statestore.NewMemory()

	payout1 := big.NewInt(1000)
	sig1, err := crypto.SignCheque(key, chequebook, beneficiary, payout1, 1)
	require.NoError(t, err)
	cheque1 := Cheque{Chequebook: chequebook, Beneficiary: beneficiary, CumulativePayout: payout1, Signature: sig1}

	delta1, err := ReceiveCheque(store, peer, owner, cheque1, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1000, delta1)

	payout2 := big.NewInt(2500)
	sig2, err := crypto.SignCheque(key, chequebook, beneficiary, payout2, 1)
	require.NoError(t, err)
	cheque2 := Cheque{Chequebook: chequebook, Beneficiary: beneficiary, CumulativePayout: payout2, Signature: sig2}

	delta2, err := ReceiveCheque(store, peer, owner, cheque2, 1)
	require.NoError(t, err)
	require.EqualValues(t, 1500, delta2)

	_, err = ReceiveCheque(store, peer, owner, cheque2, 1)
	require.Error(t, err, "replaying the same cheque must not credit again")
}
