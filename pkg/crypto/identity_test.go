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

package crypto

import (
	"math/big"
	"strings"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/nxm-rs/vertex/pkg/swarm"
)

func testNonce(b byte) [32]byte {
	var n [32]byte
	n[0] = b
	return n
}

func TestOverlayDeterministic(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	ethAddr := gethcrypto.PubkeyToAddress(key.PublicKey)
	nonce := testNonce(7)

	a := DeriveOverlay(ethAddr, 10, nonce)
	b := DeriveOverlay(ethAddr, 10, nonce)
	require.True(t, a.Equal(b))
}

func TestOverlayChangesWithNonceNotEthAddress(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	ethAddr := gethcrypto.PubkeyToAddress(key.PublicKey)

	id1, err := NewIdentity(key, testNonce(1), 10, true, "")
	require.NoError(t, err)
	id2, err := NewIdentity(key, testNonce(2), 10, true, "")
	require.NoError(t, err)

	require.False(t, id1.Overlay().Equal(id2.Overlay()))
	require.Equal(t, ethAddr, id1.EthereumAddress())
	require.Equal(t, ethAddr, id2.EthereumAddress())
}

func TestSignatureOverlayCoupling(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	id, err := NewIdentity(key, testNonce(3), 10, true, "hi")
	require.NoError(t, err)

	maBytes := []byte("/ip4/127.0.0.1/tcp/1634")
	sig, err := id.SignHandshakeMessage(maBytes, id.Overlay())
	require.NoError(t, err)

	digest := swarm.HandshakeDigest(maBytes, id.Overlay(), 10)
	recovered, err := RecoverEIP191(digest, sig)
	require.NoError(t, err)
	require.Equal(t, id.EthereumAddress(), recovered)

	recomputed := DeriveOverlay(recovered, 10, testNonce(3))
	require.True(t, recomputed.Equal(id.Overlay()))
}

func TestWelcomeLengthBoundary(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	exactly140 := strings.Repeat("a", 140)
	_, err = NewIdentity(key, testNonce(1), 10, true, exactly140)
	require.NoError(t, err)

	exactly141 := strings.Repeat("a", 141)
	_, err = NewIdentity(key, testNonce(1), 10, true, exactly141)
	require.ErrorIs(t, err, ErrWelcomeTooLong)
}

func TestChequeSignRecoverRoundTrip(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := gethcrypto.PubkeyToAddress(key.PublicKey)

	chequebook := gethcrypto.PubkeyToAddress(key.PublicKey) // placeholder address
	beneficiary := chequebook
	payout := big.NewInt(1_000_000)

	sig, err := SignCheque(key, chequebook, beneficiary, payout, 1)
	require.NoError(t, err)

	recovered, err := RecoverChequeSigner(chequebook, beneficiary, payout, 1, sig)
	require.NoError(t, err)
	require.Equal(t, signer, recovered)
}
