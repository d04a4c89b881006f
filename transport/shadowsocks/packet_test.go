// Copyright 2022 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shadowsocks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPackThenUnpackRoundTrips(t *testing.T) {
	cipher, err := NewEncryptionKey(TestCipher, "test secret")
	require.NoError(t, err)
	plaintext := []byte("hello shadowsocks")
	dst := make([]byte, cipher.SaltSize()+len(plaintext)+cipher.TagSize())

	packet, err := Pack(dst, plaintext, cipher)
	require.NoError(t, err)

	got, err := Unpack(nil, packet, cipher)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestUnpackRejectsShortPacket(t *testing.T) {
	cipher, err := NewEncryptionKey(TestCipher, "test secret")
	require.NoError(t, err)
	_, err = Unpack(nil, []byte("short"), cipher)
	require.ErrorIs(t, err, ErrShortPacket)
}

// Microbenchmark for the performance of Shadowsocks UDP encryption.
func BenchmarkPack(b *testing.B) {
	b.StopTimer()
	b.ResetTimer()

	cipher, err := NewEncryptionKey(TestCipher, "test secret")
	require.NoError(b, err)
	MTU := 1500
	pkt := make([]byte, MTU)
	plaintextBuf := pkt[cipher.SaltSize() : len(pkt)-cipher.TagSize()]

	start := time.Now()
	b.StartTimer()
	for i := 0; i < b.N; i++ {
		Pack(pkt, plaintextBuf, cipher)
	}
	b.StopTimer()
	elapsed := time.Since(start)

	megabits := float64(8*len(plaintextBuf)*b.N) * 1e-6
	b.ReportMetric(megabits/(elapsed.Seconds()), "mbps")
}
