// Copyright 2023 Jigsaw Operations LLC
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
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
)

const testCipherOverhead = 16

func TestCipherReaderAuthenticationFailure(t *testing.T) {
	key, err := NewEncryptionKey(CHACHA20IETFPOLY1305, "test secret")
	require.NoError(t, err)

	clientReader := strings.NewReader("Fails Authentication")
	reader := NewReader(clientReader, key)
	_, err = reader.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestCipherReaderUnexpectedEOF(t *testing.T) {
	key, err := NewEncryptionKey(CHACHA20IETFPOLY1305, "test secret")
	require.NoError(t, err)

	clientReader := strings.NewReader("short")
	reader := NewReader(clientReader, key)
	_, err = reader.Read(make([]byte, 10))
	require.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestCipherReaderEOF(t *testing.T) {
	key, err := NewEncryptionKey(CHACHA20IETFPOLY1305, "test secret")
	require.NoError(t, err)

	reader := NewReader(strings.NewReader(""), key)
	_, err = reader.Read(make([]byte, 10))
	require.Equal(t, io.EOF, err)
	_, err = reader.Read([]byte{})
	require.Equal(t, io.EOF, err)
}

func encryptBlocks(key *EncryptionKey, salt []byte, blocks [][]byte) (io.Reader, error) {
	var ssText bytes.Buffer
	aead, err := key.NewAEAD(salt)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	ssText.Write(salt)
	buf := make([]byte, 2+100+testCipherOverhead)
	var expectedCipherSize int
	nonce := make([]byte, chacha20poly1305.NonceSize)
	for _, block := range blocks {
		ssText.Write(aead.Seal(buf[:0], nonce, []byte{0, byte(len(block))}, nil))
		nonce[0]++
		expectedCipherSize += 2 + testCipherOverhead
		ssText.Write(aead.Seal(buf[:0], nonce, block, nil))
		nonce[0]++
		expectedCipherSize += len(block) + testCipherOverhead
	}
	if ssText.Len() != key.SaltSize()+expectedCipherSize {
		return nil, fmt.Errorf("ciphertext has size %v, expected %v", ssText.Len(), key.SaltSize()+expectedCipherSize)
	}
	return &ssText, nil
}

func TestCipherReaderGoodReads(t *testing.T) {
	key, err := NewEncryptionKey(CHACHA20IETFPOLY1305, "test secret")
	require.NoError(t, err)

	salt := []byte("12345678901234567890123456789012")
	require.Equal(t, key.SaltSize(), len(salt))
	ssText, err := encryptBlocks(key, salt, [][]byte{
		[]byte("[First Block]"),
		[]byte(""),
		[]byte("[Third Block]"),
	})
	require.NoError(t, err)

	reader := NewReader(ssText, key)
	plainText := make([]byte, len("[First Block]")+len("[Third Block]"))
	n, err := io.ReadFull(reader, plainText)
	require.NoError(t, err, "got %v bytes", n)
	_, err = reader.Read([]byte{})
	require.Equal(t, io.EOF, err)
	_, err = reader.Read(make([]byte, 1))
	require.Equal(t, io.EOF, err)
}

func TestCipherReaderClose(t *testing.T) {
	key, err := NewEncryptionKey(CHACHA20IETFPOLY1305, "test secret")
	require.NoError(t, err)

	pipeReader, pipeWriter := io.Pipe()
	reader := NewReader(pipeReader, key)
	result := make(chan error)
	go func() {
		_, err := reader.Read(make([]byte, 10))
		result <- err
	}()
	pipeWriter.Close()
	require.Equal(t, io.EOF, <-result)
}

func TestCipherReaderCloseError(t *testing.T) {
	key, err := NewEncryptionKey(CHACHA20IETFPOLY1305, "test secret")
	require.NoError(t, err)

	pipeReader, pipeWriter := io.Pipe()
	reader := NewReader(pipeReader, key)
	result := make(chan error)
	go func() {
		_, err := reader.Read(make([]byte, 10))
		result <- err
	}()
	pipeWriter.CloseWithError(fmt.Errorf("xx!!ERROR!!xx"))
	err = <-result
	require.ErrorContains(t, err, "xx!!ERROR!!xx")
}

func TestEndToEnd(t *testing.T) {
	key, err := NewEncryptionKey(CHACHA20IETFPOLY1305, "test secret")
	require.NoError(t, err)

	connReader, connWriter := io.Pipe()
	writer := NewWriter(connWriter, key)
	reader := NewReader(connReader, key)
	expected := "Test"
	wg := sync.WaitGroup{}
	var writeErr error
	wg.Add(1)
	go func() {
		defer connWriter.Close()
		defer wg.Done()
		_, writeErr = writer.Write([]byte(expected))
	}()
	var output bytes.Buffer
	_, readErr := reader.WriteTo(&output)
	wg.Wait()
	require.NoError(t, writeErr)
	require.NoError(t, readErr)
	require.Equal(t, expected, output.String())
}

func TestLazyWriteFlush(t *testing.T) {
	key, err := NewEncryptionKey(CHACHA20IETFPOLY1305, "test secret")
	require.NoError(t, err)
	buf := new(bytes.Buffer)
	writer := NewWriter(buf, key)
	header := []byte{1, 2, 3, 4}
	n, err := writer.LazyWrite(header)
	require.NoError(t, err)
	require.Equal(t, len(header), n)
	require.Equal(t, 0, buf.Len(), "LazyWrite isn't lazy")

	require.NoError(t, writer.Flush())
	len1 := buf.Len()
	require.Greater(t, len1, len(header))

	body := []byte{5, 6, 7}
	n, err = writer.Write(body)
	require.NoError(t, err)
	require.Equal(t, len(body), n)
	require.Greater(t, buf.Len(), len1)

	reader := NewReader(buf, key)
	decrypted := make([]byte, len(header)+len(body))
	n, err = reader.Read(decrypted)
	require.NoError(t, err)
	require.Equal(t, len(header), n)
	require.Equal(t, header, decrypted[:n])

	n, err = reader.Read(decrypted[n:])
	require.NoError(t, err)
	require.Equal(t, len(body), n)
	require.Equal(t, body, decrypted[len(header):])
}

func TestLazyWriteConcat(t *testing.T) {
	key, err := NewEncryptionKey(CHACHA20IETFPOLY1305, "test secret")
	require.NoError(t, err)
	buf := new(bytes.Buffer)
	writer := NewWriter(buf, key)
	header := []byte{1, 2, 3, 4}
	n, err := writer.LazyWrite(header)
	require.NoError(t, err)
	require.Equal(t, len(header), n)
	require.Equal(t, 0, buf.Len())

	body := []byte{5, 6, 7}
	n, err = writer.Write(body)
	require.NoError(t, err)
	require.Equal(t, len(body), n)
	len1 := buf.Len()
	require.Greater(t, len1, len(body)+len(header))

	require.NoError(t, writer.Flush())
	require.Equal(t, len1, buf.Len(), "Flush after write should have no effect")

	reader := NewReader(buf, key)
	decrypted := make([]byte, len(body)+len(header))
	n, err = reader.Read(decrypted)
	require.NoError(t, err)
	require.Equal(t, len(decrypted), n)
	require.True(t, bytes.Equal(decrypted[:len(header)], header))
	require.True(t, bytes.Equal(decrypted[len(header):], body))
}

func TestLazyWriteOversize(t *testing.T) {
	key, err := NewEncryptionKey(CHACHA20IETFPOLY1305, "test secret")
	require.NoError(t, err)
	buf := new(bytes.Buffer)
	writer := NewWriter(buf, key)
	const n = 25000 // more than one chunk, less than two
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	written, err := writer.LazyWrite(data)
	require.NoError(t, err)
	require.Equal(t, len(data), written)
	require.Less(t, buf.Len(), n)

	require.NoError(t, writer.Flush())
	require.Greater(t, buf.Len(), n)

	reader := NewReader(buf, key)
	decrypted, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, n, len(decrypted))
	require.True(t, bytes.Equal(decrypted, data))
}

func TestLazyWriteConcurrentFlush(t *testing.T) {
	key, err := NewEncryptionKey(CHACHA20IETFPOLY1305, "test secret")
	require.NoError(t, err)
	buf := new(bytes.Buffer)
	writer := NewWriter(buf, key)
	header := []byte{1, 2, 3, 4}
	n, err := writer.LazyWrite(header)
	require.NoError(t, err)
	require.Equal(t, len(header), n)
	require.Equal(t, 0, buf.Len())

	body := []byte{5, 6, 7}
	r, w := io.Pipe()
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		n, err := writer.ReadFrom(r)
		require.NoError(t, err)
		require.Equal(t, int64(len(body)), n)
	}()

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, writer.Flush())
	len1 := buf.Len()
	require.Greater(t, len1, 0)

	n, err = w.Write(body)
	require.NoError(t, err)
	require.Equal(t, len(body), n)

	w.Close()
	wg.Wait()
	require.Greater(t, buf.Len(), len1)

	reader := NewReader(buf, key)
	decrypted := make([]byte, len(header)+len(body))
	n, err = reader.Read(decrypted)
	require.NoError(t, err)
	require.Equal(t, len(header), n)
	require.Equal(t, header, decrypted[:len(header)])

	n, err = reader.Read(decrypted[len(header):])
	require.NoError(t, err)
	require.Equal(t, len(body), n)
	require.Equal(t, body, decrypted[len(header):])
}
