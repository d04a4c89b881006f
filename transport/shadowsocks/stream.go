// Copyright 2020 Jigsaw Operations LLC
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
	"crypto/cipher"
	"io"
)

// Cipher name constants, as registered in cipher.go's supportedAEADs.
const (
	CHACHA20IETFPOLY1305 = "chacha20-ietf-poly1305"
	AES256GCM            = "aes-256-gcm"
	AES192GCM            = "aes-192-gcm"
	AES128GCM            = "aes-128-gcm"
)

// EncryptionKey is the per-connection Shadowsocks key: a Cipher plus
// the master secret it was derived from, matching how NewCipher already
// stores them together.
type EncryptionKey = Cipher

// NewEncryptionKey derives an EncryptionKey from cipherName and a
// password, per https://shadowsocks.org/en/spec/AEAD-Ciphers.html.
func NewEncryptionKey(cipherName, password string) (*EncryptionKey, error) {
	return NewCipher(cipherName, password)
}

// payloadSizeMask is the maximum size of a Shadowsocks TCP chunk
// payload: the length field is 14 bits (the top two bits are reserved
// at zero), per the AEAD-Ciphers.html TCP framing.
const payloadSizeMask = 0x3FFF

// incrementNonce increments nonce as a little-endian counter, carrying
// into subsequent bytes, the same counter-nonce scheme the reference
// shadowsocks-go AEAD implementations use (chunk N uses nonce value N).
func incrementNonce(nonce []byte) {
	for i := range nonce {
		nonce[i]++
		if nonce[i] != 0 {
			return
		}
	}
}

// Writer encrypts and frames a Shadowsocks TCP stream onto the
// underlying io.Writer: one random salt, then a sequence of
// length-prefixed, independently-sealed chunks, each authenticated
// with an incrementing nonce, per the AEAD-Ciphers.html TCP framing.
type Writer struct {
	writer        io.Writer
	ssCipher      *EncryptionKey
	saltGenerator SaltGenerator
	aead          cipher.AEAD
	nonce         []byte
	lazyBuf       []byte
}

// NewWriter creates a Writer that encrypts what is written to it with
// ssCipher and writes the ciphertext to writer. An optional
// saltGenerator overrides the default RandomSaltGenerator, matching
// sswrap.StreamConnWrapper's optional SaltGenerator field.
func NewWriter(writer io.Writer, ssCipher *EncryptionKey, saltGenerator ...SaltGenerator) *Writer {
	w := &Writer{writer: writer, ssCipher: ssCipher, saltGenerator: RandomSaltGenerator}
	if len(saltGenerator) > 0 && saltGenerator[0] != nil {
		w.saltGenerator = saltGenerator[0]
	}
	return w
}

// SetSaltGenerator overrides the SaltGenerator used for the connection
// salt this Writer has not yet sent.
func (w *Writer) SetSaltGenerator(sg SaltGenerator) {
	w.saltGenerator = sg
}

func (w *Writer) init() error {
	if w.aead != nil {
		return nil
	}
	salt := make([]byte, w.ssCipher.SaltSize())
	if err := w.saltGenerator.GetSalt(salt); err != nil {
		return err
	}
	aead, err := w.ssCipher.NewAEAD(salt)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(salt); err != nil {
		return err
	}
	w.aead = aead
	w.nonce = make([]byte, aead.NonceSize())
	return nil
}

// LazyWrite buffers b without writing anything to the wire yet,
// letting the caller coalesce a small header (e.g. the trojan-style
// target address) with the first real Write into a single chunk.
func (w *Writer) LazyWrite(b []byte) (int, error) {
	w.lazyBuf = append(w.lazyBuf, b...)
	return len(b), nil
}

// Flush forces out any data buffered by LazyWrite in chunks of its own,
// each at most payloadSizeMask bytes.
func (w *Writer) Flush() error {
	if len(w.lazyBuf) == 0 {
		return nil
	}
	buf := w.lazyBuf
	w.lazyBuf = nil
	return w.writeChunks(buf)
}

// Write implements io.Writer: it sends any lazily-buffered header first,
// then splits b into at most payloadSizeMask-sized chunks.
func (w *Writer) Write(b []byte) (int, error) {
	if len(w.lazyBuf) > 0 {
		buf := append(w.lazyBuf, b...)
		w.lazyBuf = nil
		if err := w.writeChunks(buf); err != nil {
			return 0, err
		}
		return len(b), nil
	}
	if err := w.writeChunks(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// ReadFrom implements io.ReaderFrom, writing each Read from r as its own
// chunk (after any lazily-buffered header), so a blocked r does not
// delay data already flushed ahead of it.
func (w *Writer) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, payloadSizeMask)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

func (w *Writer) writeChunks(b []byte) error {
	for len(b) > 0 {
		n := len(b)
		if n > payloadSizeMask {
			n = payloadSizeMask
		}
		if err := w.writeChunk(b[:n]); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (w *Writer) writeChunk(payload []byte) error {
	if err := w.init(); err != nil {
		return err
	}

	lengthBuf := [2]byte{byte(len(payload) >> 8), byte(len(payload))}
	sealedLen := w.aead.Seal(nil, w.nonce, lengthBuf[:], nil)
	incrementNonce(w.nonce)
	if _, err := w.writer.Write(sealedLen); err != nil {
		return err
	}

	sealedPayload := w.aead.Seal(nil, w.nonce, payload, nil)
	incrementNonce(w.nonce)
	_, err := w.writer.Write(sealedPayload)
	return err
}

// Reader decrypts a Shadowsocks TCP stream read off the underlying
// io.Reader, the inverse of Writer.
type Reader struct {
	reader   io.Reader
	ssCipher *EncryptionKey
	aead     cipher.AEAD
	nonce    []byte
	buf      []byte
}

// NewReader creates a Reader that reads Shadowsocks-framed ciphertext
// from reader and decrypts it with ssCipher.
func NewReader(reader io.Reader, ssCipher *EncryptionKey) *Reader {
	return &Reader{reader: reader, ssCipher: ssCipher}
}

func (r *Reader) init() error {
	if r.aead != nil {
		return nil
	}
	salt := make([]byte, r.ssCipher.SaltSize())
	if _, err := io.ReadFull(r.reader, salt); err != nil {
		return err
	}
	aead, err := r.ssCipher.NewAEAD(salt)
	if err != nil {
		return err
	}
	r.aead = aead
	r.nonce = make([]byte, aead.NonceSize())
	return nil
}

// Read implements io.Reader, decrypting one chunk at a time and
// returning as much of it as fits in b, buffering any remainder for
// the next call.
func (r *Reader) Read(b []byte) (int, error) {
	if len(r.buf) == 0 {
		chunk, err := r.readChunk()
		if err != nil {
			return 0, err
		}
		r.buf = chunk
	}
	n := copy(b, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// WriteTo implements io.WriterTo by decrypting chunks and writing their
// plaintext directly to w, avoiding a copy through Read's b buffer.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		if len(r.buf) > 0 {
			n, err := w.Write(r.buf)
			total += int64(n)
			r.buf = r.buf[n:]
			if err != nil {
				return total, err
			}
			continue
		}
		chunk, err := r.readChunk()
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		r.buf = chunk
	}
}

func (r *Reader) readChunk() ([]byte, error) {
	if err := r.init(); err != nil {
		return nil, err
	}

	sealedLen := make([]byte, 2+r.aead.Overhead())
	if _, err := io.ReadFull(r.reader, sealedLen); err != nil {
		return nil, err
	}
	lengthBuf, err := r.aead.Open(sealedLen[:0], r.nonce, sealedLen, nil)
	if err != nil {
		return nil, err
	}
	incrementNonce(r.nonce)
	length := int(lengthBuf[0])<<8 | int(lengthBuf[1])

	sealedPayload := make([]byte, length+r.aead.Overhead())
	if _, err := io.ReadFull(r.reader, sealedPayload); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	payload, err := r.aead.Open(sealedPayload[:0], r.nonce, sealedPayload, nil)
	if err != nil {
		return nil, err
	}
	incrementNonce(r.nonce)
	return payload, nil
}
