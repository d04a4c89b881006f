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

package sswrap

import (
	"context"
	"fmt"

	"github.com/outline-sdk-contrib/ostrich-gateway/transport"
	"github.com/outline-sdk-contrib/ostrich-gateway/transport/shadowsocks"
)

type StreamConnWrapper struct {
	// Key is the Shadowsocks cipher and secret used to encrypt the
	// connection. Required.
	Key *shadowsocks.EncryptionKey

	// SaltGenerator is used by Shadowsocks to generate the connection salts.
	// `SaltGenerator` can be `nil`, which defaults to [shadowsocks.RandomSaltGenerator].
	SaltGenerator shadowsocks.SaltGenerator
}

func (w *StreamConnWrapper) WrapConn(ctx context.Context, proxyConn transport.StreamConn) (transport.StreamConn, error) {
	if w.Key == nil {
		return nil, fmt.Errorf("StreamConnWrapper: Key is required")
	}
	ssw := shadowsocks.NewWriter(proxyConn, w.Key, w.SaltGenerator)
	ssr := shadowsocks.NewReader(proxyConn, w.Key)
	return transport.WrapConn(proxyConn, ssr, ssw), nil
}
