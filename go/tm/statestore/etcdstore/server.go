/*
Copyright 2026 The Tenantmove Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package etcdstore implements statestore.Conn with etcd as the backend.

Layout under the root path:

  - docs/<namespace>/<id>: the versioned documents. The document version
    is the etcd mod revision.
  - ns/<namespace>: marker keys, one per created namespace.
  - log/<timestamp>: the replication log, one record per committed
    mutation, keyed by the reserved logical timestamp (zero padded so
    lexical order is numeric order).
  - clock: the logical clock backing ReserveTimestamps.

Document mutations and their log records are written in one etcd
transaction guarded by a mod-revision compare, which provides both the
optimistic-concurrency conflict detection and the atomicity of the
document+log pair.
*/
package etcdstore

import (
	"crypto/tls"
	"crypto/x509"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.etcd.io/etcd/client/pkg/v3/tlsutil"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
)

var (
	clientCertPath string
	clientKeyPath  string
	serverCaPath   string
)

// RegisterFlags installs the etcd TLS flags on the given FlagSet.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&clientCertPath, "statestore_etcd_tls_cert", clientCertPath, "path to the client cert to use to connect to the etcd state store, requires statestore_etcd_tls_key, enables TLS")
	fs.StringVar(&clientKeyPath, "statestore_etcd_tls_key", clientKeyPath, "path to the client key to use to connect to the etcd state store, enables TLS")
	fs.StringVar(&serverCaPath, "statestore_etcd_tls_ca", serverCaPath, "path to the ca to use to validate the server cert when connecting to the etcd state store")
}

// Store is the implementation of statestore.Conn for etcd.
type Store struct {
	// cli is the v3 client.
	cli *clientv3.Client

	// root is the root path for this client.
	root string

	running chan struct{}
}

// Close implements statestore.Conn.
// It will nil out the client field, so any attempt to
// re-use this store will panic.
func (s *Store) Close() {
	close(s.running)
	s.cli.Close()
	s.cli = nil
}

func newTLSConfig(certPath, keyPath, caPath string) (*tls.Config, error) {
	var tlscfg *tls.Config
	// If TLS is enabled, attach TLS config info.
	if certPath != "" && keyPath != "" {
		var (
			cert *tls.Certificate
			cp   *x509.CertPool
			err  error
		)

		cert, err = tlsutil.NewCert(certPath, keyPath, nil)
		if err != nil {
			return nil, err
		}

		if caPath != "" {
			cp, err = tlsutil.NewCertPool([]string{caPath})
			if err != nil {
				return nil, err
			}
		}

		tlscfg = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			RootCAs:            cp,
			InsecureSkipVerify: false,
		}
		if cert != nil {
			tlscfg.Certificates = []tls.Certificate{*cert}
		}
	}
	return tlscfg, nil
}

// NewStoreWithOpts creates a new store with the provided TLS options.
func NewStoreWithOpts(serverAddr, root, certPath, keyPath, caPath string) (*Store, error) {
	config := clientv3.Config{
		Endpoints:   strings.Split(serverAddr, ","),
		DialTimeout: 5 * time.Second,
		DialOptions: []grpc.DialOption{grpc.WithBlock()},
	}

	tlscfg, err := newTLSConfig(certPath, keyPath, caPath)
	if err != nil {
		return nil, err
	}

	config.TLS = tlscfg

	cli, err := clientv3.New(config)
	if err != nil {
		return nil, err
	}

	return &Store{
		cli:     cli,
		root:    root,
		running: make(chan struct{}),
	}, nil
}

// NewStore returns a new etcdstore.Store using the process-wide TLS
// settings.
func NewStore(serverAddr, root string) (*Store, error) {
	return NewStoreWithOpts(serverAddr, root, clientCertPath, clientKeyPath, serverCaPath)
}
