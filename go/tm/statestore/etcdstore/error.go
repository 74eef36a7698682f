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

package etcdstore

import (
	"context"
	"errors"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"

	"tenantmove.io/tenantmove/go/tm/statestore"
)

// convertError converts errors returned by the etcd client library into
// store errors where a store code applies, and passes everything else
// through unchanged. Every function in this package calls it on client
// errors before returning them.
func convertError(err error, node string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return statestore.NewError(statestore.Interrupted, node)
	case errors.Is(err, rpctypes.ErrEmptyKey):
		return statestore.NewError(statestore.NoNode, node)
	}
	return err
}
