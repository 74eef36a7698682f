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

package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryOnConflictRetriesBadVersion(t *testing.T) {
	defer func(d time.Duration) { retryBackoff = d }(retryBackoff)
	retryBackoff = time.Millisecond

	attempts := 0
	err := RetryOnConflict(context.Background(), "test", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return NewError(BadVersion, "doc")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryOnConflictStopsOnOtherErrors(t *testing.T) {
	attempts := 0
	err := RetryOnConflict(context.Background(), "test", func(ctx context.Context) error {
		attempts++
		return NewError(NoNode, "doc")
	})
	assert.True(t, IsErrType(err, NoNode))
	assert.Equal(t, 1, attempts)
}

func TestRetryOnConflictHonorsContext(t *testing.T) {
	defer func(d time.Duration) { retryBackoff = d }(retryBackoff)
	retryBackoff = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryOnConflict(ctx, "test", func(ctx context.Context) error {
		return NewError(BadVersion, "doc")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
