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
	"time"

	"tenantmove.io/tenantmove/go/tm/log"
)

// retryBackoff can be lowered by tests.
var retryBackoff = 10 * time.Millisecond

// RetryOnConflict runs fn, retrying it from scratch for as long as it
// returns BadVersion. fn must be written so a failed attempt leaves no
// observable partial effects: re-read the pre-image, re-reserve
// timestamps, re-apply.
//
// Any other error, including context expiry, stops the loop and is
// returned as is. The description is only used for logging.
func RetryOnConflict(ctx context.Context, description string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !IsErrType(err, BadVersion) {
			return err
		}
		log.Warningf("%v: write conflict on attempt %d, retrying: %v", description, attempt, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
}
