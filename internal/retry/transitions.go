// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"errors"
	"fmt"

	"refactor-pipeline/internal/ledger"
)

// ErrInvalidTransition 状态迁移不被允许
var ErrInvalidTransition = errors.New("invalid status transition")

var allowedTransitions = map[ledger.Status]map[ledger.Status]bool{
	ledger.StatusPending: {
		ledger.StatusInProgress: true,
		ledger.StatusSkipped:    true,
	},
	ledger.StatusInProgress: {
		ledger.StatusCompleted:         true,
		ledger.StatusFailed:            true,
		ledger.StatusPermanentlyFailed: true,
		ledger.StatusSkipped:           true,
	},
	ledger.StatusFailed: {
		ledger.StatusInProgress:        true,
		ledger.StatusPermanentlyFailed: true,
		ledger.StatusSkipped:           true,
	},
	ledger.StatusCompleted: {
		ledger.StatusSkipped: true,
	},
	ledger.StatusPermanentlyFailed: {
		ledger.StatusSkipped: true,
	},
	ledger.StatusSkipped: {
		ledger.StatusSkipped: true,
	},
}

// CanTransition from → to 是否合法
func CanTransition(from, to ledger.Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// ValidateTransition 不合法时返回 ErrInvalidTransition
func ValidateTransition(identifier string, from, to ledger.Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (file=%s)", ErrInvalidTransition, from, to, identifier)
	}
	return nil
}
