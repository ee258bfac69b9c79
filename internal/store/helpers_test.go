// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package store_test

import "time"

func now() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
