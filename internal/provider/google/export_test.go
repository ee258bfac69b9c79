// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package google

// ConvertMessages exposes convertMessages for white-box testing.
var ConvertMessages = convertMessages
