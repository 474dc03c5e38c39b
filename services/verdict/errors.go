// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verdict

import "errors"

// Sentinel errors for the verdict service.
var (
	// ErrValidation indicates malformed input rejected before any
	// persistence. Fully recoverable by the caller.
	ErrValidation = errors.New("validation failed")

	// ErrOutcomeMismatch indicates the outcome's kind or domain does not
	// match the forecast it was asked to resolve.
	ErrOutcomeMismatch = errors.New("outcome does not match forecast")
)
