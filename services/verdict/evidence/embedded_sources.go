// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file bridges the build system and the runtime registry. It uses the Go
embed package to bake the evidence_sources.yaml allow-list directly into the
compiled binary, so a deployment always carries a known-good default
allow-list even when no external file is configured.
*/

package evidence

import (
	_ "embed"
)

// EmbeddedSources holds the raw byte content of 'evidence_sources.yaml'.
//
// Populated at compile time via the Go 'embed' directive. The embedded
// allow-list is the fallback registry; an operator-provided file can extend
// it but the forecast-derived denials in it can never be removed at
// runtime.
//
//go:embed evidence_sources.yaml
var EmbeddedSources []byte
