// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package utils

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// SessionID returns a fresh opaque 128-bit identifier as 32 lowercase hex
// characters, without dashes.
func SessionID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
