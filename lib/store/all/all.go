// Package all is a meta-package that imports all store implementations.
//
// Importing it registers every connection string scheme with lib/store.
package all

import (
	_ "github.com/gatekeeper-auth/gatekeeper/lib/store/bbolt"
	_ "github.com/gatekeeper-auth/gatekeeper/lib/store/memory"
	_ "github.com/gatekeeper-auth/gatekeeper/lib/store/sqlite"
	_ "github.com/gatekeeper-auth/gatekeeper/lib/store/valkey"
)
