// Package gatekeeper contains the version number and shared constants of the
// Gatekeeper login service.
package gatekeeper

import "time"

// Version is the current version of Gatekeeper.
//
// This variable is set at build time using the -X linker flag. If not set,
// it defaults to "devel".
var Version = "devel"

// APIPrefix is the path prefix of every JSON API route.
const APIPrefix = "/api/"

// ChallengeTTL is how long an issued captcha may be answered.
const ChallengeTTL = 120 * time.Second

// SweepInterval is the cadence of the background removal of expired captchas.
const SweepInterval = 60 * time.Second

// DefaultTokenTTL is the default lifetime of a session token (seven days).
const DefaultTokenTTL = 604800 * time.Second

// ChallengeLength is the number of characters drawn on a captcha image.
const ChallengeLength = 5
