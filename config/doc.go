// Package config loads overlay peer settings from TOML.
//
// Every setting has a default from [NewDefaultConfig]; a file only needs the
// keys it changes. Durations are written as Go duration strings:
//
//	[peer]
//	name = "alice"
//	mode = "edge"
//
//	[overlay]
//	presence_interval = "5m"
//	advertisement_expiration = "6m"
//
//	[messaging]
//	reply_timeout = "60s"
//	retry_count = 5
package config
