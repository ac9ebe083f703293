// Package mastodon is the transport to Mastodon-compatible instances: an
// authenticated REST client with retries and Link-header cursors, the app
// registration and OAuth endpoints, status posting and the websocket
// streaming API.
package mastodon
