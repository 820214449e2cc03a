/*
Package security groups transport security and admin authentication for the
gateway.

# TLS

Serve HTTPS with certificate hot reload:

	server:
	  tls:
	    enabled: true
	    cert_file: /etc/aimux/certs/server.crt
	    key_file: /etc/aimux/certs/server.key
	    min_version: "1.3"

The tls subpackage builds the crypto/tls configuration and reloads the
certificate pair when the files change.

# Admin Authentication

Protect the /admin routes and the event stream with named API keys:

	server:
	  admin_keys:
	    ops: admin-key-0123456789

AIMUX_SERVER_ADMIN_KEY adds a key named "env". See the auth subpackage.
*/
package security
