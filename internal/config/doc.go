// Package config loads httpx client settings from YAML.
//
//	timeouts:
//	  connect: 10s
//	  read: 30s
//	  total: 2m
//	redirects:
//	  follow: true
//	  max: 5
//	  preserve_301_302: false
//	proxy:
//	  from_env: true
//	  http: http://proxy.internal:3128
//	  no_proxy: .internal,10.0.0.0/8
//	tls:
//	  backend: utls
//	  ca_files: [/etc/ssl/private-ca.pem]
//	compression: true
//	default_charset: windows-1252
//	fallback: replace
//	headers:
//	  Accept: text/html
//	  X-Team: [web, search]
//	auth:
//	  bearer: s3cr3t
//	user_agent: crawler/2.0
//	send_trace_context: true
//
// Header order in the file is kept on the wire.
package config
