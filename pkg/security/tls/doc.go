/*
Package tls builds the listener TLS configuration from config.TLSConfig.

Certificates are served through a CertificateReloader, which checks the
certificate and key files for changes and swaps the pair in place, so a
renewed certificate is picked up without restarting the gateway:

	tlsConfig, reloader, err := tls.Build(cfg.Server.TLS, logger)
	if err != nil {
		return err
	}
	reloader.Start(ctx)
	ln = cryptotls.NewListener(ln, tlsConfig)

Only TLS 1.2 and 1.3 are supported. Setting ClientCAFile enables client
certificate verification.
*/
package tls
