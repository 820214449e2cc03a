package tls

import (
	"context"
	"crypto/tls"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CertificateReloader serves a certificate pair from disk and reloads it
// when either file changes.
type CertificateReloader struct {
	certFile string
	keyFile  string
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.RWMutex
	cert     *tls.Certificate
	certTime time.Time
	keyTime  time.Time
}

// NewCertificateReloader creates a reloader that checks the files every
// interval once started.
func NewCertificateReloader(certFile, keyFile string, interval time.Duration, logger *zap.Logger) *CertificateReloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificateReloader{
		certFile: certFile,
		keyFile:  keyFile,
		interval: interval,
		logger:   logger.Named("tls"),
		now:      time.Now,
	}
}

// Start loads the certificate if needed and checks for changes until ctx
// is cancelled.
func (r *CertificateReloader) Start(ctx context.Context) error {
	if r.GetCertificate() == nil {
		if err := r.reload(); err != nil {
			return err
		}
	}
	r.logCertificate("certificate loaded")

	go r.loop(ctx)
	return nil
}

func (r *CertificateReloader) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Check()
		case <-ctx.Done():
			return
		}
	}
}

// Check reloads the pair if either file changed. A failed reload keeps
// serving the previous certificate. It reports whether a new certificate
// was loaded.
func (r *CertificateReloader) Check() bool {
	if !r.needsReload() {
		return false
	}
	if err := r.reload(); err != nil {
		r.logger.Error("failed to reload certificate",
			zap.Error(err),
			zap.String("cert_file", r.certFile),
			zap.String("key_file", r.keyFile),
		)
		return false
	}
	r.logCertificate("certificate reloaded")
	return true
}

func (r *CertificateReloader) needsReload() bool {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return !certInfo.ModTime().Equal(r.certTime) || !keyInfo.ModTime().Equal(r.keyTime)
}

func (r *CertificateReloader) reload() error {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return err
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return err
	}

	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return err
	}
	if err := ValidateCertificate(&cert, r.now()); err != nil {
		return err
	}

	r.mu.Lock()
	r.cert = &cert
	r.certTime = certInfo.ModTime()
	r.keyTime = keyInfo.ModTime()
	r.mu.Unlock()
	return nil
}

// GetCertificate returns the current certificate.
func (r *CertificateReloader) GetCertificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// GetCertificateFunc adapts the reloader to tls.Config.GetCertificate.
func (r *CertificateReloader) GetCertificateFunc() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		return r.GetCertificate(), nil
	}
}

func (r *CertificateReloader) logCertificate(msg string) {
	leaf, err := leafOf(r.GetCertificate())
	if err != nil {
		return
	}

	remaining := leaf.NotAfter.Sub(r.now())
	fields := []zap.Field{
		zap.String("subject", leaf.Subject.CommonName),
		zap.String("issuer", leaf.Issuer.CommonName),
		zap.Time("expires_at", leaf.NotAfter),
		zap.Int("expires_in_days", int(remaining.Hours()/24)),
	}
	if remaining < ExpiryWarning {
		r.logger.Warn("certificate expiring soon", fields...)
		return
	}
	r.logger.Info(msg, fields...)
}
