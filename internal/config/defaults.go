package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultTimeout          = 30 * time.Second
	MaxTimeout              = 2 * time.Minute
	DefaultMaxDocumentBytes = 50 << 20 // 50MB
	DefaultSessionMaxAge    = 12 * time.Hour
	DefaultShutdownTimeout  = 15 * time.Second
)

// DefaultEndpoints are the ERP document routes per kind; {id} is the document number.
func DefaultEndpoints() map[string]string {
	return map[string]string{
		"invoice":   "/invoices/{id}/danfe",
		"order":     "/orders/{id}/pdf",
		"boleto":    "/boletos/{id}/pdf",
		"quotation": "/quotations/{id}/pdf",
	}
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			CertWarnBefore:  14 * 24 * time.Hour,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		ERP: ERPConfig{
			BaseURL:          "http://localhost:9000/api",
			Timeout:          DefaultTimeout,
			LoginPath:        "/auth/login",
			MaxDocumentBytes: DefaultMaxDocumentBytes,
			Endpoints:        DefaultEndpoints(),
		},
		Session: SessionConfig{
			CookieName: "portal_session",
			MaxAge:     DefaultSessionMaxAge,
		},
		Spool: SpoolConfig{
			Dir: filepath.Join(os.TempDir(), "erpportal-spool"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.cert_warn_before", d.Server.CertWarnBefore)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("erp.base_url", d.ERP.BaseURL)
	v.SetDefault("erp.fallback_base_url", "")
	v.SetDefault("erp.timeout", d.ERP.Timeout)
	v.SetDefault("erp.login_path", d.ERP.LoginPath)
	v.SetDefault("erp.max_document_bytes", d.ERP.MaxDocumentBytes)
	v.SetDefault("erp.endpoints", d.ERP.Endpoints)
	v.SetDefault("session.cookie_name", d.Session.CookieName)
	v.SetDefault("session.secret", "")
	v.SetDefault("session.max_age", d.Session.MaxAge)
	v.SetDefault("session.secure", false)
	v.SetDefault("spool.dir", d.Spool.Dir)
	v.SetDefault("spool.master_key_hex", "")
	v.SetDefault("spool.master_key_file", "")
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", "")
}
