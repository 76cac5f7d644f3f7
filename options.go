package pgwire

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgpassfile"
	"github.com/jackc/pgservicefile"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/pgwire/errs"
	"github.com/koustreak/pgwire/logger"
)

// SSLMode selects the TLS behaviour of a connection.
type SSLMode string

const (
	// SSLModeDisable never negotiates TLS.
	SSLModeDisable SSLMode = "disable"
	// SSLModeVerifyFull negotiates TLS and verifies the certificate
	// chain and the server hostname.
	SSLModeVerifyFull SSLMode = "verify-full"
)

// Options holds all settings needed to establish a session. It is read
// at Connect time and never mutated afterwards.
type Options struct {
	// Host is a hostname, an IP address, or an absolute path to a
	// Unix-domain socket directory.
	Host string
	// Port is the server port; 5432 when zero.
	Port uint16

	// User is the role to authenticate as. Required.
	User string
	// Password authenticates cleartext and md5 requests. When empty,
	// the passfile (~/.pgpass or Passfile) is consulted.
	Password string
	// Database defaults to User when empty.
	Database string

	// SSLMode and SSLRootCert configure TLS. SSLRootCert points at a
	// PEM trust-anchor file used with SSLModeVerifyFull.
	SSLMode     SSLMode
	SSLRootCert string

	// Params are extra startup parameters sent to the server verbatim
	// (e.g. application_name).
	Params map[string]string

	// NoticeHandler receives server notices. When nil, notices are
	// logged through Logger at a severity-mapped level.
	NoticeHandler func(*Notice)
	// OnNotification observes every NotificationResponse on the
	// session, before channel-listener routing.
	OnNotification func(Notification)

	// DialTimeout bounds transport establishment; 10s when zero.
	DialTimeout time.Duration

	// Passfile overrides the password-file location. Defaults to
	// $PGPASSFILE, then ~/.pgpass.
	Passfile string

	// Debug enables per-message wire tracing on Logger.
	Debug bool
	// Logger receives connection lifecycle and trace output. Defaults
	// to the package-global logger.
	Logger *logger.Logger
}

// DefaultOptions returns Options with the package defaults filled in.
// User must still be set by the caller.
func DefaultOptions() *Options {
	return &Options{
		Host:        "localhost",
		Port:        5432,
		SSLMode:     SSLModeDisable,
		DialTimeout: 10 * time.Second,
	}
}

// withDefaults validates o and returns a defaulted copy, leaving the
// caller's Options untouched.
func (o *Options) withDefaults() (*Options, error) {
	if o.User == "" {
		return nil, errs.New(errs.KindContract, "options: user is required")
	}
	out := *o
	if out.Host == "" {
		out.Host = "localhost"
	}
	if out.Port == 0 {
		out.Port = 5432
	}
	if out.Database == "" {
		out.Database = out.User
	}
	switch out.SSLMode {
	case "", SSLModeDisable:
		out.SSLMode = SSLModeDisable
	case SSLModeVerifyFull:
	default:
		return nil, errs.Newf(errs.KindContract, "options: unsupported sslmode %q", out.SSLMode)
	}
	if out.DialTimeout == 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.Logger == nil {
		out.Logger = logger.Global()
	}
	if out.Password == "" {
		out.Password = passfilePassword(&out)
	}
	return &out, nil
}

// tlsConfig builds the client TLS configuration for verify-full mode.
func (o *Options) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{ServerName: o.Host}
	if o.SSLRootCert != "" {
		pem, err := os.ReadFile(o.SSLRootCert)
		if err != nil {
			return nil, errs.Wrap(errs.KindContract, "options: reading sslrootcert", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errs.Newf(errs.KindContract, "options: no certificates found in %s", o.SSLRootCert)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// passfilePassword looks the password up in the pgpass file. Lookup
// failures are not errors: the server may not require a password at all.
func passfilePassword(o *Options) string {
	path := o.Passfile
	if path == "" {
		path = os.Getenv("PGPASSFILE")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		path = filepath.Join(home, ".pgpass")
	}
	passfile, err := pgpassfile.ReadPassfile(path)
	if err != nil {
		return ""
	}
	return passfile.FindPassword(o.Host, strconv.Itoa(int(o.Port)), o.Database, o.User)
}

// ParseDSN parses a postgres:// or postgresql:// URL into Options.
//
// Recognised query parameters: sslmode, sslrootcert, application_name
// (forwarded as a startup parameter) and service (resolved through the
// pg_service.conf mechanism).
func ParseDSN(dsn string) (*Options, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindContract, "invalid DSN", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, errs.Newf(errs.KindContract, "invalid DSN scheme %q", u.Scheme)
	}

	o := DefaultOptions()
	if u.User != nil {
		o.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			o.Password = pw
		}
	}
	if h := u.Hostname(); h != "" {
		o.Host = h
	}
	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, errs.Newf(errs.KindContract, "invalid DSN port %q", p)
		}
		o.Port = uint16(port)
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		if i := strings.IndexByte(db, '/'); i >= 0 {
			db = db[:i]
		}
		o.Database = db
	}

	q := u.Query()
	if v := q.Get("sslmode"); v != "" {
		o.SSLMode = SSLMode(v)
	}
	if v := q.Get("sslrootcert"); v != "" {
		o.SSLRootCert = v
	}
	if v := q.Get("application_name"); v != "" {
		if o.Params == nil {
			o.Params = map[string]string{}
		}
		o.Params["application_name"] = v
	}
	if v := q.Get("service"); v != "" {
		if err := applyService(o, v); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// applyService merges settings from the pg_service.conf entry into o.
// Explicit URL components win over service-file settings; a host, port
// or sslmode still equal to its default counts as not given.
func applyService(o *Options, name string) error {
	path := os.Getenv("PGSERVICEFILE")
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errs.Wrap(errs.KindContract, "resolving service file", err)
		}
		path = filepath.Join(home, ".pg_service.conf")
	}
	sf, err := pgservicefile.ReadServicefile(path)
	if err != nil {
		return errs.Wrap(errs.KindContract, fmt.Sprintf("reading service file %s", path), err)
	}
	svc, err := sf.GetService(name)
	if err != nil {
		return errs.Newf(errs.KindContract, "service %q not found in %s", name, path)
	}
	for k, v := range svc.Settings {
		switch k {
		case "host":
			if o.Host == "localhost" {
				o.Host = v
			}
		case "port":
			if p, err := strconv.ParseUint(v, 10, 16); err == nil && o.Port == 5432 {
				o.Port = uint16(p)
			}
		case "dbname":
			if o.Database == "" {
				o.Database = v
			}
		case "user":
			if o.User == "" {
				o.User = v
			}
		case "password":
			if o.Password == "" {
				o.Password = v
			}
		case "sslmode":
			if o.SSLMode == SSLModeDisable {
				o.SSLMode = SSLMode(v)
			}
		}
	}
	return nil
}

// optionsFile is the YAML shape accepted by LoadOptionsFile.
type optionsFile struct {
	Host        string            `yaml:"host"`
	Port        uint16            `yaml:"port"`
	User        string            `yaml:"user"`
	Password    string            `yaml:"password"`
	Database    string            `yaml:"database"`
	SSLMode     string            `yaml:"sslmode"`
	SSLRootCert string            `yaml:"sslrootcert"`
	Params      map[string]string `yaml:"params"`
	DialTimeout string            `yaml:"dial_timeout"`
	Debug       bool              `yaml:"debug"`
}

// LoadOptionsFile reads Options from a YAML file.
func LoadOptionsFile(path string) (*Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindContract, "reading options file", err)
	}
	var f optionsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errs.Wrap(errs.KindContract, "parsing options file", err)
	}

	o := DefaultOptions()
	if f.Host != "" {
		o.Host = f.Host
	}
	if f.Port != 0 {
		o.Port = f.Port
	}
	o.User = f.User
	o.Password = f.Password
	o.Database = f.Database
	if f.SSLMode != "" {
		o.SSLMode = SSLMode(f.SSLMode)
	}
	o.SSLRootCert = f.SSLRootCert
	o.Params = f.Params
	if f.DialTimeout != "" {
		d, err := time.ParseDuration(f.DialTimeout)
		if err != nil {
			return nil, errs.Wrap(errs.KindContract, "options file: invalid dial_timeout", err)
		}
		o.DialTimeout = d
	}
	o.Debug = f.Debug
	return o, nil
}
