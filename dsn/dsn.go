// Package dsn parses a PostgreSQL connection URL using the standard
// library's net/url — the "generic URL reader" the core treats as an
// external collaborator rather than hand-rolling a grammar for.
package dsn

import (
	"fmt"
	"net/url"
	"strconv"
)

// Config is the parsed form of a connection URL: host, port, user,
// password, database, and any extra query parameters, ready to feed to
// pgcore.ConnectConfig.
type Config struct {
	Host     string
	Port     uint16
	User     string
	Password string
	Database string
	Params   map[string]string
}

// Parse reads `<scheme>://<user>[:<password>]@<host>[:<port>][/<database>][?k=v&...]`.
// User is required; an absent port defaults to 5432 (left as 0 here — the
// caller applies the default); an absent or root database path is treated
// as "use the server-side default" and omitted from Config.Database.
func Parse(raw string) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("dsn: %w", err)
	}
	if u.Host == "" {
		return Config{}, fmt.Errorf("dsn: missing host in %q", raw)
	}
	if u.User == nil || u.User.Username() == "" {
		return Config{}, fmt.Errorf("dsn: missing user in %q", raw)
	}

	cfg := Config{
		Host:   u.Hostname(),
		User:   u.User.Username(),
		Params: make(map[string]string),
	}
	if pw, ok := u.User.Password(); ok {
		cfg.Password = pw
	}
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Config{}, fmt.Errorf("dsn: invalid port %q: %w", p, err)
		}
		cfg.Port = uint16(n)
	}
	if db := trimLeadingSlash(u.Path); db != "" {
		cfg.Database = db
	}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			cfg.Params[k] = vs[len(vs)-1]
		}
	}
	return cfg, nil
}

func trimLeadingSlash(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path[1:]
	}
	return path
}
