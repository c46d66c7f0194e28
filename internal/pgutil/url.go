package pgutil

import (
	"fmt"
	"strconv"
	"strings"
)

// ConnInfo holds the parsed components of a postgres:// / postgresql://
// connection string.
type ConnInfo struct {
	Host        string
	Port        uint16
	Database    string
	User        string
	Password    string
	HasUser     bool
	HasPassword bool
	Query       map[string]string
}

// ParseURL parses a PostgreSQL connection URL.
//
// This is deliberately not built on net/url.Parse: passwords in these
// connection strings may themselves contain '@', so the user:password@host
// segment is split on the rightmost '@' rather than the leftmost one,
// exactly as the source database-replicator's parse_postgres_url does.
func ParseURL(url string) (ConnInfo, error) {
	rest := strings.TrimPrefix(strings.TrimPrefix(url, "postgres://"), "postgresql://")
	if rest == url {
		return ConnInfo{}, fmt.Errorf("pgutil: unsupported scheme in %q", url)
	}

	base, query := rest, ""
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		base, query = rest[:idx], rest[idx+1:]
	}

	slash := strings.LastIndexByte(base, '/')
	if slash < 0 {
		return ConnInfo{}, fmt.Errorf("pgutil: missing database name in %q", url)
	}
	authAndHost, database := base[:slash], base[slash+1:]

	var user, password, hostAndPort string
	hasUser, hasPassword := false, false
	if at := strings.LastIndexByte(authAndHost, '@'); at >= 0 {
		auth := authAndHost[:at]
		hostAndPort = authAndHost[at+1:]
		if colon := strings.IndexByte(auth, ':'); colon >= 0 {
			user, password = auth[:colon], auth[colon+1:]
			hasUser, hasPassword = true, true
		} else {
			user = auth
			hasUser = true
		}
	} else {
		hostAndPort = authAndHost
	}

	host, port := hostAndPort, uint16(5432)
	if colon := strings.LastIndexByte(hostAndPort, ':'); colon >= 0 {
		host = hostAndPort[:colon]
		portStr := hostAndPort[colon+1:]
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return ConnInfo{}, fmt.Errorf("pgutil: invalid port %q: %w", portStr, err)
		}
		port = uint16(p)
	}

	params := map[string]string{}
	if query != "" {
		for _, pair := range strings.Split(query, "&") {
			if k, v, ok := strings.Cut(pair, "="); ok {
				params[k] = v
			}
		}
	}

	return ConnInfo{
		Host:        strings.ToLower(host),
		Port:        port,
		Database:    database,
		User:        user,
		Password:    password,
		HasUser:     hasUser,
		HasPassword: hasPassword,
		Query:       params,
	}, nil
}

// RedactURL returns url with the password component replaced by "***", or
// url unchanged if it has no password (e.g. it is a bare filesystem path
// for an embedded database).
func RedactURL(url string) string {
	info, err := ParseURL(url)
	if err != nil || !info.HasPassword {
		return url
	}

	scheme := "postgresql://"
	if strings.HasPrefix(url, "postgres://") {
		scheme = "postgres://"
	}

	var b strings.Builder
	b.WriteString(scheme)
	if info.HasUser {
		b.WriteString(info.User)
		b.WriteByte(':')
		b.WriteString("***")
		b.WriteByte('@')
	}
	b.WriteString(info.Host)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(int(info.Port)))
	b.WriteByte('/')
	b.WriteString(info.Database)
	if idx := strings.IndexByte(url, '?'); idx >= 0 {
		b.WriteString(url[idx:])
	}
	return b.String()
}

// ValidateDistinct returns an error if source and target identify the same
// database (same host, port, database name, and user), to guard against a
// misconfigured replicator overwriting its own source.
func ValidateDistinct(sourceURL, targetURL string) error {
	src, err := ParseURL(sourceURL)
	if err != nil {
		return fmt.Errorf("pgutil: parsing source url: %w", err)
	}
	dst, err := ParseURL(targetURL)
	if err != nil {
		return fmt.Errorf("pgutil: parsing target url: %w", err)
	}
	if src.Host == dst.Host && src.Port == dst.Port && src.Database == dst.Database && src.User == dst.User {
		return fmt.Errorf("pgutil: source and target point to the same database (%s@%s:%d/%s); refusing to proceed",
			src.User, src.Host, src.Port, src.Database)
	}
	return nil
}
