// Package dialect centralizes everything that differs between the two
// supported database engines: placeholder rendering and the canonical
// schema. Apart from the Postgres-only pg_notify call in package drivers, no
// other package in this module contains a literal "$1" or a bare "?" that
// isn't produced here.
package dialect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedURL is returned when a connection string's scheme does not
// name a supported engine.
var ErrUnsupportedURL = errors.New("jobqueue: unsupported database url")

// Dialect renders SQL text for one database engine.
type Dialect interface {
	// Name identifies the engine, e.g. "postgres" or "mysql".
	Name() string

	// Placeholder renders the n-th (1-indexed) bound parameter marker for a
	// single statement.
	Placeholder(n int) string

	// JobsDDL returns the idempotent CREATE TABLE statement(s) for the jobs
	// table, including any supporting sequence/index objects this engine
	// needs.
	JobsDDL() string

	// FailedJobsDDL returns the idempotent CREATE TABLE statement(s) for the
	// failed_jobs table.
	FailedJobsDDL() string
}

// FromURL inspects a connection string's scheme and returns the matching
// Dialect. Schemes other than postgres/postgresql/mysql yield
// ErrUnsupportedURL.
func FromURL(rawURL string) (Dialect, error) {
	scheme, _, found := strings.Cut(rawURL, "://")
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}

	switch scheme {
	case "postgres", "postgresql":
		return Postgres{}, nil
	case "mysql":
		return MySQL{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}
}

// Postgres renders $N placeholders and owns the Postgres canonical schema.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (Postgres) JobsDDL() string {
	return `
CREATE SEQUENCE IF NOT EXISTS jobs_id_seq;

CREATE TABLE IF NOT EXISTS jobs (
	id           int8 NOT NULL DEFAULT nextval('jobs_id_seq'::regclass),
	uuid         char(36) NOT NULL,
	queue        varchar(255) NOT NULL,
	payload      text NOT NULL,
	attempts     int2 NOT NULL,
	reserved_at  int4,
	available_at int4 NOT NULL,
	created_at   int4 NOT NULL,
	PRIMARY KEY (id)
);

CREATE INDEX IF NOT EXISTS jobs_queue_index ON jobs (queue);
`
}

func (Postgres) FailedJobsDDL() string {
	return `
CREATE SEQUENCE IF NOT EXISTS failed_jobs_id_seq;

CREATE TABLE IF NOT EXISTS failed_jobs (
	id         int8 NOT NULL DEFAULT nextval('failed_jobs_id_seq'::regclass),
	uuid       char(36) NOT NULL UNIQUE,
	queue      text NOT NULL,
	payload    text NOT NULL,
	exception  text NOT NULL,
	failed_at  timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (id)
);
`
}

// MySQL renders ? placeholders and owns the MySQL canonical schema.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) Placeholder(int) string { return "?" }

func (MySQL) JobsDDL() string {
	return "CREATE TABLE IF NOT EXISTS `jobs` (" +
		"`id` bigint unsigned NOT NULL AUTO_INCREMENT," +
		"`uuid` varchar(255) COLLATE utf8mb4_unicode_ci NOT NULL," +
		"`queue` varchar(255) COLLATE utf8mb4_unicode_ci NOT NULL," +
		"`payload` longtext COLLATE utf8mb4_unicode_ci NOT NULL," +
		"`attempts` int unsigned NOT NULL," +
		"`reserved_at` int unsigned DEFAULT NULL," +
		"`available_at` int unsigned NOT NULL," +
		"`created_at` int unsigned NOT NULL," +
		"PRIMARY KEY (`id`)," +
		"KEY `jobs_queue_index` (`queue`)" +
		") ENGINE=InnoDB AUTO_INCREMENT=1 DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci"
}

func (MySQL) FailedJobsDDL() string {
	return "CREATE TABLE IF NOT EXISTS `failed_jobs` (" +
		"`id` bigint unsigned NOT NULL AUTO_INCREMENT," +
		"`uuid` varchar(255) COLLATE utf8mb4_unicode_ci NOT NULL," +
		"`queue` text COLLATE utf8mb4_unicode_ci NOT NULL," +
		"`payload` longtext COLLATE utf8mb4_unicode_ci NOT NULL," +
		"`exception` longtext COLLATE utf8mb4_unicode_ci NOT NULL," +
		"`failed_at` timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP," +
		"PRIMARY KEY (`id`)," +
		"UNIQUE KEY `failed_jobs_uuid_unique` (`uuid`)" +
		") ENGINE=InnoDB AUTO_INCREMENT=1 DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci"
}

// Placeholders renders n sequential placeholders starting at 1, comma
// joined, for building VALUES(...) clauses.
func Placeholders(d Dialect, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}
