// Command tdsquery is a minimal interactive demonstration of the tds
// Session API: it connects to a SQL Server instance, runs one statement, and
// prints the resulting rows. It is not part of the specified engine -- a
// real query tool, cursor wrapper, and packaging are explicitly out of
// scope -- and exists purely so the Session API can be exercised from the
// command line, in the same spirit as the teacher's examples/goclient.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/tdsdriver/tds/tds"
)

// Config mirrors the teacher's goclient precedence: JSON-free here, but the
// same env-var-then-flag override order, since there is no JSON config file
// for a one-shot query tool.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	AppName        string
	ServerEncoding string
	UseTLS         string // "off", "on", "required"
}

const (
	envHost     = "TDS_HOST"
	envPort     = "TDS_PORT"
	envUser     = "TDS_USER"
	envPassword = "TDS_PASSWORD"
	envDatabase = "TDS_DATABASE"

	defaultPort = 1433
)

func main() {
	var (
		host     = flag.String("host", "", "SQL Server host")
		port     = flag.Int("port", 0, "SQL Server port")
		user     = flag.String("user", "", "login user name")
		password = flag.String("password", "", "login password")
		database = flag.String("database", "", "database name")
		encoding = flag.String("server-encoding", "utf8", "non-Unicode column encoding (utf8, windows-1252, ...)")
		useTLS   = flag.String("tls", "off", "TLS mode: off, on, required")
		query    = flag.String("query", "SELECT 1", "SQL text to execute")
	)
	flag.Parse()

	cfg := Config{AppName: "tdsquery", ServerEncoding: *encoding, UseTLS: *useTLS}
	applyEnv(&cfg)
	applyCLI(&cfg, *host, *port, *user, *password, *database)
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}

	if cfg.Host == "" || cfg.User == "" {
		log.Fatal("tdsquery: -host and -user (or TDS_HOST/TDS_USER) are required")
	}

	mode := tds.TLSOff
	switch strings.ToLower(cfg.UseTLS) {
	case "on":
		mode = tds.TLSOn
	case "required":
		mode = tds.TLSRequired
	}

	sess, err := tds.Connect(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database,
		tds.WithAppName(cfg.AppName),
		tds.WithServerEncoding(cfg.ServerEncoding),
		tds.WithUseTLS(mode),
		tds.WithAutocommit(true),
	)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer sess.Close()

	description, rows, rowCount, err := sess.Execute(*query)
	if err != nil {
		log.Fatalf("execute: %v", err)
	}

	printResults(description, rows, rowCount)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envHost); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv(envPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv(envUser); v != "" {
		cfg.User = v
	}
	if v := os.Getenv(envPassword); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv(envDatabase); v != "" {
		cfg.Database = v
	}
}

func applyCLI(cfg *Config, host string, port int, user, password, database string) {
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if user != "" {
		cfg.User = user
	}
	if password != "" {
		cfg.Password = password
	}
	if database != "" {
		cfg.Database = database
	}
}

func printResults(description []tds.Description, rows []tds.Row, rowCount int64) {
	if len(description) == 0 {
		fmt.Printf("(%d rows affected)\n", rowCount)
		return
	}

	names := make([]string, len(description))
	for i, d := range description {
		names[i] = d.Name
	}
	fmt.Println(strings.Join(names, "\t"))

	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
	fmt.Printf("\n(%d rows)\n", len(rows))
}
