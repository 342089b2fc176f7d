// Command gctl is an operator CLI for the group control plane.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpcinsecure "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/navcom/groupctl/internal/capability"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/projection"
	grpcserver "github.com/navcom/groupctl/internal/server/grpc"
	"github.com/navcom/groupctl/internal/service"
)

// ---- token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "groupctl")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "groupctl")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run gctl login or gctl token)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp without verifying the signature. Tokens without exp
// are kept for one hour.
func tokenExpiry(tok string) time.Time {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(tok, &claims)
	if err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(time.Hour)
}

// ---- grpc dial ----

type dialOpts struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
}

func loadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(o dialOpts, bearer string) (*grpc.ClientConn, *grpcserver.Client, error) {
	creds := grpcinsecure.NewCredentials()
	if !o.plaintext {
		var err error
		creds, err = loadTLS(o.caPath, o.insecure)
		if err != nil {
			return nil, nil, err
		}
	}
	cc, err := grpc.NewClient(o.addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewClient(cc, bearer), nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `gctl CLI
Usage:
  gctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  token      -key <jwt key> -pubkey <hex> -role <role> [-ttl 1h]   (mints and saves a token)
  login      -token <jwt>                                        (saves a token)
  groups
  projection -group <id>
  audit      -group <id> [-action a] [-actor all|self|system|known|unknown] [-cursor n] [-size n]
  probe      [-relay url]... [-trigger manual|startup|create|join|periodic]
  rotation   [-group <id>]
  revoke     -group <id> -pubkey <hex> [-reason text] [-mode baseline|secure]
  create | join | leave | put-member | remove-member | edit-metadata   (see gctl <cmd> -h)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands.
func main() {
	addr := flag.String("addr", "localhost:8443", "server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	insecure := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "connect without TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	o := dialOpts{addr: *addr, caPath: *caPath, insecure: *insecure, plaintext: *plaintext}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {
	case "version":
		fmt.Printf("gctl %s (%s)\n", version, buildDate)

	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		key := fs.String("key", os.Getenv("GROUPCTL_JWT_KEY"), "HS256 signing key")
		pub := fs.String("pubkey", "", "actor pubkey (hex)")
		role := fs.String("role", string(model.RoleMember), "actor role")
		ttl := fs.Duration("ttl", time.Hour, "token TTL")
		_ = fs.Parse(args)
		if *key == "" || *pub == "" {
			fmt.Fprintln(os.Stderr, "need -key and -pubkey")
			os.Exit(1)
		}
		if err := checkPubkey(*pub); err != nil {
			fail(err)
		}
		tok, exp, err := service.NewTokens([]byte(*key), *ttl).Issue(service.Actor{Pubkey: strings.ToLower(*pub), Role: model.Role(*role)})
		if err != nil {
			fail(err)
		}
		if err := saveToken(tok, exp); err != nil {
			fail(err)
		}
		fmt.Println(tok)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		tok := fs.String("token", "", "bearer token")
		_ = fs.Parse(args)
		if *tok == "" {
			fmt.Fprintln(os.Stderr, "need -token")
			os.Exit(1)
		}
		if err := saveToken(*tok, tokenExpiry(*tok)); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "groups":
		cli, done := connect(o)
		defer done()
		out, err := cli.ListGroups(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(out.Groups)

	case "projection":
		fs := flag.NewFlagSet("projection", flag.ExitOnError)
		group := fs.String("group", "", "group id")
		_ = fs.Parse(args)
		cli, done := connect(o)
		defer done()
		out, err := cli.GetProjection(ctx, *group)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "audit":
		fs := flag.NewFlagSet("audit", flag.ExitOnError)
		group := fs.String("group", "", "group id")
		action := fs.String("action", "", "action filter")
		actor := fs.String("actor", string(projection.ActorsAll), "actor filter")
		cursor := fs.Int("cursor", 0, "page cursor")
		size := fs.Int("size", projection.DefaultAuditPageSize, "page size")
		_ = fs.Parse(args)
		cli, done := connect(o)
		defer done()
		out, err := cli.AuditHistory(ctx, grpcserver.AuditRequest{
			GroupID:  *group,
			Cursor:   *cursor,
			PageSize: *size,
			Action:   *action,
			Actor:    projection.ActorFilter(*actor),
		})
		if err != nil {
			fail(err)
		}
		printJSON(out.Page)

	case "probe":
		fs := flag.NewFlagSet("probe", flag.ExitOnError)
		var relays multiFlag
		fs.Var(&relays, "relay", "relay url (repeatable)")
		trigger := fs.String("trigger", string(capability.TriggerManual), "probe trigger")
		_ = fs.Parse(args)
		cli, done := connect(o)
		defer done()
		out, err := cli.ProbeCapability(ctx, grpcserver.ProbeRequest{Relays: relays, Trigger: capability.Trigger(*trigger)})
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "rotation":
		fs := flag.NewFlagSet("rotation", flag.ExitOnError)
		group := fs.String("group", "", "group id (all groups when empty)")
		_ = fs.Parse(args)
		cli, done := connect(o)
		defer done()
		out, err := cli.RotationStatus(ctx, *group)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "revoke":
		req, err := buildRevoke(args)
		if err != nil {
			fail(err)
		}
		cli, done := connect(o)
		defer done()
		out, err := cli.RevokeDevice(ctx, req)
		if err != nil {
			fail(err)
		}
		printJSON(out)
		if !out.OK {
			os.Exit(1)
		}

	default:
		if !isAction(cmd) {
			usage()
		}
		req, err := buildDispatch(model.Action(cmd), args)
		if err != nil {
			fail(err)
		}
		cli, done := connect(o)
		defer done()
		out, err := cli.Dispatch(ctx, req)
		if err != nil {
			fail(err)
		}
		printJSON(out)
		if !out.Outcome.OK {
			os.Exit(1)
		}
	}
}

// ---- helpers ----

// connect dials with the saved token and exits on failure.
func connect(o dialOpts) (*grpcserver.Client, func()) {
	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	cc, cli, err := dial(o, token)
	if err != nil {
		fail(err)
	}
	return cli, func() { _ = cc.Close() }
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
