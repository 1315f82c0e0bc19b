package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/relves/hcsdid/internal/config"
	"github.com/relves/hcsdid/internal/mirror"
	"github.com/relves/hcsdid/internal/storage/sqlite"
	"github.com/relves/hcsdid/pkg/did"
	"github.com/relves/hcsdid/pkg/did/event"
	"github.com/relves/hcsdid/pkg/did/identifier"
	"github.com/relves/hcsdid/pkg/did/message"
	"github.com/relves/hcsdid/pkg/file"
	"github.com/relves/hcsdid/pkg/hcs"
	"github.com/relves/hcsdid/pkg/keys"
	"github.com/relves/hcsdid/pkg/server"
)

var Version = "dev"

func main() {
	app := &cli.App{
		Name:  "hcsdid",
		Usage: "Hedera DID method over consensus topics",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "file to load environment variables from",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			serveCmd,
			resolveCmd,
			registerCmd,
			addServiceCmd,
			deleteCmd,
			filePutCmd,
			fileGetCmd,
			listenCmd,
			keygenCmd,
		},
		ErrWriter: os.Stderr,
		Version:   Version,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// runtime is what every command needs: settings, logger and ledgers.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	stores *sqlite.StoreManager
	idOpts []identifier.Option
}

func setup(c *cli.Context) (*runtime, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	rt := &runtime{cfg: cfg, logger: logger}
	if cfg.IsLocal() {
		rt.stores = sqlite.NewStoreManager(cfg.DataPath, sqlite.WithLogger(logger))
		rt.idOpts = []identifier.Option{identifier.WithNetworks(config.NetworkLocal)}
	}
	return rt, nil
}

func (rt *runtime) close() {
	if rt.stores != nil {
		if err := rt.stores.CloseAll(); err != nil {
			rt.logger.Warn("failed to close ledgers", "error", err)
		}
	}
}

// ledger returns the ledger for network. The local network is backed by
// SQLite; public networks are read through a mirror node.
func (rt *runtime) ledger(network string) (hcs.Ledger, error) {
	if network == config.NetworkLocal {
		if rt.stores == nil {
			return nil, fmt.Errorf("network %q is only available with HCSDID_NETWORK=local", network)
		}
		return rt.stores.GetTopicLedger(network)
	}
	opts := []mirror.Option{mirror.WithLogger(rt.logger)}
	if rt.cfg.MirrorURL != "" && network == rt.cfg.Network {
		return mirror.NewClient(rt.cfg.MirrorURL, opts...), nil
	}
	return mirror.ForNetwork(network, opts...)
}

func (rt *runtime) subscribers(network string) (hcs.Subscriber, error) {
	return rt.ledger(network)
}

func (rt *runtime) resolver() *did.Resolver {
	opts := []did.ResolverOption{
		did.WithResolverTimeout(rt.cfg.ResolveTimeout),
		did.WithResolverIdentifierOptions(rt.idOpts...),
		did.WithResolverLogger(rt.logger),
	}
	if rt.cfg.CacheSize > 0 {
		opts = append(opts, did.WithCache(did.NewMemCache(rt.cfg.CacheSize, rt.cfg.CacheTTL)))
	}
	return did.NewResolver(rt.subscribers, opts...)
}

// signer returns the --key flag or the configured operator key.
func (rt *runtime) signer(c *cli.Context) (keys.PrivateKey, error) {
	if s := c.String("key"); s != "" {
		return keys.ParsePrivateKey(s)
	}
	return rt.cfg.Operator()
}

// openDID binds an existing DID with the signing key.
func (rt *runtime) openDID(c *cli.Context) (*did.DID, error) {
	id, err := identifier.Parse(c.String("did"), rt.idOpts...)
	if err != nil {
		return nil, err
	}
	key, err := rt.signer(c)
	if err != nil {
		return nil, err
	}
	ledger, err := rt.ledger(id.Network())
	if err != nil {
		return nil, err
	}
	return did.New(ledger,
		did.WithIdentifier(id.String()),
		did.WithPrivateKey(key),
		did.WithIdentifierOptions(rt.idOpts...),
		did.WithResolveTimeout(rt.cfg.ResolveTimeout),
		did.WithLogger(rt.logger),
	)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var keyFlag = &cli.StringFlag{
	Name:  "key",
	Usage: "DER hex private key, defaults to HCSDID_OPERATOR_KEY",
}

var didFlag = &cli.StringFlag{
	Name:     "did",
	Usage:    "DID to operate on",
	Required: true,
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Serve the DID resolution and file HTTP API",
	Action: func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.close()

		ledger, err := rt.ledger(rt.cfg.Network)
		if err != nil {
			return err
		}
		opts := []server.Option{
			server.WithResolver(rt.resolver()),
			server.WithFileService(file.NewService(ledger,
				file.WithTimeout(rt.cfg.ResolveTimeout),
				file.WithLogger(rt.logger))),
			server.WithLogger(rt.logger),
		}
		if rt.stores != nil {
			local, err := rt.stores.GetTopicLedger(config.NetworkLocal)
			if err != nil {
				return err
			}
			opts = append(opts, server.WithLedger(local))
		}
		srv, err := server.NewServer(opts...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		httpServer := &http.Server{
			Addr:              ":" + rt.cfg.Port,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()

		rt.logger.Info("hcsdid server starting",
			"addr", httpServer.Addr,
			"network", rt.cfg.Network,
			"version", Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		rt.logger.Info("server stopped")
		return nil
	},
}

var resolveCmd = &cli.Command{
	Name:      "resolve",
	Usage:     "Resolve a DID and print the resolution result",
	ArgsUsage: "<did> [did...]",
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return cli.ShowSubcommandHelp(c)
		}
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.close()

		results := rt.resolver().ResolveMany(c.Context, c.Args().Slice())
		if len(results) == 1 {
			return printJSON(results[0])
		}
		return printJSON(results)
	},
}

var registerCmd = &cli.Command{
	Name:  "register",
	Usage: "Create a DID topic and publish its owner event",
	Flags: []cli.Flag{keyFlag},
	Action: func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.close()

		key, err := rt.signer(c)
		if err != nil {
			return err
		}
		if key == nil {
			return did.ErrRegisterKeyRequired
		}
		ledger, err := rt.ledger(rt.cfg.Network)
		if err != nil {
			return err
		}
		d, err := did.New(ledger,
			did.WithPrivateKey(key),
			did.WithNetwork(rt.cfg.Network),
			did.WithIdentifierOptions(rt.idOpts...),
			did.WithResolveTimeout(rt.cfg.ResolveTimeout),
			did.WithLogger(rt.logger),
		)
		if err != nil {
			return err
		}
		if err := d.Register(c.Context); err != nil {
			return err
		}
		fmt.Println(d.Identifier())
		return nil
	},
}

var addServiceCmd = &cli.Command{
	Name:  "add-service",
	Usage: "Add a service endpoint to a DID document",
	Flags: []cli.Flag{
		didFlag,
		keyFlag,
		&cli.IntFlag{Name: "index", Usage: "service number, used as {did}#service-{index}", Value: 1},
		&cli.StringFlag{Name: "type", Usage: "LinkedDomains or DIDCommMessaging", Value: string(event.ServiceLinkedDomains)},
		&cli.StringFlag{Name: "endpoint", Usage: "service endpoint URL", Required: true},
	},
	Action: func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.close()

		d, err := rt.openDID(c)
		if err != nil {
			return err
		}
		id := fmt.Sprintf("%s#service-%d", d.Identifier(), c.Int("index"))
		if err := d.AddService(c.Context, id, event.ServiceType(c.String("type")), c.String("endpoint")); err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var deleteCmd = &cli.Command{
	Name:  "delete",
	Usage: "Deactivate a DID",
	Flags: []cli.Flag{didFlag, keyFlag},
	Action: func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.close()

		d, err := rt.openDID(c)
		if err != nil {
			return err
		}
		return d.Delete(c.Context)
	},
}

var filePutCmd = &cli.Command{
	Name:      "file-put",
	Usage:     "Store a file on a new topic using HCS-1 chunking",
	ArgsUsage: "<path>",
	Flags: []cli.Flag{
		keyFlag,
		&cli.StringFlag{Name: "mime-type", Usage: "payload media type", Value: "application/json"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.ShowSubcommandHelp(c)
		}
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.close()

		payload, err := os.ReadFile(c.Args().First())
		if err != nil {
			return err
		}
		key, err := rt.signer(c)
		if err != nil {
			return err
		}
		ledger, err := rt.ledger(rt.cfg.Network)
		if err != nil {
			return err
		}
		f, err := file.NewService(ledger,
			file.WithMimeType(c.String("mime-type")),
			file.WithLogger(rt.logger),
		).Submit(c.Context, payload, key)
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"topicID": f.TopicID,
			"memo":    f.Memo.String(),
			"cid":     f.CID.String(),
		})
	},
}

var fileGetCmd = &cli.Command{
	Name:      "file-get",
	Usage:     "Read an HCS-1 file from a topic",
	ArgsUsage: "<topicID>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write payload to this path instead of stdout"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.ShowSubcommandHelp(c)
		}
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.close()

		ledger, err := rt.ledger(rt.cfg.Network)
		if err != nil {
			return err
		}
		f, err := file.NewService(ledger,
			file.WithTimeout(rt.cfg.ResolveTimeout),
			file.WithLogger(rt.logger),
		).Resolve(c.Context, c.Args().First())
		if err != nil {
			return err
		}
		if out := c.String("out"); out != "" {
			return os.WriteFile(out, f.Payload, 0o644)
		}
		_, err = os.Stdout.Write(f.Payload)
		return err
	},
}

var listenCmd = &cli.Command{
	Name:      "listen",
	Usage:     "Print DID messages as they reach a DID's topic",
	ArgsUsage: "<did>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.ShowSubcommandHelp(c)
		}
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.close()

		id, err := identifier.Parse(c.Args().First(), rt.idOpts...)
		if err != nil {
			return err
		}
		ledger, err := rt.ledger(id.Network())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		l, err := hcs.Listen(ctx, ledger, hcs.Query{TopicID: id.TopicID()}, hcs.Config[*message.Envelope]{
			Decoder: message.Decoder(rt.idOpts...),
			Logger:  rt.logger,
			ErrorHandler: func(err error) {
				rt.logger.Warn("subscription error", "topicID", id.TopicID(), "error", err)
			},
		}, func(r hcs.Received[*message.Envelope]) {
			m := r.Message.Message
			printJSON(map[string]any{
				"sequenceNumber":     r.SequenceNumber,
				"consensusTimestamp": r.ConsensusTimestamp.String(),
				"operation":          m.Operation,
				"did":                m.DID,
				"event":              m.EventBase64,
			})
		})
		if err != nil {
			return err
		}
		defer l.Unsubscribe()

		<-l.Done()
		if err := l.Err(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var keygenCmd = &cli.Command{
	Name:  "keygen",
	Usage: "Generate a private key",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "type", Usage: "ed25519 or secp256k1", Value: "ed25519"},
	},
	Action: func(c *cli.Context) error {
		var (
			key keys.PrivateKey
			err error
		)
		switch c.String("type") {
		case "ed25519":
			key, err = keys.GenerateEd25519()
		case "secp256k1":
			key, err = keys.GenerateSecp256k1()
		default:
			return fmt.Errorf("%w: %s", keys.ErrUnsupportedKeyType, c.String("type"))
		}
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"type":       string(key.Type()),
			"privateKey": key.DER(),
			"publicKey":  key.Public().DER(),
		})
	},
}
