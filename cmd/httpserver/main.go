package main

import (
	"fmt"
	"log"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/wireadmit/wireguard-provisioning-backend/approval"
	"github.com/wireadmit/wireguard-provisioning-backend/common"
	"github.com/wireadmit/wireguard-provisioning-backend/httpserver"
	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
	"github.com/wireadmit/wireguard-provisioning-backend/ipalloc"
	"github.com/wireadmit/wireguard-provisioning-backend/keygen"
	"github.com/wireadmit/wireguard-provisioning-backend/notify"
	"github.com/wireadmit/wireguard-provisioning-backend/peerstore"
	"github.com/wireadmit/wireguard-provisioning-backend/provisioner"
	"github.com/wireadmit/wireguard-provisioning-backend/wgconfig"
	"github.com/wireadmit/wireguard-provisioning-backend/wggrant"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.StringFlag{
		Name:  "store-uri",
		Value: "file:///var/lib/wireadmit/peers",
		Usage: "peer store location: mem://, file://, sqlite://, s3://, vault://",
	},
	&cli.StringFlag{
		Name:  "output-dir",
		Value: "/var/lib/wireadmit/configs",
		Usage: "directory for rendered client config artifacts",
	},
	&cli.StringFlag{
		Name:  "network-cidr",
		Value: "10.0.0.0/24",
		Usage: "tunnel network clients get addresses from",
	},
	&cli.StringFlag{
		Name:  "server-public-key",
		Usage: "WireGuard public key of the tunnel server (required)",
	},
	&cli.StringFlag{
		Name:  "server-endpoint",
		Usage: "host:port clients connect to (required)",
	},
	&cli.StringFlag{
		Name:  "allowed-ips",
		Value: "0.0.0.0/0",
		Usage: "CIDR range routed through the tunnel on clients",
	},
	&cli.StringFlag{
		Name:  "dns",
		Value: "8.8.8.8",
		Usage: "resolver written into client configs",
	},
	&cli.StringFlag{
		Name:  "admin-token",
		Usage: "shared token for the admin API; empty disables admin endpoints",
	},
	&cli.StringFlag{
		Name:  "admin-session",
		Usage: "session handle (webhook URL) admin notifications go to",
	},
	&cli.BoolFlag{
		Name:  "log-notifications",
		Value: false,
		Usage: "log notifications instead of posting them to session webhooks",
	},
	&cli.StringFlag{
		Name:  "keygen-mode",
		Value: "native",
		Usage: "keypair generation: 'native' (in-process) or 'wgtool' (wg binary)",
	},
	&cli.StringFlag{
		Name:  "wg-bin",
		Value: "wg",
		Usage: "path to the wg binary for keygen-mode=wgtool",
	},
	&cli.IntFlag{
		Name:  "keygen-pool",
		Value: keygen.DefaultPoolSize,
		Usage: "max concurrent wg invocations for keygen-mode=wgtool",
	},
	&cli.Int64Flag{
		Name:  "keygen-timeout-seconds",
		Value: 10,
		Usage: "per-invocation timeout for keygen-mode=wgtool",
	},
	&cli.StringFlag{
		Name:  "wg-device",
		Usage: "local WireGuard device to apply grants on; empty disables grants",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: common.PackageName,
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "provisioning-server",
		Usage: "Serve the WireGuard peer provisioning API",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			metricsAddr := cCtx.String("metrics-addr")
			storeURI := cCtx.String("store-uri")
			outputDir := cCtx.String("output-dir")
			networkCIDR := cCtx.String("network-cidr")
			adminToken := cCtx.String("admin-token")
			adminSession := cCtx.String("admin-session")
			wgDevice := cCtx.String("wg-device")
			logJSON := cCtx.Bool("log-json")
			logDebug := cCtx.Bool("log-debug")
			logUID := cCtx.Bool("log-uid")
			logService := cCtx.String("log-service")
			enablePprof := cCtx.Bool("pprof")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   logDebug,
				JSON:    logJSON,
				Service: logService,
				Version: common.Version,
			})

			if logUID {
				id := uuid.Must(uuid.NewRandom())
				logger = logger.With("uid", id.String())
			}

			serverParams := wgconfig.ServerParams{
				PublicKey:  cCtx.String("server-public-key"),
				Endpoint:   cCtx.String("server-endpoint"),
				AllowedIPs: cCtx.String("allowed-ips"),
				DNS:        cCtx.String("dns"),
			}
			if err := serverParams.Validate(); err != nil {
				logger.Error("Invalid server parameters", "err", err)
				return err
			}

			// Best-effort endpoint resolution check. A failing lookup is
			// surfaced but does not block startup: the resolver may simply
			// be unavailable from this host.
			if addrs, err := wgconfig.PreflightEndpoint(serverParams.Endpoint, ""); err != nil {
				logger.Warn("Server endpoint did not resolve", "endpoint", serverParams.Endpoint, "err", err)
			} else {
				logger.Info("Server endpoint resolved", "endpoint", serverParams.Endpoint, "addrs", addrs)
			}

			network, err := netip.ParsePrefix(networkCIDR)
			if err != nil {
				logger.Error("Invalid network CIDR", "err", err)
				return err
			}
			alloc, err := ipalloc.NewOffsetAllocator(network, ipalloc.DefaultReservedHosts)
			if err != nil {
				logger.Error("Failed to create address allocator", "err", err)
				return err
			}

			store, err := peerstore.NewFactory(logger).StoreFor(storeURI)
			if err != nil {
				logger.Error("Failed to create peer store", "err", err)
				return err
			}
			defer store.Close()
			logger.Info("Peer store ready", "backend", store.Name())

			renderer, err := wgconfig.NewRenderer(outputDir, serverParams, logger)
			if err != nil {
				logger.Error("Failed to create config renderer", "err", err)
				return err
			}

			var keys interfaces.KeyGenerator
			switch mode := cCtx.String("keygen-mode"); mode {
			case "native":
				keys = keygen.NewNative(logger)
			case "wgtool":
				keys = keygen.NewWGTool(
					cCtx.String("wg-bin"),
					cCtx.Int("keygen-pool"),
					time.Duration(cCtx.Int64("keygen-timeout-seconds"))*time.Second,
					logger)
			default:
				return fmt.Errorf("invalid keygen-mode: %s", mode)
			}

			var granter interfaces.NetworkGranter
			if wgDevice != "" {
				granter = wggrant.NewDeviceGranter(wgDevice)
				logger.Info("Network grants enabled", "device", wgDevice)
			}

			var notifier interfaces.Notifier
			if cCtx.Bool("log-notifications") {
				notifier = notify.NewLogNotifier(logger)
			} else {
				notifier = notify.NewWebhookNotifier(notify.DefaultRequestTimeout, logger)
			}

			coordinator := provisioner.NewCoordinator(keys, alloc, store, renderer,
				provisioner.CoordinatorOpts{Granter: granter}, logger)
			service := provisioner.NewService(coordinator, approval.NewRegistry(logger),
				store, notifier, interfaces.SessionHandle(adminSession), granter, logger)

			cfg := &httpserver.HTTPServerConfig{
				ListenAddr:               listenAddr,
				MetricsAddr:              metricsAddr,
				AdminToken:               adminToken,
				Log:                      logger,
				EnablePprof:              enablePprof,
				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}

			server, err := httpserver.New(cfg, httpserver.NewHandler(service, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
