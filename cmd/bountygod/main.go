package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bountygo/config"
	"bountygo/core/events"
	"bountygo/core/types"
	"bountygo/gateway"
	"bountygo/native/escrow"
	"bountygo/native/params"
	"bountygo/native/promo"
	"bountygo/native/token"
	"bountygo/observability/logging"
	"bountygo/rpc"
	"bountygo/state"
	"bountygo/storage"
)

// slogEmitter mirrors every engine event into the structured log so external
// auditors can tail the daemon instead of polling state.
type slogEmitter struct {
	logger *slog.Logger
}

func (e *slogEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	attrs := []any{"event", evt.EventType()}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if wire := carrier.Event(); wire != nil {
			for key, value := range wire.Attributes {
				attrs = append(attrs, key, value)
			}
		}
	}
	e.logger.Info("ledger event", attrs...)
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("BOUNTYGO_ENV"))
	logger := logging.Setup("bountygod", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Environment
	}

	db, err := openDatabase(cfg, logger)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	manager.SetLogger(logger.With("component", "state"))
	paramStore := newParamStore(manager, cfg, logger)

	registry, ledgers, err := buildRegistry(cfg)
	if err != nil {
		logger.Error("failed to build token registry", slog.Any("error", err))
		os.Exit(1)
	}

	owner, err := requireAddress(cfg.Owner, "Owner")
	if err != nil {
		logger.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}
	treasury, err := requireAddress(cfg.Treasury, "Treasury")
	if err != nil {
		logger.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}
	vault, err := requireAddress(cfg.Vault, "Vault")
	if err != nil {
		logger.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	emitter := &slogEmitter{logger: logger}

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(manager)
	escrowEngine.SetRegistry(registry)
	escrowEngine.SetParams(paramStore)
	escrowEngine.SetOwner(owner)
	escrowEngine.SetFeeTreasury(treasury)
	escrowEngine.SetVault(vault)
	escrowEngine.SetEmitter(emitter)
	for _, raw := range cfg.Resolvers {
		resolver, err := requireAddress(raw, "Resolvers")
		if err != nil {
			logger.Error("invalid config", slog.Any("error", err))
			os.Exit(1)
		}
		if err := escrowEngine.AddResolver(owner, resolver); err != nil {
			logger.Error("failed to register resolver", slog.Any("error", err))
			os.Exit(1)
		}
	}

	promoEngine := promo.NewEngine()
	promoEngine.SetState(manager)
	promoEngine.SetRegistry(registry)
	promoEngine.SetParams(paramStore)
	promoEngine.SetOwner(owner)
	promoEngine.SetTreasury(treasury)
	promoEngine.SetVault(vault)
	promoEngine.SetBaseToken(cfg.BaseToken)
	promoEngine.SetEmitter(emitter)
	if err := promoEngine.SeedCatalog(promo.DefaultCatalog(baseDecimals(cfg))); err != nil {
		logger.Error("failed to seed promotion catalog", slog.Any("error", err))
		os.Exit(1)
	}

	rpcServer := rpc.NewServer(escrowEngine, promoEngine, manager, registry, ledgers, logger)
	gatewayServer := gateway.New(gateway.Config{
		Escrow: escrowEngine,
		Promo:  promoEngine,
		State:  manager,
		Authenticator: gateway.NewAuthenticator(gateway.AuthConfig{
			HMACSecret: cfg.Gateway.JWTSecret,
			Issuer:     cfg.Gateway.JWTIssuer,
			Audience:   cfg.Gateway.JWTAudience,
		}, logger),
		Logger: logger,
	})

	rpcHTTP := &http.Server{Addr: cfg.RPCAddress, Handler: rpcServer.Handler()}
	gatewayHTTP := &http.Server{Addr: cfg.Gateway.ListenAddress, Handler: gatewayServer.Handler()}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting JSON-RPC server", "addr", cfg.RPCAddress)
		errCh <- rpcHTTP.ListenAndServe()
	}()
	go func() {
		logger.Info("starting query gateway", "addr", cfg.Gateway.ListenAddress)
		errCh <- gatewayHTTP.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.Any("error", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rpcHTTP.Shutdown(ctx); err != nil {
		logger.Error("rpc shutdown failed", slog.Any("error", err))
	}
	if err := gatewayHTTP.Shutdown(ctx); err != nil {
		logger.Error("gateway shutdown failed", slog.Any("error", err))
	}
}

func openDatabase(cfg *config.Config, logger *slog.Logger) (storage.Database, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		logger.Warn("no data directory configured, using in-memory state")
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(cfg.DataDir)
}

// newParamStore seeds the governed parameters from config on first boot.
// Values already persisted (e.g. changed at runtime by the owner) win over
// the config file on restart.
func newParamStore(manager *state.Manager, cfg *config.Config, logger *slog.Logger) *params.Store {
	store := params.NewStore(manager)
	if _, ok, err := manager.ParamStoreGet(params.ParamsKeyFeeBps); err == nil && !ok {
		if err := store.SetFeeBps(cfg.FeeBps); err != nil {
			logger.Error("failed to seed fee parameter", slog.Any("error", err))
			os.Exit(1)
		}
	}
	if _, ok, err := manager.ParamStoreGet(params.ParamsKeyDisputeWindow); err == nil && !ok {
		if err := store.SetDisputeWindow(cfg.DisputeWindowSeconds); err != nil {
			logger.Error("failed to seed dispute window parameter", slog.Any("error", err))
			os.Exit(1)
		}
	}
	return store
}

func buildRegistry(cfg *config.Config) (*token.Registry, map[string]token.Ledger, error) {
	registry := token.NewRegistry()
	ledgers := make(map[string]token.Ledger, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		symbol, err := token.NormalizeSymbol(tok.Symbol)
		if err != nil {
			return nil, nil, err
		}
		ledger := token.NewMemLedger()
		if err := registry.Add(symbol, tok.Decimals, ledger); err != nil {
			return nil, nil, fmt.Errorf("register token %s: %w", symbol, err)
		}
		ledgers[symbol] = ledger
	}
	return registry, ledgers, nil
}

func baseDecimals(cfg *config.Config) uint8 {
	base := strings.ToUpper(strings.TrimSpace(cfg.BaseToken))
	for _, tok := range cfg.Tokens {
		if strings.ToUpper(strings.TrimSpace(tok.Symbol)) == base {
			return tok.Decimals
		}
	}
	return 18
}

func requireAddress(value, field string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("config: %s must be a hex address, got %q", field, value)
	}
	return common.HexToAddress(trimmed), nil
}
