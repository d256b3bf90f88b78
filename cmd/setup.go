package cmd

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"github.com/AvaProtocol/userop-relay/core/account"
	"github.com/AvaProtocol/userop-relay/core/config"
	"github.com/AvaProtocol/userop-relay/core/orchestrator"
	"github.com/AvaProtocol/userop-relay/metrics"
	"github.com/AvaProtocol/userop-relay/pkg/eip1559"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/bundler"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/signer"
	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

// app bundles what every command builds from the configuration.
type app struct {
	cfg     *config.Config
	logger  logger.Logger
	metrics metrics.Recorder
	relay   *bundler.Client
	eth     *ethclient.Client
	server  *http.Server
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return nil, err
	}

	lgr, err := logger.New(string(cfg.Environment))
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: lgr, metrics: metrics.NewNoopRecorder()}
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		a.metrics = metrics.NewRelayMetrics(reg)
		a.server = &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lgr.Error("metrics server stopped", "address", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	a.relay, err = bundler.NewClient(bundler.Options{
		BaseURL: cfg.RelayBaseURL,
		ChainID: cfg.ChainID,
		APIKey:  cfg.APIKey,
		Timeout: cfg.RequestTimeout,
		Logger:  lgr,
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL != "" {
		a.eth, err = ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial rpc %s: %w", cfg.RPCURL, err)
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.eth != nil {
		a.eth.Close()
	}
	if a.server != nil {
		_ = a.server.Close()
	}
}

func (a *app) signers() []signer.Signer {
	return lo.Map(a.cfg.PrivateKeys, func(k *ecdsa.PrivateKey, _ int) signer.Signer {
		return signer.NewPrivateKeySigner(k)
	})
}

// orchestratorOptions wires the chain backed collaborators. The account
// address has to be configured; nonce, fees and deployment state come from
// the rpc node.
func (a *app) orchestratorOptions() (orchestrator.Options, error) {
	cfg := a.cfg
	if cfg.Sender == nil {
		return orchestrator.Options{}, fmt.Errorf("%w: sender address is required", config.ErrConfig)
	}
	if a.eth == nil {
		return orchestrator.Options{}, fmt.Errorf("%w: rpc url is required to read the account nonce", config.ErrConfig)
	}

	tracker := bundler.NewTracker(a.relay, bundler.TrackerConfig{
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.MaxPollAttempts,
		MaxWait:      cfg.MaxWait,
	}, a.logger, a.metrics)

	nonces := bundler.NewNonceManager(entrypoint.NewNonceReader(a.eth, common.HexToAddress(cfg.EntryPoint)), a.logger)

	return orchestrator.Options{
		EntryPoint:                cfg.EntryPoint,
		ChainID:                   cfg.ChainID,
		APIKey:                    cfg.APIKey,
		Safe4337Module:            cfg.Safe4337Module,
		PaymasterAndData:          cfg.PaymasterAndData,
		CheckSupportedEntryPoints: cfg.CheckSupportedEntryPoints,

		Relay:   a.relay,
		Tracker: tracker,
		Signers: a.signers(),
		Account: account.StaticAccount{Sender: *cfg.Sender, InitCode: cfg.InitCode},
		Call: account.SafeCall{
			To:        cfg.Call.To,
			Value:     cfg.Call.Value,
			Data:      cfg.Call.Data,
			Operation: cfg.Call.Operation,
		},
		Nonces: nonces,
		Fees:   eip1559.NewSource(a.eth),
		Code:   a.eth,

		Logger:  a.logger,
		Metrics: a.metrics,
	}, nil
}
