// Command connector runs the Paradise perpetual futures connector: it keeps
// order books, account state, and order lifecycles synchronized with the
// exchange over REST and streams.
package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/quantfabric/paradise/internal/account"
	"github.com/quantfabric/paradise/internal/auth"
	"github.com/quantfabric/paradise/internal/book"
	"github.com/quantfabric/paradise/internal/clock"
	"github.com/quantfabric/paradise/internal/config"
	"github.com/quantfabric/paradise/internal/logging"
	"github.com/quantfabric/paradise/internal/rest"
	"github.com/quantfabric/paradise/internal/schema"
	"github.com/quantfabric/paradise/internal/symbols"
	"github.com/quantfabric/paradise/internal/telemetry"
	"github.com/quantfabric/paradise/internal/throttler"
	"github.com/quantfabric/paradise/internal/ws"
)

const (
	defaultConfigPath        = "config/connector.yaml"
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the connector configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Component("main").WithError(err).Fatal("load configuration")
	}
	logging.Init(cfg.Logging)
	log := logging.Component("main")

	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = cfg.Environment
	}
	telemetryProvider, err := telemetry.NewProvider(ctx, cfg.Telemetry.Export())
	if err != nil {
		log.WithError(err).Fatal("initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("telemetry shutdown")
		}
	}()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("connector stopped")
	}
	log.Info("connector stopped")
}

func run(ctx context.Context, cfg config.Config, log *logrus.Entry) error {
	creds, err := config.CredentialsFromEnv()
	if err != nil {
		return err
	}

	clk := clock.NewSynchronized(clock.System{})
	signer, err := auth.NewSigner(creds.APIKey, creds.APISecret, clk)
	if err != nil {
		return err
	}

	environment := rest.EnvProduction
	if cfg.Testnet() {
		environment = rest.EnvTestnet
	}

	symbolMap, err := discoverSymbols(ctx, cfg, environment, signer, clk)
	if err != nil {
		return err
	}
	pairs := symbolMap.Pairs()
	log.WithField("pairs", len(pairs)).Info("trading pairs mapped")

	throttle, err := throttler.New(clk, rest.DefaultRateLimits(pairs))
	if err != nil {
		return err
	}
	dispatcher, err := rest.NewDispatcher(rest.Options{
		Environment: environment,
		Signer:      signer,
		Throttler:   throttle,
		Clock:       clk,
	})
	if err != nil {
		return err
	}
	if err := dispatcher.SyncClock(ctx); err != nil {
		return err
	}

	rules, err := account.FetchTradingRules(ctx, dispatcher, symbolMap)
	if err != nil {
		return err
	}
	log.WithField("rules", len(rules)).Info("trading rules loaded")

	synchronizer := book.NewSynchronizer(dispatcher, symbolMap)
	if err := synchronizer.Seed(ctx); err != nil {
		return err
	}

	reconciler := account.NewReconciler(account.NewTracker())
	poller := account.NewPoller(dispatcher, symbolMap, reconciler, cfg.PollInterval.Std())
	streamHandlers := account.NewStreamHandlers(reconciler, symbolMap, poller.RefreshBalances)

	contracts := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		symbol, err := symbolMap.Resolve(pair)
		if err != nil {
			return err
		}
		contracts = append(contracts, symbol)
	}

	market := ws.NewSession("market", ws.Config{
		URL: ws.StreamURL(cfg.Testnet()),
		Topics: []string{
			ws.PublicTopic(ws.ChannelTrades, contracts),
			ws.PublicTopic(ws.ChannelOrderBook, contracts),
			ws.InstrumentTopic(contracts),
		},
		IdleTimeout: cfg.IdleTimeout.Std(),
	})
	market.Route(ws.ChannelTrades, synchronizer.HandleTradeMessage)
	market.Route(ws.ChannelOrderBook, synchronizer.HandleBookMessage)

	bookFeed := ws.NewSession("book", ws.Config{
		URL:         ws.BookFeedURL(cfg.Testnet()),
		Topics:      deltaTopics(contracts),
		IdleTimeout: cfg.IdleTimeout.Std(),
	})
	bookFeed.Route(ws.ChannelBookDelta, synchronizer.HandleBookMessage)

	private := ws.NewSession("private", ws.Config{
		URL: ws.StreamURL(cfg.Testnet()),
		Topics: []string{
			ws.ChannelPositions,
			ws.ChannelFills,
			ws.ChannelNotifications,
		},
		Auth:        func() any { return signer.WSAuthPayload() },
		IdleTimeout: cfg.IdleTimeout.Std(),
	})
	streamHandlers.Register(private)

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { runUntilCancelled(ctx, log, "market stream", market.Run) })
	lifecycle.Go(func() { runUntilCancelled(ctx, log, "book stream", bookFeed.Run) })
	lifecycle.Go(func() { runUntilCancelled(ctx, log, "private stream", private.Run) })
	lifecycle.Go(func() { runUntilCancelled(ctx, log, "reconciliation", poller.Run) })
	lifecycle.Go(func() { drainEvents(ctx, synchronizer, reconciler) })

	log.Info("connector running")
	<-ctx.Done()
	lifecycle.Wait()
	return ctx.Err()
}

// discoverSymbols loads the exchange symbol map with a bootstrap dispatcher
// holding only global rate limit buckets, then narrows it to the configured
// pairs.
func discoverSymbols(ctx context.Context, cfg config.Config, environment rest.Environment, signer *auth.Signer, clk *clock.Synchronized) (*symbols.Map, error) {
	throttle, err := throttler.New(clk, rest.DefaultRateLimits(nil))
	if err != nil {
		return nil, err
	}
	dispatcher, err := rest.NewDispatcher(rest.Options{
		Environment: environment,
		Signer:      signer,
		Throttler:   throttle,
		Clock:       clk,
	})
	if err != nil {
		return nil, err
	}
	if err := dispatcher.SyncClock(ctx); err != nil {
		return nil, err
	}

	discovered := symbols.NewMap()
	if err := account.LoadSymbolMap(ctx, dispatcher, discovered); err != nil {
		return nil, err
	}

	wanted := cfg.TradingPairs()
	if len(wanted) == 0 {
		return discovered, nil
	}
	narrowed := symbols.NewMap()
	for _, pair := range wanted {
		symbol, err := discovered.Resolve(pair)
		if err != nil {
			return nil, err
		}
		narrowed.Put(symbol, pair)
	}
	return narrowed, nil
}

// deltaTopics renders one delta feed subscription per contract. The feed
// groups books under a numeric partition suffix.
func deltaTopics(contracts []string) []string {
	topics := make([]string, 0, len(contracts))
	for _, symbol := range contracts {
		topics = append(topics, ws.PublicTopic(ws.ChannelBookDelta, []string{symbol + "_0"}))
	}
	return topics
}

func runUntilCancelled(ctx context.Context, log *logrus.Entry, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).WithField("task", name).Error("task exited")
	}
}

// drainEvents keeps the connector's outbound channels moving when no strategy
// is attached, logging a compact digest of each event.
func drainEvents(ctx context.Context, synchronizer *book.Synchronizer, reconciler *account.Reconciler) {
	log := logging.Component("events")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-synchronizer.Events():
			log.WithFields(logrus.Fields{
				"type":      string(ev.Type),
				"pair":      string(ev.Pair),
				"update_id": ev.UpdateID,
			}).Debug("book event")
		case trade := <-synchronizer.Trades():
			log.WithFields(logrus.Fields{
				"pair":  string(trade.Pair),
				"side":  string(trade.Side),
				"price": trade.Price.String(),
			}).Debug("public trade")
		case ev := <-reconciler.Events():
			logAccountEvent(log, ev)
		}
	}
}

func logAccountEvent(log *logrus.Entry, ev schema.Event) {
	entry := log.WithField("type", string(ev.Type))
	if ev.Pair != "" {
		entry = entry.WithField("pair", string(ev.Pair))
	}
	entry.Info("account event")
}
