package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trigger-cli/internal/enrich"
	"github.com/sells-group/trigger-cli/internal/ingest"
	"github.com/sells-group/trigger-cli/internal/llm"
	"github.com/sells-group/trigger-cli/internal/notify"
	"github.com/sells-group/trigger-cli/internal/resilience"
	"github.com/sells-group/trigger-cli/internal/search"
	"github.com/sells-group/trigger-cli/internal/store"
	"github.com/sells-group/trigger-cli/internal/trigger"
	ingestapi "github.com/sells-group/trigger-cli/pkg/ingest"
	"github.com/sells-group/trigger-cli/pkg/jina"
	"github.com/sells-group/trigger-cli/pkg/notion"
	"github.com/sells-group/trigger-cli/pkg/profile"
	"github.com/sells-group/trigger-cli/pkg/salesforce"
)

// engineEnv holds the store, runner, notifier and progress hub needed by
// the serve, worker and triggers run commands.
type engineEnv struct {
	Store    store.Store
	Runner   *trigger.Runner
	Service  *trigger.Service
	Notifier *notify.Dispatcher
	Hub      *notify.Hub
}

// Close releases resources held by the engine environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "triggers.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// withStore adapts fn to a cobra RunE that opens the store for the duration
// of the command.
func withStore(fn func(cmd *cobra.Command, args []string, st store.Store) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		return fn(cmd, args, st)
	}
}

// newService returns a trigger service validating against the standard
// stage registry. No collaborators are needed to validate.
func newService(st store.Store) *trigger.Service {
	return trigger.NewService(st, trigger.NewRegistry(trigger.Deps{}, trigger.RunnerConfig{}))
}

// initEngine builds every collaborator and the runner. Callers should defer
// env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewBreakers(resilience.BreakerFromConfig(cfg.Resilience))
	policy := resilience.PolicyFromConfig(cfg.Resilience, 0)
	guard := func(service string, timeout time.Duration) *resilience.Guard {
		return resilience.NewGuard(service, breakers, policy, timeout)
	}

	classifier, err := llm.New(ctx, cfg, breakers)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	jinaClient := jina.NewClient(cfg.Jina.Key,
		jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
		jina.WithRateLimit(cfg.Jina.RateLimit),
	)
	profileClient := profile.NewClient(cfg.Profile.BaseURL, cfg.Profile.Key)

	ingester, err := initIngester(guard("ingest", time.Minute))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	slackTimeout := time.Duration(cfg.Slack.TimeoutSecs) * time.Second
	notifyOpts := []notify.Option{
		notify.WithHTTPClient(&http.Client{Timeout: slackTimeout}),
		notify.WithRateLimit(cfg.Slack.RateLimit),
	}
	if cfg.Notion.Token != "" {
		notifyOpts = append(notifyOpts, notify.WithNotion(notion.NewClient(cfg.Notion.Token), guard("notion", 30*time.Second)))
	} else {
		zap.L().Debug("TRIGGERS_NOTION_TOKEN not set, notion:// destinations disabled")
	}

	hub := notify.NewHub()
	notifier := notify.NewDispatcher(guard("webhook", slackTimeout), notifyOpts...)
	deps := trigger.Deps{
		Store:       st,
		Classifier:  classifier,
		Searcher:    search.NewJinaSearcher(jinaClient, guard("jina", 30*time.Second)),
		Enricher:    enrich.NewProfileEnricher(profileClient, guard("profile", 30*time.Second)),
		Ingester:    ingester,
		Notifier:    notifier,
		Broadcaster: notify.MultiBroadcaster{hub, notify.ZapBroadcaster{}},
	}
	runner := trigger.NewRunner(deps, trigger.RunnerConfigFrom(cfg.Engine))

	zap.L().Info("engine initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("classifier", cfg.Classifier.Provider),
		zap.String("ingest", cfg.Ingest.Provider),
	)

	return &engineEnv{
		Store:    st,
		Runner:   runner,
		Service:  trigger.NewService(st, runner.Registry()),
		Notifier: notifier,
		Hub:      hub,
	}, nil
}

func initIngester(guard *resilience.Guard) (trigger.Ingester, error) {
	switch cfg.Ingest.Provider {
	case "salesforce":
		sf, err := salesforce.Connect(salesforce.Creds{
			LoginURL: cfg.Salesforce.LoginURL,
			Username: cfg.Salesforce.Username,
			ClientID: cfg.Salesforce.ClientID,
			KeyPath:  cfg.Salesforce.KeyPath,
		})
		if err != nil {
			return nil, err
		}
		return ingest.NewSalesforceIngester(sf, cfg.Salesforce.LeadSource, guard), nil
	case "http", "":
		return ingest.NewHTTPIngester(ingestapi.NewClient(cfg.Ingest.BaseURL, cfg.Ingest.Key), guard), nil
	default:
		return nil, eris.Errorf("unsupported ingest provider: %s", cfg.Ingest.Provider)
	}
}
