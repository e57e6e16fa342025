package business

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openscms/auth-gateway/internal/business/server"
	"github.com/openscms/auth-gateway/internal/config"
	"github.com/openscms/auth-gateway/internal/google"
	"github.com/openscms/auth-gateway/internal/idp"
	idpsql "github.com/openscms/auth-gateway/internal/idp/sql"
	"github.com/openscms/auth-gateway/internal/scmsapi"
	"github.com/openscms/auth-gateway/internal/session"
	sessionvalkey "github.com/openscms/auth-gateway/internal/session/valkey"
)

// Main starts the public HTTP REST API server.
func Main(ctx context.Context, cfg *config.Config) error {
	gateway, closeFn, err := initGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the gateway: %w", err)
	}

	defer closeFn()

	return server.StartHTTPServer(ctx, cfg, gateway)
}

// initGateway wires the session manager and its collaborators from config.
func initGateway(ctx context.Context, cfg *config.Config) (_ *server.Gateway, closeFn func(), _ error) {
	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("making dsn from config: %w", err)
	}

	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyClient, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	sessionRepo := sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix)
	providers := idp.NewService(idpsql.NewRepository(db))

	api, err := scmsapi.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("creating backend client: %w", err)
	}

	adapter, relay, err := initGoogleAdapter(ctx, cfg, providers)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising google adapter: %w", err)
	}

	stateSecret, err := commoncfg.LoadValueFromSourceRef(cfg.Google.StateSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("loading google state secret: %w", err)
	}

	events := session.NewTimeoutBus()
	manager := session.NewManager(cfg, api, sessionRepo, adapter, events)

	gateway := &server.Gateway{
		Manager:     manager,
		Providers:   providers,
		Relay:       relay,
		Events:      events,
		StateSecret: []byte(stateSecret),
	}

	closeFn = func() {
		valkeyClient.Close()
		db.Close()
	}

	return gateway, closeFn, nil
}

// initGoogleAdapter resolves the school's OAuth client and builds the relay
// widget plus the adapter on top of it. A school without a usable client does
// not stop the gateway; password logins still work and Google sign-in fails
// with a configuration error.
func initGoogleAdapter(ctx context.Context, cfg *config.Config, providers *idp.Service) (*google.Adapter, *google.RelayWidget, error) {
	fallbackClientID, err := commoncfg.LoadValueFromSourceRef(cfg.Google.ClientID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading google client ID: %w", err)
	}

	clientID, err := providers.ResolveClientID(ctx, cfg.Google.School, string(fallbackClientID))
	if err != nil {
		slogctx.Warn(ctx, "Google sign-in is unavailable for this school", "school", cfg.Google.School, "error", err)
		clientID = ""
	}

	relay := google.NewRelayWidget(clientID, http.DefaultClient,
		google.WithIssuerURL(cfg.Google.IssuerURL),
	)

	// The relay waits on the user completing the browser popup, which takes
	// longer than an inline prompt.
	timeout := cfg.Google.SignInTimeout
	if cfg.Google.PopupTimeout > 0 {
		timeout = cfg.Google.PopupTimeout
	}

	return google.NewAdapter(clientID, relay, timeout), relay, nil
}
