package main

import (
	"context"
	"errors"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulselabs/pulse/backend/internal/auth"
	"github.com/pulselabs/pulse/backend/internal/config"
	"github.com/pulselabs/pulse/backend/internal/database"
	"github.com/pulselabs/pulse/backend/internal/ident"
	"github.com/pulselabs/pulse/backend/internal/logging"
	"github.com/pulselabs/pulse/backend/internal/memos"
	"github.com/pulselabs/pulse/backend/internal/messaging"
	"github.com/pulselabs/pulse/backend/internal/notify"
	"github.com/pulselabs/pulse/backend/internal/presence"
	"github.com/pulselabs/pulse/backend/internal/realtime"
	"github.com/pulselabs/pulse/backend/internal/relay"
	"github.com/pulselabs/pulse/backend/internal/server"
	"github.com/pulselabs/pulse/backend/internal/tasks"
	"github.com/pulselabs/pulse/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulse-api",
		Short: "Pulse realtime notification backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("smtp-address", defaults.GetString("smtp.address"), "SMTP relay host:port for email notifications")
	cmd.PersistentFlags().String("smtp-from", defaults.GetString("smtp.from"), "Sender address for email notifications")
	cmd.PersistentFlags().String("sms-gateway-url", defaults.GetString("sms.gateway_url"), "HTTP SMS gateway endpoint")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "smtp.address", "smtp-address")
	bindFlag(cmd, "smtp.from", "smtp-from")
	bindFlag(cmd, "sms.gateway_url", "sms-gateway-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := ident.NewUUIDProvider()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	authenticator, err := auth.NewHandshakeAuthenticator(auth.HandshakeAuthenticatorConfig{
		Tokens: tokenManager,
		Lookup: func(lookupCtx context.Context, userID string) (auth.Identity, error) {
			account, err := usersService.GetByID(lookupCtx, userID)
			if errors.Is(err, users.ErrUnknownUser) {
				return auth.Identity{}, auth.ErrUnknownSubject
			}
			if err != nil {
				return auth.Identity{}, err
			}
			return auth.Identity{
				UserID:      account.UserID,
				Role:        string(account.Role),
				DisplayName: account.DisplayName,
			}, nil
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	hub := realtime.NewHub(logger)

	presenceTracker, err := presence.NewTracker(presence.TrackerConfig{
		Database:    db,
		Broadcaster: hub,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	messagingService, err := messaging.NewService(messaging.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	memosService, err := memos.NewService(memos.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	tasksService, err := tasks.NewService(tasks.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	notifier, err := notify.NewDispatcher(notify.DispatcherConfig{
		Directory: usersService,
		Channels:  buildChannels(appConfig, logger),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	eventRelay, err := relay.New(relay.Config{
		Messages:    messagingService,
		Memos:       memosService,
		Tasks:       tasksService,
		Broadcaster: hub,
		Presence:    presenceTracker,
		Notifier:    notifier,
		Directory:   usersService,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	socketHandler, err := server.NewSocketHandler(server.SocketHandlerConfig{
		Authenticator:  authenticator,
		Hub:            hub,
		Relay:          eventRelay,
		Presence:       presenceTracker,
		IDProvider:     idProvider,
		OriginPatterns: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Authenticator:  authenticator,
		TokenManager:   tokenManager,
		Users:          usersService,
		Relay:          eventRelay,
		Presence:       presenceTracker,
		Socket:         socketHandler,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildChannels(appConfig config.AppConfig, logger *zap.Logger) []notify.Channel {
	channels := make([]notify.Channel, 0, 2)
	if appConfig.SMTPAddress != "" && appConfig.SMTPFrom != "" {
		var smtpAuth smtp.Auth
		emailChannel, err := notify.NewEmailChannel(notify.EmailChannelConfig{
			Address: appConfig.SMTPAddress,
			From:    appConfig.SMTPFrom,
			Auth:    smtpAuth,
		})
		if err != nil {
			logger.Warn("email channel disabled", zap.Error(err))
		} else {
			channels = append(channels, emailChannel)
		}
	}
	if appConfig.SMSGatewayURL != "" {
		smsChannel, err := notify.NewSMSChannel(notify.SMSChannelConfig{
			GatewayURL: appConfig.SMSGatewayURL,
			APIKey:     appConfig.SMSGatewayKey,
		})
		if err != nil {
			logger.Warn("sms channel disabled", zap.Error(err))
		} else {
			channels = append(channels, smsChannel)
		}
	}
	if len(channels) == 0 {
		logger.Info("no durable notification channels configured")
	}
	return channels
}
