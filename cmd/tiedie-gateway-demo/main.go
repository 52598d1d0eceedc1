// Command tiedie-gateway-demo connects a set of BLE devices through a TieDie
// gateway, enables their events and prints the telemetry the gateway
// publishes until interrupted.
//
// Usage:
//
//	tiedie-gateway-demo [-config tiedie.yaml] [-version]
//
// Settings not in the config file are read from .env and TIEDIE_*
// variables, e.g. TIEDIE_CONTROL_URL, TIEDIE_BROKER_URL, TIEDIE_API_KEY.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"tiedie-sdk/internal/config"
	"tiedie-sdk/internal/influxdb"
	"tiedie-sdk/internal/logging"
	"tiedie-sdk/internal/state"
	"tiedie-sdk/pkg/auth"
	"tiedie-sdk/pkg/nipc"
	"tiedie-sdk/pkg/telemetry"
)

var version = "dev"

// maxConcurrentConnects bounds parallel connect calls against one gateway.
const maxConcurrentConnects = 4

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		logging.Default().Error("gateway demo failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("=== TieDie gateway demo ===",
		"control_url", cfg.Control.BaseURL,
		"broker_url", cfg.Telemetry.BrokerURL,
		"client_id", cfg.Auth.ClientID,
		"devices", len(cfg.Devices),
	)

	tlsConfig, err := createTLSConfig(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to create TLS config: %w", err)
	}

	authenticator, err := newAuthenticator(cfg.Auth, tlsConfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	control := nipc.NewClient(cfg.Control.BaseURL, authenticator,
		nipc.WithTimeout(cfg.ControlTimeout()),
		nipc.WithLogger(logger.With("component", "nipc")),
	)

	if len(cfg.Devices) == 0 && cfg.Onboarding.BaseURL != "" {
		onboarding := nipc.NewOnboardingClient(cfg.Onboarding.BaseURL, authenticator,
			nipc.WithTimeout(cfg.ControlTimeout()),
			nipc.WithLogger(logger.With("component", "onboarding")),
		)
		cfg.Devices, err = onboardedDevices(ctx, onboarding, logger)
		if err != nil {
			return err
		}
	}

	var store *state.Store
	if cfg.State.Path != "" {
		store, err = state.Open(cfg.State.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := disableStaleEvents(ctx, control, store, logger); err != nil {
			return err
		}
	}

	var sink recordSink
	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return err
		}
		influx.SetOnError(func(err error) {
			logger.Warn("influxdb write failed", "error", err)
		})
		defer influx.Close()
		sink = influx
	}

	var data *telemetry.Client
	if cfg.Telemetry.BrokerURL != "" {
		data, err = telemetry.NewClient(cfg.Telemetry.BrokerURL, authenticator,
			telemetry.WithQoS(byte(cfg.Telemetry.QoS)),
			telemetry.WithLogger(logger.With("component", "telemetry")),
		)
		if err != nil {
			return fmt.Errorf("failed to create telemetry client: %w", err)
		}

		logger.Info("connecting to telemetry broker",
			"secure", data.SecureTransport(),
			"hostname_verification", data.HostnameVerification(),
		)
		if err := data.Connect(); err != nil {
			return err
		}
		defer data.Disconnect()

		if err := data.SubscribeTopics(cfg.Telemetry.Topics, createRecordHandler(logger, sink)); err != nil {
			return fmt.Errorf("failed to subscribe to telemetry: %w", err)
		}
	}

	instances, err := connectDevices(ctx, control, logger, cfg.Devices, cfg.Events)
	recordEvents(context.Background(), store, logger, instances)
	if err != nil {
		// Events enabled before the failure must not outlive this run.
		releaseEvents(context.Background(), control, store, logger, instances)
		return err
	}
	logger.Info("gateway demo active (press Ctrl+C to stop)", "events", len(instances))

	<-ctx.Done()

	if data != nil {
		if err := data.Unsubscribe(cfg.Telemetry.Topics...); err != nil {
			logger.Warn("failed to unsubscribe", "error", err)
		}
	}
	if sink != nil {
		sink.Flush()
	}

	// The signal context is done; clean up with a fresh one.
	cleanup := context.Background()
	releaseEvents(cleanup, control, store, logger, instances)
	for _, id := range cfg.Devices {
		resp, err := control.Disconnect(cleanup, nipc.Device{ID: id})
		if err != nil {
			logger.Warn("failed to disconnect device", "device_id", id, "error", err)
			continue
		}
		if resp.IsError() {
			logger.Warn("gateway refused disconnect", "device_id", id, "problem", resp.Error)
		}
	}

	logger.Info("gateway demo stopped")
	return nil
}

// onboardedDevices returns the IDs of the active devices onboarded on the
// gateway.
func onboardedDevices(ctx context.Context, onboarding *nipc.OnboardingClient, logger *logging.Logger) ([]string, error) {
	resp, err := onboarding.GetDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list onboarded devices: %w", err)
	}
	if !resp.IsSuccess() || resp.Body == nil {
		return nil, fmt.Errorf("failed to list onboarded devices: %d %s", resp.StatusCode, resp.Message)
	}

	var ids []string
	for _, d := range resp.Body.Resources {
		if !d.Active {
			logger.Debug("skipping inactive device", "device_id", d.ID)
			continue
		}
		ids = append(ids, d.Device().ID)
	}
	logger.Info("using onboarded devices", "devices", len(ids), "total", resp.Body.TotalResults)

	return ids, nil
}

// eventInstance is an enabled event to disable on shutdown.
type eventInstance struct {
	nipc.EventRegistration
	deviceID string
}

// connectDevices connects every device concurrently and enables the
// configured events on each. A device the gateway rejects is logged and
// skipped; transport failures abort. The instances enabled so far are
// returned even when it fails.
func connectDevices(ctx context.Context, control *nipc.Client, logger *logging.Logger, deviceIDs, events []string) ([]eventInstance, error) {
	results := make([][]eventInstance, len(deviceIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentConnects)

	for i, id := range deviceIDs {
		g.Go(func() error {
			log := logger.With("device_id", id)

			resp, err := control.Connect(ctx, nipc.Device{ID: id}, nil)
			if err != nil {
				return fmt.Errorf("failed to connect %s: %w", id, err)
			}
			if resp.IsError() {
				log.Warn("gateway refused connection", "problem", resp.Error)
				return nil
			}
			for _, p := range resp.Body {
				log.Info("characteristic",
					"service", p.ServiceID,
					"characteristic", p.CharacteristicID,
					"flags", p.Flags,
				)
			}

			for _, event := range events {
				enabled, err := control.EnableEvent(ctx, id, event)
				if err != nil {
					return fmt.Errorf("failed to enable %s on %s: %w", event, id, err)
				}
				if enabled.IsError() {
					log.Warn("gateway refused event", "event", event, "problem", enabled.Error)
					continue
				}
				if !enabled.HasBody() {
					log.Warn("event enabled without instance id", "event", event)
					continue
				}
				results[i] = append(results[i], eventInstance{EventRegistration: enabled.Body, deviceID: id})
			}
			return nil
		})
	}

	err := g.Wait()

	var instances []eventInstance
	for _, r := range results {
		instances = append(instances, r...)
	}
	return instances, err
}

// recordEvents saves instances so a later run can disable them if this one
// dies before shutdown. store may be nil.
func recordEvents(ctx context.Context, store *state.Store, logger *logging.Logger, instances []eventInstance) {
	if store == nil {
		return
	}
	for _, inst := range instances {
		if err := store.Save(ctx, state.EventInstance{DeviceID: inst.deviceID, Event: inst.Event, InstanceID: inst.InstanceID}); err != nil {
			logger.Warn("failed to record event instance", "device_id", inst.deviceID, "error", err)
		}
	}
}

// releaseEvents disables instances and forgets the ones the gateway
// answered for. Instances that could not be reached stay in store.
func releaseEvents(ctx context.Context, control *nipc.Client, store *state.Store, logger *logging.Logger, instances []eventInstance) {
	for _, inst := range instances {
		if _, err := control.DisableEvent(ctx, inst.deviceID, inst.InstanceID); err != nil {
			logger.Warn("failed to disable event", "device_id", inst.deviceID, "error", err)
			continue
		}
		if store != nil {
			if err := store.Delete(ctx, inst.deviceID, inst.InstanceID); err != nil {
				logger.Warn("failed to forget event instance", "device_id", inst.deviceID, "error", err)
			}
		}
	}
}

// disableStaleEvents disables the event instances a previous run left
// enabled. Instances the gateway no longer knows are forgotten as well.
func disableStaleEvents(ctx context.Context, control *nipc.Client, store *state.Store, logger *logging.Logger) error {
	stale, err := store.List(ctx)
	if err != nil {
		return err
	}

	for _, inst := range stale {
		resp, err := control.DisableEvent(ctx, inst.DeviceID, inst.InstanceID)
		if err != nil {
			return fmt.Errorf("failed to disable stale event on %s: %w", inst.DeviceID, err)
		}
		if resp.IsError() {
			logger.Warn("gateway refused to disable stale event",
				"device_id", inst.DeviceID, "instance_id", inst.InstanceID, "problem", resp.Error)
		} else {
			logger.Info("disabled stale event", "device_id", inst.DeviceID, "event", inst.Event)
		}
		if err := store.Delete(ctx, inst.DeviceID, inst.InstanceID); err != nil {
			return err
		}
	}

	return nil
}

// recordSink stores telemetry records.
type recordSink interface {
	WriteRecord(topic string, record telemetry.Record)
	Flush()
}

var _ recordSink = (*influxdb.Client)(nil)

// createRecordHandler logs every telemetry record and hands it to sink,
// which may be nil.
func createRecordHandler(logger *logging.Logger, sink recordSink) telemetry.TopicHandler {
	return func(record telemetry.Record, topic string) {
		if sink != nil {
			sink.WriteRecord(topic, record)
		}

		attrs := []any{
			"topic", topic,
			"device_id", record.DeviceID,
			"data", hex.EncodeToString(record.Data),
		}
		if t := record.Time(); !t.IsZero() {
			attrs = append(attrs, "time", t)
		}
		switch {
		case record.BLESubscription != nil:
			attrs = append(attrs,
				"service", record.BLESubscription.ServiceID,
				"characteristic", record.BLESubscription.CharacteristicID)
		case record.BLEAdvertisement != nil:
			attrs = append(attrs,
				"mac", record.BLEAdvertisement.MACAddress,
				"rssi", record.BLEAdvertisement.RSSI)
		case record.BLEConnectionStatus != nil:
			attrs = append(attrs,
				"mac", record.BLEConnectionStatus.MACAddress,
				"connected", record.BLEConnectionStatus.Connected)
		}
		logger.Info("telemetry", attrs...)
	}
}

func newAuthenticator(cfg config.AuthConfig, tlsConfig *tls.Config) (auth.Authenticator, error) {
	if cfg.APIKey != "" {
		return auth.NewAPIKeyAuthenticator(cfg.AppID, cfg.APIKey, tlsConfig)
	}
	clientID := cfg.AppID
	if clientID == "" {
		clientID = cfg.ClientID
	}
	return auth.NewBearerAuthenticator(clientID, auth.StaticToken(cfg.Token), tlsConfig)
}

// createTLSConfig creates TLS configuration from the configured CA bundle.
// It returns nil when nothing needs overriding.
func createTLSConfig(cfg config.AuthConfig) (*tls.Config, error) {
	if cfg.CACert == "" && !cfg.Insecure {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.Insecure, //nolint:gosec // opt-in for lab gateways
	}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
