package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"courier/internal/cipher"
	"courier/internal/domain"
	"courier/internal/jobs"
	"courier/internal/messages"
	"courier/internal/metrics"
	"courier/internal/platform/ratelimiter"
	"courier/internal/relay"
	identitysvc "courier/internal/services/identity"
	messagesvc "courier/internal/services/message"
	prekeysvc "courier/internal/services/prekey"
	sessionsvc "courier/internal/services/session"
	"courier/internal/store"
	"courier/internal/store/sqlite"
	"courier/internal/transport"
)

// ErrObserverRunning is returned when Run is called while the pipeline of
// the same account is already running.
var ErrObserverRunning = errors.New("app: observer already running")

// ErrNoUsername is returned when an operation needs the local account name.
var ErrNoUsername = errors.New("app: username required")

// Wire bundles the stores and services that work without unlocking the
// identity.
type Wire struct {
	Config Config

	Identities *store.IdentityFileStore
	PreKeyKeys *store.PrekeyFileStore
	Bundles    *store.BundleFileStore
	Sessions   *store.SessionFileStore
	Ratchets   *store.RatchetFileStore
	Accounts   *store.AccountFileStore

	Identity *identitysvc.Service
	PreKeys  *prekeysvc.Service
	Relay    *relay.Client
	HTTP     *http.Client
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config, overwriteIdentity bool) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}

	w := &Wire{
		Config:     cfg,
		Identities: store.NewIdentityFileStore(cfg.Home),
		PreKeyKeys: store.NewPrekeyFileStore(cfg.Home),
		Bundles:    store.NewBundleFileStore(cfg.Home),
		Sessions:   store.NewSessionFileStore(cfg.Home),
		Ratchets:   store.NewRatchetFileStore(cfg.Home),
		Accounts:   store.NewAccountFileStore(cfg.Home),
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}
	w.Relay = relay.NewClient(cfg.RelayURL, w.HTTP)
	w.Identity = identitysvc.New(w.Identities, overwriteIdentity)
	w.PreKeys = prekeysvc.New(w.Identities, w.PreKeyKeys, w.Bundles, w.Relay).
		WithThresholds(cfg.PreKeyMinimum, cfg.PreKeyBatch)
	return w, nil
}

// Register generates prekeys, publishes the bundle and records the account
// profile with the relay's canary.
func (w *Wire) Register(ctx context.Context, passphrase string, oneTime int) (domain.AccountProfile, error) {
	user := w.Config.Username
	if user == "" {
		return domain.AccountProfile{}, ErrNoUsername
	}
	if _, _, err := w.PreKeys.GenerateAndStorePreKeys(passphrase, oneTime); err != nil {
		return domain.AccountProfile{}, err
	}
	b, err := w.PreKeys.LoadPreKeyBundle(passphrase, user)
	if err != nil {
		return domain.AccountProfile{}, err
	}
	if err := w.Relay.RegisterPreKeyBundle(ctx, b); err != nil {
		return domain.AccountProfile{}, err
	}
	canary, err := w.Relay.FetchAccountCanary(ctx, user)
	if err != nil {
		return domain.AccountProfile{}, err
	}

	profile, _, err := w.Accounts.LoadAccountProfile(w.Config.RelayURL, user)
	if err != nil {
		return domain.AccountProfile{}, err
	}
	profile.ServerURL = w.Config.RelayURL
	profile.Username = user
	profile.DeviceID = w.Config.Device
	profile.Canary = canary
	profile.Registered = true
	if err := w.Accounts.SaveAccountProfile(profile); err != nil {
		return domain.AccountProfile{}, err
	}
	return profile, nil
}

// Account is an unlocked identity with everything needed to send and to run
// the receive pipeline.
type Account struct {
	*Wire

	Passphrase string
	Self       domain.Identity
	DB         *sqlite.Store
	Cipher     *cipher.Cipher
	SessionSvc *sessionsvc.Service
	Messages   *messagesvc.Service
	Metrics    *metrics.Metrics

	running atomic.Bool
}

// Unlock loads the identity with passphrase and opens the message database.
func (w *Wire) Unlock(passphrase string) (*Account, error) {
	if w.Config.Username == "" {
		return nil, ErrNoUsername
	}
	self, err := w.Identity.LoadIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlock identity: %w", err)
	}
	db, _, err := sqlite.Open(w.Config.Home)
	if err != nil {
		return nil, err
	}

	c := cipher.New(self, w.Config.Username, w.Config.Device, w.PreKeyKeys, w.Sessions, w.Ratchets)
	return &Account{
		Wire:       w,
		Passphrase: passphrase,
		Self:       self,
		DB:         db,
		Cipher:     c,
		SessionSvc: sessionsvc.New(w.Identities, w.Sessions, w.Relay, c),
		Messages:   messagesvc.New(c, w.Relay, db, db, w.Config.Username, w.Config.Device),
		Metrics:    metrics.New(),
	}, nil
}

// Close releases the database and clears the unlocked identity.
func (a *Account) Close() error {
	a.Self.Clear()
	return a.DB.Close()
}

// Stores returns the database views the pipeline works on.
func (a *Account) Stores() messages.Stores {
	return messages.Stores{
		Recipients: a.DB,
		Threads:    a.DB,
		Messages:   a.DB,
		Pending:    a.DB.PendingRetries(),
	}
}

// Pipeline is the running receive side of an account.
type Pipeline struct {
	Observer  *messages.IncomingMessageObserver
	Processor *messages.IncomingMessageProcessor
	Pending   *messages.PendingRetryManager
	Jobs      *jobs.Manager
	Queue     domain.JobQueue
	Network   *Reachability

	amqp *jobs.AMQPQueue
}

// Build assembles the pipeline around t without starting it.
func (a *Account) Build(t domain.Transport) (*Pipeline, error) {
	cfg := a.Config
	stores := a.Stores()

	opts := jobs.DefaultOptions()
	opts.Metrics = a.Metrics
	manager := jobs.NewManager(opts)

	p := &Pipeline{Jobs: manager, Queue: manager, Network: NewReachability(cfg.RelayURL)}
	if cfg.Jobs == JobsAMQP {
		q, err := jobs.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, manager)
		if err != nil {
			manager.Close()
			return nil, err
		}
		p.amqp = q
		p.Queue = q
	}

	p.Pending = messages.NewPendingRetryManager(stores, cfg.RetryTimeout, cfg.RetryDebounce, a.Metrics)
	retry := messages.NewRetryCoordinator(stores, p.Pending, a.Metrics)
	decryptor := messages.NewDecryptor(a.Cipher, a.DB, retry, messages.LogNotifier{}, cfg.MessageRetries, a.Metrics)
	p.Processor = messages.NewIncomingMessageProcessor(decryptor, p.Queue, stores)

	p.Observer = messages.NewIncomingMessageObserver(messages.ObserverConfig{
		WaitTimeout: cfg.WaitTimeout,
		ReadTimeout: cfg.ReadTimeout,
		MaxBackoff:  cfg.MaxBackoff,
	}, t, p.Processor, p.Queue, a.Accounts.View(cfg.RelayURL, cfg.Username), p.Network, a.Metrics)

	jobs.RegisterHandlers(manager, jobs.Deps{
		Passphrase: a.Passphrase,
		Username:   cfg.Username,
		PreKeys:    a.PreKeys,
		Sessions:   a.SessionSvc,
		Messages:   a.Messages,
		Drained:    p.Observer,
		Limiter:    ratelimiter.New(cfg.ReceiptEvery, cfg.ReceiptBurst, 0),
		Metrics:    a.Metrics,
	})
	return p, nil
}

// Close stops background work started by Build and Run.
func (p *Pipeline) Close() {
	p.Observer.TerminateAsync()
	p.Pending.Stop()
	if p.amqp != nil {
		if err := p.amqp.Close(); err != nil {
			logrus.WithField("function", "Close").WithError(err).Warn("Failed to close amqp queue")
		}
	}
	p.Jobs.Close()
}

// Run connects to the relay stream and processes envelopes until ctx ends.
// Only one Run per account may be active.
func (a *Account) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrObserverRunning
	}
	defer a.running.Store(false)

	t, err := transport.NewClient(a.Config.StreamEndpoint(), a.Config.Username, a.Config.Device)
	if err != nil {
		return err
	}
	p, err := a.Build(t)
	if err != nil {
		return err
	}
	defer p.Close()

	if p.amqp != nil {
		if err := p.amqp.Start(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := a.Metrics.Serve(ctx, a.Config.MetricsAddr); err != nil {
			logrus.WithField("function", "Run").WithError(err).Error("Metrics endpoint failed")
		}
	}()
	go p.Network.Watch(ctx, 15*time.Second, p.Observer.NetworkChanged)

	// Receipts left from an earlier run may already be overdue.
	p.Pending.ScheduleIfNecessary()
	p.Queue.Enqueue(jobs.RefreshPreKeysJob{})

	p.Observer.AppForegrounded()
	if err := p.Observer.Start(ctx); err != nil {
		return err
	}
	p.Observer.AddDecryptionDrainedListener(func() {
		logrus.WithField("username", a.Config.Username).Info("Caught up with queued messages")
	})

	select {
	case <-ctx.Done():
	case <-p.Observer.Done():
	}
	p.Observer.TerminateAsync()
	<-p.Observer.Done()
	return nil
}
