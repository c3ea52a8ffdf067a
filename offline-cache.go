package offlinecache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	"github.com/always-cache/offline-cache/pkg/metrics"
	"github.com/always-cache/offline-cache/queue"
	"github.com/always-cache/offline-cache/rfc9211"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// MutationIDHeader is set on responses to mutations that were queued for replay.
const MutationIDHeader = "Offline-Mutation-Id"

const defaultOfflineMessage = "You are offline. Changes are saved and will be synced when the connection is back."

type Config struct {
	// Storage for cache partitions.
	Cache cache.CacheProvider
	// Durable store for mutations made while offline.
	// An in-memory queue is used if nil.
	Queue queue.Queue
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Build version. Partition names are derived from it.
	Version string
	// Path prefix of the task API. Defaults to `/api/`.
	APIPrefix string
	// Known API endpoints outside of the prefix. Defaults to `/tasks`.
	Endpoints []string
	// Application shell, precached into the static partition on install.
	Shell []string
	// Production script and style assets, precached into the precache partition
	// and served stale-while-revalidate.
	Bundle []string
	// Assets below this prefix are also treated as bundle assets.
	BundlePrefix string
	// Store navigations in the dynamic partition instead of a separate pages partition.
	PagesShareDynamic bool
	// Store successful navigations for offline use.
	CacheNavigations bool
	// Do not activate right after install; wait for an explicit Activate.
	WaitForActivate bool
	// Message in synthesized offline API responses.
	OfflineMessage string
	Sync           SyncConfig
	Push           PushConfig
	// Shows push notifications. Notifications are logged if nil.
	Notifier Notifier
	// Opens application windows. Window requests are logged if nil.
	Opener WindowOpener
	// Metrics to record. A nil value disables metrics.
	Metrics *metrics.Metrics
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Client for origin requests. Redirects are never followed.
	HTTPClient *http.Client
}

type Controller struct {
	cache            cache.CacheProvider
	queue            queue.Queue
	keyer            cachekey.CacheKeyer
	partitions       Partitions
	routes           RouteConfig
	origin           string
	originHost       string
	version          string
	shell            []string
	bundle           []string
	cacheNavigations bool
	waitForActivate  bool
	offlineMessage   string
	sync             SyncConfig
	push             PushConfig
	notifier         Notifier
	opener           WindowOpener
	metrics          *metrics.Metrics
	log              zerolog.Logger
	httpClient       *http.Client

	mutex sync.Mutex
	state State
	// set by the first activation, later installs and activations keep it
	controlling bool
	tags        map[string]bool

	revalidations singleflight.Group
	syncs         singleflight.Group
	background    sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	stopWatcher   context.CancelFunc
}

// CreateController initializes the controller.
// It starts the connectivity watcher if configured.
// The controller does not intercept anything until it has been installed and activated.
func CreateController(config Config) (*Controller, error) {
	if config.Cache == nil {
		return nil, errors.New("no cache provider configured")
	}
	if config.OriginURL.Host == "" {
		return nil, fmt.Errorf("invalid origin url %q", config.OriginURL.String())
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	version := config.Version
	if version == "" {
		version = defaultVersion
	}
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Str("version", version).
		Logger()

	c := &Controller{
		cache:            config.Cache,
		queue:            config.Queue,
		keyer:            cachekey.NewCacheKeyer(""),
		partitions:       PartitionNames(version, config.PagesShareDynamic),
		routes:           routeConfig(config),
		origin:           strings.TrimSuffix(config.OriginURL.String(), "/"),
		originHost:       config.OriginHost,
		version:          version,
		shell:            config.Shell,
		bundle:           config.Bundle,
		cacheNavigations: config.CacheNavigations,
		waitForActivate:  config.WaitForActivate,
		offlineMessage:   config.OfflineMessage,
		sync:             config.Sync.withDefaults(),
		push:             config.Push.withDefaults(),
		notifier:         config.Notifier,
		opener:           config.Opener,
		metrics:          config.Metrics,
		log:              logger,
		httpClient:       config.HTTPClient,
		state:            StateParsed,
		tags:             make(map[string]bool),
	}
	if c.queue == nil {
		c.queue = queue.NewMemQueue()
	}
	if c.shell == nil {
		c.shell = []string{"/", "/index.html", "/manifest.json", "/favicon.ico"}
	}
	if c.offlineMessage == "" {
		c.offlineMessage = defaultOfflineMessage
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Log: logger}
	}
	if c.opener == nil {
		c.opener = LogOpener{Log: logger}
	}
	if c.httpClient == nil {
		// no timeout, network attempts last as long as the network takes
		c.httpClient = &http.Client{}
		if config.OriginHost != "" {
			c.httpClient.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{
					ServerName: config.OriginHost,
				},
			}
		}
	}
	// never follow redirects, the page gets to see them
	client := *c.httpClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.httpClient = &client

	c.ctx, c.cancel = context.WithCancel(context.Background())
	watchCtx, stopWatcher := context.WithCancel(c.ctx)
	c.stopWatcher = stopWatcher
	if c.sync.ProbeInterval > 0 {
		c.waitUntil(func() { c.watchConnectivity(watchCtx) })
	}

	return c, nil
}

// ServeHTTP implements the http.Handler interface.
// It is the interception point for every request of the page.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		c.log.Error().Err(err).Msg("Could not read request body")
		http.Error(w, "Could not read request body", http.StatusBadRequest)
		return
	}

	defer c.recover(w, r, body)

	if !c.isControlling() {
		c.passThrough(w, r, body)
		return
	}

	start := time.Now()
	category := Classify(r, c.routes)
	strategy := SelectStrategy(category, r, c.routes)
	key := c.keyer.GetKey(r)
	log := c.log.With().
		Str("key", key).
		Str("category", string(category)).
		Logger()

	res := c.execute(r, body, key, strategy, log)
	c.metrics.ObserveRequest(string(category), string(strategy), string(res.outcome), time.Since(start))
	c.send(w, r, res, log)
}

// recover is the escape hatch: a panic while intercepting is logged
// and the request is sent straight to the origin instead.
func (c *Controller) recover(w http.ResponseWriter, r *http.Request, body []byte) {
	if err := recover(); err != nil {
		c.log.Error().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Msgf("Recovered from panic: %v", err)
		c.passThrough(w, r, body)
	}
}

// passThrough sends the request to the origin without touching any partition.
func (c *Controller) passThrough(w http.ResponseWriter, r *http.Request, body []byte) {
	c.log.Trace().Msgf("Passing through %s %s", r.Method, r.URL.RequestURI())
	snap, err := c.fetch(r.Context(), r.Method, r.URL.RequestURI(), r.Header, body)
	if err != nil {
		c.log.Error().Err(err).Msg("Could not connect to origin")
		http.Error(w, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	cs := rfc9211.CacheStatus{}
	cs.Forward(rfc9211.FwdReasonBypass)
	c.send(w, r, result{snapshot: snap, cacheStatus: cs, outcome: outcomeNetwork}, c.log)
}

func (c *Controller) send(w http.ResponseWriter, r *http.Request, res result, log zerolog.Logger) {
	snap := res.snapshot
	copyHeader(w.Header(), snap.Header)
	w.Header().Set("Content-Length", strconv.Itoa(len(snap.Body)))
	w.Header().Set("Cache-Status", res.cacheStatus.String())
	if res.mutationID != "" {
		w.Header().Set(MutationIDHeader, res.mutationID)
	}
	w.WriteHeader(snap.StatusCode)
	if r.Method != http.MethodHead {
		if _, err := w.Write(snap.Body); err != nil {
			log.Error().Err(err).Msg("Could not write response body to client")
		}
	}
	logRequest(log, r, snap.StatusCode, res)
}

func logRequest(log zerolog.Logger, r *http.Request, status int, res result) {
	isHit := 0
	if res.cacheStatus.Status == rfc9211.StatusHit {
		isHit = 1
	}
	log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("status", status).
		Str("outcome", string(res.outcome)).
		Str("fwd", string(res.cacheStatus.FwdReason)).
		Bool("stored", res.cacheStatus.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}

// waitUntil runs the function in the background and keeps Close waiting for it.
func (c *Controller) waitUntil(f func()) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		f()
	}()
}

// Close stops the connectivity watcher and waits for background work
// (cache writes, revalidations, delayed refreshes) to finish.
// If ctx expires first, the remaining background work is cancelled.
func (c *Controller) Close(ctx context.Context) error {
	c.stopWatcher()

	done := make(chan struct{})
	go func() {
		c.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		return ctx.Err()
	}
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a workaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
