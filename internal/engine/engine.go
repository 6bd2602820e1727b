// Package engine wraps the embedded torrent client behind the small
// capability surface the rest of the bot depends on: start a download,
// query its status, list and drop handles. Handles are owned here and
// referenced elsewhere by infohash id only.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/sirupsen/logrus"

	"torrent-bot/internal/domain"
)

// ErrUnknownTorrent is returned by Status for an id the engine no longer
// tracks (handle invalidated).
var ErrUnknownTorrent = errors.New("unknown torrent")

// Status is a point-in-time view of one download.
type Status struct {
	ID             string
	Name           string
	State          domain.TorrentState
	Progress       float64 // percent, 0..100
	DownloadRate   int64   // bytes/sec since the previous query
	BytesCompleted int64
	TotalLength    int64
	Peers          int
}

// Engine is the torrent capability used by the dispatcher and the monitor.
type Engine interface {
	// Add starts downloading the descriptor (magnet URI, .torrent URL or
	// local .torrent path) and returns the infohash id and the name, which
	// may be empty until metadata resolves.
	Add(ctx context.Context, descriptor string) (id, name string, err error)
	Status(id string) (Status, error)
	Active() []string
	Remove(id string)
	Close()
}

type Config struct {
	DataDir string
	// MaxDownloadSpeed and MaxUploadSpeed are bytes/sec, 0 = unlimited.
	MaxDownloadSpeed int64
	MaxUploadSpeed   int64
	// MetadataTimeout bounds how long a magnet may sit without resolving
	// metadata before it is reported as failed.
	MetadataTimeout time.Duration
	TrackerList     []string
	Logger          *logrus.Logger
}

type entry struct {
	t         *torrent.Torrent
	addedAt   time.Time
	lastBytes int64
	lastTime  time.Time
}

// Client drives an anacrolix torrent client.
type Client struct {
	cfg    Config
	client *torrent.Client

	mu      sync.Mutex
	entries map[string]*entry

	onMetadata func(id, name string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MetadataTimeout == 0 {
		cfg.MetadataTimeout = 30 * time.Minute
	}
	if len(cfg.TrackerList) == 0 {
		cfg.TrackerList = defaultTrackers()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download root: %w", err)
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = cfg.DataDir
	clientConfig.NoUpload = false
	clientConfig.Seed = false
	applyRateLimits(clientConfig, cfg.MaxDownloadSpeed, cfg.MaxUploadSpeed)

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		client:  client,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	cfg.Logger.Infof("torrent engine started, data dir: %s", cfg.DataDir)
	return c, nil
}

// OnMetadata registers a callback invoked once per torrent when its
// metadata resolves and the real name becomes known. Must be set before
// the first Add.
func (c *Client) OnMetadata(fn func(id, name string)) {
	c.onMetadata = fn
}

func (c *Client) Add(ctx context.Context, descriptor string) (string, string, error) {
	t, err := c.resolve(ctx, descriptor)
	if err != nil {
		return "", "", err
	}

	id := t.InfoHash().HexString()
	now := time.Now()

	c.mu.Lock()
	if _, ok := c.entries[id]; !ok {
		c.entries[id] = &entry{t: t, addedAt: now, lastTime: now}
	}
	c.mu.Unlock()

	for _, tracker := range c.cfg.TrackerList {
		t.AddTrackers([][]string{{tracker}})
	}

	name := ""
	if t.Info() != nil {
		name = t.Name()
		t.DownloadAll()
	} else {
		c.wg.Add(1)
		go c.awaitMetadata(id, t)
	}
	return id, name, nil
}

// awaitMetadata blocks until the torrent resolves its info, then kicks off
// the data download and reports the resolved name.
func (c *Client) awaitMetadata(id string, t *torrent.Torrent) {
	defer c.wg.Done()
	select {
	case <-c.ctx.Done():
		return
	case <-t.GotInfo():
	}

	t.DownloadAll()
	c.cfg.Logger.Infof("metadata resolved for %s: %s", id, t.Name())
	if c.onMetadata != nil {
		c.onMetadata(id, t.Name())
	}
}

func (c *Client) Status(id string) (Status, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("status %s: %w", id, ErrUnknownTorrent)
	}

	t := e.t
	st := Status{ID: id}

	if t.Info() == nil {
		st.State = domain.StateFetchingMetadata
		if time.Since(e.addedAt) > c.cfg.MetadataTimeout {
			st.State = domain.StateFailed
		}
		return st, nil
	}

	st.Name = t.Name()
	st.TotalLength = t.Length()
	st.BytesCompleted = t.BytesCompleted()
	if st.TotalLength > 0 {
		st.Progress = float64(st.BytesCompleted) * 100 / float64(st.TotalLength)
	}

	stats := t.Stats()
	st.Peers = stats.ActivePeers

	c.mu.Lock()
	elapsed := time.Since(e.lastTime).Seconds()
	if elapsed > 0 {
		st.DownloadRate = int64(float64(st.BytesCompleted-e.lastBytes) / elapsed)
	}
	e.lastBytes = st.BytesCompleted
	e.lastTime = time.Now()
	c.mu.Unlock()
	if st.DownloadRate < 0 {
		st.DownloadRate = 0
	}

	if t.BytesMissing() == 0 {
		st.State = domain.StateFinished
	} else {
		st.State = domain.StateDownloading
	}
	return st, nil
}

func (c *Client) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Remove drops the torrent and forgets the handle. Downloaded data stays
// on disk.
func (c *Client) Remove(id string) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	c.mu.Unlock()
	if ok {
		e.t.Drop()
	}
}

func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
	dropped := len(c.Active())
	c.client.Close()
	c.cfg.Logger.Infof("torrent engine stopped, %d active handles dropped", dropped)
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"http://tracker.openbittorrent.com:80/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://tracker.moeking.me:6969/announce",
	}
}

var _ Engine = (*Client)(nil)
