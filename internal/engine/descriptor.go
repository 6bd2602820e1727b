package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// torrent files above this size are rejected as bogus
const maxTorrentFileSize = 10 << 20

// resolve turns a user-supplied descriptor into a torrent handle.
func (c *Client) resolve(ctx context.Context, descriptor string) (*torrent.Torrent, error) {
	descriptor = strings.TrimSpace(descriptor)
	switch {
	case descriptor == "":
		return nil, fmt.Errorf("empty descriptor")
	case IsMagnet(descriptor):
		t, err := c.client.AddMagnet(descriptor)
		if err != nil {
			return nil, fmt.Errorf("add magnet: %w", err)
		}
		return t, nil
	case IsTorrentURL(descriptor):
		mi, err := c.fetchTorrentFile(ctx, descriptor)
		if err != nil {
			return nil, err
		}
		t, err := c.client.AddTorrent(mi)
		if err != nil {
			return nil, fmt.Errorf("add torrent: %w", err)
		}
		return t, nil
	default:
		mi, err := metainfo.LoadFromFile(descriptor)
		if err != nil {
			return nil, fmt.Errorf("load torrent file: %w", err)
		}
		t, err := c.client.AddTorrent(mi)
		if err != nil {
			return nil, fmt.Errorf("add torrent: %w", err)
		}
		return t, nil
	}
}

// fetchTorrentFile downloads a .torrent file over HTTP and stages a copy
// under the data dir so the descriptor survives restarts.
func (c *Client) fetchTorrentFile(ctx context.Context, url string) (*metainfo.MetaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build torrent request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch torrent file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch torrent file: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentFileSize))
	if err != nil {
		return nil, fmt.Errorf("read torrent file: %w", err)
	}

	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse torrent file: %w", err)
	}

	stagingDir := filepath.Join(c.cfg.DataDir, ".torrents")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		c.cfg.Logger.Warnf("create torrent staging dir: %v", err)
		return mi, nil
	}
	staged := filepath.Join(stagingDir, fmt.Sprintf("%s.torrent", uuid.NewString()))
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		c.cfg.Logger.Warnf("stage torrent file: %v", err)
	}
	return mi, nil
}

// IsMagnet reports whether the descriptor is a magnet URI.
func IsMagnet(descriptor string) bool {
	return strings.HasPrefix(descriptor, "magnet:")
}

// IsTorrentURL reports whether the descriptor is an HTTP(S) reference to a
// .torrent file.
func IsTorrentURL(descriptor string) bool {
	return strings.HasPrefix(descriptor, "http://") || strings.HasPrefix(descriptor, "https://")
}

func applyRateLimits(cfg *torrent.ClientConfig, download, upload int64) {
	if download > 0 {
		cfg.DownloadRateLimiter = rate.NewLimiter(rate.Limit(download), int(download))
	}
	if upload > 0 {
		cfg.UploadRateLimiter = rate.NewLimiter(rate.Limit(upload), int(upload))
	}
}
