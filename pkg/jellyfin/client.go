package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"strmdav/pkg/config"
	"strmdav/pkg/logger"
	"strmdav/pkg/vfs"
)

const (
	maxRetries = 10
	retryDelay = 5 * time.Second
	// settleDelay lets the mount's directory cache expire before the media
	// server re-reads the filesystem in response to our notification.
	settleDelay = 15 * time.Second
)

// Client pushes targeted library updates to a Jellyfin-compatible server.
// Notification failures are logged and never raised.
type Client struct {
	url       string
	apiKey    string
	mountPath string
	http      *http.Client

	settleDelay time.Duration
	retryDelay  time.Duration
}

// NewClient creates a notifier for the given server and mount prefix.
func NewClient(url, apiKey, mountPath string) *Client {
	return &Client{
		url:         strings.TrimSuffix(url, "/"),
		apiKey:      apiKey,
		mountPath:   strings.TrimSuffix(mountPath, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		settleDelay: settleDelay,
		retryDelay:  retryDelay,
	}
}

// FromConfig returns a notifier when the configuration enables one, nil
// otherwise.
func FromConfig(cfg *config.JellyfinConfig) *Client {
	if cfg == nil {
		return nil
	}
	return NewClient(cfg.URL, cfg.APIKey, cfg.MountPath)
}

type update struct {
	Path       string `json:"Path"`
	UpdateType string `json:"UpdateType"`
}

type updatesBody struct {
	Updates []update `json:"Updates"`
}

// buildBody maps tree changes to the media-server payload, prefixing each
// path with the operator's mount point.
func (c *Client) buildBody(changes []vfs.Change) updatesBody {
	updates := make([]update, 0, len(changes))
	for _, change := range changes {
		updates = append(updates, update{
			Path:       c.mountPath + "/" + change.Path,
			UpdateType: string(change.Type),
		})
	}
	return updatesBody{Updates: updates}
}

// NotifyChanges posts the change set to /Library/Media/Updated. It waits for
// the mount cache to settle, then retries connect errors and 503s a bounded
// number of times. Runs fire-and-forget from the reconciler.
func (c *Client) NotifyChanges(ctx context.Context, changes []vfs.Change) {
	if len(changes) == 0 {
		return
	}

	payload, err := json.Marshal(c.buildBody(changes))
	if err != nil {
		logger.Error("[Jellyfin] Encoding update payload: %v", err)
		return
	}

	paths := make([]string, 0, len(changes))
	for _, change := range changes {
		paths = append(paths, change.Path)
	}
	logger.Info("[Jellyfin] Notifying %d change(s) in %s: %s", len(changes), c.settleDelay, strings.Join(paths, ", "))

	if !sleepCtx(ctx, c.settleDelay) {
		return
	}

	endpoint := c.url + "/Library/Media/Updated"
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, c.retryDelay) {
				return
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			logger.Warn("[Jellyfin] Building notification request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Emby-Token", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			if isConnectError(err) {
				logger.Warn("[Jellyfin] Cannot connect (retry %d/%d)", attempt+1, maxRetries)
				continue
			}
			logger.Warn("[Jellyfin] Notification failed: %v", err)
			return
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			logger.Info("[Jellyfin] Notified successfully")
			return
		}
		if resp.StatusCode == http.StatusServiceUnavailable {
			logger.Warn("[Jellyfin] Server returned 503, retry %d/%d", attempt+1, maxRetries)
			continue
		}
		logger.Warn("[Jellyfin] Notification returned status %d", resp.StatusCode)
		return
	}

	logger.Warn("[Jellyfin] Notification failed after %d retries", maxRetries)
}

func isConnectError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
