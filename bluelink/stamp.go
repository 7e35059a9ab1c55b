package bluelink

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v3"
	"github.com/benbjohnson/clock"
	"github.com/evlink-io/bluelink/util"
	"github.com/evlink-io/bluelink/util/request"
	"github.com/evlink-io/bluelink/util/transport"
)

// stampManifest is the downloaded stamp file. Apart from the manifest object
// the source may serve a bare array, a bare JSON string or a raw string.
type stampManifest struct {
	Stamps    []string `json:"stamps"`
	Generated int64    `json:"generated"` // epoch ms
	Frequency int64    `json:"frequency"` // ms per stamp
}

// Stamps supplies the rotating request signing stamp. The manifest is cached
// on disk, keyed by the source url's filename.
type Stamps struct {
	*request.Helper
	log      *util.Logger
	clock    clock.Clock
	cacheDir string
	primary  string
	fallback string
}

// NewStamps creates a stamp provider downloading from primary with fallback
// to secondary. Cache files live in cacheDir.
func NewStamps(log *util.Logger, cacheDir, primary, secondary string) *Stamps {
	helper := request.NewHelper(log)
	helper.Transport = &transport.Decorator{
		Decorator: func(req *http.Request) error {
			req.Header.Set("User-Agent", "okhttp/3.12.0")
			return nil
		},
		Base: helper.Transport,
	}

	return &Stamps{
		Helper:   helper,
		log:      log,
		clock:    clock.New(),
		cacheDir: cacheDir,
		primary:  primary,
		fallback: secondary,
	}
}

func (s *Stamps) cacheFile() string {
	name := filepath.Base(s.primary)
	if name == "." || name == "/" {
		name = "stamps.json"
	}

	return filepath.Join(s.cacheDir, name)
}

// Stamp returns the stamp for the current point in time, downloading the
// manifest if the cache file is missing.
func (s *Stamps) Stamp() (string, error) {
	body, err := os.ReadFile(s.cacheFile())
	if err != nil {
		if body, err = s.download(); err != nil {
			return "", err
		}
	}

	return s.selectStamp(body)
}

// Refresh deletes the cache file and forces a new download
func (s *Stamps) Refresh() error {
	if err := os.Remove(s.cacheFile()); err != nil && !os.IsNotExist(err) {
		return err
	}

	_, err := s.download()
	return err
}

func (s *Stamps) download() ([]byte, error) {
	body, err := s.fetch(s.primary)
	if err != nil {
		s.log.WARN.Printf("stamp download failed: %v, using fallback source", err)

		// discard any partial primary download before switching sources
		_ = os.Remove(s.cacheFile())

		if body, err = s.fetch(s.fallback); err != nil {
			return nil, fmt.Errorf("stamp download: %w", err)
		}
	}

	if err := os.MkdirAll(s.cacheDir, 0o755); err == nil {
		if err := os.WriteFile(s.cacheFile(), body, 0o644); err != nil {
			s.log.WARN.Printf("stamp cache write failed: %v", err)
		}
	}

	return body, nil
}

func (s *Stamps) fetch(uri string) ([]byte, error) {
	var body []byte

	err := retry.Do(func() error {
		var err error
		body, err = s.GetBody(uri)
		return err
	}, retry.Attempts(3), retry.Delay(time.Second))

	return body, err
}

// selectStamp parses the manifest body and picks the entry for the current
// time. See stampManifest for the accepted shapes.
func (s *Stamps) selectStamp(body []byte) (string, error) {
	var manifest stampManifest
	if err := json.Unmarshal(body, &manifest); err == nil && len(manifest.Stamps) > 0 {
		idx := 0
		if manifest.Frequency > 0 {
			elapsed := s.clock.Now().UnixMilli() - manifest.Generated
			idx = int(elapsed / manifest.Frequency)
		}
		if idx < 0 {
			idx = 0
		}
		if idx >= len(manifest.Stamps) {
			idx = len(manifest.Stamps) - 1
		}

		return manifest.Stamps[idx], nil
	}

	var list []string
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		return list[0], nil
	}

	var single string
	if err := json.Unmarshal(body, &single); err == nil && single != "" {
		return single, nil
	}

	if stamp := strings.TrimSpace(string(body)); stamp != "" {
		return stamp, nil
	}

	return "", fmt.Errorf("empty stamp source")
}
