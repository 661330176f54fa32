package embedding

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/samogod/bookrnn/pkg/config"
	"github.com/samogod/bookrnn/pkg/session"
)

type Downloader struct {
	cacheDir string
	client   *http.Client
}

func NewDownloader(cacheDir string, client *http.Client) *Downloader {
	if cacheDir == "" {
		cacheDir = config.GetEmbeddingCacheDir()
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Downloader{
		cacheDir: cacheDir,
		client:   client,
	}
}

// Download returns the cached table for url, fetching it first when it is
// not on disk. Zip archives are unpacked to their first .txt entry.
func (d *Downloader) Download(url string, forceDownload bool) (string, error) {
	if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	name := path.Base(url)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("cannot derive a file name from %q", url)
	}
	isZip := strings.HasSuffix(strings.ToLower(name), ".zip")
	dest := filepath.Join(d.cacheDir, strings.TrimSuffix(name, path.Ext(name))+".txt")
	if !isZip {
		dest = filepath.Join(d.cacheDir, name)
	}

	if !forceDownload && fileExists(dest) {
		if DebugLog != nil {
			DebugLog("using cached embedding table %s", dest)
		}
		return dest, nil
	}

	fmt.Printf("[INF] Downloading embedding table %s...\n", name)

	partial := filepath.Join(d.cacheDir, name+".part")
	if err := d.downloadFile(url, partial); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("failed to download %s: %w", name, err)
	}
	defer os.Remove(partial)

	if isZip {
		if err := extractText(partial, dest); err != nil {
			return "", err
		}
	} else if err := os.Rename(partial, dest); err != nil {
		return "", fmt.Errorf("failed to move download into place: %w", err)
	}

	fmt.Printf("[INF] Embedding table cached at %s\n", dest)
	return dest, nil
}

func (d *Downloader) downloadFile(url, dest string) error {
	resp, err := d.client.Get(url)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		session.Drain(resp.Body, 4096)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	defer resp.Body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func extractText(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".txt") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
		}
		defer rc.Close()

		out, err := os.Create(dest)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, rc); err != nil {
			out.Close()
			os.Remove(dest)
			return fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		return out.Close()
	}
	return errors.New("archive contains no .txt embedding table")
}

// Resolve finds the table configured in cfg: an existing Path wins,
// otherwise URL is downloaded into the cache.
func Resolve(cfg config.Embedding, d *Downloader) (string, error) {
	if cfg.Path != "" {
		if fileExists(cfg.Path) {
			return cfg.Path, nil
		}
		if cfg.URL == "" {
			return "", fmt.Errorf("embedding table not found at %s", cfg.Path)
		}
	}
	if cfg.URL == "" {
		return "", errors.New("no embedding path or url configured")
	}
	return d.Download(cfg.URL, false)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
