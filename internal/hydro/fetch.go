package hydro

import (
	"archive/zip"
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/geolavoura/carcalc/internal/config"
)

// Fetcher downloads hydrography extracts from the public geodata FTP mirror
// into the local data directory. Requests are rate limited to stay polite
// with the mirror.
type Fetcher struct {
	cfg     config.HydroConfig
	limiter *rate.Limiter
}

// NewFetcher builds a fetcher from the hydrography configuration.
func NewFetcher(cfg config.HydroConfig) *Fetcher {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 1
	}
	return &Fetcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Fetch downloads the configured archive and extracts its shapefile
// components into the data directory. Already-extracted files are
// overwritten.
func (f *Fetcher) Fetch(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "hydro: rate limit wait")
	}
	if err := os.MkdirAll(f.cfg.DataDir, 0o755); err != nil {
		return eris.Wrapf(err, "hydro: create data dir %s", f.cfg.DataDir)
	}

	archive := filepath.Join(f.cfg.DataDir, "hidrografia.zip")
	n, err := f.downloadToFile(ctx, f.cfg.FTPURL, archive)
	if err != nil {
		return err
	}
	zap.L().Info("hydro: archive downloaded",
		zap.String("url", f.cfg.FTPURL), zap.Int64("bytes", n))

	if err := extractShapefiles(archive, f.cfg.DataDir); err != nil {
		return err
	}
	return os.Remove(archive)
}

func (f *Fetcher) downloadToFile(ctx context.Context, ftpURL, path string) (int64, error) {
	rc, err := f.download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "hydro: create file")
	}
	defer file.Close()

	n, err := io.Copy(file, rc)
	if err != nil {
		return n, eris.Wrap(err, "hydro: write file")
	}
	return n, nil
}

func (f *Fetcher) download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(f.cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	zap.L().Debug("hydro: connecting", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "hydro: ftp dial")
	}
	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "hydro: ftp login")
	}
	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "hydro: ftp retrieve")
	}
	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "hydro: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("hydro: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("hydro: empty path in ftp url")
	}
	return host, path, nil
}

// ftpConnReader ties the response lifetime to the connection so one Close
// releases both.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "hydro: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "hydro: quit ftp connection")
	}
	return nil
}

// extractShapefiles unpacks shapefile components from the archive, flattening
// any directory structure.
func extractShapefiles(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return eris.Wrapf(err, "hydro: open archive %s", archive)
	}
	defer zr.Close()

	extracted := 0
	for _, entry := range zr.File {
		ext := strings.ToLower(filepath.Ext(entry.Name))
		switch ext {
		case ".shp", ".shx", ".dbf", ".prj", ".cpg":
		default:
			continue
		}
		name := strings.ToLower(filepath.Base(entry.Name))
		if err := extractOne(entry, filepath.Join(dest, name)); err != nil {
			return err
		}
		extracted++
	}
	if extracted == 0 {
		return eris.Errorf("hydro: archive %s contains no shapefiles", archive)
	}
	zap.L().Info("hydro: extracts unpacked",
		zap.Int("files", extracted), zap.String("dir", dest))
	return nil
}

func extractOne(entry *zip.File, dest string) error {
	rc, err := entry.Open()
	if err != nil {
		return eris.Wrapf(err, "hydro: open archive entry %s", entry.Name)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "hydro: create %s", dest)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return eris.Wrapf(err, "hydro: extract %s", entry.Name)
	}
	return nil
}
