// Package imagerepo manages the deployable image repository behind the
// management gateway: import and export of image bundles, disk capture
// into new images, and keeping enough free space for the next capture.
package imagerepo

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jbweber/crucible/internal/smapi"
)

// Image is one deployable image in the repository.
type Image struct {
	Name     string
	Profile  string
	LastUsed time.Time
}

// Repository drives the image repository resources of the management
// gateway.
type Repository struct {
	client smapi.Caller
	log    *zap.SugaredLogger
}

// New returns a Repository bound to client.
func New(client smapi.Caller, log *zap.SugaredLogger) *Repository {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Repository{client: client, log: log}
}

// Exists reports whether the named image is present in the repository.
func (r *Repository) Exists(ctx context.Context, name string) (bool, error) {
	_, err := r.client.Request(ctx, http.MethodGet, smapi.ImagePath(name), nil)
	if err != nil {
		if smapi.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query image %s: %w", name, err)
	}
	return true, nil
}

// Import pulls an image bundle from source into the repository under
// name.
func (r *Repository) Import(ctx context.Context, name, source string) error {
	body := []string{"image=" + name, "url=" + source}
	if _, err := r.client.Request(ctx, http.MethodPost, smapi.ImagesPath(), body); err != nil {
		return fmt.Errorf("failed to import image %s: %w", name, err)
	}
	return nil
}

// Export writes the named image out as a bundle at destination, which
// may name a remote host path.
func (r *Repository) Export(ctx context.Context, name, destination string) error {
	body := []string{"destination=" + destination}
	if _, err := r.client.Request(ctx, http.MethodPut, smapi.ImageExportPath(name), body); err != nil {
		return fmt.Errorf("failed to export image %s: %w", name, err)
	}
	return nil
}

// Capture snapshots the disk at vdev of the named instance into a new
// repository image.
func (r *Repository) Capture(ctx context.Context, instanceName, imageName, vdev string) error {
	body := []string{"image=" + imageName, "device=" + vdev}
	if _, err := r.client.Request(ctx, http.MethodPost, smapi.ImageCapturePath(instanceName), body); err != nil {
		return fmt.Errorf("failed to capture %s into image %s: %w", instanceName, imageName, err)
	}
	return nil
}

// Delete removes the named image. An image that does not exist counts
// as success.
func (r *Repository) Delete(ctx context.Context, name string) error {
	_, err := r.client.Request(ctx, http.MethodDelete, smapi.ImagePath(name), nil)
	if err != nil && !smapi.IsNotFound(err) {
		return fmt.Errorf("failed to delete image %s: %w", name, err)
	}
	return nil
}

// TouchLastUsed refreshes the named image's last-used record so space
// reclamation prefers colder images.
func (r *Repository) TouchLastUsed(ctx context.Context, name string) error {
	body := []string{"action=touch"}
	if _, err := r.client.Request(ctx, http.MethodPut, smapi.ImagePath(name), body); err != nil {
		return fmt.Errorf("failed to touch image %s: %w", name, err)
	}
	return nil
}

// List returns every image in the repository.
func (r *Repository) List(ctx context.Context) ([]Image, error) {
	resp, err := r.client.Request(ctx, http.MethodGet, smapi.ImagesPath(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	rows, err := resp.DataRows()
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	var images []Image
	for _, row := range rows {
		img, ok := parseImageRow(row)
		if !ok {
			continue
		}
		images = append(images, img)
	}
	return images, nil
}

// parseImageRow decodes one quoted CSV row of the image table:
// "name","profile","lastused-unix".
func parseImageRow(row string) (Image, bool) {
	fields := strings.Split(row, ",")
	for i, f := range fields {
		fields[i] = strings.Trim(strings.TrimSpace(f), `"`)
	}
	if len(fields) < 3 || fields[0] == "" {
		return Image{}, false
	}
	ts, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Image{}, false
	}
	return Image{Name: fields[0], Profile: fields[1], LastUsed: time.Unix(ts, 0)}, true
}

// FreeSpaceGB returns how much repository space remains, in gigabytes.
func (r *Repository) FreeSpaceGB(ctx context.Context) (float64, error) {
	resp, err := r.client.Request(ctx, http.MethodGet, smapi.ImagesPath()+"?field=freespace", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to query repository free space: %w", err)
	}
	raw, err := resp.FirstData()
	if err != nil {
		return 0, fmt.Errorf("failed to query repository free space: %w", err)
	}
	gb, err := parseSizeGB(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return gb, nil
}

// parseSizeGB parses a size report like "23.5G" or "512M" into
// gigabytes.
func parseSizeGB(s string) (float64, error) {
	if s == "" {
		return 0, &smapi.MalformedResponseError{Want: "free space report"}
	}
	unit := s[len(s)-1]
	num := s[:len(s)-1]
	scale := 1.0
	switch unit {
	case 'G', 'g':
	case 'M', 'm':
		scale = 1.0 / 1024
	case 'T', 't':
		scale = 1024
	default:
		num = s
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, &smapi.MalformedResponseError{Want: "free space report"}
	}
	return v * scale, nil
}

// EnsureSpace reclaims repository space until at least neededGB is
// free, deleting the least recently used images first. It fails when
// the repository cannot be shrunk any further.
func (r *Repository) EnsureSpace(ctx context.Context, neededGB float64) error {
	for {
		free, err := r.FreeSpaceGB(ctx)
		if err != nil {
			return err
		}
		if free >= neededGB {
			return nil
		}

		images, err := r.List(ctx)
		if err != nil {
			return err
		}
		if len(images) == 0 {
			return fmt.Errorf("repository has %.1fG free, need %.1fG, and no images left to reclaim", free, neededGB)
		}

		oldest := images[0]
		for _, img := range images[1:] {
			if img.LastUsed.Before(oldest.LastUsed) {
				oldest = img
			}
		}
		r.log.Infof("reclaiming repository space: deleting image %s (last used %s)",
			oldest.Name, oldest.LastUsed.Format(time.RFC3339))
		if err := r.Delete(ctx, oldest.Name); err != nil {
			return err
		}
	}
}
