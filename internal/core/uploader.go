package core

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"datafactory/internal/storage"
	"datafactory/pkg/models"

	"github.com/klauspost/compress/gzip"
)

const tarOutputFormat = "tar"

// Uploader streams sample directories to bulk storage. Each file is
// deleted locally as soon as its transfer is acknowledged, so peak local
// usage stays around one in-flight sample directory instead of the whole
// batch. Any transfer failure is fatal for the call; the queue layer owns
// retries.
type Uploader struct {
	store     storage.ObjectStore
	bucket    string
	namespace string
}

func NewUploader(store storage.ObjectStore, bucket, namespace string) *Uploader {
	return &Uploader{store: store, bucket: bucket, namespace: namespace}
}

func (u *Uploader) bucketFor(task models.TaskMessage) string {
	if task.OutputBucket != "" {
		return task.OutputBucket
	}
	return u.bucket
}

func (u *Uploader) sampleKey(taskType, sampleId, relPath string) string {
	return path.Join(u.namespace, taskType, sampleId, filepath.ToSlash(relPath))
}

// UploadSamples transfers every file under each sample directory to
// storage under <namespace>/<task_type>/<sample_id>/<relative-path>.
// If the task requests a tar archive the sample directories are packed and
// the archive uploaded first, before the per-file pass starts deleting
// local content. Returns the per-sample upload records and the archive key,
// if any.
func (u *Uploader) UploadSamples(ctx context.Context, domainTaskDir string, sampleIds []string, task models.TaskMessage) ([]models.UploadedSample, string, error) {
	bucket := u.bucketFor(task)

	var tarKey string
	if task.OutputFormat == tarOutputFormat {
		var err error
		tarKey, err = u.uploadArchive(ctx, bucket, domainTaskDir, sampleIds, task)
		if err != nil {
			return nil, "", err
		}
	}

	uploaded := make([]models.UploadedSample, 0, len(sampleIds))
	for _, sampleId := range sampleIds {
		sampleDir := filepath.Join(domainTaskDir, sampleId)

		count, err := u.uploadSampleDir(ctx, bucket, sampleDir, task.Type, sampleId)
		if err != nil {
			return nil, "", err
		}

		// Only empty directories remain after delete-on-transfer.
		if err := os.RemoveAll(sampleDir); err != nil {
			slog.Warn("failed to remove uploaded sample dir", "sample_id", sampleId, "error", err)
		}

		uploaded = append(uploaded, models.UploadedSample{SampleId: sampleId, FilesUploaded: count})
		slog.Info("uploaded sample", "sample_id", sampleId, "files", count)
	}

	return uploaded, tarKey, nil
}

func (u *Uploader) uploadSampleDir(ctx context.Context, bucket, sampleDir, taskType, sampleId string) (int, error) {
	count := 0
	err := filepath.WalkDir(sampleDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(sampleDir, p)
		if err != nil {
			return err
		}
		key := u.sampleKey(taskType, sampleId, relPath)

		file, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open sample file %s: %w", p, err)
		}

		putErr := u.store.PutObject(ctx, bucket, key, file)
		file.Close()
		if putErr != nil {
			return putErr
		}

		// Reclaim disk as soon as the transfer is acknowledged.
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("failed to remove uploaded file %s: %w", p, err)
		}

		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload sample %s: %w", sampleId, err)
	}
	return count, nil
}

func (u *Uploader) uploadArchive(ctx context.Context, bucket, domainTaskDir string, sampleIds []string, task models.TaskMessage) (string, error) {
	archive, err := os.CreateTemp("", fmt.Sprintf("%s_*.tar.gz", task.Type))
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}
	defer os.Remove(archive.Name())
	defer archive.Close()

	if err := writeArchive(archive, domainTaskDir, sampleIds); err != nil {
		return "", err
	}

	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind archive: %w", err)
	}

	key := path.Join(u.namespace, task.Type, "archives", fmt.Sprintf("%s_%d.tar.gz", task.Type, task.StartIndex))
	if err := u.store.PutObject(ctx, bucket, key, archive); err != nil {
		return "", err
	}

	slog.Info("uploaded sample archive", "key", key, "samples", len(sampleIds))
	return key, nil
}

func writeArchive(w io.Writer, domainTaskDir string, sampleIds []string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, sampleId := range sampleIds {
		sampleDir := filepath.Join(domainTaskDir, sampleId)

		err := filepath.WalkDir(sampleDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			relPath, err := filepath.Rel(sampleDir, p)
			if err != nil {
				return err
			}

			info, err := d.Info()
			if err != nil {
				return err
			}

			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = path.Join(sampleId, filepath.ToSlash(relPath))

			if err := tw.WriteHeader(header); err != nil {
				return err
			}

			file, err := os.Open(p)
			if err != nil {
				return err
			}
			_, copyErr := io.Copy(tw, file)
			file.Close()
			return copyErr
		})
		if err != nil {
			return fmt.Errorf("failed to archive sample %s: %w", sampleId, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}
