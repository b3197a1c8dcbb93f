package diffupload

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/growfile/diffupload/diffupload/compression"
)

// Secret is a sensitive config value that must not end up in logs.
type Secret string

const secretRedacted = "*****"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretRedacted
}

// UploadInput is the information that comes from the caller of the engine.
type UploadInput struct {
	Verbose bool
	// SourcePath is the local file to upload. It may be a glob pattern, in
	// which case it must resolve to exactly one file.
	SourcePath string
	// DestinationURL is the target object in s3://bucket/key form.
	DestinationURL string
	// Region overrides the AWS_REGION / AWS_DEFAULT_REGION env vars.
	Region string
	// DisableCompression uploads the raw bytes instead of gzip members. The
	// remote state is then derived from the object size alone.
	DisableCompression bool
	// CompressionLevel is the gzip level. If not provided (0), the encoder
	// default is used.
	CompressionLevel int
	// StrictRemoteState makes a missing/unparseable size tag on an existing
	// object fatal instead of falling back to a full re-upload.
	StrictRemoteState bool
	// TailCheckBytes enables a spot-check before a differential upload on an
	// uncompressed destination: the last N remote bytes are compared against
	// the corresponding local bytes to catch in-place edits. 0 disables it.
	TailCheckBytes int64
}

type uploadConfig struct {
	Verbose           bool
	SourcePath        string
	Bucket            string
	Key               string
	Region            string
	AccessKeyID       Secret
	SecretAccessKey   Secret
	Compress          bool
	CompressionLevel  int
	StrictRemoteState bool
	TailCheckBytes    int64
}

func (u *uploader) createConfig(input UploadInput) (uploadConfig, error) {
	if strings.TrimSpace(input.SourcePath) == "" {
		return uploadConfig{}, fmt.Errorf("source path should not be empty")
	}

	sourcePath, err := u.evaluateSourcePath(input.SourcePath)
	if err != nil {
		return uploadConfig{}, fmt.Errorf("failed to resolve source path: %w", err)
	}

	bucket, key, err := parseDestinationURL(input.DestinationURL)
	if err != nil {
		return uploadConfig{}, err
	}

	region := input.Region
	if region == "" {
		region = u.envRepo.Get("AWS_REGION")
	}
	if region == "" {
		region = u.envRepo.Get("AWS_DEFAULT_REGION")
	}
	if region == "" {
		return uploadConfig{}, fmt.Errorf("AWS region is not defined (flag or AWS_REGION)")
	}

	level := input.CompressionLevel
	if level == 0 {
		level = compression.DefaultLevel
	}
	if !compression.ValidLevel(level) {
		return uploadConfig{}, fmt.Errorf("invalid gzip compression level: %d", input.CompressionLevel)
	}

	compress := !input.DisableCompression
	if compress && !strings.HasSuffix(key, ".gz") {
		u.logger.Warnf("Destination %s doesn't have a .gz suffix but compression is enabled", key)
	}

	if input.TailCheckBytes > 0 && compress {
		return uploadConfig{}, fmt.Errorf("tail check is only available for uncompressed destinations")
	}

	return uploadConfig{
		Verbose:           input.Verbose,
		SourcePath:        sourcePath,
		Bucket:            bucket,
		Key:               key,
		Region:            region,
		AccessKeyID:       Secret(u.envRepo.Get("AWS_ACCESS_KEY_ID")),
		SecretAccessKey:   Secret(u.envRepo.Get("AWS_SECRET_ACCESS_KEY")),
		Compress:          compress,
		CompressionLevel:  level,
		StrictRemoteState: input.StrictRemoteState,
		TailCheckBytes:    input.TailCheckBytes,
	}, nil
}

// evaluateSourcePath resolves ~/ and glob patterns. A pattern is accepted only
// when it matches exactly one file, since a run has exactly one source.
func (u *uploader) evaluateSourcePath(path string) (string, error) {
	if !strings.Contains(path, "*") {
		absPath, err := u.pathModifier.AbsPath(path)
		if err != nil {
			return "", err
		}
		exists, err := u.pathChecker.IsPathExists(absPath)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", fmt.Errorf("%w: %s", ErrFileUnreadable, absPath)
		}
		return absPath, nil
	}

	base, pattern := doublestar.SplitPattern(path)
	absBase, err := u.pathModifier.AbsPath(base) // resolves ~/ and expands any envs
	if err != nil {
		return "", err
	}
	matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithNoFollow())
	if err != nil {
		return "", fmt.Errorf("error in path pattern '%s': %w", path, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no match for path pattern: %s", ErrFileUnreadable, path)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("path pattern '%s' matches %d files, expected exactly one", path, len(matches))
	}

	return filepath.Join(absBase, matches[0]), nil
}

func parseDestinationURL(destination string) (bucket, key string, err error) {
	if strings.TrimSpace(destination) == "" {
		return "", "", fmt.Errorf("destination URL should not be empty")
	}

	parsed, err := url.Parse(destination)
	if err != nil {
		return "", "", fmt.Errorf("invalid destination URL %s: %w", destination, err)
	}
	if parsed.Scheme != "s3" {
		return "", "", fmt.Errorf("destination URL %s should use the s3:// scheme", destination)
	}

	bucket = parsed.Host
	key = strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("destination URL %s should have the form s3://bucket/key", destination)
	}

	return bucket, key, nil
}
