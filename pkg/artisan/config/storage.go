package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// storageSpec is a parsed STORAGE_URL
type storageSpec struct {
	Type string // "memory", "fs", "s3", "ipfs"

	// fs
	BaseDir string

	// s3
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	CreateBucket bool

	// ipfs
	APIURL string
}

// parseStorageURL parses one of:
//
//	memory://
//	file:///path/to/data
//	s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true&prefix=nft/
//	ipfs://host:5001?scheme=https
func parseStorageURL(raw string) (storageSpec, error) {
	if raw == "" || raw == "memory" || raw == "memory://" {
		return storageSpec{Type: "memory"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return storageSpec{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	q := u.Query()

	switch u.Scheme {
	case "file":
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		if path == "" {
			return storageSpec{}, fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		return storageSpec{Type: "fs", BaseDir: path}, nil

	case "s3":
		if u.Host == "" {
			return storageSpec{}, fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
		}
		spec := storageSpec{
			Type:     "s3",
			Bucket:   u.Host,
			Prefix:   q.Get("prefix"),
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
		}
		if spec.UsePathStyle, err = parseBool(q, "path_style", spec.Endpoint != ""); err != nil {
			return storageSpec{}, err
		}
		if spec.CreateBucket, err = parseBool(q, "create_bucket", false); err != nil {
			return storageSpec{}, err
		}
		return spec, nil

	case "ipfs":
		if u.Host == "" {
			return storageSpec{}, fmt.Errorf("IPFS api host cannot be empty in STORAGE_URL")
		}
		scheme := q.Get("scheme")
		if scheme == "" {
			scheme = "http"
		}
		if scheme != "http" && scheme != "https" {
			return storageSpec{}, fmt.Errorf("unsupported IPFS api scheme %q", scheme)
		}
		return storageSpec{Type: "ipfs", APIURL: scheme + "://" + u.Host + strings.TrimSuffix(u.Path, "/")}, nil
	}

	return storageSpec{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', 's3://...' or 'ipfs://...')", raw)
}

func parseBool(q url.Values, key string, def bool) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s in STORAGE_URL: %w", key, err)
	}
	return v, nil
}
