package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/dvloznov/cnab-ingest/internal/blob"
	"github.com/dvloznov/cnab-ingest/internal/logger"
)

// Development utility: pushes a local CNAB file into the blob bucket so it
// can be ingested without going through the API.
func main() {
	log := logger.New()

	var (
		bucketName string
		objectKey  string
		filePath   string
	)

	flag.StringVar(&bucketName, "bucket", os.Getenv("BLOB_BUCKET"), "bucket name (or set BLOB_BUCKET)")
	flag.StringVar(&objectKey, "key", "", "object key (optional; defaults to the file name)")
	flag.StringVar(&filePath, "file", "", "path to local CNAB file (required)")
	flag.Parse()

	if bucketName == "" || filePath == "" {
		log.Fatal().Msg("Usage: upload -bucket BUCKET -file /path/to/cnab.txt [-key OBJECT_KEY]")
	}

	if objectKey == "" {
		objectKey = filepath.Base(filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		log.Fatal().Err(err).Str("file", filePath).Msg("Failed to read file")
	}

	ctx := context.Background()
	store, err := blob.NewGCS(ctx, bucketName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create blob store")
	}
	defer store.Close()

	if err := store.Upload(ctx, objectKey, data); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	log.Info().
		Str("bucket", bucketName).
		Str("key", objectKey).
		Int("bytes", len(data)).
		Msg("File uploaded")
}
