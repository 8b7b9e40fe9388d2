package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.PhotosDir == "" {
		cfg.Storage.PhotosDir = "/usr/local/var/contrail/data/photos"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/contrail/data/embeddings/images.vec"
	}
	if cfg.Storage.MetadataPath == "" {
		cfg.Storage.MetadataPath = "/usr/local/var/contrail/data/embeddings/image_metadata.json"
	}
	if cfg.Storage.CatalogPath == "" {
		cfg.Storage.CatalogPath = "/usr/local/var/contrail/data/db/catalog.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/contrail/data/indices/filenames"
	}
	if cfg.Embedding.ServiceURL == "" {
		cfg.Embedding.ServiceURL = "http://localhost:8600"
	}
	if cfg.Embedding.Dimensions == 0 {
		// CLIP ViT-L/14 text and image encoders project to 768.
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.RequestTimeout == 0 {
		cfg.Embedding.RequestTimeout = 120 * time.Second
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 50
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 32
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tiff"}
	}
}
