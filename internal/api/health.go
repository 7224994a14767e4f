package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/httptap/httptap/internal/logstore"
)

type HealthOptions struct {
	Version       string
	StartedAt     time.Time
	StorageDriver string
	StoragePath   string
	Store         *logstore.Store
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSec     int64  `json:"uptime_sec"`
	StorageDriver string `json:"storage_driver,omitempty"`
	EntryCount    int    `json:"entry_count"`
	Capacity      int    `json:"capacity"`
	Evicted       int64  `json:"evicted"`
	DBSizeBytes   int64  `json:"db_size_bytes,omitempty"`
}

func HealthHandler(options HealthOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		uptime := time.Since(options.StartedAt)
		entryCount := 0
		capacity := 0
		evicted := int64(0)
		if options.Store != nil {
			entryCount = options.Store.Len()
			capacity = options.Store.Capacity()
			evicted = options.Store.Evicted()
		}

		dbSizeBytes := int64(0)
		if strings.EqualFold(options.StorageDriver, "sqlite") && options.StoragePath != "" {
			if info, err := os.Stat(options.StoragePath); err == nil {
				dbSizeBytes = info.Size()
			}
		}

		writeJSON(w, http.StatusOK, healthResponse{
			Status:        "ok",
			Version:       options.Version,
			UptimeSec:     int64(uptime.Seconds()),
			StorageDriver: options.StorageDriver,
			EntryCount:    entryCount,
			Capacity:      capacity,
			Evicted:       evicted,
			DBSizeBytes:   dbSizeBytes,
		})
	})
}
